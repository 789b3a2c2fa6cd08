package redis

import "github.com/redis/go-redis/v9"

// commitScript publishes a result and acknowledges the inbound entry unless the
// dedupe marker already exists, in which case it only acknowledges.
//
// KEYS[1] outbound stream, KEYS[2] inbound stream, KEYS[3] dedupe marker
// ARGV[1] group, ARGV[2] inbound entry id, ARGV[3] marker ttl in seconds,
// ARGV[4..] field/value pairs of the outbound entry
var commitScript = redis.NewScript(`
if redis.call('SET', KEYS[3], ARGV[2], 'NX', 'EX', ARGV[3]) then
  redis.call('XADD', KEYS[1], '*', unpack(ARGV, 4))
  redis.call('XACK', KEYS[2], ARGV[1], ARGV[2])
  return 1
end
redis.call('XACK', KEYS[2], ARGV[1], ARGV[2])
return 0
`)
