package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/aiprocessor/internal/broker"
)

const (
	fieldKey   = "key"
	fieldValue = "value"
)

// StreamConfig describes how topics map onto Redis streams.
type StreamConfig struct {
	Incoming      string
	Group         string
	Consumer      string
	Partitions    int
	Block         time.Duration
	Transactional bool
	DedupeTTL     time.Duration
	// ClaimMinIdle is how long an entry must sit unacknowledged under another
	// consumer before this one takes it over. Negative disables claiming.
	ClaimMinIdle time.Duration
}

// Streams implements broker.Source and broker.Sink on Redis Streams. A topic
// is the family of streams "<topic>:<partition>".
type Streams struct {
	rdb *redis.Client
	cfg StreamConfig
}

var (
	_ broker.Source = (*Streams)(nil)
	_ broker.Sink   = (*Streams)(nil)
)

// NewStreams creates the stream broker on top of client.
func NewStreams(client *Client, cfg StreamConfig) *Streams {
	if cfg.Partitions < 1 {
		cfg.Partitions = 1
	}
	if cfg.DedupeTTL < time.Second {
		cfg.DedupeTTL = 24 * time.Hour
	}
	if cfg.ClaimMinIdle == 0 {
		cfg.ClaimMinIdle = 10 * time.Minute
	}
	return &Streams{rdb: client.rdb, cfg: cfg}
}

// StreamKey returns the stream holding one partition of topic.
func StreamKey(topic string, partition int) string {
	return fmt.Sprintf("%s:%d", topic, partition)
}

func dedupeKey(topic, key string) string {
	return fmt.Sprintf("dedupe:%s:%s", topic, key)
}

func (s *Streams) Topic() string   { return s.cfg.Incoming }
func (s *Streams) Partitions() int { return s.cfg.Partitions }

// EnsureGroup creates the consumer group on every inbound partition.
func (s *Streams) EnsureGroup(ctx context.Context) error {
	for p := 0; p < s.cfg.Partitions; p++ {
		key := StreamKey(s.cfg.Incoming, p)
		err := s.rdb.XGroupCreateMkStream(ctx, key, s.cfg.Group, "0").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("create group %s on %s: %w", s.cfg.Group, key, err)
		}
	}
	return nil
}

// Fetch reads one entry of partition for this consumer. With pending set it
// returns entries already delivered to this consumer, otherwise new ones.
// When neither is available it takes over one entry another consumer of the
// group left idle for longer than ClaimMinIdle.
func (s *Streams) Fetch(ctx context.Context, partition int, pending bool) (*broker.Message, error) {
	key := StreamKey(s.cfg.Incoming, partition)
	args := &redis.XReadGroupArgs{
		Group:    s.cfg.Group,
		Consumer: s.cfg.Consumer,
		Streams:  []string{key, ">"},
		Count:    1,
		Block:    s.cfg.Block,
	}
	if pending {
		args.Streams = []string{key, "0"}
		args.Block = -1
	}

	res, err := s.rdb.XReadGroup(ctx, args).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("xreadgroup %s: %w", key, err)
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return s.claim(ctx, partition, key)
	}

	xm := res[0].Messages[0]
	msg := decodeEntry(s.cfg.Incoming, partition, xm)
	msg.Deliveries = 1
	if pending {
		msg.Deliveries = s.deliveries(ctx, key, xm.ID)
	}
	return msg, nil
}

// claim moves the oldest idle entry of key to this consumer.
func (s *Streams) claim(ctx context.Context, partition int, key string) (*broker.Message, error) {
	if s.cfg.ClaimMinIdle < 0 || ctx.Err() != nil {
		return nil, nil
	}
	msgs, _, err := s.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   key,
		Group:    s.cfg.Group,
		Consumer: s.cfg.Consumer,
		MinIdle:  s.cfg.ClaimMinIdle,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || strings.HasPrefix(err.Error(), "NOGROUP") {
			return nil, nil
		}
		return nil, fmt.Errorf("xautoclaim %s: %w", key, err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	msg := decodeEntry(s.cfg.Incoming, partition, msgs[0])
	msg.Deliveries = s.deliveries(ctx, key, msgs[0].ID)
	return msg, nil
}

func (s *Streams) deliveries(ctx context.Context, key, id string) int64 {
	res, err := s.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: key,
		Group:  s.cfg.Group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(res) == 0 || res[0].RetryCount < 1 {
		return 1
	}
	return res[0].RetryCount
}

// Ack acknowledges msg for the group.
func (s *Streams) Ack(ctx context.Context, msg *broker.Message) error {
	key := StreamKey(msg.Topic, msg.Partition)
	if err := s.rdb.XAck(ctx, key, s.cfg.Group, msg.ID).Err(); err != nil {
		return fmt.Errorf("xack %s %s: %w", key, msg.ID, err)
	}
	return nil
}

// Commit publishes rec to topic and acknowledges in. In transactional mode
// both happen inside one script guarded by a dedupe marker on dedupeKey.
func (s *Streams) Commit(ctx context.Context, topic string, rec broker.Record, in *broker.Message, dedupe string) (bool, error) {
	out := StreamKey(topic, broker.PartitionFor(rec.Key, s.cfg.Partitions))
	inKey := StreamKey(in.Topic, in.Partition)

	if !s.cfg.Transactional {
		if err := s.rdb.XAdd(ctx, &redis.XAddArgs{Stream: out, Values: entryFields(rec)}).Err(); err != nil {
			return false, fmt.Errorf("xadd %s: %w", out, err)
		}
		if err := s.rdb.XAck(ctx, inKey, s.cfg.Group, in.ID).Err(); err != nil {
			return true, fmt.Errorf("xack %s %s: %w", inKey, in.ID, err)
		}
		return true, nil
	}

	args := []any{s.cfg.Group, in.ID, int64(s.cfg.DedupeTTL / time.Second)}
	args = append(args, entryFields(rec)...)
	n, err := commitScript.Run(ctx, s.rdb, []string{out, inKey, dedupeKey(topic, dedupe)}, args...).Int()
	if err != nil {
		return false, fmt.Errorf("commit to %s: %w", out, err)
	}
	return n == 1, nil
}

// Forward publishes rec to topic and acknowledges in within one MULTI/EXEC.
func (s *Streams) Forward(ctx context.Context, topic string, rec broker.Record, in *broker.Message) error {
	out := StreamKey(topic, broker.PartitionFor(rec.Key, s.cfg.Partitions))
	inKey := StreamKey(in.Topic, in.Partition)

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{Stream: out, Values: entryFields(rec)})
		pipe.XAck(ctx, inKey, s.cfg.Group, in.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("forward to %s: %w", out, err)
	}
	return nil
}

// Send publishes rec to the partition of topic chosen by its key.
func (s *Streams) Send(ctx context.Context, topic string, rec broker.Record) (string, error) {
	out := StreamKey(topic, broker.PartitionFor(rec.Key, s.cfg.Partitions))
	id, err := s.rdb.XAdd(ctx, &redis.XAddArgs{Stream: out, Values: entryFields(rec)}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", out, err)
	}
	return id, nil
}

// Len returns the number of entries across all partitions of topic.
func (s *Streams) Len(ctx context.Context, topic string) (int64, error) {
	var total int64
	for p := 0; p < s.cfg.Partitions; p++ {
		n, err := s.rdb.XLen(ctx, StreamKey(topic, p)).Result()
		if err != nil {
			return 0, fmt.Errorf("xlen %s: %w", StreamKey(topic, p), err)
		}
		total += n
	}
	return total, nil
}

// Pending returns the number of inbound entries delivered and not yet acknowledged.
func (s *Streams) Pending(ctx context.Context) (int64, error) {
	var total int64
	for p := 0; p < s.cfg.Partitions; p++ {
		key := StreamKey(s.cfg.Incoming, p)
		res, err := s.rdb.XPending(ctx, key, s.cfg.Group).Result()
		if err != nil {
			if strings.HasPrefix(err.Error(), "NOGROUP") || errors.Is(err, redis.Nil) {
				continue
			}
			return 0, fmt.Errorf("xpending %s: %w", key, err)
		}
		total += res.Count
	}
	return total, nil
}

// TrimOlderThan drops entries of every partition of topic whose ID is older
// than before. Entry IDs carry their creation time in milliseconds.
func (s *Streams) TrimOlderThan(ctx context.Context, topic string, before time.Time) (int64, error) {
	minID := fmt.Sprintf("%d-0", before.UnixMilli())
	var total int64
	for p := 0; p < s.cfg.Partitions; p++ {
		key := StreamKey(topic, p)
		n, err := s.rdb.XTrimMinID(ctx, key, minID).Result()
		if err != nil {
			return total, fmt.Errorf("xtrim %s: %w", key, err)
		}
		total += n
	}
	return total, nil
}

// Range returns up to count entries of one partition of topic, oldest first.
func (s *Streams) Range(ctx context.Context, topic string, partition int, count int64) ([]*broker.Message, error) {
	key := StreamKey(topic, partition)
	entries, err := s.rdb.XRangeN(ctx, key, "-", "+", count).Result()
	if err != nil {
		return nil, fmt.Errorf("xrange %s: %w", key, err)
	}
	out := make([]*broker.Message, 0, len(entries))
	for _, xm := range entries {
		out = append(out, decodeEntry(topic, partition, xm))
	}
	return out, nil
}

func entryFields(rec broker.Record) []any {
	names := make([]string, 0, len(rec.Headers))
	for name := range rec.Headers {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]any, 0, 4+2*len(names))
	fields = append(fields, fieldKey, rec.Key, fieldValue, string(rec.Value))
	for _, name := range names {
		fields = append(fields, name, rec.Headers[name])
	}
	return fields
}

func decodeEntry(topic string, partition int, xm redis.XMessage) *broker.Message {
	msg := &broker.Message{
		Topic:     topic,
		Partition: partition,
		ID:        xm.ID,
		Headers:   make(map[string]string, len(xm.Values)),
	}
	for name, raw := range xm.Values {
		v := fmt.Sprint(raw)
		switch name {
		case fieldKey:
			msg.Key = v
		case fieldValue:
			msg.Value = []byte(v)
		default:
			msg.Headers[name] = v
		}
	}
	return msg
}
