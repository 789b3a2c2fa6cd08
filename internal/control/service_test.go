package control

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/aiprocessor/internal/broker"
	"github.com/vietddude/aiprocessor/internal/core/config"
	"github.com/vietddude/aiprocessor/internal/infra/redis"
)

const configTemplate = `
server:
  port: %d
redis:
  url: redis://%s
streams:
  partitions: 2
  block: 20ms
processing:
  redelivery_initial: 1ms
  redelivery_max: 5ms
  incident_backoff: 1ms
ai:
  provider: openai
  endpoint: %s
  api_key: test
  retry_base_delay: 1ms
prompts:
  - ref: cv-match
    template: "Decide whether the CV matches. CV: {{payload}}"
    schema: '{"type":"object","required":["matches","confidence"],"properties":{"matches":{"type":"boolean"},"confidence":{"type":"number"}}}'
`

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func loadConfig(t *testing.T, redisAddr, endpoint string) *config.AppConfig {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := fmt.Sprintf(configTemplate, freePort(t), redisAddr, endpoint)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestService_EndToEnd(t *testing.T) {
	mr := miniredis.RunT(t)

	var calls atomic.Int32
	ai := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"matches\":true,\"confidence\":0.8}"}}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`))
	}))
	defer ai.Close()

	cfg := loadConfig(t, mr.Addr(), ai.URL)
	ctx := context.Background()

	svc, err := NewService(ctx, *cfg)
	require.NoError(t, err)
	require.NoError(t, svc.Start(ctx))

	client, err := redis.NewClient(cfg.Redis)
	require.NoError(t, err)
	defer client.Close()
	producer := redis.NewStreams(client, redis.StreamConfig{Partitions: cfg.Streams.Partitions})

	send := func(sourceID, value string) {
		_, err := producer.Send(ctx, cfg.Streams.Incoming, broker.Record{
			Key:     sourceID,
			Value:   []byte(value),
			Headers: map[string]string{broker.HeaderSourceID: sourceID},
		})
		require.NoError(t, err)
	}
	send("src-1", `{"type":"cv","ref":"cv-match","payload":"Go developer"}`)
	send("src-2", `{"type":"cv","ref":"unknown","payload":"Go developer"}`)
	send("src-3", `not json`)

	require.Eventually(t, func() bool {
		out, _ := producer.Len(ctx, cfg.Streams.Outgoing)
		bdlq, _ := producer.Len(ctx, cfg.Streams.BusinessDLQ)
		tdlq, _ := producer.Len(ctx, cfg.Streams.TransportDLQ)
		return out == 1 && bdlq == 1 && tdlq == 1
	}, 3*time.Second, 20*time.Millisecond)

	assert.EqualValues(t, 1, calls.Load())

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Stop(stopCtx))
	// second stop is a no-op
	require.NoError(t, svc.Stop(stopCtx))
}

func TestNewService_RedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := loadConfig(t, mr.Addr(), "http://127.0.0.1:1")
	mr.Close()

	_, err := NewService(context.Background(), *cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
}
