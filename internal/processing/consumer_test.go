package processing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/aiprocessor/internal/broker"
	"github.com/vietddude/aiprocessor/internal/core/failure"
	redisinfra "github.com/vietddude/aiprocessor/internal/infra/redis"
	"github.com/vietddude/aiprocessor/internal/infra/storage/memory"
	"github.com/vietddude/aiprocessor/internal/recovery"
	"github.com/vietddude/aiprocessor/internal/validation"
)

const (
	inTopic        = "ai.incoming"
	outTopic       = "ai.outgoing"
	businessDLQ    = "ai.processing-dlq"
	transportDLQ   = "ai.dlq"
	testPartitions = 2
)

type harness struct {
	rdb      *goredis.Client
	streams  *redisinfra.Streams
	analyzer *fakeAnalyzer
	records  *memory.RecoveryRecordRepo
	recorder *recovery.Recorder
	consumer *Consumer
}

func newHarness(t *testing.T, a *fakeAnalyzer) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	streams := redisinfra.NewStreams(redisinfra.Wrap(rdb), redisinfra.StreamConfig{
		Incoming:      inTopic,
		Group:         "ai-processor",
		Consumer:      "test",
		Partitions:    testPartitions,
		Block:         20 * time.Millisecond,
		Transactional: true,
		DedupeTTL:     time.Hour,
		ClaimMinIdle:  20 * time.Millisecond,
	})
	require.NoError(t, streams.EnsureGroup(context.Background()))

	records := memory.NewRecoveryRecordRepo(memory.NewMemoryStorage())
	recorder := recovery.NewRecorder(records, 16)
	recorder.Start()

	router := recovery.NewRouter(streams, recorder, recovery.RouterConfig{
		BusinessDLQ:    businessDLQ,
		TransportDLQ:   transportDLQ,
		PublishTimeout: time.Second,
	})
	handler := NewHandler(
		NewProcessor(newPrompts(), a, validation.NewResultValidator()),
		NewOutgoingPublisher(streams, outTopic, time.Second),
	)
	consumer := NewConsumer(streams, handler, router, ConsumerConfig{
		Workers: testPartitions,
		Redelivery: &recovery.ExponentialBackoff{
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			MaxAttempts:  4,
			Classifier:   failure.Classify,
		},
		Incident: &recovery.FixedBackoff{Delay: time.Millisecond, MaxAttempts: 3},
	})

	return &harness{
		rdb:      rdb,
		streams:  streams,
		analyzer: a,
		records:  records,
		recorder: recorder,
		consumer: consumer,
	}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.consumer.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		h.recorder.Close()
	})
}

func (h *harness) send(t *testing.T, sourceID, value string) {
	t.Helper()
	_, err := h.streams.Send(context.Background(), inTopic, broker.Record{
		Key:     sourceID,
		Value:   []byte(value),
		Headers: map[string]string{broker.HeaderSourceID: sourceID},
	})
	require.NoError(t, err)
}

func (h *harness) entries(t *testing.T, topic string) []*broker.Message {
	t.Helper()
	var out []*broker.Message
	for p := 0; p < testPartitions; p++ {
		msgs, err := h.streams.Range(context.Background(), topic, p, 100)
		require.NoError(t, err)
		out = append(out, msgs...)
	}
	return out
}

func (h *harness) settled(t *testing.T) func() bool {
	return func() bool {
		n, err := h.streams.Pending(context.Background())
		return err == nil && n == 0
	}
}

const validItem = `{"type":"cv","ref":"cv-match","payload":"Go developer"}`

func TestConsumer_PublishesResult(t *testing.T) {
	h := newHarness(t, &fakeAnalyzer{fallback: reply{text: `{"matches":true,"confidence":0.85,"reason":"fits"}`}})
	h.start(t)
	h.send(t, "src-1", validItem)

	require.Eventually(t, func() bool { return len(h.entries(t, outTopic)) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, h.settled(t), 2*time.Second, 10*time.Millisecond)

	out := h.entries(t, outTopic)[0]
	assert.Equal(t, "src-1", out.Key)
	assert.Equal(t, "src-1", out.Headers[broker.HeaderSourceID])
	assert.Equal(t, "cv-match", out.Headers[broker.HeaderRef])
	assert.JSONEq(t, `{"matches":true,"confidence":0.85,"reason":"fits"}`, string(out.Value))
	assert.Empty(t, h.entries(t, businessDLQ))
}

func TestConsumer_PromptNotFoundGoesToBusinessDLQ(t *testing.T) {
	h := newHarness(t, &fakeAnalyzer{})
	h.start(t)
	h.send(t, "src-2", `{"type":"cv","ref":"unknown-ref","payload":"x"}`)

	require.Eventually(t, func() bool { return len(h.entries(t, businessDLQ)) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, h.settled(t), 2*time.Second, 10*time.Millisecond)

	dl := h.entries(t, businessDLQ)[0]
	assert.Equal(t, "src-2", dl.Headers[broker.HeaderSourceID])
	assert.Equal(t, "unknown-ref", dl.Headers[broker.HeaderRef])
	assert.Equal(t, "not_found", dl.Headers[broker.HeaderErrorKind])
	assert.Contains(t, dl.Headers[broker.HeaderReason], "prompt not found")
	assert.JSONEq(t, `{"type":"cv","ref":"unknown-ref","payload":"x"}`, string(dl.Value))
	assert.Zero(t, h.analyzer.count())
	assert.Empty(t, h.entries(t, outTopic))
}

func TestConsumer_TransientExhaustsToBusinessDLQ(t *testing.T) {
	a := &fakeAnalyzer{fallback: reply{err: failure.Transient("ai endpoint unavailable", errors.New("503"))}}
	h := newHarness(t, a)
	h.start(t)
	h.send(t, "src-3", validItem)

	require.Eventually(t, func() bool { return len(h.entries(t, businessDLQ)) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, h.settled(t), 2*time.Second, 10*time.Millisecond)

	dl := h.entries(t, businessDLQ)[0]
	assert.Contains(t, dl.Headers[broker.HeaderReason], "retries exhausted after 4 attempts")
	assert.Equal(t, "transient", dl.Headers[broker.HeaderErrorKind])
	assert.Equal(t, "cv-match", dl.Headers[broker.HeaderRef])
	assert.Equal(t, 4, a.count())
	assert.Empty(t, h.entries(t, outTopic))
}

func TestConsumer_TransientThenSuccessRedeliversSameEntry(t *testing.T) {
	transient := failure.Transient("ai endpoint unavailable", errors.New("503"))
	a := &fakeAnalyzer{
		script:   []reply{{err: transient}, {err: transient}},
		fallback: reply{text: `{"matches":false,"confidence":0.1}`},
	}
	h := newHarness(t, a)
	h.start(t)
	h.send(t, "src-4", validItem)

	require.Eventually(t, func() bool { return len(h.entries(t, outTopic)) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, h.settled(t), 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 3, a.count())
	for _, call := range a.calls {
		assert.Equal(t, "src-4", call.correlationID)
	}
	assert.Empty(t, h.entries(t, businessDLQ))
}

func TestConsumer_DuplicateSourceIDPublishedOnce(t *testing.T) {
	h := newHarness(t, &fakeAnalyzer{fallback: reply{text: `{"matches":true,"confidence":0.5}`}})
	h.start(t)
	h.send(t, "src-5", validItem)
	h.send(t, "src-5", validItem)

	require.Eventually(t, func() bool { return h.analyzer.count() == 2 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, h.settled(t), 2*time.Second, 10*time.Millisecond)

	assert.Len(t, h.entries(t, outTopic), 1)
}

func TestConsumer_MissingCorrelationIDGoesToBusinessDLQ(t *testing.T) {
	h := newHarness(t, &fakeAnalyzer{fallback: reply{text: `{"matches":true,"confidence":0.5}`}})
	h.start(t)
	for _, payload := range []string{"first", "second"} {
		_, err := h.streams.Send(context.Background(), inTopic, broker.Record{
			Value: []byte(`{"type":"cv","ref":"cv-match","payload":"` + payload + `"}`),
		})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return len(h.entries(t, businessDLQ)) == 2 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, h.settled(t), 2*time.Second, 10*time.Millisecond)

	for _, dl := range h.entries(t, businessDLQ) {
		assert.Contains(t, dl.Headers[broker.HeaderReason], "missing correlation id")
		assert.Equal(t, "validation", dl.Headers[broker.HeaderErrorKind])
		assert.Equal(t, "cv-match", dl.Headers[broker.HeaderRef])
	}
	assert.Zero(t, h.analyzer.count())
	assert.Empty(t, h.entries(t, outTopic))
}

func TestConsumer_UndecodablePersistedAsCorrupt(t *testing.T) {
	h := newHarness(t, &fakeAnalyzer{})
	h.start(t)
	h.send(t, "src-6", `{not json`)

	require.Eventually(t, func() bool { return len(h.entries(t, transportDLQ)) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		n, _ := h.records.Count(context.Background())
		return n == 1
	}, 2*time.Second, 10*time.Millisecond)

	dl := h.entries(t, transportDLQ)[0]
	assert.Equal(t, `{not json`, string(dl.Value))
	assert.Equal(t, inTopic, dl.Headers[broker.HeaderOriginalTopic])
	assert.NotEmpty(t, dl.Headers[broker.HeaderOriginalOffset])
	assert.Equal(t, "src-6", dl.Headers[broker.HeaderSourceID])

	recs, err := h.records.Recent(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, `{not json`, recs[0].Payload)
	assert.Equal(t, inTopic, recs[0].Topic)
	assert.Zero(t, h.analyzer.count())
}

func TestConsumer_FatalProviderEscalates(t *testing.T) {
	a := &fakeAnalyzer{fallback: reply{err: failure.FatalProvider("ai endpoint rejected request", errors.New("401"))}}
	h := newHarness(t, a)
	h.start(t)
	h.send(t, "src-7", validItem)

	require.Eventually(t, func() bool { return len(h.entries(t, transportDLQ)) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, h.settled(t), 2*time.Second, 10*time.Millisecond)

	dl := h.entries(t, transportDLQ)[0]
	assert.Contains(t, dl.Headers[broker.HeaderExceptionMessage], "ai endpoint rejected request")
	assert.Equal(t, 3, a.count())
	assert.Empty(t, h.entries(t, outTopic))
	assert.Empty(t, h.entries(t, businessDLQ))
}

func TestConsumer_HandlesPendingEntriesFirst(t *testing.T) {
	h := newHarness(t, &fakeAnalyzer{fallback: reply{text: `{"matches":true,"confidence":0.7}`}})
	h.send(t, "src-8", validItem)

	// Simulate a crash after delivery: the entry is read but never acknowledged.
	p := broker.PartitionFor("src-8", testPartitions)
	msg, err := h.streams.Fetch(context.Background(), p, false)
	require.NoError(t, err)
	require.NotNil(t, msg)

	h.start(t)

	require.Eventually(t, func() bool { return len(h.entries(t, outTopic)) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, h.settled(t), 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "src-8", h.entries(t, outTopic)[0].Key)
}

func TestConsumer_TakesOverEntryOfCrashedConsumer(t *testing.T) {
	h := newHarness(t, &fakeAnalyzer{fallback: reply{text: `{"matches":true,"confidence":0.7}`}})
	h.send(t, "src-9", validItem)

	// Another instance of the group reads the entry and dies before acking.
	podA := redisinfra.NewStreams(redisinfra.Wrap(h.rdb), redisinfra.StreamConfig{
		Incoming:   inTopic,
		Group:      "ai-processor",
		Consumer:   "pod-a",
		Partitions: testPartitions,
	})
	msg, err := podA.Fetch(context.Background(), broker.PartitionFor("src-9", testPartitions), false)
	require.NoError(t, err)
	require.NotNil(t, msg)

	h.start(t)

	require.Eventually(t, func() bool { return len(h.entries(t, outTopic)) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, h.settled(t), 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "src-9", h.entries(t, outTopic)[0].Key)
	assert.Equal(t, 1, h.analyzer.count())
}

func TestConsumer_Assignments(t *testing.T) {
	h := newHarness(t, &fakeAnalyzer{})
	assert.Equal(t, [][]int{{0}, {1}}, h.consumer.Assignments())

	single := NewConsumer(h.streams, nil, nil, ConsumerConfig{Workers: 1})
	assert.Equal(t, [][]int{{0, 1}}, single.Assignments())
}
