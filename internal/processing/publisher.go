package processing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vietddude/aiprocessor/internal/broker"
	"github.com/vietddude/aiprocessor/internal/core/domain"
	"github.com/vietddude/aiprocessor/internal/core/failure"
	"github.com/vietddude/aiprocessor/internal/metrics"
)

// OutgoingPublisher commits results to the outgoing topic together with the
// acknowledgement of the inbound entry.
type OutgoingPublisher struct {
	sink    broker.Sink
	topic   string
	timeout time.Duration
}

// NewOutgoingPublisher creates the publisher. Sends longer than timeout fail.
func NewOutgoingPublisher(sink broker.Sink, topic string, timeout time.Duration) *OutgoingPublisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &OutgoingPublisher{sink: sink, topic: topic, timeout: timeout}
}

// Publish sends res keyed by its source id and acknowledges in. It reports
// false when a result for the same source id was already published.
func (p *OutgoingPublisher) Publish(ctx context.Context, res *domain.OutgoingResult, in *broker.Message) (bool, error) {
	// An empty key would share one dedupe marker across unrelated items.
	if res.SourceID == "" {
		return false, failure.Validation(res.Ref, "missing correlation id", nil)
	}

	value, err := json.Marshal(res.Result)
	if err != nil {
		return false, failure.Validation(res.Ref, "unencodable result", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	published, err := p.sink.Commit(pubCtx, p.topic, broker.Record{
		Key:   res.SourceID,
		Value: value,
		Headers: map[string]string{
			broker.HeaderSourceID: res.SourceID,
			broker.HeaderRef:      res.Ref,
		},
	}, in, res.SourceID)
	metrics.PublishLatency.WithLabelValues(p.topic).Observe(time.Since(start).Seconds())
	if err != nil {
		return false, failure.Publish(fmt.Sprintf("publish result to %s", p.topic), err)
	}
	return published, nil
}
