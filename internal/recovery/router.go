// Package recovery carries out the recovery action chosen for a failed item:
// business dead-letter, transport dead-letter plus a persisted record, or
// another delivery after a backoff.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/vietddude/aiprocessor/internal/broker"
	"github.com/vietddude/aiprocessor/internal/core/domain"
	"github.com/vietddude/aiprocessor/internal/core/failure"
	"github.com/vietddude/aiprocessor/internal/metrics"
)

// RouterConfig names the dead-letter topics.
type RouterConfig struct {
	BusinessDLQ    string
	TransportDLQ   string
	PublishTimeout time.Duration
}

// DeadLetter describes why an item is being dead-lettered.
type DeadLetter struct {
	Ref           string
	CorrelationID string
	Reason        string
	Kind          failure.Kind
}

// Router publishes failed items to their dead-letter destinations.
type Router struct {
	sink     broker.Sink
	recorder *Recorder
	cfg      RouterConfig
	log      *slog.Logger
}

// NewRouter creates a router. recorder may be nil when records are not kept.
func NewRouter(sink broker.Sink, recorder *Recorder, cfg RouterConfig) *Router {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	return &Router{
		sink:     sink,
		recorder: recorder,
		cfg:      cfg,
		log:      slog.Default().With("component", "router"),
	}
}

// Route forwards the original inbound value to the business dead-letter topic
// and acknowledges the inbound entry.
func (r *Router) Route(ctx context.Context, in *broker.Message, dl DeadLetter) error {
	headers := map[string]string{
		broker.HeaderSourceID:  dl.CorrelationID,
		broker.HeaderReason:    dl.Reason,
		broker.HeaderErrorKind: dl.Kind.String(),
	}
	if dl.Ref != "" {
		headers[broker.HeaderRef] = dl.Ref
	}

	if err := r.forward(ctx, r.cfg.BusinessDLQ, broker.Record{
		Key:     dl.CorrelationID,
		Value:   in.Value,
		Headers: headers,
	}, in); err != nil {
		return err
	}

	metrics.ItemsProcessed.WithLabelValues(metrics.OutcomeDeadLettered).Inc()
	r.log.Warn("Item dead-lettered",
		"sourceId", dl.CorrelationID,
		"ref", dl.Ref,
		"kind", dl.Kind,
		"reason", dl.Reason,
		"stream", in.Topic,
		"id", in.ID,
	)
	return nil
}

// PersistCorrupt forwards the raw inbound bytes to the transport dead-letter
// topic with failure context headers, acknowledges the entry and queues a
// recovery record.
func (r *Router) PersistCorrupt(ctx context.Context, in *broker.Message, cause error) error {
	headers := map[string]string{
		broker.HeaderExceptionClass:    exceptionClass(cause),
		broker.HeaderExceptionMessage:  errString(cause),
		broker.HeaderOriginalTopic:     in.Topic,
		broker.HeaderOriginalPartition: strconv.Itoa(in.Partition),
		broker.HeaderOriginalOffset:    in.ID,
	}
	if id := in.SourceID(); id != "" {
		headers[broker.HeaderSourceID] = id
	}

	if err := r.forward(ctx, r.cfg.TransportDLQ, broker.Record{
		Key:     in.Key,
		Value:   in.Value,
		Headers: headers,
	}, in); err != nil {
		return err
	}

	metrics.ItemsProcessed.WithLabelValues(metrics.OutcomeCorrupt).Inc()
	r.log.Error("Item persisted as corrupt",
		"sourceId", in.SourceID(),
		"stream", in.Topic,
		"id", in.ID,
		"error", cause,
	)

	if r.recorder != nil {
		r.recorder.Record(&domain.RecoveryRecord{
			Payload:      string(in.Value),
			ErrorMessage: errString(cause),
			Topic:        in.Topic,
			MessageID:    in.ID,
			CreatedAt:    time.Now().UTC(),
		})
	}
	return nil
}

func (r *Router) forward(ctx context.Context, topic string, rec broker.Record, in *broker.Message) error {
	pubCtx, cancel := context.WithTimeout(ctx, r.cfg.PublishTimeout)
	defer cancel()

	start := time.Now()
	err := r.sink.Forward(pubCtx, topic, rec, in)
	metrics.PublishLatency.WithLabelValues(topic).Observe(time.Since(start).Seconds())
	if err != nil {
		return failure.Publish(fmt.Sprintf("dead-letter to %s", topic), err)
	}
	return nil
}

// exceptionClass names the type of the innermost error of the chain.
func exceptionClass(err error) string {
	if err == nil {
		return ""
	}
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return fmt.Sprintf("%T", err)
		}
		err = next
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
