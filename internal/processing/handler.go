package processing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/vietddude/aiprocessor/internal/broker"
	"github.com/vietddude/aiprocessor/internal/core/domain"
	"github.com/vietddude/aiprocessor/internal/core/failure"
	"github.com/vietddude/aiprocessor/internal/metrics"
)

// DecodeWorkItem parses the inbound message value.
func DecodeWorkItem(value []byte) (domain.WorkItem, error) {
	var item domain.WorkItem
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return item, failure.Deserialization("undecodable work item", errors.New("empty message value"))
	}
	if err := json.Unmarshal(trimmed, &item); err != nil {
		return item, failure.Deserialization("undecodable work item", err)
	}
	return item, nil
}

// Handler processes one inbound message and publishes its result. Failures
// are returned for the consumer to classify.
type Handler struct {
	processor *Processor
	publisher *OutgoingPublisher
	log       *slog.Logger
}

// NewHandler creates the message handler.
func NewHandler(processor *Processor, publisher *OutgoingPublisher) *Handler {
	return &Handler{
		processor: processor,
		publisher: publisher,
		log:       slog.Default().With("component", "handler"),
	}
}

// Handle decodes, processes and publishes msg.
func (h *Handler) Handle(ctx context.Context, msg *broker.Message) error {
	item, err := DecodeWorkItem(msg.Value)
	if err != nil {
		return err
	}

	sourceID := msg.SourceID()
	if sourceID == "" {
		return failure.Validation(item.Ref, "missing correlation id", nil)
	}
	res, err := h.processor.Process(ctx, item, sourceID)
	if err != nil {
		return err
	}

	published, err := h.publisher.Publish(ctx, res, msg)
	if err != nil {
		return err
	}

	if !published {
		metrics.ItemsProcessed.WithLabelValues(metrics.OutcomeDuplicate).Inc()
		h.log.Info("Result already published, acknowledged duplicate",
			"sourceId", sourceID,
			"ref", item.Ref,
			"stream", msg.Topic,
			"id", msg.ID,
		)
		return nil
	}

	metrics.ItemsProcessed.WithLabelValues(metrics.OutcomePublished).Inc()
	h.log.Info("Result published",
		"sourceId", sourceID,
		"ref", item.Ref,
		"matches", res.Result.Matches,
		"confidence", res.Result.Confidence,
	)
	return nil
}
