package processing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/aiprocessor/internal/broker"
	"github.com/vietddude/aiprocessor/internal/core/failure"
	"github.com/vietddude/aiprocessor/internal/core/retry"
	"github.com/vietddude/aiprocessor/internal/metrics"
	"github.com/vietddude/aiprocessor/internal/recovery"
)

const fetchErrorBackoff = time.Second

// MessageHandler handles one inbound message.
type MessageHandler interface {
	Handle(ctx context.Context, msg *broker.Message) error
}

// DeadLetterRouter executes the terminal recovery actions.
type DeadLetterRouter interface {
	Route(ctx context.Context, in *broker.Message, dl recovery.DeadLetter) error
	PersistCorrupt(ctx context.Context, in *broker.Message, cause error) error
}

// ConsumerConfig sizes the worker pool and its retry budgets.
type ConsumerConfig struct {
	Workers    int
	Redelivery recovery.RetryStrategy
	Incident   recovery.RetryStrategy
}

// Consumer reads the inbound partitions with a bounded pool of workers. A
// partition belongs to exactly one worker, which handles its entries one at a
// time, so order within a partition is kept.
type Consumer struct {
	source     broker.Source
	handler    MessageHandler
	router     DeadLetterRouter
	workers    int
	redelivery recovery.RetryStrategy
	incident   recovery.RetryStrategy
	log        *slog.Logger
}

// NewConsumer creates the consumer.
func NewConsumer(source broker.Source, handler MessageHandler, router DeadLetterRouter, cfg ConsumerConfig) *Consumer {
	if cfg.Workers <= 0 || cfg.Workers > source.Partitions() {
		cfg.Workers = source.Partitions()
	}
	if cfg.Redelivery == nil {
		cfg.Redelivery = recovery.DefaultBackoff()
	}
	if cfg.Incident == nil {
		cfg.Incident = &recovery.FixedBackoff{Delay: 2 * time.Second, MaxAttempts: 3}
	}
	return &Consumer{
		source:     source,
		handler:    handler,
		router:     router,
		workers:    cfg.Workers,
		redelivery: cfg.Redelivery,
		incident:   cfg.Incident,
		log:        slog.Default().With("component", "consumer"),
	}
}

// Assignments distributes partitions round-robin over the workers.
func (c *Consumer) Assignments() [][]int {
	out := make([][]int, c.workers)
	for p := 0; p < c.source.Partitions(); p++ {
		out[p%c.workers] = append(out[p%c.workers], p)
	}
	return out
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	assignments := c.Assignments()
	c.log.Info("Consumer starting",
		"stream", c.source.Topic(),
		"partitions", c.source.Partitions(),
		"workers", len(assignments),
	)

	var wg sync.WaitGroup
	for id, partitions := range assignments {
		wg.Add(1)
		go func(id int, partitions []int) {
			defer wg.Done()
			c.worker(ctx, id, partitions)
		}(id, partitions)
	}
	wg.Wait()

	c.log.Info("Consumer stopped", "stream", c.source.Topic())
	return nil
}

func (c *Consumer) worker(ctx context.Context, id int, partitions []int) {
	log := c.log.With("worker", id)

	// Entries left pending by a previous run are handled before new ones.
	pending := make(map[int]bool, len(partitions))
	for _, p := range partitions {
		pending[p] = true
	}

	for ctx.Err() == nil {
		for _, p := range partitions {
			if ctx.Err() != nil {
				return
			}

			msg, err := c.source.Fetch(ctx, p, pending[p])
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error("Fetch failed", "partition", p, "error", err)
				_ = retry.Sleep(ctx, fetchErrorBackoff)
				continue
			}
			if msg == nil {
				if pending[p] {
					pending[p] = false
					log.Debug("Pending entries drained", "partition", p)
				}
				continue
			}

			c.handle(ctx, msg)
		}
	}
}

// handle drives one entry until it is published, dead-lettered or persisted
// as corrupt, or until shutdown leaves it pending.
func (c *Consumer) handle(ctx context.Context, msg *broker.Message) {
	deliveries := int(msg.Deliveries)
	if deliveries < 1 {
		deliveries = 1
	}
	incidents := 0

	for {
		err := c.handler.Handle(ctx, msg)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			c.log.Info("Shutdown during processing, entry left pending", "stream", msg.Topic, "id", msg.ID)
			return
		}

		var settleErr error
		switch failure.Classify(err) {
		case failure.ActionDeadLetter:
			settleErr = c.router.Route(ctx, msg, c.deadLetter(msg, err, err.Error()))

		case failure.ActionPersistCorrupt:
			settleErr = c.router.PersistCorrupt(ctx, msg, err)

		case failure.ActionRedeliver:
			if c.redelivery.ShouldRetry(err, deliveries) {
				delay := c.redelivery.GetDelay(deliveries - 1)
				metrics.Redeliveries.WithLabelValues(failure.KindOf(err).String()).Inc()
				c.log.Warn("Redelivering entry",
					"sourceId", msg.SourceID(),
					"stream", msg.Topic,
					"id", msg.ID,
					"delivery", deliveries,
					"delay", delay,
					"error", err,
				)
				if retry.Sleep(ctx, delay) != nil {
					return
				}
				deliveries++
				continue
			}
			reason := fmt.Sprintf("retries exhausted after %d attempts: %v", deliveries, err)
			settleErr = c.router.Route(ctx, msg, c.deadLetter(msg, err, reason))

		default:
			incidents++
			metrics.Incidents.WithLabelValues(failure.KindOf(err).String()).Inc()
			c.log.Error("Unrecovered failure",
				"sourceId", msg.SourceID(),
				"stream", msg.Topic,
				"id", msg.ID,
				"incident", incidents,
				"error", err,
			)
			if c.incident.ShouldRetry(err, incidents) {
				if retry.Sleep(ctx, c.incident.GetDelay(incidents-1)) != nil {
					return
				}
				continue
			}
			settleErr = c.router.PersistCorrupt(ctx, msg, err)
		}

		if settleErr == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}

		// The entry is still pending; try the whole item again later.
		delay := c.redelivery.GetDelay(deliveries - 1)
		c.log.Error("Failed to settle entry, retrying",
			"sourceId", msg.SourceID(),
			"stream", msg.Topic,
			"id", msg.ID,
			"delay", delay,
			"error", settleErr,
		)
		if retry.Sleep(ctx, delay) != nil {
			return
		}
		deliveries++
	}
}

func (c *Consumer) deadLetter(msg *broker.Message, err error, reason string) recovery.DeadLetter {
	ref := failure.RefOf(err)
	if ref == "" {
		ref = itemRef(msg.Value)
	}
	return recovery.DeadLetter{
		Ref:           ref,
		CorrelationID: msg.SourceID(),
		Reason:        reason,
		Kind:          failure.KindOf(err),
	}
}

func itemRef(value []byte) string {
	var item struct {
		Ref string `json:"ref"`
	}
	_ = json.Unmarshal(value, &item)
	return item.Ref
}
