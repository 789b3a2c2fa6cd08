package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/aiprocessor/internal/infra/storage"
)

// StreamTrimmer drops stream entries older than a cutoff.
type StreamTrimmer interface {
	TrimOlderThan(ctx context.Context, topic string, before time.Time) (int64, error)
}

// Pruner deletes old data based on retention policy.
type Pruner struct {
	retention time.Duration
	records   storage.RecoveryRecordRepository
	streams   StreamTrimmer
	topics    []string
	now       func() time.Time
	log       *slog.Logger
}

// NewPruner creates a new Pruner worker. Entries of topics and recovery
// records older than retention are removed.
func NewPruner(
	retention time.Duration,
	records storage.RecoveryRecordRepository,
	streams StreamTrimmer,
	topics ...string,
) *Pruner {
	return &Pruner{
		retention: retention,
		records:   records,
		streams:   streams,
		topics:    topics,
		now:       time.Now,
		log:       slog.Default().With("component", "pruner"),
	}
}

// Start runs the pruner loop.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // Retention disabled
	}

	// Check every 10% of the retention period, between 1 minute and 1 hour
	interval := min(p.retention/10, 1*time.Hour)
	interval = max(interval, 1*time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial prune
	p.prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *Pruner) prune(ctx context.Context) {
	threshold := p.now().Add(-p.retention)

	if p.records != nil {
		n, err := p.records.DeleteOlderThan(ctx, threshold)
		if err != nil {
			p.log.Error("Failed to prune recovery records", "error", err)
		} else if n > 0 {
			p.log.Info("Pruned recovery records", "count", n)
		}
	}

	if p.streams == nil {
		return
	}
	for _, topic := range p.topics {
		n, err := p.streams.TrimOlderThan(ctx, topic, threshold)
		if err != nil {
			p.log.Error("Failed to trim stream", "stream", topic, "error", err)
			continue
		}
		if n > 0 {
			p.log.Info("Trimmed stream", "stream", topic, "count", n)
		}
	}
}
