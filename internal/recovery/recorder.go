package recovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/aiprocessor/internal/core/domain"
	"github.com/vietddude/aiprocessor/internal/infra/storage"
	"github.com/vietddude/aiprocessor/internal/metrics"
)

const recordWriteTimeout = 10 * time.Second

// Recorder persists recovery records on its own goroutine. Records are
// best-effort: a full queue or a failed write is logged and counted, never
// reported to the caller.
type Recorder struct {
	repo  storage.RecoveryRecordRepository
	queue chan *domain.RecoveryRecord
	log   *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewRecorder creates a recorder with a queue of size entries.
func NewRecorder(repo storage.RecoveryRecordRepository, size int) *Recorder {
	if size <= 0 {
		size = 256
	}
	return &Recorder{
		repo:  repo,
		queue: make(chan *domain.RecoveryRecord, size),
		log:   slog.Default().With("component", "recorder"),
	}
}

// Start launches the writer goroutine.
func (r *Recorder) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for rec := range r.queue {
			r.write(rec)
		}
	}()
}

func (r *Recorder) write(rec *domain.RecoveryRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), recordWriteTimeout)
	defer cancel()

	if err := r.repo.Save(ctx, rec); err != nil {
		metrics.CorruptRecords.WithLabelValues("failed").Inc()
		r.log.Error("Failed to persist recovery record",
			"topic", rec.Topic,
			"id", rec.MessageID,
			"error", err,
		)
		return
	}
	metrics.CorruptRecords.WithLabelValues("saved").Inc()
	r.log.Info("Recovery record persisted", "record", rec.ID, "topic", rec.Topic, "id", rec.MessageID)
}

// Record queues rec without blocking.
func (r *Recorder) Record(rec *domain.RecoveryRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		metrics.CorruptRecords.WithLabelValues("dropped").Inc()
		r.log.Error("Recorder closed, dropping recovery record", "topic", rec.Topic, "id", rec.MessageID)
		return
	}

	select {
	case r.queue <- rec:
	default:
		metrics.CorruptRecords.WithLabelValues("dropped").Inc()
		r.log.Error("Recovery queue full, dropping record", "topic", rec.Topic, "id", rec.MessageID)
	}
}

// Close stops accepting records and waits for queued ones to be written.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	r.wg.Wait()
}
