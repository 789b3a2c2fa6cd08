// Package control wires the processor's components and manages their lifecycle.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/vietddude/aiprocessor/internal/ai"
	"github.com/vietddude/aiprocessor/internal/core/config"
	"github.com/vietddude/aiprocessor/internal/core/failure"
	"github.com/vietddude/aiprocessor/internal/core/worker"
	"github.com/vietddude/aiprocessor/internal/health"
	"github.com/vietddude/aiprocessor/internal/infra/redis"
	"github.com/vietddude/aiprocessor/internal/infra/storage"
	"github.com/vietddude/aiprocessor/internal/infra/storage/memory"
	"github.com/vietddude/aiprocessor/internal/infra/storage/postgres"
	"github.com/vietddude/aiprocessor/internal/processing"
	"github.com/vietddude/aiprocessor/internal/prompt"
	"github.com/vietddude/aiprocessor/internal/recovery"
	"github.com/vietddude/aiprocessor/internal/validation"
)

// Service is the main application struct that manages the processor lifecycle.
type Service struct {
	cfg          config.AppConfig
	redisClient  *redis.Client
	db           *postgres.DB
	recorder     *recovery.Recorder
	consumer     *processing.Consumer
	pruner       *worker.Pruner
	healthServer *health.Server
	log          *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Option overrides a component built by NewService.
type Option func(*options)

type options struct {
	analyzer processing.Analyzer
}

// WithAnalyzer replaces the AI client built from the ai config section.
func WithAnalyzer(a processing.Analyzer) Option {
	return func(o *options) { o.analyzer = a }
}

// NewService creates a new Service with all dependencies initialized.
func NewService(ctx context.Context, cfg config.AppConfig, opts ...Option) (*Service, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	log := slog.Default().With("component", "control")

	// 1. Broker
	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to init redis: %w", err)
	}
	streams := redis.NewStreams(redisClient, redis.StreamConfig{
		Incoming:      cfg.Streams.Incoming,
		Group:         cfg.Streams.Group,
		Consumer:      cfg.Streams.Consumer,
		Partitions:    cfg.Streams.Partitions,
		Block:         cfg.Streams.Block,
		Transactional: cfg.Streams.IsTransactional(),
		DedupeTTL:     cfg.Streams.DedupeTTL,
		ClaimMinIdle:  cfg.Streams.ClaimMinIdle,
	})
	if err := streams.EnsureGroup(ctx); err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	// 2. Storage
	var (
		promptRepo storage.PromptRepository
		recordRepo storage.RecoveryRecordRepository
		db         *postgres.DB
	)
	if cfg.Database.URL != "" {
		db, err = postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			_ = redisClient.Close()
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if cfg.Database.Migrate {
			if err := db.Migrate(ctx); err != nil {
				_ = db.Close()
				_ = redisClient.Close()
				return nil, fmt.Errorf("failed to migrate db: %w", err)
			}
		}
		promptRepo = postgres.NewPromptRepo(db)
		recordRepo = postgres.NewRecoveryRecordRepo(db)
		log.Info("Using PostgreSQL storage")
	} else {
		store := memory.NewMemoryStorage()
		promptRepo = memory.NewPromptRepo(store, cfg.Prompts...)
		recordRepo = memory.NewRecoveryRecordRepo(store)
		log.Info("Using Memory storage", "prompts", len(cfg.Prompts))
	}

	prompts := prompt.NewService(promptRepo, prompt.Config{})
	if n, err := prompts.Warm(ctx); err != nil {
		log.Warn("Failed to warm prompt cache", "error", err)
	} else {
		log.Info("Prompt cache warmed", "count", n)
	}

	// 3. AI client
	analyzer := o.analyzer
	if analyzer == nil {
		client, err := ai.New(ctx, cfg.AI)
		if err != nil {
			closeAll(db, redisClient)
			return nil, fmt.Errorf("failed to init ai client: %w", err)
		}
		analyzer = client
	}

	// 4. Recovery
	recorder := recovery.NewRecorder(recordRepo, cfg.Processing.CorruptQueueSize)
	router := recovery.NewRouter(streams, recorder, recovery.RouterConfig{
		BusinessDLQ:    cfg.Streams.BusinessDLQ,
		TransportDLQ:   cfg.Streams.TransportDLQ,
		PublishTimeout: cfg.Streams.PublishTimeout,
	})

	// 5. Pipeline
	processor := processing.NewProcessor(prompts, analyzer, validation.NewResultValidator())
	publisher := processing.NewOutgoingPublisher(streams, cfg.Streams.Outgoing, cfg.Streams.PublishTimeout)
	consumer := processing.NewConsumer(streams, processing.NewHandler(processor, publisher), router, processing.ConsumerConfig{
		Workers: cfg.Streams.Workers,
		Redelivery: &recovery.ExponentialBackoff{
			InitialDelay: cfg.Processing.RedeliveryInitial,
			MaxDelay:     cfg.Processing.RedeliveryMax,
			MaxAttempts:  cfg.Processing.MaxDeliveries,
			Classifier:   failure.Classify,
		},
		Incident: &recovery.FixedBackoff{
			Delay:       cfg.Processing.IncidentBackoff,
			MaxAttempts: cfg.Processing.IncidentAttempts,
		},
	})

	pruner := worker.NewPruner(cfg.Processing.Retention, recordRepo, streams,
		cfg.Streams.Outgoing, cfg.Streams.BusinessDLQ, cfg.Streams.TransportDLQ)

	// 6. Health
	checks := map[string]health.Check{"redis": redisClient.Ping}
	if db != nil {
		checks["database"] = db.Health
	}
	monitor := health.NewMonitor(health.MonitorConfig{
		Checks:       checks,
		Stats:        streams,
		Records:      recordRepo,
		BusinessDLQ:  cfg.Streams.BusinessDLQ,
		TransportDLQ: cfg.Streams.TransportDLQ,
	})

	return &Service{
		cfg:          cfg,
		redisClient:  redisClient,
		db:           db,
		recorder:     recorder,
		consumer:     consumer,
		pruner:       pruner,
		healthServer: health.NewServer(monitor, cfg.Server.Port),
		log:          log,
	}, nil
}

// Start starts the service and all its components.
func (s *Service) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	// Start Health Server
	go func() {
		if err := s.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Health server failed", "error", err)
		}
	}()

	// Start DB Metrics Collector
	if s.db != nil {
		s.db.StartMetricsCollector(ctx)
	}

	s.recorder.Start()
	go s.pruner.Start(ctx)

	go func() {
		defer close(s.done)
		s.log.Info("Starting consumer",
			"stream", s.cfg.Streams.Incoming,
			"group", s.cfg.Streams.Group,
			"partitions", s.cfg.Streams.Partitions,
			"workers", s.cfg.Streams.Workers,
		)
		if err := s.consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("Consumer failed", "error", err)
		}
	}()
	return nil
}

// Stop cancels in-flight work, waits for the workers and releases connections.
// Entries interrupted by the shutdown stay pending and are redelivered on
// the next start.
func (s *Service) Stop(ctx context.Context) error {
	var stopErr error
	s.once.Do(func() {
		s.log.Info("Stopping service...")

		if s.cancel != nil {
			s.cancel()
			select {
			case <-s.done:
			case <-ctx.Done():
				s.log.Warn("Consumer did not stop in time", "error", ctx.Err())
			}
		}

		// Drain recorder before the stores go away
		s.recorder.Close()

		stopErr = s.healthServer.Stop(ctx)
		closeAll(s.db, s.redisClient)
	})
	return stopErr
}

func closeAll(db *postgres.DB, rc *redis.Client) {
	if db != nil {
		if err := db.Close(); err != nil {
			slog.Warn("Failed to close database", "error", err)
		}
	}
	if rc != nil {
		if err := rc.Close(); err != nil {
			slog.Warn("Failed to close Redis", "error", err)
		}
	}
}
