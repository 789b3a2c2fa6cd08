package config

import (
	"time"

	"github.com/vietddude/aiprocessor/internal/ai"
	"github.com/vietddude/aiprocessor/internal/core/domain"
	redisclient "github.com/vietddude/aiprocessor/internal/infra/redis"
	"github.com/vietddude/aiprocessor/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server     ServerConfig        `yaml:"server"`
	Logging    LoggingConfig       `yaml:"logging"`
	Redis      redisclient.Config  `yaml:"redis"`
	Database   postgres.Config     `yaml:"database"`
	Streams    StreamsConfig       `yaml:"streams"`
	Processing ProcessingConfig    `yaml:"processing"`
	AI         ai.Config           `yaml:"ai"`
	Prompts    []domain.PromptSpec `yaml:"prompts"` // seeds the in-memory store when no database is configured
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// StreamsConfig names the streams and consumer group the service works on.
type StreamsConfig struct {
	Incoming       string        `yaml:"incoming"`
	Outgoing       string        `yaml:"outgoing"`
	BusinessDLQ    string        `yaml:"business_dlq"`
	TransportDLQ   string        `yaml:"transport_dlq"`
	Group          string        `yaml:"group"`
	Consumer       string        `yaml:"consumer"`
	Partitions     int           `yaml:"partitions"`
	Workers        int           `yaml:"workers"`
	Block          time.Duration `yaml:"block"`
	Transactional  *bool         `yaml:"transactional"` // nil = true
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	DedupeTTL      time.Duration `yaml:"dedupe_ttl"`
	// ClaimMinIdle is the idle time after which entries left unacknowledged by
	// another consumer of the group are taken over. It must exceed the longest
	// time one item can spend in processing. Negative disables it.
	ClaimMinIdle time.Duration `yaml:"claim_min_idle"`
}

// IsTransactional reports whether result publish and inbound ack are atomic.
func (s StreamsConfig) IsTransactional() bool {
	return s.Transactional == nil || *s.Transactional
}

// ProcessingConfig holds the redelivery budgets of the consumer.
type ProcessingConfig struct {
	MaxDeliveries     int           `yaml:"max_deliveries"`
	RedeliveryInitial time.Duration `yaml:"redelivery_initial"`
	RedeliveryMax     time.Duration `yaml:"redelivery_max"`
	IncidentAttempts  int           `yaml:"incident_attempts"`
	IncidentBackoff   time.Duration `yaml:"incident_backoff"`
	CorruptQueueSize  int           `yaml:"corrupt_queue_size"`
	// Retention bounds the age of recovery records and of entries in the
	// outgoing and dead-letter streams. Zero keeps everything.
	Retention time.Duration `yaml:"retention"`
}
