package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	s := &cfg.Streams
	if s.Incoming == "" {
		s.Incoming = "ai.incoming"
	}
	if s.Outgoing == "" {
		s.Outgoing = "ai.outgoing"
	}
	if s.BusinessDLQ == "" {
		s.BusinessDLQ = "ai.processing-dlq"
	}
	if s.TransportDLQ == "" {
		s.TransportDLQ = "ai.dlq"
	}
	if s.Group == "" {
		s.Group = "ai-processor"
	}
	if s.Consumer == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "aiprocessor"
		}
		s.Consumer = host
	}
	if s.Partitions == 0 {
		s.Partitions = 3
	}
	if s.Workers == 0 || s.Workers > s.Partitions {
		s.Workers = s.Partitions
	}
	if s.Block == 0 {
		s.Block = 2 * time.Second
	}
	if s.PublishTimeout == 0 {
		s.PublishTimeout = 5 * time.Second
	}
	if s.DedupeTTL == 0 {
		s.DedupeTTL = 24 * time.Hour
	}
	if s.ClaimMinIdle == 0 {
		s.ClaimMinIdle = 10 * time.Minute
	}

	p := &cfg.Processing
	if p.MaxDeliveries == 0 {
		p.MaxDeliveries = 4
	}
	if p.RedeliveryInitial == 0 {
		p.RedeliveryInitial = 2 * time.Second
	}
	if p.RedeliveryMax == 0 {
		p.RedeliveryMax = 60 * time.Second
	}
	if p.IncidentAttempts == 0 {
		p.IncidentAttempts = 3
	}
	if p.IncidentBackoff == 0 {
		p.IncidentBackoff = 2 * time.Second
	}
	if p.CorruptQueueSize == 0 {
		p.CorruptQueueSize = 256
	}

	cfg.AI = cfg.AI.WithDefaults()
}

func validate(cfg *AppConfig) error {
	if cfg.Streams.Partitions < 0 {
		return fmt.Errorf("streams.partitions must be positive, got %d", cfg.Streams.Partitions)
	}
	if cfg.Streams.Workers < 0 {
		return fmt.Errorf("streams.workers must be positive, got %d", cfg.Streams.Workers)
	}
	if cfg.Processing.MaxDeliveries < 1 {
		return fmt.Errorf("processing.max_deliveries must be at least 1, got %d", cfg.Processing.MaxDeliveries)
	}
	for i, p := range cfg.Prompts {
		if p.Ref == "" {
			return fmt.Errorf("prompts[%d]: ref is required", i)
		}
	}
	return nil
}
