package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/aiprocessor/internal/infra/storage"
	"github.com/vietddude/aiprocessor/internal/metrics"
)

// Check reports whether a dependency is reachable.
type Check func(ctx context.Context) error

// StreamStats reads backlog sizes from the broker.
type StreamStats interface {
	Pending(ctx context.Context) (int64, error)
	Len(ctx context.Context, topic string) (int64, error)
}

// Thresholds decide when the pipeline counts as degraded or critical.
type Thresholds struct {
	PendingDegraded int64
	PendingCritical int64
}

// MonitorConfig wires the monitor.
type MonitorConfig struct {
	Checks       map[string]Check
	Stats        StreamStats
	Records      storage.RecoveryRecordRepository
	BusinessDLQ  string
	TransportDLQ string
	Thresholds   Thresholds
	// Interval is the minimum time between two real checks.
	Interval time.Duration
}

// Monitor aggregates health status from various system components.
type Monitor struct {
	cfg        MonitorConfig
	lastCheck  time.Time
	lastReport *HealthReport
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor.
func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.Thresholds.PendingDegraded <= 0 {
		cfg.Thresholds.PendingDegraded = 100
	}
	if cfg.Thresholds.PendingCritical <= 0 {
		cfg.Thresholds.PendingCritical = 1000
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	return &Monitor{cfg: cfg}
}

// CheckHealth returns the current report, reusing the previous one when it
// is younger than the configured interval.
func (m *Monitor) CheckHealth(ctx context.Context) *HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastReport != nil && time.Since(m.lastCheck) < m.cfg.Interval {
		return m.lastReport
	}

	report := &HealthReport{
		SystemStatus: StatusHealthy,
		Components:   make(map[string]ComponentHealth, len(m.cfg.Checks)),
	}

	// 1. Dependencies
	for name, check := range m.cfg.Checks {
		c := ComponentHealth{Name: name, Status: StatusHealthy}
		if err := check(ctx); err != nil {
			c.Status = StatusCritical
			c.Error = err.Error()
		}
		report.Components[name] = c
		report.SystemStatus = worst(report.SystemStatus, c.Status)
	}

	// 2. Pipeline backlog
	p := PipelineHealth{Status: StatusHealthy}
	if m.cfg.Stats != nil {
		if n, err := m.cfg.Stats.Pending(ctx); err == nil {
			p.Pending = n
			metrics.PendingEntries.Set(float64(n))
		} else {
			p.Status = StatusDegraded
		}
		if m.cfg.BusinessDLQ != "" {
			p.BusinessDLQ, _ = m.cfg.Stats.Len(ctx, m.cfg.BusinessDLQ)
		}
		if m.cfg.TransportDLQ != "" {
			p.TransportDLQ, _ = m.cfg.Stats.Len(ctx, m.cfg.TransportDLQ)
		}
	}

	// 3. Corrupt records
	if m.cfg.Records != nil {
		if n, err := m.cfg.Records.Count(ctx); err == nil {
			p.CorruptRecords = n
		}
	}

	// Evaluate Status
	if p.Pending > m.cfg.Thresholds.PendingCritical {
		p.Status = StatusCritical
	} else if p.Pending > m.cfg.Thresholds.PendingDegraded || p.TransportDLQ > 0 || p.CorruptRecords > 0 {
		p.Status = worst(p.Status, StatusDegraded)
	}
	report.Pipeline = p
	report.SystemStatus = worst(report.SystemStatus, p.Status)

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}
