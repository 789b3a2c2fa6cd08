// Package health provides system health monitoring and status reporting.
package health

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// ComponentHealth contains the health of one dependency.
type ComponentHealth struct {
	Name   string       `json:"name"`
	Status SystemStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
}

// PipelineHealth contains backlog and dead-letter counters of the pipeline.
type PipelineHealth struct {
	Status         SystemStatus `json:"status"`
	Pending        int64        `json:"pending"`
	BusinessDLQ    int64        `json:"business_dlq"`
	TransportDLQ   int64        `json:"transport_dlq"`
	CorruptRecords int          `json:"corrupt_records"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus               `json:"system_status"`
	Components   map[string]ComponentHealth `json:"components"`
	Pipeline     PipelineHealth             `json:"pipeline"`
}

func worst(a, b SystemStatus) SystemStatus {
	if a == StatusCritical || b == StatusCritical {
		return StatusCritical
	}
	if a == StatusDegraded || b == StatusDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}
