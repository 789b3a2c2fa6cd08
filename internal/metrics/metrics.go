package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AIRequestsTotal tracks AI endpoint calls per ref and outcome
	AIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiproc_ai_requests_total",
			Help: "Total number of AI endpoint calls",
		},
		[]string{"ref", "status"},
	)

	// AITokensTotal tracks token usage reported by the AI endpoint
	AITokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiproc_ai_tokens_total",
			Help: "Total number of tokens reported by the AI endpoint",
		},
		[]string{"ref", "type"},
	)

	// AIRequestDuration tracks AI call latency
	AIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aiproc_ai_request_duration_seconds",
			Help:    "AI endpoint call latency in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		},
		[]string{"ref", "status"},
	)

	// ItemsProcessed tracks inbound items by terminal outcome
	ItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiproc_items_total",
			Help: "Total number of inbound items by outcome",
		},
		[]string{"outcome"},
	)

	// Redeliveries tracks items kept pending for another attempt
	Redeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiproc_redeliveries_total",
			Help: "Total number of redelivery attempts",
		},
		[]string{"kind"},
	)

	// Incidents tracks failures propagated to the consumer loop
	Incidents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiproc_incidents_total",
			Help: "Total number of unrecovered failures raised to the consumer loop",
		},
		[]string{"kind"},
	)

	// PublishLatency tracks result and dead-letter publish latency
	PublishLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aiproc_publish_latency_seconds",
			Help:    "Broker publish latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"destination"},
	)

	// CorruptRecords tracks recovery records by persistence outcome
	CorruptRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiproc_corrupt_records_total",
			Help: "Total number of undecodable payloads handed to the recorder",
		},
		[]string{"status"},
	)

	// PendingEntries tracks inbound entries delivered and not yet acknowledged
	PendingEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aiproc_pending_entries",
			Help: "Inbound entries delivered to the group and not yet acknowledged",
		},
	)

	// DBConnectionPoolUsage tracks database pool usage in percent
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aiproc_db_connection_pool_usage_percent",
			Help: "Open database connections as a percentage of the pool size",
		},
	)
)

// Outcome labels for ItemsProcessed.
const (
	OutcomePublished    = "published"
	OutcomeDuplicate    = "duplicate"
	OutcomeDeadLettered = "dead_lettered"
	OutcomeCorrupt      = "corrupt"
)
