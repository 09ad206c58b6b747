package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CircuitState tracks the breaker state per platform (0=closed, 1=half_open, 2=open)
	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resilience_circuit_state",
			Help: "Circuit breaker state per platform (0=closed, 1=half_open, 2=open)",
		},
		[]string{"platform"},
	)

	// CircuitTransitions counts breaker transitions by target state
	CircuitTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_circuit_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"platform", "to"},
	)

	// AttemptsTotal counts individual operation attempts
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_attempts_total",
			Help: "Total number of operation attempts",
		},
		[]string{"platform", "outcome"},
	)

	// RetriesTotal counts scheduled retries by failure category
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_retries_total",
			Help: "Total number of retries scheduled",
		},
		[]string{"platform", "category"},
	)

	// RetryBudgetRemaining tracks remaining retry budget per window
	RetryBudgetRemaining = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resilience_retry_budget_remaining",
			Help: "Remaining retries in the global budget window",
		},
		[]string{"window"},
	)

	// RetryBudgetRejections counts retries denied by the global budget
	RetryBudgetRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_retry_budget_rejections_total",
			Help: "Total number of retries rejected by the global budget",
		},
		[]string{"platform", "window"},
	)

	// ClassificationsTotal counts classifications by category and source
	ClassificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_classifications_total",
			Help: "Total number of classified errors",
		},
		[]string{"category", "source"},
	)

	// DLQDepth tracks the number of dead letters per platform
	DLQDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resilience_dlq_depth",
			Help: "Number of entries in the dead letter queue",
		},
		[]string{"platform"},
	)

	// DLQEnqueued counts dead letters written
	DLQEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_dlq_enqueued_total",
			Help: "Total number of dead letter entries enqueued",
		},
		[]string{"platform", "category"},
	)

	// DLQPersistenceFailures counts writes that fell back to memory
	DLQPersistenceFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resilience_dlq_persistence_failures_total",
			Help: "Total number of dead letter writes that fell back to memory",
		},
	)

	// HealthStatus tracks the health status per platform (0=unknown .. 4=disabled)
	HealthStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resilience_health_status",
			Help: "Health status per platform (0=unknown, 1=healthy, 2=degraded, 3=unhealthy, 4=disabled)",
		},
		[]string{"platform"},
	)

	// ProbeDuration tracks probe latency
	ProbeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resilience_probe_duration_seconds",
			Help:    "Health probe duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"platform", "result"},
	)

	// ExecuteDuration tracks end-to-end execute latency including retries
	ExecuteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resilience_execute_duration_seconds",
			Help:    "Execute duration in seconds including retries",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"platform", "outcome"},
	)

	// EventsPublished counts events accepted by the bus
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_events_total",
			Help: "Total number of structured events delivered",
		},
		[]string{"name", "severity"},
	)

	// EventsDropped counts events dropped because the bus buffer was full
	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resilience_events_dropped_total",
			Help: "Total number of events dropped due to a full buffer",
		},
	)

	// DBConnectionPoolUsage tracks the percentage of used connections in the pool
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resilience_db_connection_pool_usage_percent",
			Help: "Percentage of used connections in the database pool",
		},
	)
)
