package domain

// HealthStatus is the probe-derived status of a platform.
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "unknown"
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthDisabled  HealthStatus = "disabled"
)

// Severity returns the alert severity for entering the status.
func (s HealthStatus) Severity() Severity {
	switch s {
	case HealthUnhealthy:
		return SeverityWarning
	case HealthDisabled:
		return SeverityCritical
	default:
		return SeverityInfo
	}
}

// Gauge maps the status to a numeric value for metrics.
func (s HealthStatus) Gauge() float64 {
	switch s {
	case HealthHealthy:
		return 1
	case HealthDegraded:
		return 2
	case HealthUnhealthy:
		return 3
	case HealthDisabled:
		return 4
	default:
		return 0
	}
}

// CircuitState is the state of a platform circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)
