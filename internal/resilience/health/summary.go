package health

import (
	"time"

	"github.com/Thirteen88/ish-automation-sub001/internal/core/domain"
)

// PlatformHealth is a point-in-time view of one platform.
type PlatformHealth struct {
	Platform             string              `json:"platform"`
	Status               domain.HealthStatus `json:"status"`
	Since                time.Time           `json:"since"`
	ConsecutiveFailures  int                 `json:"consecutive_failures"`
	ConsecutiveSuccesses int                 `json:"consecutive_successes"`
	LastCheck            time.Time           `json:"last_check,omitempty"`
	LastError            string              `json:"last_error,omitempty"`
	LastLatency          time.Duration       `json:"last_latency"`
	AvgLatency           time.Duration       `json:"avg_latency"`
	ErrorRate            float64             `json:"error_rate"`
	Samples              int                 `json:"samples"`
	TrafficSuccess       int64               `json:"traffic_success"`
	TrafficFailure       int64               `json:"traffic_failure"`
	LastTraffic          time.Time           `json:"last_traffic,omitempty"`
}

// Summary aggregates every registered platform. Overall is the worst status present.
type Summary struct {
	Overall   domain.HealthStatus `json:"overall"`
	Platforms []PlatformHealth    `json:"platforms"`
}

// Snapshot returns the current view of platform.
func (m *Monitor) Snapshot(platform string) (PlatformHealth, error) {
	rec, err := m.get(platform)
	if err != nil {
		return PlatformHealth{}, err
	}
	return rec.snapshot(), nil
}

// Summary returns every platform sorted by name.
func (m *Monitor) Summary() Summary {
	sum := Summary{Overall: domain.HealthHealthy}
	for _, p := range m.Platforms() {
		h, err := m.Snapshot(p)
		if err != nil {
			continue
		}
		sum.Platforms = append(sum.Platforms, h)
		if rank(h.Status) > rank(sum.Overall) {
			sum.Overall = h.Status
		}
	}
	if len(sum.Platforms) == 0 {
		sum.Overall = domain.HealthUnknown
	}
	return sum
}

// rank orders statuses from best to worst for aggregation.
func rank(s domain.HealthStatus) int {
	switch s {
	case domain.HealthHealthy:
		return 0
	case domain.HealthUnknown:
		return 1
	case domain.HealthDegraded:
		return 2
	case domain.HealthUnhealthy:
		return 3
	case domain.HealthDisabled:
		return 4
	}
	return 1
}

func (r *record) snapshot() PlatformHealth {
	r.mu.Lock()
	defer r.mu.Unlock()

	rate, samples := r.window.errorRate()
	h := PlatformHealth{
		Platform:             r.platform,
		Status:               r.status,
		Since:                r.since,
		ConsecutiveFailures:  r.consecutiveFailures,
		ConsecutiveSuccesses: r.consecutiveSuccesses,
		LastCheck:            r.lastCheck,
		LastError:            r.lastError,
		ErrorRate:            rate,
		Samples:              samples,
		TrafficSuccess:       r.trafficSuccess,
		TrafficFailure:       r.trafficFailure,
		LastTraffic:          r.lastTraffic,
	}
	if n := len(r.latencies); n > 0 {
		h.LastLatency = r.latencies[n-1]
		var total time.Duration
		for _, l := range r.latencies {
			total += l
		}
		h.AvgLatency = total / time.Duration(n)
	}
	return h
}
