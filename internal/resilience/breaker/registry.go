// Package breaker gates traffic per platform after repeated failures.
package breaker

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/Thirteen88/ish-automation-sub001/internal/core/domain"
	"github.com/Thirteen88/ish-automation-sub001/internal/resilience/events"
	"github.com/Thirteen88/ish-automation-sub001/internal/resilience/metrics"
)

// Registry owns one Breaker per platform, created on first use.
type Registry struct {
	cfg   Config
	clock clockwork.Clock
	pub   events.Publisher
	log   *slog.Logger

	mu        sync.RWMutex
	breakers  map[string]*Breaker
	overrides map[string]Config
}

// NewRegistry creates a registry. pub may be nil.
func NewRegistry(cfg Config, clock clockwork.Clock, pub events.Publisher) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if pub == nil {
		pub = events.Discard
	}
	return &Registry{
		cfg:       cfg.withDefaults(),
		clock:     clock,
		pub:       pub,
		log:       slog.Default().With("component", "breaker"),
		breakers:  make(map[string]*Breaker),
		overrides: make(map[string]Config),
	}
}

// Configure sets a per-platform override. It replaces an existing breaker's settings by
// recreating it closed.
func (r *Registry) Configure(platform string, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[platform] = cfg
	r.breakers[platform] = New(platform, r.merged(cfg), r.clock, r.onTransition)
	metrics.CircuitState.WithLabelValues(platform).Set(0)
}

func (r *Registry) merged(override Config) Config {
	c := r.cfg
	if override.Threshold > 0 {
		c.Threshold = override.Threshold
	}
	if override.Timeout > 0 {
		c.Timeout = override.Timeout
	}
	if override.MonitoringPeriod > 0 {
		c.MonitoringPeriod = override.MonitoringPeriod
	}
	if override.SuccessThreshold > 0 {
		c.SuccessThreshold = override.SuccessThreshold
	}
	return c
}

// Get returns the breaker for platform, creating it if needed.
func (r *Registry) Get(platform string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[platform]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[platform]; ok {
		return b
	}
	b = New(platform, r.merged(r.overrides[platform]), r.clock, r.onTransition)
	r.breakers[platform] = b
	metrics.CircuitState.WithLabelValues(platform).Set(0)
	return b
}

// Known reports whether a breaker exists for platform.
func (r *Registry) Known(platform string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.breakers[platform]
	return ok
}

// Allow reports whether an attempt against platform may proceed.
func (r *Registry) Allow(platform string) (Ticket, bool) {
	return r.Get(platform).Allow()
}

// RecordResult feeds an attempt outcome for platform.
func (r *Registry) RecordResult(platform string, ticket Ticket, success bool) {
	r.Get(platform).RecordResult(ticket, success)
}

// Abort releases a half-open probe slot for platform.
func (r *Registry) Abort(platform string, ticket Ticket) {
	r.Get(platform).Abort(ticket)
}

// Reset forces the platform circuit closed.
func (r *Registry) Reset(platform string) {
	r.Get(platform).Reset()
}

// State returns the circuit state of platform.
func (r *Registry) State(platform string) domain.CircuitState {
	return r.Get(platform).State()
}

// Snapshot returns every known breaker sorted by platform.
func (r *Registry) Snapshot() []Snapshot {
	r.mu.RLock()
	list := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(list))
	for _, b := range list {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out
}

func (r *Registry) onTransition(tr Transition) {
	metrics.CircuitState.WithLabelValues(tr.Platform).Set(stateGauge(tr.To))
	metrics.CircuitTransitions.WithLabelValues(tr.Platform, string(tr.To)).Inc()

	ev := domain.Event{
		Category:  domain.EventCategoryCircuit,
		Platform:  tr.Platform,
		Timestamp: tr.At,
		Message:   tr.Reason,
		Context: map[string]any{
			"from": tr.From,
			"to":   tr.To,
		},
	}
	switch tr.To {
	case domain.CircuitOpen:
		ev.Name = domain.EventCircuitOpen
		ev.Severity = domain.SeverityWarning
		r.log.Warn("Circuit opened", "platform", tr.Platform, "from", tr.From, "reason", tr.Reason)
	case domain.CircuitHalfOpen:
		ev.Name = domain.EventCircuitHalfOpen
		ev.Severity = domain.SeverityInfo
		r.log.Info("Circuit half-open", "platform", tr.Platform)
	default:
		ev.Name = domain.EventCircuitClosed
		ev.Severity = domain.SeverityInfo
		r.log.Info("Circuit closed", "platform", tr.Platform, "reason", tr.Reason)
	}
	r.pub.Publish(ev)
}

func stateGauge(s domain.CircuitState) float64 {
	switch s {
	case domain.CircuitHalfOpen:
		return 1
	case domain.CircuitOpen:
		return 2
	default:
		return 0
	}
}
