package breaker

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Thirteen88/ish-automation-sub001/internal/core/domain"
)

// Config holds circuit breaker settings.
type Config struct {
	// Threshold is the failure count within MonitoringPeriod that opens the circuit.
	Threshold int `yaml:"threshold"`
	// Timeout is how long the circuit stays open before allowing a probe.
	Timeout time.Duration `yaml:"timeout"`
	// MonitoringPeriod is the maximum gap between failures counted together.
	MonitoringPeriod time.Duration `yaml:"monitoring_period"`
	// SuccessThreshold is the consecutive half-open successes needed to close.
	SuccessThreshold int `yaml:"success_threshold"`
}

// DefaultConfig returns the default breaker settings.
func DefaultConfig() Config {
	return Config{
		Threshold:        5,
		Timeout:          60 * time.Second,
		MonitoringPeriod: 60 * time.Second,
		SuccessThreshold: 1,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Threshold <= 0 {
		c.Threshold = def.Threshold
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.MonitoringPeriod <= 0 {
		c.MonitoringPeriod = def.MonitoringPeriod
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = def.SuccessThreshold
	}
	return c
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	Platform             string              `json:"platform"`
	State                domain.CircuitState `json:"state"`
	FailureCount         int                 `json:"failure_count"`
	LastFailureTime      time.Time           `json:"last_failure_time,omitempty"`
	OpenedAt             time.Time           `json:"opened_at,omitempty"`
	ConsecutiveSuccesses int                 `json:"consecutive_successes"`
}

// Transition is a state change reported to the owner.
type Transition struct {
	Platform string
	From     domain.CircuitState
	To       domain.CircuitState
	Reason   string
	At       time.Time
}

// Breaker is the circuit state of one platform. It has its own lock so platforms never
// contend with each other.
type Breaker struct {
	mu       sync.Mutex
	platform string
	cfg      Config
	clock    clockwork.Clock
	notify   func(Transition)

	state                domain.CircuitState
	failureCount         int
	lastFailureTime      time.Time
	openedAt             time.Time
	consecutiveSuccesses int
	probeInFlight        bool
	probeGen             uint64
}

// Ticket identifies one allowed attempt. Only the ticket of the current half-open probe
// can close or reopen a half-open circuit.
type Ticket struct {
	probe bool
	gen   uint64
}

// New creates a closed breaker. notify may be nil.
func New(platform string, cfg Config, clock clockwork.Clock, notify func(Transition)) *Breaker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Breaker{
		platform: platform,
		cfg:      cfg.withDefaults(),
		clock:    clock,
		notify:   notify,
		state:    domain.CircuitClosed,
	}
}

// Allow reports whether an attempt may proceed and returns the ticket its result must be
// recorded with. While half-open exactly one attempt is let through until its result is
// recorded.
func (b *Breaker) Allow() (Ticket, bool) {
	b.mu.Lock()
	var tr *Transition
	var ticket Ticket
	allowed := false

	switch b.state {
	case domain.CircuitClosed:
		allowed = true
	case domain.CircuitOpen:
		if b.clock.Since(b.openedAt) >= b.cfg.Timeout {
			tr = b.setStateLocked(domain.CircuitHalfOpen, "open timeout elapsed")
			ticket = b.grantProbeLocked()
			allowed = true
		}
	case domain.CircuitHalfOpen:
		if !b.probeInFlight {
			ticket = b.grantProbeLocked()
			allowed = true
		}
	}
	b.mu.Unlock()

	b.emit(tr)
	return ticket, allowed
}

func (b *Breaker) grantProbeLocked() Ticket {
	b.probeInFlight = true
	b.probeGen++
	return Ticket{probe: true, gen: b.probeGen}
}

func (b *Breaker) isCurrentProbeLocked(t Ticket) bool {
	return t.probe && b.probeInFlight && t.gen == b.probeGen
}

// RecordResult feeds the outcome of the attempt holding ticket.
func (b *Breaker) RecordResult(ticket Ticket, success bool) {
	b.mu.Lock()
	var tr *Transition
	now := b.clock.Now()

	switch b.state {
	case domain.CircuitClosed:
		if success {
			b.failureCount = 0
			break
		}
		if b.lastFailureTime.IsZero() || now.Sub(b.lastFailureTime) > b.cfg.MonitoringPeriod {
			b.failureCount = 1
		} else {
			b.failureCount++
		}
		b.lastFailureTime = now
		if b.failureCount >= b.cfg.Threshold {
			b.openedAt = now
			tr = b.setStateLocked(domain.CircuitOpen, "failure threshold reached")
		}

	case domain.CircuitHalfOpen:
		if !b.isCurrentProbeLocked(ticket) {
			// late result from an attempt allowed before the probe
			if !success {
				b.lastFailureTime = now
			}
			break
		}
		b.probeInFlight = false
		if success {
			b.consecutiveSuccesses++
			if b.consecutiveSuccesses >= b.cfg.SuccessThreshold {
				b.resetCountersLocked()
				tr = b.setStateLocked(domain.CircuitClosed, "probe succeeded")
			}
			break
		}
		b.lastFailureTime = now
		b.openedAt = now
		b.consecutiveSuccesses = 0
		tr = b.setStateLocked(domain.CircuitOpen, "probe failed")

	case domain.CircuitOpen:
		// late result from an attempt allowed before the circuit opened
		if !success {
			b.lastFailureTime = now
		}
	}
	b.mu.Unlock()

	b.emit(tr)
}

// Abort releases the half-open probe slot when ticket holds it and the attempt never
// reached a verdict.
func (b *Breaker) Abort(ticket Ticket) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == domain.CircuitHalfOpen && b.isCurrentProbeLocked(ticket) {
		b.probeInFlight = false
	}
}

// Reset forces the breaker closed regardless of counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	var tr *Transition
	b.resetCountersLocked()
	b.lastFailureTime = time.Time{}
	if b.state != domain.CircuitClosed {
		tr = b.setStateLocked(domain.CircuitClosed, "manual reset")
	}
	b.mu.Unlock()

	b.emit(tr)
}

// State returns the current state.
func (b *Breaker) State() domain.CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the full breaker state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Platform:             b.platform,
		State:                b.state,
		FailureCount:         b.failureCount,
		LastFailureTime:      b.lastFailureTime,
		OpenedAt:             b.openedAt,
		ConsecutiveSuccesses: b.consecutiveSuccesses,
	}
}

func (b *Breaker) resetCountersLocked() {
	b.failureCount = 0
	b.consecutiveSuccesses = 0
	b.probeInFlight = false
}

func (b *Breaker) setStateLocked(to domain.CircuitState, reason string) *Transition {
	from := b.state
	b.state = to
	return &Transition{Platform: b.platform, From: from, To: to, Reason: reason, At: b.clock.Now()}
}

func (b *Breaker) emit(tr *Transition) {
	if tr != nil && b.notify != nil {
		b.notify(*tr)
	}
}
