package events

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Thirteen88/ish-automation-sub001/internal/core/domain"
)

// Alerter publishes alerts at most once per key within the cooldown window.
type Alerter struct {
	pub      Publisher
	cooldown time.Duration
	clock    clockwork.Clock

	mu   sync.Mutex
	last map[string]time.Time
}

// NewAlerter creates an alerter. A zero cooldown disables suppression.
func NewAlerter(pub Publisher, cooldown time.Duration, clock clockwork.Clock) *Alerter {
	if pub == nil {
		pub = Discard
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Alerter{
		pub:      pub,
		cooldown: cooldown,
		clock:    clock,
		last:     make(map[string]time.Time),
	}
}

// Alert publishes event unless an alert with the same key fired within the cooldown.
// It reports whether the event was published.
func (a *Alerter) Alert(key string, event domain.Event) bool {
	now := a.clock.Now()

	a.mu.Lock()
	if last, ok := a.last[key]; ok && a.cooldown > 0 && now.Sub(last) < a.cooldown {
		a.mu.Unlock()
		return false
	}
	a.last[key] = now
	a.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = now
	}
	if event.Context == nil {
		event.Context = make(map[string]any)
	}
	event.Context["alert"] = true
	a.pub.Publish(event)
	return true
}
