package events

import (
	"context"
	"sync"

	"github.com/Thirteen88/ish-automation-sub001/internal/core/domain"
)

// Recorder keeps every event it receives. It works as a Publisher and as a Subscriber.
type Recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *Recorder) Publish(event domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *Recorder) Handle(_ context.Context, event domain.Event) {
	r.Publish(event)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Named returns recorded events with the given name.
func (r *Recorder) Named(name domain.EventName) []domain.Event {
	var out []domain.Event
	for _, e := range r.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}
