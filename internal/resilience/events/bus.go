// Package events delivers structured resilience events to external collaborators.
//
// Events are queued on a bounded channel and dispatched in publish order by a single
// goroutine. Publishing never blocks: when the queue is full the new event is dropped.
package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/Thirteen88/ish-automation-sub001/internal/core/domain"
	"github.com/Thirteen88/ish-automation-sub001/internal/resilience/metrics"
)

// Publisher accepts events for delivery.
type Publisher interface {
	Publish(event domain.Event)
}

// Subscriber receives every event in publish order.
type Subscriber interface {
	Handle(ctx context.Context, event domain.Event)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context, event domain.Event)

func (f SubscriberFunc) Handle(ctx context.Context, event domain.Event) { f(ctx, event) }

// Discard drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(domain.Event) {}

// Option configures the bus.
type Option func(*Bus)

// WithBufferSize sets the queue capacity (default 1024).
func WithBufferSize(size int) Option {
	return func(b *Bus) {
		if size > 0 {
			b.bufferSize = size
		}
	}
}

// WithOnDropped sets a callback invoked for each dropped event.
func WithOnDropped(fn func(domain.Event)) Option {
	return func(b *Bus) {
		b.onDropped = fn
	}
}

// WithClock sets the clock used to stamp events.
func WithClock(c clockwork.Clock) Option {
	return func(b *Bus) {
		b.clock = c
	}
}

// Bus is a bounded, ordered event channel with fan-out to subscribers.
type Bus struct {
	bufferSize int
	queue      chan domain.Event
	onDropped  func(domain.Event)
	clock      clockwork.Clock
	log        *slog.Logger

	mu          sync.RWMutex
	closed      bool
	subscribers []Subscriber

	closeOnce sync.Once
	done      chan struct{}
}

// NewBus creates a bus and starts its dispatch loop.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		bufferSize: 1024,
		clock:      clockwork.NewRealClock(),
		log:        slog.Default(),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.queue = make(chan domain.Event, b.bufferSize)

	go b.dispatchLoop()
	return b
}

// Subscribe registers s for all events published after the call.
func (b *Bus) Subscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, s)
}

// Publish enqueues event, stamping ID and timestamp when missing.
func (b *Bus) Publish(event domain.Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = b.clock.Now()
	}
	if event.Severity == "" {
		event.Severity = domain.SeverityInfo
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.drop(event)
		return
	}

	select {
	case b.queue <- event:
	default:
		b.drop(event)
	}
}

func (b *Bus) drop(event domain.Event) {
	metrics.EventsDropped.Inc()
	if b.onDropped != nil {
		b.onDropped(event)
	}
}

// Pending returns the number of queued, undelivered events.
func (b *Bus) Pending() int {
	return len(b.queue)
}

func (b *Bus) dispatchLoop() {
	defer close(b.done)
	for event := range b.queue {
		b.mu.RLock()
		subs := make([]Subscriber, len(b.subscribers))
		copy(subs, b.subscribers)
		b.mu.RUnlock()

		for _, s := range subs {
			b.deliver(s, event)
		}
	}
}

func (b *Bus) deliver(s Subscriber, event domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("Event subscriber panicked", "event", event.Name, "panic", r)
		}
	}()
	s.Handle(context.Background(), event)
}

// Close stops accepting events and waits until queued events are delivered or ctx is done.
func (b *Bus) Close(ctx context.Context) error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		close(b.queue)
		b.mu.Unlock()
	})

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
