package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// DeadLetterQueue is the maintenance surface of the dead letter queue.
type DeadLetterQueue interface {
	Prune(ctx context.Context) (int, error)
	Resync(ctx context.Context) (int, error)
	Degraded() bool
	CheckDepth(ctx context.Context)
}

// Pruner periodically drops expired dead letters, moves entries held in memory back to
// the durable store and re-evaluates the depth alert.
type Pruner struct {
	queue    DeadLetterQueue
	interval time.Duration
	clock    clockwork.Clock
	log      *slog.Logger
}

// NewPruner creates a new Pruner worker.
func NewPruner(queue DeadLetterQueue, interval time.Duration, clock clockwork.Clock) *Pruner {
	if interval <= 0 {
		interval = time.Minute
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Pruner{
		queue:    queue,
		interval: interval,
		clock:    clock,
		log:      slog.Default().With("component", "dlq-pruner"),
	}
}

// Start runs the pruner loop until ctx is done.
func (p *Pruner) Start(ctx context.Context) {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	// Initial pass
	p.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single maintenance pass.
func (p *Pruner) RunOnce(ctx context.Context) {
	if n, err := p.queue.Prune(ctx); err != nil {
		p.log.Error("Failed to prune dead letters", "error", err)
	} else if n > 0 {
		p.log.Info("Pruned expired dead letters", "count", n)
	}

	if p.queue.Degraded() {
		n, err := p.queue.Resync(ctx)
		if err != nil {
			p.log.Warn("Dead letter store still unavailable", "error", err)
		} else if n > 0 {
			p.log.Info("Moved held dead letters to store", "count", n)
		}
	}

	p.queue.CheckDepth(ctx)
}
