// Package dlq holds operations that exhausted every recovery option.
//
// Entries go to a durable Store when one is configured. When the store fails the queue keeps
// the entry in memory, logs a warning and reports itself degraded until Resync moves the
// held entries back.
package dlq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/Thirteen88/ish-automation-sub001/internal/core/domain"
	"github.com/Thirteen88/ish-automation-sub001/internal/infra/storage"
	"github.com/Thirteen88/ish-automation-sub001/internal/infra/storage/memory"
	"github.com/Thirteen88/ish-automation-sub001/internal/resilience/events"
	"github.com/Thirteen88/ish-automation-sub001/internal/resilience/metrics"
)

// Store is the durable backend of the queue.
type Store = storage.DeadLetterRepository

// Config controls depth alerting and retention.
type Config struct {
	// AlertThreshold is the depth above which a dlq-depth alert is raised.
	AlertThreshold int `yaml:"alert_threshold"`
	// SustainFor is how long depth must stay above the threshold before alerting.
	SustainFor time.Duration `yaml:"sustain_for"`
	// Retention purges entries older than this on Prune. Zero keeps entries forever.
	Retention time.Duration `yaml:"retention"`
}

func DefaultConfig() Config {
	return Config{
		AlertThreshold: 50,
		SustainFor:     time.Minute,
	}
}

// Queue is the process-wide dead letter queue.
type Queue struct {
	cfg      Config
	primary  Store
	fallback *memory.DeadLetterRepo
	alerter  *events.Alerter
	pub      events.Publisher
	clock    clockwork.Clock
	log      *slog.Logger

	mu         sync.Mutex
	degraded   bool
	aboveSince time.Time
	platforms  map[string]struct{}
}

type Option func(*Queue)

func WithClock(clock clockwork.Clock) Option {
	return func(q *Queue) { q.clock = clock }
}

func WithPublisher(pub events.Publisher) Option {
	return func(q *Queue) { q.pub = pub }
}

// WithAlerter routes depth alerts through a shared cooldown alerter.
func WithAlerter(a *events.Alerter) Option {
	return func(q *Queue) { q.alerter = a }
}

// New creates a queue over store. A nil store keeps everything in memory.
func New(cfg Config, store Store, opts ...Option) *Queue {
	if cfg.AlertThreshold <= 0 {
		cfg.AlertThreshold = DefaultConfig().AlertThreshold
	}
	q := &Queue{
		cfg:       cfg,
		primary:   store,
		fallback:  memory.NewDeadLetterRepo(memory.NewMemoryStorage()),
		pub:       events.Discard,
		clock:     clockwork.NewRealClock(),
		log:       slog.Default().With("component", "dlq"),
		platforms: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.alerter == nil {
		q.alerter = events.NewAlerter(q.pub, 5*time.Minute, q.clock)
	}
	return q
}

// Enqueue records entry and returns it with its assigned ID. It never fails because of the
// durable store; the entry is held in memory instead.
func (q *Queue) Enqueue(ctx context.Context, entry domain.DeadLetter) (domain.DeadLetter, error) {
	if entry.Platform == "" {
		return domain.DeadLetter{}, fmt.Errorf("dead letter without platform")
	}
	now := q.clock.Now()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.LastFailedAt.IsZero() {
		entry.LastFailedAt = now
	}
	if entry.FirstFailedAt.IsZero() {
		entry.FirstFailedAt = entry.LastFailedAt
	}

	if err := q.appendPrimary(ctx, entry); err != nil {
		q.log.Warn("Dead letter store unavailable, keeping entry in memory",
			"platform", entry.Platform,
			"id", entry.ID,
			"error", err,
		)
		metrics.DLQPersistenceFailures.Inc()
		_ = q.fallback.Append(ctx, entry)
		q.mu.Lock()
		q.degraded = true
		q.mu.Unlock()
	}

	category := entry.ClassifiedError.Category
	metrics.DLQEnqueued.WithLabelValues(entry.Platform, string(category)).Inc()
	q.pub.Publish(domain.Event{
		Name:     domain.EventDeadLettered,
		Category: domain.EventCategoryDLQ,
		Platform: entry.Platform,
		Severity: domain.SeverityWarning,
		Message:  fmt.Sprintf("operation %q dead-lettered after %d attempts", entry.Operation, entry.AttemptsMade),
		Context: map[string]any{
			"id":       entry.ID,
			"category": category,
			"attempts": entry.AttemptsMade,
		},
	})

	q.CheckDepth(ctx)
	return entry, nil
}

func (q *Queue) appendPrimary(ctx context.Context, entry domain.DeadLetter) error {
	if q.primary == nil {
		return q.fallback.Append(ctx, entry)
	}
	return q.primary.Append(ctx, entry)
}

// Get returns the entry with id.
func (q *Queue) Get(ctx context.Context, id string) (domain.DeadLetter, error) {
	if e, err := q.fallback.Get(ctx, id); err == nil {
		return e, nil
	}
	if q.primary == nil {
		return domain.DeadLetter{}, domain.ErrEntryNotFound
	}
	e, err := q.primary.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.DeadLetter{}, domain.ErrEntryNotFound
	}
	if err != nil {
		return domain.DeadLetter{}, fmt.Errorf("get dead letter %s: %w", id, err)
	}
	return e, nil
}

// List returns entries matching filter, oldest first. Entries held in memory are included.
func (q *Queue) List(ctx context.Context, filter domain.DeadLetterFilter) ([]domain.DeadLetter, error) {
	unlimited := filter
	unlimited.Limit = 0

	out, _ := q.fallback.List(ctx, unlimited)
	if q.primary != nil {
		stored, err := q.primary.List(ctx, unlimited)
		if err != nil {
			return nil, fmt.Errorf("list dead letters: %w", err)
		}
		seen := make(map[string]struct{}, len(out))
		for _, e := range out {
			seen[e.ID] = struct{}{}
		}
		for _, e := range stored {
			if _, dup := seen[e.ID]; !dup {
				out = append(out, e)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstFailedAt.Equal(out[j].FirstFailedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].FirstFailedAt.Before(out[j].FirstFailedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Remove deletes the entry with id.
func (q *Queue) Remove(ctx context.Context, id string) error {
	if err := q.fallback.Delete(ctx, id); err == nil {
		q.updateDepth(ctx)
		return nil
	}
	if q.primary == nil {
		return domain.ErrEntryNotFound
	}
	err := q.primary.Delete(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.ErrEntryNotFound
	}
	if err != nil {
		return fmt.Errorf("remove dead letter %s: %w", id, err)
	}
	q.updateDepth(ctx)
	return nil
}

// Purge removes every entry matching filter and returns how many were removed.
func (q *Queue) Purge(ctx context.Context, filter domain.DeadLetterFilter) (int, error) {
	entries, err := q.List(ctx, filter)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if err := q.Remove(ctx, e.ID); err != nil {
			if errors.Is(err, domain.ErrEntryNotFound) {
				continue
			}
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Prune purges entries older than the configured retention.
func (q *Queue) Prune(ctx context.Context) (int, error) {
	if q.cfg.Retention <= 0 {
		return 0, nil
	}
	cutoff := q.clock.Now().Add(-q.cfg.Retention)
	return q.Purge(ctx, domain.DeadLetterFilter{Before: cutoff})
}

// Stats counts queued entries by platform and category.
func (q *Queue) Stats(ctx context.Context) (domain.DeadLetterStats, error) {
	stats := domain.NewDeadLetterStats()
	if q.primary != nil {
		stored, err := q.primary.Stats(ctx)
		if err != nil {
			return stats, fmt.Errorf("dead letter stats: %w", err)
		}
		stats = stored
	}
	held, _ := q.fallback.List(ctx, domain.DeadLetterFilter{})
	for _, e := range held {
		stats.Add(e)
	}
	stats.Degraded = q.Degraded()
	return stats, nil
}

// Degraded reports whether entries are held in memory because the store failed.
func (q *Queue) Degraded() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.degraded
}

// Resync moves entries held in memory to the durable store. It returns how many moved.
func (q *Queue) Resync(ctx context.Context) (int, error) {
	if q.primary == nil || !q.Degraded() {
		return 0, nil
	}
	held, _ := q.fallback.List(ctx, domain.DeadLetterFilter{})
	moved := 0
	for _, e := range held {
		if err := q.primary.Append(ctx, e); err != nil {
			return moved, fmt.Errorf("resync dead letter %s: %w", e.ID, err)
		}
		_ = q.fallback.Delete(ctx, e.ID)
		moved++
	}
	if q.fallback.Len() == 0 {
		q.mu.Lock()
		q.degraded = false
		q.mu.Unlock()
		if moved > 0 {
			q.log.Info("Dead letter store recovered", "moved", moved)
		}
	}
	return moved, nil
}

// Replay hands the entry to fn and removes it when fn succeeds.
func (q *Queue) Replay(ctx context.Context, id string, fn func(context.Context, domain.DeadLetter) error) error {
	entry, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := fn(ctx, entry); err != nil {
		return fmt.Errorf("replay dead letter %s: %w", id, err)
	}
	return q.Remove(ctx, id)
}

// CheckDepth refreshes the depth gauges and raises a dlq-depth alert once depth has stayed
// above the threshold for SustainFor.
func (q *Queue) CheckDepth(ctx context.Context) {
	stats := q.updateDepth(ctx)
	if stats == nil {
		return
	}
	now := q.clock.Now()

	q.mu.Lock()
	if stats.Total <= q.cfg.AlertThreshold {
		q.aboveSince = time.Time{}
		q.mu.Unlock()
		return
	}
	if q.aboveSince.IsZero() {
		q.aboveSince = now
	}
	sustained := now.Sub(q.aboveSince) >= q.cfg.SustainFor
	q.mu.Unlock()

	if !sustained {
		return
	}
	q.alerter.Alert("dlq-depth", domain.Event{
		Name:     domain.EventDLQDepth,
		Category: domain.EventCategoryDLQ,
		Severity: domain.SeverityWarning,
		Message:  fmt.Sprintf("dead letter queue depth %d above threshold %d", stats.Total, q.cfg.AlertThreshold),
		Context: map[string]any{
			"depth":       stats.Total,
			"threshold":   q.cfg.AlertThreshold,
			"by_platform": stats.ByPlatform,
		},
	})
}

func (q *Queue) updateDepth(ctx context.Context) *domain.DeadLetterStats {
	stats, err := q.Stats(ctx)
	if err != nil {
		q.log.Warn("Failed to read dead letter stats", "error", err)
		return nil
	}
	q.mu.Lock()
	for p := range stats.ByPlatform {
		q.platforms[p] = struct{}{}
	}
	for p := range q.platforms {
		metrics.DLQDepth.WithLabelValues(p).Set(float64(stats.ByPlatform[p]))
	}
	q.mu.Unlock()
	return &stats
}
