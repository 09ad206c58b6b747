// Package retry runs an operation with classified, budgeted retries.
package retry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Thirteen88/ish-automation-sub001/internal/core/domain"
	"github.com/Thirteen88/ish-automation-sub001/internal/resilience/classifier"
	"github.com/Thirteen88/ish-automation-sub001/internal/resilience/events"
	"github.com/Thirteen88/ish-automation-sub001/internal/resilience/metrics"
)

// Operation is an opaque unit of work against a platform.
type Operation struct {
	Name string
	// Request is stored with the dead letter when the operation cannot be completed.
	Request json.RawMessage
	Invoke  func(ctx context.Context) (any, error)
	// Restart, when set, runs before retrying a failure whose strategy is restart.
	Restart func(ctx context.Context) error
}

// Classifier maps failures to categories.
type Classifier interface {
	Classify(err error, cctx classifier.Context) domain.ClassifiedError
}

// Budget grants retries from the shared budget.
type Budget interface {
	TryConsume(platform string) (bool, string)
	RetryAt(window string) time.Time
}

// DeadLetterSink receives operations that could not be completed.
type DeadLetterSink interface {
	Enqueue(ctx context.Context, entry domain.DeadLetter) (domain.DeadLetter, error)
}

// Outcome describes a finished retry sequence.
type Outcome struct {
	Value      any
	Attempts   int
	LastError  *domain.ClassifiedError
	DeadLetter *domain.DeadLetter
	Duration   time.Duration
}

// Config holds the default policy and per-platform overrides.
type Config struct {
	Default   Policy            `yaml:"default"`
	Platforms map[string]Policy `yaml:"platforms"`
}

// Coordinator owns the retry loop. It shares the classifier, budget and DLQ by handle.
type Coordinator struct {
	classifier Classifier
	budget     Budget
	dlq        DeadLetterSink
	pub        events.Publisher
	clock      clockwork.Clock
	log        *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
	rnd        func() float64

	mu        sync.RWMutex
	defaults  Policy
	platforms map[string]Policy
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the clock used for timestamps and sleeping.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// WithPublisher sets where retry events go.
func WithPublisher(p events.Publisher) Option {
	return func(c *Coordinator) { c.pub = p }
}

// WithSleep replaces the delay wait between attempts.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Coordinator) { c.sleep = fn }
}

// WithRand replaces the jitter source. fn must return values in [0, 1).
func WithRand(fn func() float64) Option {
	return func(c *Coordinator) { c.rnd = fn }
}

// NewCoordinator creates a retry coordinator.
func NewCoordinator(cfg Config, cl Classifier, b Budget, dlq DeadLetterSink, opts ...Option) *Coordinator {
	c := &Coordinator{
		classifier: cl,
		budget:     b,
		dlq:        dlq,
		pub:        events.Discard,
		clock:      clockwork.NewRealClock(),
		log:        slog.Default().With("component", "retry"),
		defaults:   DefaultPolicy().Merge(cfg.Default),
		platforms:  make(map[string]Policy),
		rnd:        rand.Float64,
	}
	for name, p := range cfg.Platforms {
		c.platforms[name] = p
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sleep == nil {
		c.sleep = c.clockSleep
	}
	return c
}

// SetPlatformPolicy registers an override for platform.
func (c *Coordinator) SetPlatformPolicy(platform string, p Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.platforms[platform] = p
}

// PolicyFor returns the default policy merged with the platform override.
func (c *Coordinator) PolicyFor(platform string) Policy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.platforms[platform]; ok {
		return c.defaults.Merge(p)
	}
	return c.defaults
}

// ExecuteWithRetry attempts op until it succeeds, the failure is not retryable, the retry
// limit is reached or the budget denies a retry. Terminal failures are dead-lettered.
// Attempts are strictly sequential. ctx is checked between attempts; cancellation returns
// ctx.Err() without a dead letter.
func (c *Coordinator) ExecuteWithRetry(ctx context.Context, platform string, op Operation, policy Policy) (Outcome, error) {
	start := c.clock.Now()
	var (
		out       Outcome
		firstFail time.Time
		prevDelay time.Duration
	)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			out.Duration = c.clock.Since(start)
			return out, err
		}

		out.Attempts = attempt
		value, err := c.attempt(ctx, op, policy.AttemptTimeout)
		if err == nil {
			metrics.AttemptsTotal.WithLabelValues(platform, "success").Inc()
			out.Value = value
			out.Duration = c.clock.Since(start)
			return out, nil
		}
		metrics.AttemptsTotal.WithLabelValues(platform, "failure").Inc()

		if ctxErr := ctx.Err(); ctxErr != nil {
			out.Duration = c.clock.Since(start)
			return out, ctxErr
		}

		ce := c.classifier.Classify(err, classifier.Context{Platform: platform, Operation: op.Name})
		out.LastError = &ce
		now := c.clock.Now()
		if firstFail.IsZero() {
			firstFail = now
		}
		retriesMade := attempt - 1

		if !ce.Retryable {
			out.DeadLetter = c.deadLetter(ctx, platform, op, ce, attempt, firstFail, now)
			out.Duration = c.clock.Since(start)
			return out, &domain.NonRetryableError{Platform: platform, Attempts: attempt, LastError: ce}
		}

		maxRetries := ce.MaxRetries
		if policy.MaxRetries != nil {
			maxRetries = *policy.MaxRetries
		}
		if retriesMade >= maxRetries {
			out.DeadLetter = c.deadLetter(ctx, platform, op, ce, attempt, firstFail, now)
			out.Duration = c.clock.Since(start)
			return out, &domain.RetriesExhaustedError{Platform: platform, Attempts: attempt, LastError: ce}
		}

		delay := c.nextDelay(ce, policy, retriesMade, prevDelay)

		if ok, window := c.budget.TryConsume(platform); !ok {
			retryAt := c.budget.RetryAt(window)
			c.pub.Publish(domain.Event{
				Name:     domain.EventBudgetExhausted,
				Category: domain.EventCategoryRetry,
				Platform: platform,
				Severity: domain.SeverityWarning,
				Message:  "retry budget exhausted",
				Context: map[string]any{
					"window":   window,
					"attempts": attempt,
					"category": ce.Category,
					"retry_at": retryAt,
				},
			})
			out.DeadLetter = c.deadLetter(ctx, platform, op, ce, attempt, firstFail, now)
			out.Duration = c.clock.Since(start)
			return out, &domain.BudgetExhaustedError{
				Platform:  platform,
				Window:    window,
				Attempts:  attempt,
				RetryAt:   retryAt,
				LastError: ce,
			}
		}
		prevDelay = delay

		metrics.RetriesTotal.WithLabelValues(platform, string(ce.Category)).Inc()
		c.pub.Publish(domain.Event{
			Name:     domain.EventRetryScheduled,
			Category: domain.EventCategoryRetry,
			Platform: platform,
			Severity: domain.SeverityInfo,
			Message:  "retry scheduled",
			Context: map[string]any{
				"attempt":  attempt,
				"category": ce.Category,
				"strategy": ce.Strategy,
				"delay_ms": delay.Milliseconds(),
			},
		})

		if ce.Strategy == domain.StrategyRestart && op.Restart != nil {
			if err := op.Restart(ctx); err != nil {
				c.log.Warn("Restart hook failed", "platform", platform, "operation", op.Name, "error", err)
			}
		}

		if err := c.sleep(ctx, delay); err != nil {
			out.Duration = c.clock.Since(start)
			return out, err
		}
	}
}

func (c *Coordinator) nextDelay(ce domain.ClassifiedError, p Policy, n int, prev time.Duration) time.Duration {
	base := ce.RetryDelay
	if p.BaseDelay > 0 && ce.Strategy == domain.StrategyRetryWithBackoff {
		base = p.BaseDelay
	}
	kind := backoffFor(ce.Strategy, p.Backoff)
	d := Delay(kind, n, base, p.MaxDelay)
	// retry-after-delay is a minimum wait and is never shortened by jitter
	if kind == BackoffImmediate || ce.Strategy == domain.StrategyRetryAfterDelay {
		return d
	}
	return ApplyJitter(p.Jitter, d, base, prev, p.MaxDelay, c.rnd)
}

// attempt runs one invocation under its own timeout. An invocation that ignores its
// context is abandoned when the timeout fires.
func (c *Coordinator) attempt(ctx context.Context, op Operation, timeout time.Duration) (any, error) {
	if op.Invoke == nil {
		return nil, &domain.OperationError{Message: "operation has no invoke function", Code: "VALIDATION_ERROR"}
	}

	actx := ctx
	cancel := func() {}
	if timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	type result struct {
		value any
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("operation panicked: %v", r)}
			}
		}()
		v, err := op.Invoke(actx)
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil &&
			!errors.Is(r.err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", context.DeadlineExceeded, r.err)
		}
		return r.value, r.err
	case <-actx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("attempt timed out after %s: %w", timeout, context.DeadlineExceeded)
	}
}

func (c *Coordinator) deadLetter(
	ctx context.Context,
	platform string,
	op Operation,
	ce domain.ClassifiedError,
	attempts int,
	firstFail, lastFail time.Time,
) *domain.DeadLetter {
	entry := domain.DeadLetter{
		Platform:        platform,
		Operation:       op.Name,
		Request:         op.Request,
		ClassifiedError: ce,
		AttemptsMade:    attempts,
		FirstFailedAt:   firstFail,
		LastFailedAt:    lastFail,
	}
	if c.dlq == nil {
		return &entry
	}

	// the caller may already be cancelled; the audit record is still written
	stored, err := c.dlq.Enqueue(context.WithoutCancel(ctx), entry)
	if err != nil {
		c.log.Warn("Failed to enqueue dead letter", "platform", platform, "operation", op.Name, "error", err)
		return &entry
	}
	return &stored
}

func (c *Coordinator) clockSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.clock.After(d):
		return nil
	}
}
