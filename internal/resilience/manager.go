// Package resilience is the single entry point for running operations against platforms.
//
// A Manager owns one instance of every resilience component and passes them to each other
// by handle:
//   - classifier: maps failures to categories and learns from feedback
//   - breaker: per-platform circuit gate
//   - budget: process-wide retry budget
//   - retry: the attempt loop
//   - dlq: dead letters for operations that could not be completed
//   - health: probe-driven platform status
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Thirteen88/ish-automation-sub001/internal/core/domain"
	"github.com/Thirteen88/ish-automation-sub001/internal/infra/storage"
	"github.com/Thirteen88/ish-automation-sub001/internal/resilience/breaker"
	"github.com/Thirteen88/ish-automation-sub001/internal/resilience/budget"
	"github.com/Thirteen88/ish-automation-sub001/internal/resilience/classifier"
	"github.com/Thirteen88/ish-automation-sub001/internal/resilience/dlq"
	"github.com/Thirteen88/ish-automation-sub001/internal/resilience/events"
	"github.com/Thirteen88/ish-automation-sub001/internal/resilience/health"
	"github.com/Thirteen88/ish-automation-sub001/internal/resilience/metrics"
	"github.com/Thirteen88/ish-automation-sub001/internal/resilience/retry"
)

// Config groups the settings of every component.
type Config struct {
	Classifier classifier.Config `yaml:"classifier"`
	Breaker    breaker.Config    `yaml:"circuit_breaker"`
	Budget     budget.Config     `yaml:"retry_budget"`
	Retry      retry.Config      `yaml:"retry"`
	DLQ        dlq.Config        `yaml:"dlq"`
	Health     health.Config     `yaml:"health"`
}

// DefaultConfig returns the defaults of every component.
func DefaultConfig() Config {
	return Config{
		Classifier: classifier.DefaultConfig(),
		Breaker:    breaker.DefaultConfig(),
		Budget:     budget.DefaultConfig(),
		Retry:      retry.Config{Default: retry.DefaultPolicy()},
		DLQ:        dlq.DefaultConfig(),
		Health:     health.DefaultConfig(),
	}
}

// Stores are the durable backends. Nil stores keep state in memory.
type Stores struct {
	DeadLetters storage.DeadLetterRepository
	Patterns    storage.PatternRepository
}

// Platform describes a platform registered with the manager.
type Platform struct {
	Name  string
	Probe health.Probe
	// Zero fields inherit the manager defaults.
	Health  health.Config
	Breaker breaker.Config
	Retry   retry.Policy
}

// Result is the outcome of a successful Execute, or the partial outcome of a failed one.
type Result struct {
	Platform   string
	Value      any
	Attempts   int
	Duration   time.Duration
	LastError  *domain.ClassifiedError
	DeadLetter *domain.DeadLetter
}

// Manager composes the resilience components.
type Manager struct {
	classifier *classifier.Classifier
	breakers   *breaker.Registry
	budget     *budget.Budget
	retry      *retry.Coordinator
	dlq        *dlq.Queue
	health     *health.Monitor

	pub   events.Publisher
	clock clockwork.Clock
	log   *slog.Logger
}

type options struct {
	clock     clockwork.Clock
	pub       events.Publisher
	learner   classifier.Learner
	noLearner bool
	retryOpts []retry.Option
}

// Option configures a Manager.
type Option func(*options)

// WithClock drives every component from clock.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithPublisher sends every event to pub.
func WithPublisher(pub events.Publisher) Option {
	return func(o *options) { o.pub = pub }
}

// WithLearner replaces the classifier similarity learner. nil disables learned overrides.
func WithLearner(l classifier.Learner) Option {
	return func(o *options) {
		o.learner = l
		o.noLearner = l == nil
	}
}

// WithRetryOptions passes options to the retry coordinator.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(o *options) { o.retryOpts = append(o.retryOpts, opts...) }
}

// NewManager builds every component.
func NewManager(cfg Config, stores Stores, opts ...Option) *Manager {
	o := options{
		clock: clockwork.NewRealClock(),
		pub:   events.Discard,
	}
	for _, opt := range opts {
		opt(&o)
	}

	clOpts := []classifier.Option{
		classifier.WithClock(o.clock),
		classifier.WithPublisher(o.pub),
	}
	if o.learner != nil || o.noLearner {
		clOpts = append(clOpts, classifier.WithLearner(o.learner))
	}
	cl := classifier.New(cfg.Classifier, stores.Patterns, clOpts...)

	// DLQ depth and health alerts share one cooldown table
	cooldown := cfg.Health.AlertCooldown
	if cooldown <= 0 {
		cooldown = health.DefaultConfig().AlertCooldown
	}
	alerter := events.NewAlerter(o.pub, cooldown, o.clock)

	queue := dlq.New(cfg.DLQ, stores.DeadLetters,
		dlq.WithClock(o.clock),
		dlq.WithPublisher(o.pub),
		dlq.WithAlerter(alerter),
	)
	b := budget.New(cfg.Budget, o.clock)

	retryOpts := append([]retry.Option{
		retry.WithClock(o.clock),
		retry.WithPublisher(o.pub),
	}, o.retryOpts...)

	return &Manager{
		classifier: cl,
		breakers:   breaker.NewRegistry(cfg.Breaker, o.clock, o.pub),
		budget:     b,
		retry:      retry.NewCoordinator(cfg.Retry, cl, b, queue, retryOpts...),
		dlq:        queue,
		health:     health.NewMonitor(cfg.Health, o.pub, health.WithClock(o.clock), health.WithAlerter(alerter)),
		pub:        o.pub,
		clock:      o.clock,
		log:        slog.Default().With("component", "resilience"),
	}
}

// Start loads persisted classifier patterns.
func (m *Manager) Start(ctx context.Context) error {
	n, err := m.classifier.LoadPatterns(ctx)
	if err != nil {
		return fmt.Errorf("failed to load learned patterns: %w", err)
	}
	if n > 0 {
		m.log.Info("Loaded learned patterns", "count", n)
	}
	return nil
}

// RegisterPlatform adds a platform with its probe and overrides.
func (m *Manager) RegisterPlatform(p Platform) {
	m.health.Register(p.Name, p.Probe, p.Health)
	m.breakers.Configure(p.Name, p.Breaker)
	m.retry.SetPlatformPolicy(p.Name, p.Retry)
}

// RunHealth probes every registered platform until ctx is done.
func (m *Manager) RunHealth(ctx context.Context) error {
	return m.health.Run(ctx)
}

// ExecOption adjusts a single Execute call.
type ExecOption func(*retry.Policy)

// WithPolicy overrides the platform retry policy for one call.
func WithPolicy(p retry.Policy) ExecOption {
	return func(base *retry.Policy) { *base = base.Merge(p) }
}

// Execute runs op against platform. An empty platform fails with ErrPlatformRequired.
// Gates apply in order: a disabled platform fails with HealthDisabledError, then an open
// circuit fails with CircuitOpenError. Otherwise the operation runs under the retry coordinator, which fails with NonRetryableError,
// RetriesExhaustedError or BudgetExhaustedError and dead-letters the operation.
func (m *Manager) Execute(ctx context.Context, platform string, op retry.Operation, opts ...ExecOption) (Result, error) {
	if platform == "" {
		return Result{}, domain.ErrPlatformRequired
	}
	start := m.clock.Now()
	res := Result{Platform: platform}

	if m.health.Status(platform) == domain.HealthDisabled {
		err := &domain.HealthDisabledError{Platform: platform}
		m.rejected(platform, op, "health-disabled", err, start)
		return res, err
	}
	ticket, ok := m.breakers.Allow(platform)
	if !ok {
		err := &domain.CircuitOpenError{Platform: platform, State: m.breakers.State(platform)}
		m.rejected(platform, op, "circuit-open", err, start)
		return res, err
	}

	policy := m.retry.PolicyFor(platform)
	for _, opt := range opts {
		opt(&policy)
	}

	out, err := m.retry.ExecuteWithRetry(ctx, platform, op, policy)
	res.Value = out.Value
	res.Attempts = out.Attempts
	res.Duration = out.Duration
	res.LastError = out.LastError
	res.DeadLetter = out.DeadLetter

	switch {
	case err == nil:
		m.breakers.RecordResult(platform, ticket, true)
		m.health.RecordTraffic(platform, true)
		m.finished(platform, op, res, nil, start)
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		// Cancelled by the caller; the platform is not at fault
		m.breakers.Abort(platform, ticket)
		m.finished(platform, op, res, err, start)
	default:
		m.breakers.RecordResult(platform, ticket, false)
		m.health.RecordTraffic(platform, false)
		m.finished(platform, op, res, err, start)
	}
	return res, err
}

func (m *Manager) rejected(platform string, op retry.Operation, reason string, err error, start time.Time) {
	metrics.ExecuteDuration.WithLabelValues(platform, "rejected").Observe(m.clock.Since(start).Seconds())
	m.pub.Publish(domain.Event{
		Name:     domain.EventExecuteRejected,
		Category: domain.EventCategoryExecution,
		Platform: platform,
		Severity: domain.SeverityWarning,
		Message:  err.Error(),
		Context: map[string]any{
			"operation": op.Name,
			"reason":    reason,
		},
	})
}

func (m *Manager) finished(platform string, op retry.Operation, res Result, err error, start time.Time) {
	if err == nil {
		metrics.ExecuteDuration.WithLabelValues(platform, "success").Observe(m.clock.Since(start).Seconds())
		m.pub.Publish(domain.Event{
			Name:     domain.EventExecuteSucceeded,
			Category: domain.EventCategoryExecution,
			Platform: platform,
			Severity: domain.SeverityInfo,
			Message:  fmt.Sprintf("operation %q succeeded", op.Name),
			Context: map[string]any{
				"operation":   op.Name,
				"attempts":    res.Attempts,
				"duration_ms": res.Duration.Milliseconds(),
			},
		})
		return
	}

	metrics.ExecuteDuration.WithLabelValues(platform, "failure").Observe(m.clock.Since(start).Seconds())
	fields := map[string]any{
		"operation":   op.Name,
		"attempts":    res.Attempts,
		"duration_ms": res.Duration.Milliseconds(),
		"error_type":  errorType(err),
	}
	if res.LastError != nil {
		fields["category"] = res.LastError.Category
		fields["classification_id"] = res.LastError.ID
	}
	if res.DeadLetter != nil {
		fields["dead_letter_id"] = res.DeadLetter.ID
	}
	m.pub.Publish(domain.Event{
		Name:     domain.EventExecuteFailed,
		Category: domain.EventCategoryExecution,
		Platform: platform,
		Severity: domain.SeverityWarning,
		Message:  err.Error(),
		Context:  fields,
	})
}

func errorType(err error) string {
	var (
		nonRetryable *domain.NonRetryableError
		exhausted    *domain.RetriesExhaustedError
		budgetErr    *domain.BudgetExhaustedError
	)
	switch {
	case errors.As(err, &nonRetryable):
		return "non-retryable"
	case errors.As(err, &exhausted):
		return "retries-exhausted"
	case errors.As(err, &budgetErr):
		return "budget-exhausted"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}

// Classify categorizes err outside of an Execute call.
func (m *Manager) Classify(err error, cctx classifier.Context) domain.ClassifiedError {
	return m.classifier.Classify(err, cctx)
}

// Feedback reports the real category of an earlier classification.
func (m *Manager) Feedback(ctx context.Context, classificationID string, actual domain.Category) error {
	return m.classifier.Feedback(ctx, classificationID, actual)
}

// ClassifierStats returns classification counters and feedback accuracy.
func (m *Manager) ClassifierStats() classifier.Stats {
	return m.classifier.Stats()
}

// GetHealthSummary returns the status of every registered platform.
func (m *Manager) GetHealthSummary() health.Summary {
	return m.health.Summary()
}

// GetBudgetStatus returns the retry budget windows.
func (m *Manager) GetBudgetStatus() budget.Status {
	return m.budget.Status()
}

// GetCircuits returns every known circuit.
func (m *Manager) GetCircuits() []breaker.Snapshot {
	return m.breakers.Snapshot()
}

// GetDeadLetterStats counts dead letters by platform and category.
func (m *Manager) GetDeadLetterStats(ctx context.Context) (domain.DeadLetterStats, error) {
	return m.dlq.Stats(ctx)
}

// ListDeadLetters returns dead letters matching filter.
func (m *Manager) ListDeadLetters(ctx context.Context, filter domain.DeadLetterFilter) ([]domain.DeadLetter, error) {
	return m.dlq.List(ctx, filter)
}

// PurgeDeadLetters removes dead letters matching filter.
func (m *Manager) PurgeDeadLetters(ctx context.Context, filter domain.DeadLetterFilter) (int, error) {
	return m.dlq.Purge(ctx, filter)
}

// DeadLetters exposes the queue for maintenance workers.
func (m *Manager) DeadLetters() *dlq.Queue {
	return m.dlq
}

// ResetCircuit forces the platform circuit closed.
func (m *Manager) ResetCircuit(platform string) error {
	if !m.breakers.Known(platform) {
		return fmt.Errorf("%w: %s", domain.ErrPlatformNotFound, platform)
	}
	m.breakers.Reset(platform)
	m.log.Info("Circuit reset by operator", "platform", platform)
	return nil
}

// EnablePlatform re-enables a platform the health monitor disabled.
func (m *Manager) EnablePlatform(platform string) error {
	if err := m.health.Enable(platform); err != nil {
		return err
	}
	m.log.Info("Platform enabled by operator", "platform", platform)
	return nil
}

// ProbePlatform runs one health probe now.
func (m *Manager) ProbePlatform(ctx context.Context, platform string) (domain.HealthStatus, error) {
	return m.health.ProbeNow(ctx, platform)
}

// ReplayDeadLetter runs a dead letter again through Execute. invoke receives the stored
// entry. The entry is removed when the replay succeeds, and also when the replay ends in a
// new dead letter, which replaces it.
func (m *Manager) ReplayDeadLetter(
	ctx context.Context,
	id string,
	invoke func(ctx context.Context, entry domain.DeadLetter) (any, error),
) (Result, error) {
	var (
		res     Result
		execErr error
		ran     bool
	)
	err := m.dlq.Replay(ctx, id, func(ctx context.Context, entry domain.DeadLetter) error {
		ran = true
		op := retry.Operation{
			Name:    entry.Operation,
			Request: entry.Request,
			Invoke: func(ctx context.Context) (any, error) {
				return invoke(ctx, entry)
			},
		}
		res, execErr = m.Execute(ctx, entry.Platform, op)
		if execErr != nil && res.DeadLetter == nil {
			return execErr
		}
		return nil
	})
	if !ran {
		return Result{}, err
	}
	if err != nil && !errors.Is(err, execErr) && !errors.Is(err, domain.ErrEntryNotFound) {
		m.log.Warn("Failed to remove replayed dead letter", "id", id, "error", err)
	}
	return res, execErr
}
