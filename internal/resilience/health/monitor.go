// Package health derives a per-platform status from periodic probes.
//
// Only probe outcomes move a platform between statuses. Real traffic is counted for
// reporting but never drives transitions. Disabled is left only through Enable.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/Thirteen88/ish-automation-sub001/internal/core/domain"
	"github.com/Thirteen88/ish-automation-sub001/internal/resilience/events"
	"github.com/Thirteen88/ish-automation-sub001/internal/resilience/metrics"
)

// Probe is a lightweight health check distinct from real traffic.
type Probe interface {
	Check(ctx context.Context) (bool, error)
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) (bool, error)

func (f ProbeFunc) Check(ctx context.Context) (bool, error) { return f(ctx) }

// Config holds the probe schedule and status thresholds.
type Config struct {
	Interval           time.Duration `yaml:"interval"`
	Timeout            time.Duration `yaml:"timeout"`
	DegradedThreshold  int           `yaml:"degraded_threshold"`
	UnhealthyThreshold int           `yaml:"unhealthy_threshold"`
	RecoveryThreshold  int           `yaml:"recovery_threshold"`
	LatencyWarning     time.Duration `yaml:"latency_warning"`
	ErrorRateWarning   float64       `yaml:"error_rate_warning"`
	ErrorRateCritical  float64       `yaml:"error_rate_critical"`
	WindowSize         int           `yaml:"window_size"`
	MinSamples         int           `yaml:"min_samples"`
	AlertCooldown      time.Duration `yaml:"alert_cooldown"`
	DisableOnUnhealthy bool          `yaml:"disable_on_unhealthy"`
	LatencyHistorySize int           `yaml:"latency_history_size"`
}

func DefaultConfig() Config {
	return Config{
		Interval:           60 * time.Second,
		Timeout:            10 * time.Second,
		DegradedThreshold:  2,
		UnhealthyThreshold: 3,
		RecoveryThreshold:  2,
		LatencyWarning:     5 * time.Second,
		ErrorRateWarning:   0.1,
		ErrorRateCritical:  0.25,
		WindowSize:         20,
		MinSamples:         5,
		AlertCooldown:      5 * time.Minute,
		LatencyHistorySize: 20,
	}
}

// merge fills zero fields of override from c. DisableOnUnhealthy can only be switched on.
func (c Config) merge(override Config) Config {
	out := c
	if override.Interval > 0 {
		out.Interval = override.Interval
	}
	if override.Timeout > 0 {
		out.Timeout = override.Timeout
	}
	if override.DegradedThreshold > 0 {
		out.DegradedThreshold = override.DegradedThreshold
	}
	if override.UnhealthyThreshold > 0 {
		out.UnhealthyThreshold = override.UnhealthyThreshold
	}
	if override.RecoveryThreshold > 0 {
		out.RecoveryThreshold = override.RecoveryThreshold
	}
	if override.LatencyWarning > 0 {
		out.LatencyWarning = override.LatencyWarning
	}
	if override.ErrorRateWarning > 0 {
		out.ErrorRateWarning = override.ErrorRateWarning
	}
	if override.ErrorRateCritical > 0 {
		out.ErrorRateCritical = override.ErrorRateCritical
	}
	if override.WindowSize > 0 {
		out.WindowSize = override.WindowSize
	}
	if override.MinSamples > 0 {
		out.MinSamples = override.MinSamples
	}
	if override.LatencyHistorySize > 0 {
		out.LatencyHistorySize = override.LatencyHistorySize
	}
	out.DisableOnUnhealthy = c.DisableOnUnhealthy || override.DisableOnUnhealthy
	return out
}

// record is the mutable health state of one platform.
type record struct {
	platform string
	cfg      Config
	probe    Probe

	mu                   sync.Mutex
	status               domain.HealthStatus
	since                time.Time
	consecutiveFailures  int
	consecutiveSuccesses int
	lastCheck            time.Time
	lastError            string
	latencies            []time.Duration
	window               *window
	trafficSuccess       int64
	trafficFailure       int64
	lastTraffic          time.Time
}

// Monitor owns one health record per registered platform.
type Monitor struct {
	defaults Config
	clock    clockwork.Clock
	alerter  *events.Alerter
	log      *slog.Logger

	mu      sync.RWMutex
	records map[string]*record

	onTransition func(Transition)
}

type Option func(*Monitor)

func WithClock(clock clockwork.Clock) Option {
	return func(m *Monitor) { m.clock = clock }
}

// WithAlerter routes transition alerts through a shared cooldown alerter.
func WithAlerter(a *events.Alerter) Option {
	return func(m *Monitor) { m.alerter = a }
}

// WithTransitionHook is called after every status change, outside the record lock.
func WithTransitionHook(fn func(Transition)) Option {
	return func(m *Monitor) { m.onTransition = fn }
}

// NewMonitor creates a monitor. Alerts go to pub unless WithAlerter is given.
func NewMonitor(cfg Config, pub events.Publisher, opts ...Option) *Monitor {
	m := &Monitor{
		defaults: DefaultConfig().merge(cfg),
		clock:    clockwork.NewRealClock(),
		log:      slog.Default().With("component", "health"),
		records:  make(map[string]*record),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.alerter == nil {
		if pub == nil {
			pub = events.Discard
		}
		m.alerter = events.NewAlerter(pub, m.defaults.AlertCooldown, m.clock)
	}
	return m
}

// Register adds a platform in Unknown status. Zero fields of override inherit the monitor
// defaults. Registering an existing platform replaces its probe and settings and keeps its
// status.
func (m *Monitor) Register(platform string, probe Probe, override Config) {
	cfg := m.defaults.merge(override)

	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[platform]; ok {
		rec.mu.Lock()
		rec.cfg = cfg
		rec.probe = probe
		rec.window = newWindow(cfg.WindowSize)
		rec.mu.Unlock()
		return
	}
	m.records[platform] = &record{
		platform: platform,
		cfg:      cfg,
		probe:    probe,
		status:   domain.HealthUnknown,
		since:    m.clock.Now(),
		window:   newWindow(cfg.WindowSize),
	}
	metrics.HealthStatus.WithLabelValues(platform).Set(domain.HealthUnknown.Gauge())
}

// Platforms returns the registered platform names, sorted.
func (m *Monitor) Platforms() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.records))
	for p := range m.records {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (m *Monitor) get(platform string) (*record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrPlatformNotFound, platform)
	}
	return rec, nil
}

// Status returns the platform status. Unregistered platforms are Unknown.
func (m *Monitor) Status(platform string) domain.HealthStatus {
	rec, err := m.get(platform)
	if err != nil {
		return domain.HealthUnknown
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.status
}

// Run probes every registered platform on its own ticker until ctx is done.
// Platforms registered after Run starts are not probed by it.
func (m *Monitor) Run(ctx context.Context) error {
	m.mu.RLock()
	recs := make([]*record, 0, len(m.records))
	for _, rec := range m.records {
		recs = append(recs, rec)
	}
	m.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, rec := range recs {
		g.Go(func() error {
			m.loop(ctx, rec)
			return nil
		})
	}
	return g.Wait()
}

func (m *Monitor) loop(ctx context.Context, rec *record) {
	rec.mu.Lock()
	interval := rec.cfg.Interval
	rec.mu.Unlock()

	ticker := m.clock.NewTicker(interval)
	defer ticker.Stop()

	m.log.Info("Health probe loop started", "platform", rec.platform, "interval", interval)
	m.probe(ctx, rec)
	for {
		select {
		case <-ctx.Done():
			m.log.Info("Health probe loop stopped", "platform", rec.platform)
			return
		case <-ticker.Chan():
			m.probe(ctx, rec)
		}
	}
}

// ProbeNow runs one probe for platform synchronously and returns the resulting status.
func (m *Monitor) ProbeNow(ctx context.Context, platform string) (domain.HealthStatus, error) {
	rec, err := m.get(platform)
	if err != nil {
		return domain.HealthUnknown, err
	}
	return m.probe(ctx, rec), nil
}

type probeResult struct {
	ok  bool
	err error
}

func (m *Monitor) probe(ctx context.Context, rec *record) domain.HealthStatus {
	rec.mu.Lock()
	probe, timeout := rec.probe, rec.cfg.Timeout
	rec.mu.Unlock()

	start := m.clock.Now()
	ok, err := m.check(ctx, probe, timeout)
	latency := m.clock.Since(start)

	result := "success"
	if !ok {
		result = "failure"
	}
	metrics.ProbeDuration.WithLabelValues(rec.platform, result).Observe(latency.Seconds())

	t, status := m.apply(rec, ok, err, latency)
	if t != nil {
		m.transitioned(*t)
	}
	return status
}

// check runs probe bounded by timeout on the monitor clock. A timeout counts as a failure.
func (m *Monitor) check(ctx context.Context, probe Probe, timeout time.Duration) (bool, error) {
	if probe == nil {
		return false, errors.New("no probe registered")
	}
	pctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan probeResult, 1)
	go func() {
		ok, err := probe.Check(pctx)
		done <- probeResult{ok: ok, err: err}
	}()

	timer := m.clock.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			return false, r.err
		}
		return r.ok, nil
	case <-timer.Chan():
		return false, fmt.Errorf("probe timed out after %s: %w", timeout, context.DeadlineExceeded)
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// apply records a probe outcome and performs at most one transition.
func (m *Monitor) apply(rec *record, ok bool, err error, latency time.Duration) (*Transition, domain.HealthStatus) {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	cfg := rec.cfg
	rec.lastCheck = m.clock.Now()
	rec.latencies = append(rec.latencies, latency)
	if len(rec.latencies) > cfg.LatencyHistorySize {
		rec.latencies = rec.latencies[len(rec.latencies)-cfg.LatencyHistorySize:]
	}
	rec.window.add(ok)
	if ok {
		rec.consecutiveSuccesses++
		rec.consecutiveFailures = 0
		rec.lastError = ""
	} else {
		rec.consecutiveFailures++
		rec.consecutiveSuccesses = 0
		if err != nil {
			rec.lastError = err.Error()
		} else {
			rec.lastError = "probe reported unhealthy"
		}
	}

	rate, samples := rec.window.errorRate()
	rateKnown := samples >= cfg.MinSamples
	slow := ok && cfg.LatencyWarning > 0 && latency > cfg.LatencyWarning

	var (
		next   domain.HealthStatus
		reason string
	)
	switch rec.status {
	case domain.HealthUnknown:
		if ok {
			next, reason = domain.HealthHealthy, "first successful probe"
		}
	case domain.HealthHealthy:
		switch {
		case rec.consecutiveFailures >= cfg.DegradedThreshold:
			next, reason = domain.HealthDegraded, fmt.Sprintf("%d consecutive probe failures", rec.consecutiveFailures)
		case slow:
			next, reason = domain.HealthDegraded, fmt.Sprintf("probe latency %s above %s", latency, cfg.LatencyWarning)
		case rateKnown && rate > cfg.ErrorRateWarning:
			next, reason = domain.HealthDegraded, fmt.Sprintf("error rate %.2f above %.2f", rate, cfg.ErrorRateWarning)
		}
	case domain.HealthDegraded:
		switch {
		case rec.consecutiveFailures >= cfg.UnhealthyThreshold:
			next, reason = domain.HealthUnhealthy, fmt.Sprintf("%d consecutive probe failures", rec.consecutiveFailures)
		case !ok && rateKnown && rate > cfg.ErrorRateCritical:
			next, reason = domain.HealthUnhealthy, fmt.Sprintf("error rate %.2f above %.2f", rate, cfg.ErrorRateCritical)
		case rec.consecutiveSuccesses >= cfg.RecoveryThreshold && !slow:
			next, reason = domain.HealthHealthy, fmt.Sprintf("%d consecutive probe successes", rec.consecutiveSuccesses)
		}
	case domain.HealthUnhealthy:
		switch {
		case !ok && cfg.DisableOnUnhealthy:
			next, reason = domain.HealthDisabled, "unhealthy platform disabled"
		case rec.consecutiveSuccesses >= cfg.RecoveryThreshold && !slow:
			next, reason = domain.HealthHealthy, fmt.Sprintf("%d consecutive probe successes", rec.consecutiveSuccesses)
		}
	case domain.HealthDisabled:
		// Left only through Enable
	}

	if next == "" {
		return nil, rec.status
	}
	t, err := m.transitionLocked(rec, next, reason)
	if err != nil {
		m.log.Error("Rejected health transition", "platform", rec.platform, "error", err)
		return nil, rec.status
	}
	if next == domain.HealthHealthy {
		rec.window.reset()
	}
	return &t, rec.status
}

func (m *Monitor) transitionLocked(rec *record, to domain.HealthStatus, reason string) (Transition, error) {
	from := rec.status
	if !CanTransition(from, to) {
		return Transition{}, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}
	rec.status = to
	rec.since = m.clock.Now()
	return Transition{Platform: rec.platform, From: from, To: to, Reason: reason}, nil
}

func (m *Monitor) transitioned(t Transition) {
	metrics.HealthStatus.WithLabelValues(t.Platform).Set(t.To.Gauge())

	level := slog.LevelInfo
	switch t.To.Severity() {
	case domain.SeverityWarning:
		level = slog.LevelWarn
	case domain.SeverityCritical:
		level = slog.LevelError
	}
	m.log.Log(context.Background(), level, "Platform health changed",
		"platform", t.Platform,
		"from", t.From,
		"to", t.To,
		"reason", t.Reason,
	)

	m.alerter.Alert(fmt.Sprintf("%s:%s", t.Platform, t.To), domain.Event{
		Name:     domain.EventHealthTransition,
		Category: domain.EventCategoryHealth,
		Platform: t.Platform,
		Severity: t.To.Severity(),
		Message:  fmt.Sprintf("platform %s is %s: %s", t.Platform, t.To, t.Reason),
		Context: map[string]any{
			"from":   t.From,
			"to":     t.To,
			"reason": t.Reason,
		},
	})

	if m.onTransition != nil {
		m.onTransition(t)
	}
}

// Enable moves a disabled platform back to Unknown so probes can qualify it again.
func (m *Monitor) Enable(platform string) error {
	rec, err := m.get(platform)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	if rec.status != domain.HealthDisabled {
		status := rec.status
		rec.mu.Unlock()
		return fmt.Errorf("%w: platform %s is %s, not disabled", domain.ErrInvalidTransition, platform, status)
	}
	t, err := m.transitionLocked(rec, domain.HealthUnknown, "enabled by operator")
	if err != nil {
		rec.mu.Unlock()
		return err
	}
	rec.consecutiveFailures = 0
	rec.consecutiveSuccesses = 0
	rec.window.reset()
	rec.mu.Unlock()

	m.transitioned(t)
	return nil
}

// RecordTraffic counts a real operation outcome. It never changes the status.
func (m *Monitor) RecordTraffic(platform string, success bool) {
	rec, err := m.get(platform)
	if err != nil {
		return
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if success {
		rec.trafficSuccess++
	} else {
		rec.trafficFailure++
	}
	rec.lastTraffic = m.clock.Now()
}
