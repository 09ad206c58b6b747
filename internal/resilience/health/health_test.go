package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Thirteen88/ish-automation-sub001/internal/core/domain"
	"github.com/Thirteen88/ish-automation-sub001/internal/resilience/breaker"
	"github.com/Thirteen88/ish-automation-sub001/internal/resilience/budget"
	"github.com/Thirteen88/ish-automation-sub001/internal/resilience/events"
)

// =============================================================================
// Mocks
// =============================================================================

// scriptedProbe plays its script in order, then repeats the last result.
type scriptedProbe struct {
	mu      sync.Mutex
	results []bool
	calls   int
	advance func()
}

func (p *scriptedProbe) Check(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.advance != nil {
		p.advance()
	}
	i := p.calls
	if i >= len(p.results) {
		i = len(p.results) - 1
	}
	p.calls++
	if !p.results[i] {
		return false, errors.New("probe failed")
	}
	return true, nil
}

// replay replaces the script and starts it from the beginning.
func (p *scriptedProbe) replay(results ...bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = results
	p.calls = 0
}

func (p *scriptedProbe) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func newTestMonitor(cfg Config) (*Monitor, *clockwork.FakeClock, *events.Recorder) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	rec := &events.Recorder{}
	m := NewMonitor(cfg, rec, WithClock(clock))
	return m, clock, rec
}

func probeSeq(t *testing.T, m *Monitor, platform string, n int) []domain.HealthStatus {
	t.Helper()
	var out []domain.HealthStatus
	for i := 0; i < n; i++ {
		s, err := m.ProbeNow(context.Background(), platform)
		if err != nil {
			t.Fatalf("ProbeNow() error = %v", err)
		}
		out = append(out, s)
	}
	return out
}

// =============================================================================
// Tests
// =============================================================================

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to domain.HealthStatus
		want     bool
	}{
		{domain.HealthUnknown, domain.HealthHealthy, true},
		{domain.HealthUnknown, domain.HealthDegraded, false},
		{domain.HealthHealthy, domain.HealthDegraded, true},
		{domain.HealthHealthy, domain.HealthUnhealthy, false},
		{domain.HealthHealthy, domain.HealthDisabled, false},
		{domain.HealthDegraded, domain.HealthUnhealthy, true},
		{domain.HealthDegraded, domain.HealthHealthy, true},
		{domain.HealthDegraded, domain.HealthDisabled, false},
		{domain.HealthUnhealthy, domain.HealthDisabled, true},
		{domain.HealthUnhealthy, domain.HealthHealthy, true},
		{domain.HealthDisabled, domain.HealthHealthy, false},
		{domain.HealthDisabled, domain.HealthUnknown, true},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestProbeFailuresAndRecovery(t *testing.T) {
	m, _, rec := newTestMonitor(DefaultConfig())
	probe := &scriptedProbe{results: []bool{true}}
	m.Register("claude", probe, Config{})

	if got := m.Status("claude"); got != domain.HealthUnknown {
		t.Fatalf("initial status = %s, want unknown", got)
	}
	if got := probeSeq(t, m, "claude", 1); got[0] != domain.HealthHealthy {
		t.Fatalf("after first success = %s, want healthy", got[0])
	}

	probe.replay(false, false, false)
	got := probeSeq(t, m, "claude", 3)
	want := []domain.HealthStatus{domain.HealthHealthy, domain.HealthDegraded, domain.HealthUnhealthy}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("failure %d: status = %s, want %s", i+1, got[i], want[i])
		}
	}

	probe.replay(true, true)
	got = probeSeq(t, m, "claude", 2)
	if got[0] != domain.HealthUnhealthy || got[1] != domain.HealthHealthy {
		t.Errorf("recovery statuses = %v, want [unhealthy healthy]", got)
	}

	// The second healthy alert falls inside the cooldown
	alerts := rec.Named(domain.EventHealthTransition)
	if len(alerts) != 3 {
		t.Fatalf("transition alerts = %d, want 3", len(alerts))
	}
	sev := map[domain.HealthStatus]domain.Severity{}
	for _, a := range alerts {
		sev[a.Context["to"].(domain.HealthStatus)] = a.Severity
	}
	if sev[domain.HealthDegraded] != domain.SeverityInfo || sev[domain.HealthUnhealthy] != domain.SeverityWarning {
		t.Errorf("alert severities = %v", sev)
	}
}

func TestUnknownStaysUnknownOnFailure(t *testing.T) {
	m, _, _ := newTestMonitor(DefaultConfig())
	m.Register("claude", &scriptedProbe{results: []bool{false}}, Config{})

	for _, s := range probeSeq(t, m, "claude", 5) {
		if s != domain.HealthUnknown {
			t.Fatalf("status = %s, want unknown", s)
		}
	}
}

func TestDisableOnUnhealthyAndEnable(t *testing.T) {
	m, _, rec := newTestMonitor(DefaultConfig())
	probe := &scriptedProbe{results: []bool{true, false}}
	m.Register("claude", probe, Config{DisableOnUnhealthy: true})

	got := probeSeq(t, m, "claude", 5)
	want := []domain.HealthStatus{
		domain.HealthHealthy,
		domain.HealthHealthy,
		domain.HealthDegraded,
		domain.HealthUnhealthy,
		domain.HealthDisabled,
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("probe %d: status = %s, want %s", i+1, got[i], want[i])
		}
	}

	// Successful probes never leave Disabled
	probe.replay(true, true, true)
	for _, s := range probeSeq(t, m, "claude", 3) {
		if s != domain.HealthDisabled {
			t.Fatalf("status = %s, want disabled", s)
		}
	}

	disabled := rec.Named(domain.EventHealthTransition)
	if last := disabled[len(disabled)-1]; last.Severity != domain.SeverityCritical {
		t.Errorf("disabled alert severity = %s, want critical", last.Severity)
	}

	if err := m.Enable("claude"); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	if s := m.Status("claude"); s != domain.HealthUnknown {
		t.Errorf("status after Enable = %s, want unknown", s)
	}
	if err := m.Enable("claude"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("Enable(not disabled) error = %v, want ErrInvalidTransition", err)
	}
	if err := m.Enable("nope"); !errors.Is(err, domain.ErrPlatformNotFound) {
		t.Errorf("Enable(unknown platform) error = %v, want ErrPlatformNotFound", err)
	}

	if s := probeSeq(t, m, "claude", 1)[0]; s != domain.HealthHealthy {
		t.Errorf("status after enable + success = %s, want healthy", s)
	}
}

func TestUnhealthyStaysWithoutDisable(t *testing.T) {
	m, _, _ := newTestMonitor(DefaultConfig())
	m.Register("claude", &scriptedProbe{results: []bool{true, false}}, Config{})

	got := probeSeq(t, m, "claude", 10)
	if last := got[len(got)-1]; last != domain.HealthUnhealthy {
		t.Errorf("final status = %s, want unhealthy", last)
	}
}

func TestLatencyDegrades(t *testing.T) {
	m, clock, _ := newTestMonitor(DefaultConfig())
	probe := &scriptedProbe{results: []bool{true}}
	m.Register("claude", probe, Config{})
	probeSeq(t, m, "claude", 1)

	probe.advance = func() { clock.Advance(6 * time.Second) }
	if s := probeSeq(t, m, "claude", 1)[0]; s != domain.HealthDegraded {
		t.Fatalf("slow probe status = %s, want degraded", s)
	}

	// Slow successes do not count toward recovery
	if s := probeSeq(t, m, "claude", 2)[1]; s != domain.HealthDegraded {
		t.Errorf("status after slow successes = %s, want degraded", s)
	}

	probe.advance = nil
	got := probeSeq(t, m, "claude", 1)
	if got[0] != domain.HealthHealthy {
		t.Errorf("status after fast success = %s, want healthy", got[0])
	}

	snap, _ := m.Snapshot("claude")
	if snap.LastLatency != 0 || snap.AvgLatency == 0 {
		t.Errorf("latency snapshot = last %s avg %s", snap.LastLatency, snap.AvgLatency)
	}
}

func TestErrorRateDegrades(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DegradedThreshold = 10
	cfg.UnhealthyThreshold = 10
	m, _, _ := newTestMonitor(cfg)

	// The window restarts when the platform turns healthy. Then 1 failure in 5 samples
	// gives 0.2 > 0.1 once the minimum sample count is reached.
	probe := &scriptedProbe{results: []bool{true, true, true, false, true, true}}
	m.Register("claude", probe, Config{})
	got := probeSeq(t, m, "claude", 6)
	if got[4] != domain.HealthHealthy {
		t.Errorf("status before min samples = %s, want healthy", got[4])
	}
	if got[5] != domain.HealthDegraded {
		t.Errorf("status at 0.2 error rate = %s, want degraded", got[5])
	}

	// 2/6 > 0.25
	probe.replay(false, false)
	got = probeSeq(t, m, "claude", 2)
	if got[0] != domain.HealthUnhealthy {
		t.Errorf("status at critical error rate = %s, want unhealthy", got[0])
	}
}

func TestProbeTimeoutCountsAsFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DegradedThreshold = 1
	m, clock, _ := newTestMonitor(cfg)

	block := make(chan struct{})
	defer close(block)
	var calls int
	m.Register("claude", ProbeFunc(func(ctx context.Context) (bool, error) {
		calls++
		if calls == 1 {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-block:
			return true, nil
		}
	}), Config{})
	probeSeq(t, m, "claude", 1)

	done := make(chan domain.HealthStatus, 1)
	go func() {
		s, _ := m.ProbeNow(context.Background(), "claude")
		done <- s
	}()
	clock.BlockUntil(1)
	clock.Advance(10 * time.Second)

	select {
	case s := <-done:
		if s != domain.HealthDegraded {
			t.Errorf("status after timeout = %s, want degraded", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("probe did not time out")
	}

	snap, _ := m.Snapshot("claude")
	if !strings.Contains(snap.LastError, "timed out") {
		t.Errorf("LastError = %q, want timeout", snap.LastError)
	}
}

func TestAlertCooldown(t *testing.T) {
	m, clock, rec := newTestMonitor(DefaultConfig())
	probe := &scriptedProbe{results: []bool{true, false, false, true, true, false, false}}
	m.Register("claude", probe, Config{})

	// healthy, -, degraded, -, healthy, -, degraded (suppressed)
	probeSeq(t, m, "claude", 7)
	if s := m.Status("claude"); s != domain.HealthDegraded {
		t.Fatalf("status = %s, want degraded", s)
	}
	degraded := 0
	for _, e := range rec.Named(domain.EventHealthTransition) {
		if e.Context["to"] == domain.HealthDegraded {
			degraded++
		}
	}
	if degraded != 1 {
		t.Errorf("degraded alerts within cooldown = %d, want 1", degraded)
	}

	clock.Advance(5 * time.Minute)
	probe.replay(true, true, false, false)
	probeSeq(t, m, "claude", 4)
	degraded = 0
	for _, e := range rec.Named(domain.EventHealthTransition) {
		if e.Context["to"] == domain.HealthDegraded {
			degraded++
		}
	}
	if degraded != 2 {
		t.Errorf("degraded alerts after cooldown = %d, want 2", degraded)
	}
}

func TestRecordTrafficDoesNotTransition(t *testing.T) {
	m, _, _ := newTestMonitor(DefaultConfig())
	m.Register("claude", &scriptedProbe{results: []bool{true}}, Config{})
	probeSeq(t, m, "claude", 1)

	for i := 0; i < 20; i++ {
		m.RecordTraffic("claude", false)
	}
	m.RecordTraffic("claude", true)
	m.RecordTraffic("unregistered", false)

	snap, err := m.Snapshot("claude")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snap.Status != domain.HealthHealthy {
		t.Errorf("status = %s, want healthy", snap.Status)
	}
	if snap.TrafficFailure != 20 || snap.TrafficSuccess != 1 {
		t.Errorf("traffic = %d/%d, want 1/20", snap.TrafficSuccess, snap.TrafficFailure)
	}
}

func TestRunProbesOnInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Interval = time.Minute
	m, clock, _ := newTestMonitor(cfg)
	claude := &scriptedProbe{results: []bool{true}}
	gemini := &scriptedProbe{results: []bool{false}}
	m.Register("claude", claude, Config{})
	m.Register("gemini", gemini, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(ctx) }()

	waitCalls := func(n int) {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if claude.callCount() >= n && gemini.callCount() >= n {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Fatalf("probes did not reach %d calls", n)
	}

	// Immediate probe, then one ticker per platform
	waitCalls(1)
	clock.BlockUntil(2)
	clock.Advance(time.Minute)
	waitCalls(2)
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if s := m.Status("claude"); s != domain.HealthHealthy {
		t.Errorf("claude status = %s, want healthy", s)
	}
	if s := m.Status("gemini"); s != domain.HealthUnknown {
		t.Errorf("gemini status = %s, want unknown", s)
	}

	sum := m.Summary()
	if len(sum.Platforms) != 2 || sum.Overall != domain.HealthUnknown {
		t.Errorf("Summary() = %+v", sum)
	}
}

// =============================================================================
// Server
// =============================================================================

type fakeBackend struct {
	summary Summary
	reset   []string
	enabled []string
}

func (f *fakeBackend) GetHealthSummary() Summary       { return f.summary }
func (f *fakeBackend) GetBudgetStatus() budget.Status  { return budget.Status{TotalGranted: 3} }
func (f *fakeBackend) GetCircuits() []breaker.Snapshot { return []breaker.Snapshot{{Platform: "claude"}} }
func (f *fakeBackend) GetDeadLetterStats(context.Context) (domain.DeadLetterStats, error) {
	s := domain.NewDeadLetterStats()
	s.Total = 2
	return s, nil
}
func (f *fakeBackend) ListDeadLetters(_ context.Context, filter domain.DeadLetterFilter) ([]domain.DeadLetter, error) {
	return []domain.DeadLetter{{ID: "a", Platform: filter.Platform}}, nil
}
func (f *fakeBackend) ResetCircuit(platform string) error {
	f.reset = append(f.reset, platform)
	return nil
}
func (f *fakeBackend) EnablePlatform(platform string) error {
	if platform == "nope" {
		return domain.ErrPlatformNotFound
	}
	f.enabled = append(f.enabled, platform)
	return nil
}

func TestServerEndpoints(t *testing.T) {
	backend := &fakeBackend{summary: Summary{Overall: domain.HealthUnhealthy}}
	ts := httptest.NewServer(NewServer(backend, 0).Handler())
	defer ts.Close()

	tests := []struct {
		method   string
		path     string
		wantCode int
		wantBody string
	}{
		{http.MethodGet, "/health", http.StatusServiceUnavailable, `"status":"unhealthy"`},
		{http.MethodGet, "/health/detailed", http.StatusOK, `"overall":"unhealthy"`},
		{http.MethodGet, "/budget", http.StatusOK, `"total_granted":3`},
		{http.MethodGet, "/circuits", http.StatusOK, `"platform":"claude"`},
		{http.MethodGet, "/dlq", http.StatusOK, `"total":2`},
		{http.MethodGet, "/dlq?list=true&platform=gemini", http.StatusOK, `"platform":"gemini"`},
		{http.MethodGet, "/dlq?list=true&limit=x", http.StatusBadRequest, `invalid limit`},
		{http.MethodPost, "/circuits/claude/reset", http.StatusOK, `"circuit":"closed"`},
		{http.MethodPost, "/platforms/claude/enable", http.StatusOK, `"status":"unknown"`},
		{http.MethodPost, "/platforms/nope/enable", http.StatusNotFound, `platform not found`},
		{http.MethodGet, "/metrics", http.StatusOK, `go_goroutines`},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, ts.URL+tt.path, nil)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request error = %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantCode {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantCode)
			}
			var body strings.Builder
			buf := make([]byte, 4096)
			for {
				n, err := resp.Body.Read(buf)
				body.Write(buf[:n])
				if err != nil {
					break
				}
			}
			if !strings.Contains(body.String(), tt.wantBody) {
				t.Errorf("body = %s, want substring %s", body.String(), tt.wantBody)
			}
		})
	}

	if len(backend.reset) != 1 || backend.reset[0] != "claude" {
		t.Errorf("reset calls = %v", backend.reset)
	}
}

func TestSummaryJSON(t *testing.T) {
	m, _, _ := newTestMonitor(DefaultConfig())
	m.Register("claude", &scriptedProbe{results: []bool{true}}, Config{})
	probeSeq(t, m, "claude", 1)

	data, err := json.Marshal(m.Summary())
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(data), `"overall":"healthy"`) {
		t.Errorf("summary json = %s", data)
	}
}
