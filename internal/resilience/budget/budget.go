// Package budget enforces the process-wide retry budget.
//
// This package contains:
//   - Budget: two sliding windows (per minute, per hour) shared by every platform
//   - Status: a reporting snapshot with per-platform grant counts
//
// A retry is granted only when both windows have room, and the check and the
// consumption happen under one lock so concurrent callers cannot overshoot a window.
package budget

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Thirteen88/ish-automation-sub001/internal/resilience/metrics"
)

const (
	WindowMinute = "minute"
	WindowHour   = "hour"
)

// Config holds budget limits.
type Config struct {
	MaxRetriesPerMinute int `yaml:"max_retries_per_minute"`
	MaxRetriesPerHour   int `yaml:"max_retries_per_hour"`
}

// DefaultConfig returns the default limits.
func DefaultConfig() Config {
	return Config{
		MaxRetriesPerMinute: 50,
		MaxRetriesPerHour:   500,
	}
}

// WindowStatus reports one window.
type WindowStatus struct {
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	ResetsAt  time.Time `json:"resets_at,omitempty"`
}

// Status is a snapshot of the budget.
type Status struct {
	Minute       WindowStatus   `json:"minute"`
	Hour         WindowStatus   `json:"hour"`
	TotalGranted int            `json:"total_granted"`
	TotalDenied  int            `json:"total_denied"`
	ByPlatform   map[string]int `json:"by_platform"`
}

// window is a sliding log of grant timestamps, oldest first.
type window struct {
	size  time.Duration
	limit int
	times []time.Time
}

func (w *window) prune(now time.Time) {
	cutoff := now.Add(-w.size)
	i := 0
	for i < len(w.times) && !w.times[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.times = append(w.times[:0], w.times[i:]...)
	}
}

func (w *window) hasRoom() bool {
	return len(w.times) < w.limit
}

func (w *window) status() WindowStatus {
	s := WindowStatus{Limit: w.limit, Used: len(w.times), Remaining: w.limit - len(w.times)}
	if s.Remaining < 0 {
		s.Remaining = 0
	}
	if len(w.times) > 0 {
		s.ResetsAt = w.times[0].Add(w.size)
	}
	return s
}

// Budget is the single owner of the retry counters; share it by handle.
type Budget struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	minute   window
	hour     window
	granted  int
	denied   int
	platform map[string]int
}

// New creates a budget. A nil clock uses the real clock.
func New(cfg Config, clock clockwork.Clock) *Budget {
	def := DefaultConfig()
	if cfg.MaxRetriesPerMinute <= 0 {
		cfg.MaxRetriesPerMinute = def.MaxRetriesPerMinute
	}
	if cfg.MaxRetriesPerHour <= 0 {
		cfg.MaxRetriesPerHour = def.MaxRetriesPerHour
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	b := &Budget{
		clock:    clock,
		minute:   window{size: time.Minute, limit: cfg.MaxRetriesPerMinute},
		hour:     window{size: time.Hour, limit: cfg.MaxRetriesPerHour},
		platform: make(map[string]int),
	}
	b.updateGauges()
	return b
}

// TryConsume grants one retry for platform if both windows have room.
// When denied it returns the name of the full window.
func (b *Budget) TryConsume(platform string) (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	b.minute.prune(now)
	b.hour.prune(now)

	var full string
	switch {
	case !b.minute.hasRoom():
		full = WindowMinute
	case !b.hour.hasRoom():
		full = WindowHour
	}
	if full != "" {
		b.denied++
		metrics.RetryBudgetRejections.WithLabelValues(platform, full).Inc()
		return false, full
	}

	b.minute.times = append(b.minute.times, now)
	b.hour.times = append(b.hour.times, now)
	b.granted++
	b.platform[platform]++
	b.updateGaugesLocked()
	return true, ""
}

// RetryAt returns when the given window next frees a slot.
func (b *Budget) RetryAt(windowName string) time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	if windowName == WindowHour {
		return b.hour.status().ResetsAt
	}
	return b.minute.status().ResetsAt
}

// Status returns a snapshot of both windows.
func (b *Budget) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	b.minute.prune(now)
	b.hour.prune(now)

	byPlatform := make(map[string]int, len(b.platform))
	for k, v := range b.platform {
		byPlatform[k] = v
	}
	return Status{
		Minute:       b.minute.status(),
		Hour:         b.hour.status(),
		TotalGranted: b.granted,
		TotalDenied:  b.denied,
		ByPlatform:   byPlatform,
	}
}

// Reset clears both windows.
func (b *Budget) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.minute.times = nil
	b.hour.times = nil
	b.updateGaugesLocked()
}

func (b *Budget) updateGauges() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updateGaugesLocked()
}

func (b *Budget) updateGaugesLocked() {
	metrics.RetryBudgetRemaining.WithLabelValues(WindowMinute).Set(float64(b.minute.limit - len(b.minute.times)))
	metrics.RetryBudgetRemaining.WithLabelValues(WindowHour).Set(float64(b.hour.limit - len(b.hour.times)))
}
