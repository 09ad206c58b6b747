package health

import (
	"github.com/Thirteen88/ish-automation-sub001/internal/core/domain"
)

// validTransitions defines allowed status changes.
// Key is the current status, value is the list of valid next statuses.
var validTransitions = map[domain.HealthStatus][]domain.HealthStatus{
	domain.HealthUnknown:   {domain.HealthHealthy},
	domain.HealthHealthy:   {domain.HealthDegraded},
	domain.HealthDegraded:  {domain.HealthUnhealthy, domain.HealthHealthy},
	domain.HealthUnhealthy: {domain.HealthDisabled, domain.HealthHealthy},
	// Operator action only
	domain.HealthDisabled: {domain.HealthUnknown},
}

// CanTransition checks if a status change is allowed.
func CanTransition(from, to domain.HealthStatus) bool {
	for _, target := range validTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// Transition represents a status change with metadata.
type Transition struct {
	Platform string
	From     domain.HealthStatus
	To       domain.HealthStatus
	Reason   string
}

// window is a fixed-size ring of probe outcomes.
type window struct {
	outcomes []bool
	next     int
	filled   int
}

func newWindow(size int) *window {
	return &window{outcomes: make([]bool, size)}
}

func (w *window) add(ok bool) {
	w.outcomes[w.next] = ok
	w.next = (w.next + 1) % len(w.outcomes)
	if w.filled < len(w.outcomes) {
		w.filled++
	}
}

// errorRate returns the failure ratio and the number of samples it covers.
func (w *window) errorRate() (float64, int) {
	if w.filled == 0 {
		return 0, 0
	}
	failed := 0
	for i := 0; i < w.filled; i++ {
		if !w.outcomes[i] {
			failed++
		}
	}
	return float64(failed) / float64(w.filled), w.filled
}

func (w *window) reset() {
	w.next, w.filled = 0, 0
}
