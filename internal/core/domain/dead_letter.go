package domain

import (
	"encoding/json"
	"time"
)

// DeadLetter is an operation that could not be completed even after recovery attempts.
type DeadLetter struct {
	ID              string          `json:"id"`
	Platform        string          `json:"platform"`
	Operation       string          `json:"operation,omitempty"`
	Request         json.RawMessage `json:"request,omitempty"`
	ClassifiedError ClassifiedError `json:"classified_error"`
	AttemptsMade    int             `json:"attempts_made"`
	FirstFailedAt   time.Time       `json:"first_failed_at"`
	LastFailedAt    time.Time       `json:"last_failed_at"`
}

// DeadLetterFilter selects dead letters. Zero fields match everything.
type DeadLetterFilter struct {
	Platform   string
	Categories []Category
	Since      time.Time
	Before     time.Time
	Limit      int
}

// Match reports whether entry passes the filter, ignoring Limit.
func (f DeadLetterFilter) Match(entry DeadLetter) bool {
	if f.Platform != "" && entry.Platform != f.Platform {
		return false
	}
	if len(f.Categories) > 0 {
		found := false
		for _, c := range f.Categories {
			if entry.ClassifiedError.Category == c {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.Since.IsZero() && entry.LastFailedAt.Before(f.Since) {
		return false
	}
	if !f.Before.IsZero() && !entry.LastFailedAt.Before(f.Before) {
		return false
	}
	return true
}

// DeadLetterStats counts queued entries by platform and by category.
type DeadLetterStats struct {
	Total      int              `json:"total"`
	ByPlatform map[string]int   `json:"by_platform"`
	ByCategory map[Category]int `json:"by_category"`
	Oldest     time.Time        `json:"oldest,omitempty"`
	// Degraded is set while entries are held in memory because the durable store failed.
	Degraded bool `json:"degraded"`
}

// NewDeadLetterStats returns empty stats with initialized maps.
func NewDeadLetterStats() DeadLetterStats {
	return DeadLetterStats{
		ByPlatform: make(map[string]int),
		ByCategory: make(map[Category]int),
	}
}

// Add counts entry into the stats.
func (s *DeadLetterStats) Add(entry DeadLetter) {
	s.Total++
	s.ByPlatform[entry.Platform]++
	s.ByCategory[entry.ClassifiedError.Category]++
	if s.Oldest.IsZero() || entry.FirstFailedAt.Before(s.Oldest) {
		s.Oldest = entry.FirstFailedAt
	}
}
