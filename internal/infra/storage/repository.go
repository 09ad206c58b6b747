package storage

import (
	"context"
	"errors"

	"github.com/Thirteen88/ish-automation-sub001/internal/core/domain"
)

var (
	// ErrNotFound is returned when a stored record doesn't exist
	ErrNotFound = errors.New("record not found")
)

// DeadLetterRepository handles dead letter storage operations
type DeadLetterRepository interface {
	// Append stores a dead letter, replacing any entry with the same ID
	Append(ctx context.Context, entry domain.DeadLetter) error

	// Get retrieves a dead letter by ID
	Get(ctx context.Context, id string) (domain.DeadLetter, error)

	// List returns entries matching the filter, oldest first
	List(ctx context.Context, filter domain.DeadLetterFilter) ([]domain.DeadLetter, error)

	// Delete removes a dead letter. Missing IDs return ErrNotFound.
	Delete(ctx context.Context, id string) error

	// Stats counts stored entries by platform and category
	Stats(ctx context.Context) (domain.DeadLetterStats, error)
}

// PatternRepository handles learned classifier patterns
type PatternRepository interface {
	// SavePattern inserts or replaces a pattern
	SavePattern(ctx context.Context, p domain.ErrorPattern) error

	// LoadPatterns returns every stored pattern, oldest first
	LoadPatterns(ctx context.Context) ([]domain.ErrorPattern, error)

	// DeletePattern removes a pattern by ID
	DeletePattern(ctx context.Context, id string) error
}
