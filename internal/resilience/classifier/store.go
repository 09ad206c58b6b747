package classifier

import (
	"context"

	"github.com/Thirteen88/ish-automation-sub001/internal/core/domain"
)

// PatternStore persists learned patterns.
type PatternStore interface {
	SavePattern(ctx context.Context, p domain.ErrorPattern) error
	LoadPatterns(ctx context.Context) ([]domain.ErrorPattern, error)
	DeletePattern(ctx context.Context, id string) error
}
