package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Thirteen88/ish-automation-sub001/internal/core/domain"
	"github.com/Thirteen88/ish-automation-sub001/internal/infra/storage"
)

func TestFilterClause(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		filter   domain.DeadLetterFilter
		wantSQL  string
		wantArgs int
	}{
		{"empty", domain.DeadLetterFilter{}, "", 0},
		{"platform", domain.DeadLetterFilter{Platform: "claude"}, " WHERE platform = $1", 1},
		{
			"all fields",
			domain.DeadLetterFilter{
				Platform:   "claude",
				Categories: []domain.Category{domain.CategoryAuth, domain.CategoryTimeout},
				Since:      since,
				Before:     since.Add(time.Hour),
			},
			" WHERE platform = $1 AND category = ANY($2) AND last_failed_at >= $3 AND last_failed_at < $4",
			4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := filterClause(tt.filter)
			if sql != tt.wantSQL {
				t.Errorf("filterClause() sql = %q, want %q", sql, tt.wantSQL)
			}
			if len(args) != tt.wantArgs {
				t.Errorf("filterClause() args = %d, want %d", len(args), tt.wantArgs)
			}
		})
	}
}

func setupTestDB(t *testing.T) *DB {
	url := os.Getenv("RESILIENCE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Skipping live postgres test. Set RESILIENCE_TEST_DATABASE_URL to run.")
	}
	ctx := context.Background()
	db, err := NewDB(ctx, Config{URL: url})
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestDeadLetterRepo_Live(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := NewDeadLetterRepo(db)

	platform := "live-" + uuid.NewString()[:8]
	now := time.Now().UTC().Truncate(time.Millisecond)
	entry := domain.DeadLetter{
		ID:        uuid.NewString(),
		Platform:  platform,
		Operation: "query",
		Request:   json.RawMessage(`{"prompt":"hello"}`),
		ClassifiedError: domain.ClassifiedError{
			ID:       uuid.NewString(),
			Category: domain.CategoryAuth,
			Strategy: domain.StrategyNoRetry,
			Source:   domain.SourceError{Message: "unauthorized", StatusCode: 401},
		},
		AttemptsMade:  1,
		FirstFailedAt: now,
		LastFailedAt:  now,
	}
	if err := repo.Append(ctx, entry); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	t.Cleanup(func() { _ = repo.Delete(ctx, entry.ID) })

	got, err := repo.Get(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ClassifiedError.Source.StatusCode != 401 || !strings.Contains(string(got.Request), "hello") {
		t.Errorf("Get() = %+v", got)
	}

	list, err := repo.List(ctx, domain.DeadLetterFilter{
		Platform:   platform,
		Categories: []domain.Category{domain.CategoryAuth},
	})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 {
		t.Errorf("List() returned %d entries, want 1", len(list))
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.ByPlatform[platform] != 1 {
		t.Errorf("Stats().ByPlatform[%s] = %d, want 1", platform, stats.ByPlatform[platform])
	}

	if err := repo.Delete(ctx, entry.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := repo.Get(ctx, entry.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get(deleted) error = %v, want ErrNotFound", err)
	}
}

func TestPatternRepo_Live(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := NewPatternRepo(db)

	p := domain.ErrorPattern{
		ID:          "learned-" + uuid.NewString(),
		Category:    domain.CategoryBrowser,
		StatusCodes: []int{599},
		Keywords:    []string{"selector", "visible"},
		Confidence:  0.8,
		CreatedAt:   time.Now().UTC(),
	}
	if err := repo.SavePattern(ctx, p); err != nil {
		t.Fatalf("SavePattern() error = %v", err)
	}
	t.Cleanup(func() { _ = repo.DeletePattern(ctx, p.ID) })

	all, err := repo.LoadPatterns(ctx)
	if err != nil {
		t.Fatalf("LoadPatterns() error = %v", err)
	}
	var found *domain.ErrorPattern
	for i := range all {
		if all[i].ID == p.ID {
			found = &all[i]
		}
	}
	if found == nil {
		t.Fatalf("LoadPatterns() missing %s", p.ID)
	}
	if len(found.Keywords) != 2 || len(found.StatusCodes) != 1 || found.StatusCodes[0] != 599 {
		t.Errorf("LoadPatterns() pattern = %+v", found)
	}
}
