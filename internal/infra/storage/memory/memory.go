package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/Thirteen88/ish-automation-sub001/internal/core/domain"
	"github.com/Thirteen88/ish-automation-sub001/internal/infra/storage"
)

var (
	_ storage.DeadLetterRepository = (*DeadLetterRepo)(nil)
	_ storage.PatternRepository    = (*PatternRepo)(nil)
)

type MemoryStorage struct {
	deadLetters map[string]domain.DeadLetter
	patterns    map[string]domain.ErrorPattern
	mu          sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		deadLetters: make(map[string]domain.DeadLetter),
		patterns:    make(map[string]domain.ErrorPattern),
	}
}

// -----------------------------------------------------------------------------
// Dead Letter Repository
// -----------------------------------------------------------------------------

type DeadLetterRepo struct {
	store *MemoryStorage
}

func NewDeadLetterRepo(store *MemoryStorage) *DeadLetterRepo {
	return &DeadLetterRepo{store: store}
}

func (r *DeadLetterRepo) Append(ctx context.Context, entry domain.DeadLetter) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.deadLetters[entry.ID] = entry
	return nil
}

func (r *DeadLetterRepo) Get(ctx context.Context, id string) (domain.DeadLetter, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	entry, ok := r.store.deadLetters[id]
	if !ok {
		return domain.DeadLetter{}, storage.ErrNotFound
	}
	return entry, nil
}

func (r *DeadLetterRepo) List(ctx context.Context, filter domain.DeadLetterFilter) ([]domain.DeadLetter, error) {
	r.store.mu.RLock()
	out := make([]domain.DeadLetter, 0, len(r.store.deadLetters))
	for _, e := range r.store.deadLetters {
		if filter.Match(e) {
			out = append(out, e)
		}
	}
	r.store.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstFailedAt.Equal(out[j].FirstFailedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].FirstFailedAt.Before(out[j].FirstFailedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *DeadLetterRepo) Delete(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.deadLetters[id]; !ok {
		return storage.ErrNotFound
	}
	delete(r.store.deadLetters, id)
	return nil
}

func (r *DeadLetterRepo) Stats(ctx context.Context) (domain.DeadLetterStats, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	stats := domain.NewDeadLetterStats()
	for _, e := range r.store.deadLetters {
		stats.Add(e)
	}
	return stats, nil
}

// Len returns the number of stored dead letters.
func (r *DeadLetterRepo) Len() int {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return len(r.store.deadLetters)
}

// -----------------------------------------------------------------------------
// Pattern Repository
// -----------------------------------------------------------------------------

type PatternRepo struct {
	store *MemoryStorage
}

func NewPatternRepo(store *MemoryStorage) *PatternRepo {
	return &PatternRepo{store: store}
}

func (r *PatternRepo) SavePattern(ctx context.Context, p domain.ErrorPattern) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.patterns[p.ID] = p
	return nil
}

func (r *PatternRepo) LoadPatterns(ctx context.Context) ([]domain.ErrorPattern, error) {
	r.store.mu.RLock()
	out := make([]domain.ErrorPattern, 0, len(r.store.patterns))
	for _, p := range r.store.patterns {
		out = append(out, p)
	}
	r.store.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *PatternRepo) DeletePattern(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.patterns[id]; !ok {
		return storage.ErrNotFound
	}
	delete(r.store.patterns, id)
	return nil
}
