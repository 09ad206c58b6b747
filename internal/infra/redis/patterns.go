package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/Thirteen88/ish-automation-sub001/internal/core/domain"
	"github.com/Thirteen88/ish-automation-sub001/internal/infra/storage"
)

var _ storage.PatternRepository = (*PatternRepo)(nil)

// PatternRepo keeps learned classifier patterns in a single hash keyed by pattern ID.
type PatternRepo struct {
	rdb *redis.Client
	key string
}

func NewPatternRepo(client *Client) *PatternRepo {
	return &PatternRepo{rdb: client.rdb, key: client.key("patterns")}
}

func (r *PatternRepo) SavePattern(ctx context.Context, p domain.ErrorPattern) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal pattern: %w", err)
	}
	if err := r.rdb.HSet(ctx, r.key, p.ID, data).Err(); err != nil {
		return fmt.Errorf("hset failed: %w", err)
	}
	return nil
}

func (r *PatternRepo) LoadPatterns(ctx context.Context) ([]domain.ErrorPattern, error) {
	all, err := r.rdb.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall failed: %w", err)
	}

	out := make([]domain.ErrorPattern, 0, len(all))
	for id, raw := range all {
		var p domain.ErrorPattern
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pattern %s: %w", id, err)
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *PatternRepo) DeletePattern(ctx context.Context, id string) error {
	n, err := r.rdb.HDel(ctx, r.key, id).Result()
	if err != nil {
		return fmt.Errorf("hdel failed: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
