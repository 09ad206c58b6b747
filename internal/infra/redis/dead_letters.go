package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Thirteen88/ish-automation-sub001/internal/core/domain"
	"github.com/Thirteen88/ish-automation-sub001/internal/infra/storage"
)

var _ storage.DeadLetterRepository = (*DeadLetterRepo)(nil)

// DeadLetterRepo implements DeadLetterRepository using Redis.
//
// Each entry is a JSON string without expiry. A sorted set indexes the IDs by first failure
// time so listing is oldest first.
type DeadLetterRepo struct {
	client *Client
	rdb    *redis.Client
}

// NewDeadLetterRepo creates a new Redis-backed dead letter repository.
func NewDeadLetterRepo(client *Client) *DeadLetterRepo {
	return &DeadLetterRepo{
		client: client,
		rdb:    client.rdb,
	}
}

func (r *DeadLetterRepo) indexKey() string {
	return r.client.key("dead_letters")
}

func (r *DeadLetterRepo) entryKey(id string) string {
	return r.client.key("dead_letter", id)
}

// Append stores the entry and indexes it.
func (r *DeadLetterRepo) Append(ctx context.Context, entry domain.DeadLetter) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.entryKey(entry.ID), data, 0)
		pipe.ZAdd(ctx, r.indexKey(), redis.Z{
			Score:  float64(entry.FirstFailedAt.UnixMilli()),
			Member: entry.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store dead letter: %w", err)
	}
	return nil
}

// Get retrieves a dead letter by ID.
func (r *DeadLetterRepo) Get(ctx context.Context, id string) (domain.DeadLetter, error) {
	data, err := r.rdb.Get(ctx, r.entryKey(id)).Bytes()
	if err == redis.Nil {
		return domain.DeadLetter{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.DeadLetter{}, fmt.Errorf("failed to get dead letter: %w", err)
	}

	var entry domain.DeadLetter
	if err := json.Unmarshal(data, &entry); err != nil {
		return domain.DeadLetter{}, fmt.Errorf("failed to unmarshal dead letter: %w", err)
	}
	return entry, nil
}

// List returns entries matching the filter, oldest first.
func (r *DeadLetterRepo) List(ctx context.Context, filter domain.DeadLetterFilter) ([]domain.DeadLetter, error) {
	ids, err := r.rdb.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.entryKey(id)
	}
	values, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget failed: %w", err)
	}

	entries := make([]domain.DeadLetter, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Data gone but ID still indexed, drop it
			r.rdb.ZRem(ctx, r.indexKey(), ids[i])
			continue
		}
		var entry domain.DeadLetter
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		if !filter.Match(entry) {
			continue
		}
		entries = append(entries, entry)
		if filter.Limit > 0 && len(entries) == filter.Limit {
			break
		}
	}
	return entries, nil
}

// Delete removes a dead letter.
func (r *DeadLetterRepo) Delete(ctx context.Context, id string) error {
	removed, err := r.rdb.ZRem(ctx, r.indexKey(), id).Result()
	if err != nil {
		return fmt.Errorf("failed to remove from index: %w", err)
	}
	deleted, err := r.rdb.Del(ctx, r.entryKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete dead letter: %w", err)
	}
	if removed == 0 && deleted == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Stats counts stored entries.
func (r *DeadLetterRepo) Stats(ctx context.Context) (domain.DeadLetterStats, error) {
	stats := domain.NewDeadLetterStats()
	entries, err := r.List(ctx, domain.DeadLetterFilter{})
	if err != nil {
		return stats, err
	}
	for _, e := range entries {
		stats.Add(e)
	}
	return stats, nil
}
