package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/Thirteen88/ish-automation-sub001/internal/core/domain"
	"github.com/Thirteen88/ish-automation-sub001/internal/infra/storage"
)

var _ storage.DeadLetterRepository = (*DeadLetterRepo)(nil)

// DeadLetterRepo implements storage.DeadLetterRepository using PostgreSQL.
type DeadLetterRepo struct {
	db *DB
}

// NewDeadLetterRepo creates a new PostgreSQL dead letter repository.
func NewDeadLetterRepo(db *DB) *DeadLetterRepo {
	return &DeadLetterRepo{db: db}
}

type deadLetterRow struct {
	ID              string         `db:"id"`
	Platform        string         `db:"platform"`
	Operation       string         `db:"operation"`
	Category        string         `db:"category"`
	Request         sql.NullString `db:"request"`
	ClassifiedError []byte         `db:"classified_error"`
	AttemptsMade    int            `db:"attempts_made"`
	FirstFailedAt   time.Time      `db:"first_failed_at"`
	LastFailedAt    time.Time      `db:"last_failed_at"`
}

func (row deadLetterRow) toDomain() (domain.DeadLetter, error) {
	entry := domain.DeadLetter{
		ID:            row.ID,
		Platform:      row.Platform,
		Operation:     row.Operation,
		AttemptsMade:  row.AttemptsMade,
		FirstFailedAt: row.FirstFailedAt,
		LastFailedAt:  row.LastFailedAt,
	}
	if row.Request.Valid {
		entry.Request = json.RawMessage(row.Request.String)
	}
	if err := json.Unmarshal(row.ClassifiedError, &entry.ClassifiedError); err != nil {
		return domain.DeadLetter{}, fmt.Errorf("failed to unmarshal classified error: %w", err)
	}
	return entry, nil
}

const deadLetterColumns = `id, platform, operation, category, request, classified_error,
	attempts_made, first_failed_at, last_failed_at`

// Append inserts the entry, replacing an existing row with the same ID.
func (r *DeadLetterRepo) Append(ctx context.Context, entry domain.DeadLetter) error {
	classified, err := json.Marshal(entry.ClassifiedError)
	if err != nil {
		return fmt.Errorf("failed to marshal classified error: %w", err)
	}
	var request any
	if len(entry.Request) > 0 {
		request = string(entry.Request)
	}

	query := `
		INSERT INTO dead_letters (` + deadLetterColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			classified_error = EXCLUDED.classified_error,
			attempts_made = EXCLUDED.attempts_made,
			last_failed_at = EXCLUDED.last_failed_at
	`
	_, err = r.db.ExecContext(
		ctx,
		query,
		entry.ID,
		entry.Platform,
		entry.Operation,
		string(entry.ClassifiedError.Category),
		request,
		classified,
		entry.AttemptsMade,
		entry.FirstFailedAt,
		entry.LastFailedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add dead letter: %w", err)
	}
	return nil
}

// Get retrieves a dead letter by ID.
func (r *DeadLetterRepo) Get(ctx context.Context, id string) (domain.DeadLetter, error) {
	var row deadLetterRow
	query := `SELECT ` + deadLetterColumns + ` FROM dead_letters WHERE id = $1`
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.DeadLetter{}, storage.ErrNotFound
		}
		return domain.DeadLetter{}, fmt.Errorf("failed to get dead letter: %w", err)
	}
	return row.toDomain()
}

// List returns entries matching the filter, oldest first.
func (r *DeadLetterRepo) List(ctx context.Context, filter domain.DeadLetterFilter) ([]domain.DeadLetter, error) {
	where, args := filterClause(filter)
	query := `SELECT ` + deadLetterColumns + ` FROM dead_letters` + where +
		` ORDER BY first_failed_at ASC, id ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var rows []deadLetterRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}

	entries := make([]domain.DeadLetter, 0, len(rows))
	for _, row := range rows {
		entry, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func filterClause(filter domain.DeadLetterFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if filter.Platform != "" {
		args = append(args, filter.Platform)
		conds = append(conds, fmt.Sprintf("platform = $%d", len(args)))
	}
	if len(filter.Categories) > 0 {
		cats := make([]string, len(filter.Categories))
		for i, c := range filter.Categories {
			cats[i] = string(c)
		}
		args = append(args, pq.Array(cats))
		conds = append(conds, fmt.Sprintf("category = ANY($%d)", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		conds = append(conds, fmt.Sprintf("last_failed_at >= $%d", len(args)))
	}
	if !filter.Before.IsZero() {
		args = append(args, filter.Before)
		conds = append(conds, fmt.Sprintf("last_failed_at < $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Delete removes a dead letter.
func (r *DeadLetterRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete dead letter: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete dead letter: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Stats counts stored entries by platform and category.
func (r *DeadLetterRepo) Stats(ctx context.Context) (domain.DeadLetterStats, error) {
	stats := domain.NewDeadLetterStats()

	var groups []struct {
		Platform string    `db:"platform"`
		Category string    `db:"category"`
		Count    int       `db:"count"`
		Oldest   time.Time `db:"oldest"`
	}
	query := `
		SELECT platform, category, COUNT(*) AS count, MIN(first_failed_at) AS oldest
		FROM dead_letters
		GROUP BY platform, category
	`
	if err := r.db.SelectContext(ctx, &groups, query); err != nil {
		return stats, fmt.Errorf("failed to count dead letters: %w", err)
	}

	for _, g := range groups {
		stats.Total += g.Count
		stats.ByPlatform[g.Platform] += g.Count
		stats.ByCategory[domain.Category(g.Category)] += g.Count
		if stats.Oldest.IsZero() || g.Oldest.Before(stats.Oldest) {
			stats.Oldest = g.Oldest
		}
	}
	return stats, nil
}
