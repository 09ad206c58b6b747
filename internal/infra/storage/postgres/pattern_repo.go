package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Thirteen88/ish-automation-sub001/internal/core/domain"
	"github.com/Thirteen88/ish-automation-sub001/internal/infra/storage"
)

var _ storage.PatternRepository = (*PatternRepo)(nil)

// PatternRepo stores learned classifier patterns.
type PatternRepo struct {
	db *DB
}

func NewPatternRepo(db *DB) *PatternRepo {
	return &PatternRepo{db: db}
}

func (r *PatternRepo) SavePattern(ctx context.Context, p domain.ErrorPattern) error {
	codes := make([]int64, len(p.StatusCodes))
	for i, c := range p.StatusCodes {
		codes[i] = int64(c)
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO learned_patterns (id, category, status_codes, codes, keywords, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			category = EXCLUDED.category,
			status_codes = EXCLUDED.status_codes,
			codes = EXCLUDED.codes,
			keywords = EXCLUDED.keywords,
			confidence = EXCLUDED.confidence
	`
	_, err := r.db.ExecContext(
		ctx,
		query,
		p.ID,
		string(p.Category),
		pq.Array(codes),
		pq.Array(nonNil(p.Codes)),
		pq.Array(nonNil(p.Keywords)),
		p.Confidence,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save pattern: %w", err)
	}
	return nil
}

func (r *PatternRepo) LoadPatterns(ctx context.Context) ([]domain.ErrorPattern, error) {
	var rows []struct {
		ID          string         `db:"id"`
		Category    string         `db:"category"`
		StatusCodes pq.Int64Array  `db:"status_codes"`
		Codes       pq.StringArray `db:"codes"`
		Keywords    pq.StringArray `db:"keywords"`
		Confidence  float64        `db:"confidence"`
		CreatedAt   time.Time      `db:"created_at"`
	}
	query := `
		SELECT id, category, status_codes, codes, keywords, confidence, created_at
		FROM learned_patterns
		ORDER BY created_at ASC, id ASC
	`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to load patterns: %w", err)
	}

	out := make([]domain.ErrorPattern, 0, len(rows))
	for _, row := range rows {
		p := domain.ErrorPattern{
			ID:         row.ID,
			Category:   domain.Category(row.Category),
			Codes:      []string(row.Codes),
			Keywords:   []string(row.Keywords),
			Confidence: row.Confidence,
			CreatedAt:  row.CreatedAt,
		}
		for _, c := range row.StatusCodes {
			p.StatusCodes = append(p.StatusCodes, int(c))
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *PatternRepo) DeletePattern(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM learned_patterns WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete pattern: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
