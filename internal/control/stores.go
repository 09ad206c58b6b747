package control

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Thirteen88/ish-automation-sub001/internal/core/config"
	redisclient "github.com/Thirteen88/ish-automation-sub001/internal/infra/redis"
	"github.com/Thirteen88/ish-automation-sub001/internal/infra/storage/memory"
	"github.com/Thirteen88/ish-automation-sub001/internal/infra/storage/postgres"
	"github.com/Thirteen88/ish-automation-sub001/internal/resilience"
)

// Backend holds the opened storage backend.
type Backend struct {
	Stores resilience.Stores
	DB     *postgres.DB
	Redis  *redisclient.Client
}

// OpenStores connects to the configured storage backend and returns its repositories.
func OpenStores(ctx context.Context, cfg *config.AppConfig) (*Backend, error) {
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		slog.Info("Using PostgreSQL storage")
		return &Backend{
			Stores: resilience.Stores{
				DeadLetters: postgres.NewDeadLetterRepo(db),
				Patterns:    postgres.NewPatternRepo(db),
			},
			DB: db,
		}, nil

	case config.BackendRedis:
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		slog.Info("Using Redis storage")
		return &Backend{
			Stores: resilience.Stores{
				DeadLetters: redisclient.NewDeadLetterRepo(client),
				Patterns:    redisclient.NewPatternRepo(client),
			},
			Redis: client,
		}, nil

	default:
		store := memory.NewMemoryStorage()
		slog.Info("Using Memory storage")
		return &Backend{
			Stores: resilience.Stores{
				DeadLetters: memory.NewDeadLetterRepo(store),
				Patterns:    memory.NewPatternRepo(store),
			},
		}, nil
	}
}

// Close releases backend connections.
func (b *Backend) Close() error {
	var firstErr error
	if b.Redis != nil {
		if err := b.Redis.Close(); err != nil {
			firstErr = err
		}
	}
	if b.DB != nil {
		if err := b.DB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
