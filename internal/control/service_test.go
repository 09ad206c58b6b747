package control

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thirteen88/ish-automation-sub001/internal/core/config"
	"github.com/Thirteen88/ish-automation-sub001/internal/core/domain"
	"github.com/Thirteen88/ish-automation-sub001/internal/resilience/retry"
)

func testConfig(t *testing.T, content string) *config.AppConfig {
	t.Helper()
	cfg, err := config.Parse([]byte(content))
	require.NoError(t, err)
	return cfg
}

func TestServiceLifecycle(t *testing.T) {
	cfg := testConfig(t, `
platforms:
  - name: claude
    probe:
      type: none
`)
	cfg.Server.Port = 0

	ctx := context.Background()
	svc, err := NewService(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, svc.Start(ctx))

	m := svc.Manager()
	require.Eventually(t, func() bool {
		return m.GetHealthSummary().Overall == domain.HealthHealthy
	}, 2*time.Second, 10*time.Millisecond)

	res, err := m.Execute(ctx, "claude", retry.Operation{
		Name:   "ping",
		Invoke: func(context.Context) (any, error) { return "pong", nil },
	})
	require.NoError(t, err)
	assert.Equal(t, "pong", res.Value)

	_, err = m.Execute(ctx, "claude", retry.Operation{
		Name:   "login",
		Invoke: func(context.Context) (any, error) { return nil, &domain.OperationError{Message: "forbidden", StatusCode: 403} },
	})
	var nonRetryable *domain.NonRetryableError
	require.True(t, errors.As(err, &nonRetryable))

	stats, err := m.GetDeadLetterStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Stop(stopCtx))
}

func TestNewServiceRejectsBadProbe(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Platforms = []config.PlatformConfig{{Name: "x"}}
	cfg.Platforms[0].Probe.Type = "carrier-pigeon"

	_, err := NewService(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "platform x")
}

func TestOpenStoresRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, "redis:\n  url: redis://"+mr.Addr()+"\n")
	require.Equal(t, config.BackendRedis, cfg.Storage.Backend)

	ctx := context.Background()
	backend, err := OpenStores(ctx, cfg)
	require.NoError(t, err)
	defer backend.Close()

	require.NotNil(t, backend.Redis)
	require.NoError(t, backend.Stores.DeadLetters.Append(ctx, domain.DeadLetter{
		ID:            "dl-1",
		Platform:      "claude",
		FirstFailedAt: time.Now(),
		LastFailedAt:  time.Now(),
	}))
	got, err := backend.Stores.DeadLetters.Get(ctx, "dl-1")
	require.NoError(t, err)
	assert.Equal(t, "claude", got.Platform)
}

func TestOpenStoresMemory(t *testing.T) {
	backend, err := OpenStores(context.Background(), testConfig(t, ""))
	require.NoError(t, err)
	assert.Nil(t, backend.DB)
	assert.Nil(t, backend.Redis)
	assert.NotNil(t, backend.Stores.DeadLetters)
	assert.NoError(t, backend.Close())
}
