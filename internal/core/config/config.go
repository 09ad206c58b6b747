package config

import (
	"time"

	redisclient "github.com/Thirteen88/ish-automation-sub001/internal/infra/redis"
	"github.com/Thirteen88/ish-automation-sub001/internal/infra/probe"
	"github.com/Thirteen88/ish-automation-sub001/internal/infra/storage/postgres"
	"github.com/Thirteen88/ish-automation-sub001/internal/resilience"
	"github.com/Thirteen88/ish-automation-sub001/internal/resilience/breaker"
	"github.com/Thirteen88/ish-automation-sub001/internal/resilience/events"
	"github.com/Thirteen88/ish-automation-sub001/internal/resilience/health"
	"github.com/Thirteen88/ish-automation-sub001/internal/resilience/retry"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server     ServerConfig       `yaml:"server"`
	Logging    LoggingConfig      `yaml:"logging"`
	Storage    StorageConfig      `yaml:"storage"`
	Redis      redisclient.Config `yaml:"redis"`
	Database   postgres.Config    `yaml:"database"`
	Resilience resilience.Config  `yaml:"resilience"`
	Events     EventsConfig       `yaml:"events"`
	Platforms  []PlatformConfig   `yaml:"platforms"`
}

// ServerConfig holds admin HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// StorageConfig selects where dead letters and learned patterns live.
type StorageConfig struct {
	// Backend is memory, redis or postgres. Empty picks postgres when a database URL is
	// set, then redis when a redis URL is set, then memory.
	Backend string `yaml:"backend"`
	// MaintenanceInterval is how often the dead letter queue is pruned and resynced.
	MaintenanceInterval time.Duration `yaml:"maintenance_interval"`
}

// EventsConfig configures the event bus and its outbound webhook.
type EventsConfig struct {
	BufferSize int                  `yaml:"buffer_size"`
	Webhook    events.WebhookConfig `yaml:"webhook"`
}

// PlatformConfig holds settings for one automated platform.
type PlatformConfig struct {
	Name           string         `yaml:"name"`
	Probe          probe.Config   `yaml:"probe"`
	Health         health.Config  `yaml:"health"`
	CircuitBreaker breaker.Config `yaml:"circuit_breaker"`
	Retry          retry.Policy   `yaml:"retry"`
}
