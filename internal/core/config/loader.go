package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/Thirteen88/ish-automation-sub001/internal/resilience"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration over the defaults and validates it.
func Parse(data []byte) (*AppConfig, error) {
	cfg := AppConfig{Resilience: resilience.DefaultConfig()}
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if necessary
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Storage.Backend == "" {
		switch {
		case cfg.Database.URL != "":
			cfg.Storage.Backend = BackendPostgres
		case cfg.Redis.URL != "":
			cfg.Storage.Backend = BackendRedis
		default:
			cfg.Storage.Backend = BackendMemory
		}
	}
	if cfg.Storage.MaintenanceInterval == 0 {
		cfg.Storage.MaintenanceInterval = time.Minute
	}
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 1024
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first inconsistency in cfg.
func (c *AppConfig) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("storage backend %q requires redis.url", c.Storage.Backend)
		}
	case BackendPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("storage backend %q requires database.url", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	seen := make(map[string]struct{}, len(c.Platforms))
	for i, p := range c.Platforms {
		if p.Name == "" {
			return fmt.Errorf("platforms[%d]: name is required", i)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("platforms[%d]: duplicate platform %q", i, p.Name)
		}
		seen[p.Name] = struct{}{}
		switch p.Probe.Type {
		case "", "none":
		case "http", "grpc":
			if p.Probe.Target == "" {
				return fmt.Errorf("platform %s: %s probe requires a target", p.Name, p.Probe.Type)
			}
		default:
			return fmt.Errorf("platform %s: unknown probe type %q", p.Name, p.Probe.Type)
		}
	}
	return nil
}
