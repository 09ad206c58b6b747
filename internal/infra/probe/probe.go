// Package probe provides health probe collaborators for the health monitor.
package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/Thirteen88/ish-automation-sub001/internal/resilience/health"
)

// Config selects and configures a probe.
type Config struct {
	// Type is "http", "grpc" or "none".
	Type    string        `yaml:"type"`
	Target  string        `yaml:"target"`
	Service string        `yaml:"service"`
	Timeout time.Duration `yaml:"timeout"`
}

// New builds the probe described by cfg. The returned close function releases its
// connection and is never nil.
func New(cfg Config) (health.Probe, func() error, error) {
	noop := func() error { return nil }
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	switch cfg.Type {
	case "http":
		return NewHTTPProbe(cfg.Target, timeout), noop, nil
	case "grpc":
		p, err := NewGRPCProbe(cfg.Target, cfg.Service)
		if err != nil {
			return nil, noop, err
		}
		return p, p.Close, nil
	case "", "none":
		return Static(true), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown probe type %q", cfg.Type)
	}
}

// Static always reports the same result.
type Static bool

func (s Static) Check(context.Context) (bool, error) { return bool(s), nil }
