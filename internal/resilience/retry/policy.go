package retry

import "time"

// Policy overrides the classifier defaults for a platform. Zero fields keep the default.
type Policy struct {
	// MaxRetries, when set, replaces the per-category retry limit.
	MaxRetries *int          `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	Backoff    Backoff       `yaml:"backoff"`
	Jitter     Jitter        `yaml:"jitter"`
	// AttemptTimeout bounds a single attempt; a timed out attempt classifies as timeout.
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// DefaultPolicy returns the process-wide defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxDelay:       2 * time.Minute,
		Backoff:        BackoffExponential,
		Jitter:         JitterEqual,
		AttemptTimeout: 30 * time.Second,
	}
}

// Merge returns p with every set field of override applied.
func (p Policy) Merge(override Policy) Policy {
	if override.MaxRetries != nil {
		n := *override.MaxRetries
		p.MaxRetries = &n
	}
	if override.BaseDelay > 0 {
		p.BaseDelay = override.BaseDelay
	}
	if override.MaxDelay > 0 {
		p.MaxDelay = override.MaxDelay
	}
	if override.Backoff != "" {
		p.Backoff = override.Backoff
	}
	if override.Jitter != "" {
		p.Jitter = override.Jitter
	}
	if override.AttemptTimeout > 0 {
		p.AttemptTimeout = override.AttemptTimeout
	}
	return p
}

// Retries is a helper for building a Policy with an explicit retry limit.
func Retries(n int) *int {
	return &n
}
