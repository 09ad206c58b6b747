package retry

import (
	"math"
	"time"

	"github.com/Thirteen88/ish-automation-sub001/internal/core/domain"
)

// Backoff names a delay progression.
type Backoff string

const (
	BackoffExponential Backoff = "exponential"
	BackoffLinear      Backoff = "linear"
	BackoffFixed       Backoff = "fixed"
	BackoffFibonacci   Backoff = "fibonacci"
	BackoffImmediate   Backoff = "immediate"
)

// Jitter names a randomization applied to a computed delay.
type Jitter string

const (
	JitterNone         Jitter = "none"
	JitterFull         Jitter = "full"
	JitterEqual        Jitter = "equal"
	JitterDecorrelated Jitter = "decorrelated"
)

// Delay computes the un-jittered delay for retry n (0-based) with base b and cap m.
func Delay(kind Backoff, n int, b, m time.Duration) time.Duration {
	if n < 0 {
		n = 0
	}
	switch kind {
	case BackoffImmediate:
		return 0
	case BackoffFixed:
		return b
	case BackoffLinear:
		return capped(float64(b)*float64(n+1), m)
	case BackoffFibonacci:
		return capped(float64(b)*float64(fib(n)), m)
	default:
		return capped(float64(b)*math.Pow(2, float64(n)), m)
	}
}

func capped(d float64, m time.Duration) time.Duration {
	if m > 0 && d > float64(m) {
		return m
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// fib returns 1, 1, 2, 3, 5, ... for n = 0, 1, 2, ...
func fib(n int) int64 {
	a, b := int64(1), int64(1)
	for i := 0; i < n; i++ {
		a, b = b, a+b
		if a > math.MaxInt32 {
			return a
		}
	}
	return a
}

// ApplyJitter randomizes delay. rnd returns a value in [0, 1).
// prev is the previous jittered delay of the sequence and is only used by decorrelated jitter.
func ApplyJitter(kind Jitter, delay, base, prev, maxDelay time.Duration, rnd func() float64) time.Duration {
	switch kind {
	case JitterFull:
		return time.Duration(rnd() * float64(delay))
	case JitterEqual:
		half := float64(delay) / 2
		return time.Duration(half + rnd()*half)
	case JitterDecorrelated:
		if prev < base {
			prev = base
		}
		hi := float64(prev) * 3
		d := time.Duration(float64(base) + rnd()*(hi-float64(base)))
		if maxDelay > 0 && d > maxDelay {
			d = maxDelay
		}
		return d
	default:
		return delay
	}
}

// backoffFor maps a recovery strategy to the delay progression used for it.
func backoffFor(s domain.Strategy, configured Backoff) Backoff {
	switch s {
	case domain.StrategyRetryImmediate:
		return BackoffImmediate
	case domain.StrategyRetryAfterDelay, domain.StrategyRestart:
		return BackoffFixed
	default:
		if configured == "" {
			return BackoffExponential
		}
		return configured
	}
}
