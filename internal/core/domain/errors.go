package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrPlatformNotFound       = errors.New("platform not found")
	ErrClassificationNotFound = errors.New("classification not found")
	ErrEntryNotFound          = errors.New("dead letter entry not found")
	ErrInvalidTransition      = errors.New("invalid state transition")
	ErrPlatformRequired       = errors.New("platform name is required")
)

// CircuitOpenError is returned when the platform circuit rejects the attempt.
type CircuitOpenError struct {
	Platform string
	State    CircuitState
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit %s for platform %s", e.State, e.Platform)
}

// HealthDisabledError is returned when the platform was disabled by the health monitor.
type HealthDisabledError struct {
	Platform string
}

func (e *HealthDisabledError) Error() string {
	return fmt.Sprintf("platform %s is disabled", e.Platform)
}

// BudgetExhaustedError is returned when the global retry budget denied a retry.
type BudgetExhaustedError struct {
	Platform  string
	Window    string
	Attempts  int
	RetryAt   time.Time
	LastError ClassifiedError
}

func (e *BudgetExhaustedError) Error() string {
	return fmt.Sprintf("retry budget exhausted (%s window) for platform %s after %d attempts: %v",
		e.Window, e.Platform, e.Attempts, e.LastError)
}

func (e *BudgetExhaustedError) Unwrap() error { return e.LastError }

// NonRetryableError is returned when the failure was classified as not worth retrying.
type NonRetryableError struct {
	Platform  string
	Attempts  int
	LastError ClassifiedError
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable failure on platform %s: %v", e.Platform, e.LastError)
}

func (e *NonRetryableError) Unwrap() error { return e.LastError }

// RetriesExhaustedError is returned when the retry limit for the failure was reached.
type RetriesExhaustedError struct {
	Platform  string
	Attempts  int
	LastError ClassifiedError
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts on platform %s: %v", e.Attempts, e.Platform, e.LastError)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.LastError }
