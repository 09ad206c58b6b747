package domain

import (
	"fmt"
	"time"
)

// SourceError is the normalized view of a raw failure.
type SourceError struct {
	Message    string `json:"message"`
	StatusCode int    `json:"status_code,omitempty"`
	Code       string `json:"code,omitempty"`
}

// ClassifiedError is produced once per failure and never mutated afterwards.
type ClassifiedError struct {
	ID         string        `json:"id"`
	Category   Category      `json:"category"`
	Confidence float64       `json:"confidence"`
	Strategy   Strategy      `json:"strategy"`
	Retryable  bool          `json:"retryable"`
	RetryDelay time.Duration `json:"retry_delay"`
	MaxRetries int           `json:"max_retries"`
	Source     SourceError   `json:"source"`
	Platform   string        `json:"platform,omitempty"`
	Operation  string        `json:"operation,omitempty"`
	// PatternID names the pattern that matched, empty for unmatched or learned overrides.
	PatternID    string    `json:"pattern_id,omitempty"`
	Learned      bool      `json:"learned,omitempty"`
	ClassifiedAt time.Time `json:"classified_at"`

	cause error
}

// WithCause returns a copy of c that unwraps to err.
func (c ClassifiedError) WithCause(err error) ClassifiedError {
	c.cause = err
	return c
}

func (c ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %s", c.Category, c.Source.Message)
}

func (c ClassifiedError) Unwrap() error {
	return c.cause
}

// OperationError lets an operation report a status code and error code alongside its message.
type OperationError struct {
	Message    string
	StatusCode int
	Code       string
	Err        error
}

func (e *OperationError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Code != "":
		return fmt.Sprintf("%s (status %d, code %s)", e.Message, e.StatusCode, e.Code)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
	case e.Code != "":
		return fmt.Sprintf("%s (code %s)", e.Message, e.Code)
	}
	return e.Message
}

func (e *OperationError) Unwrap() error { return e.Err }
