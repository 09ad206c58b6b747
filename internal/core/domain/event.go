package domain

import "time"

// Severity of an emitted event or alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// EventCategory groups events by the component that produced them.
type EventCategory string

const (
	EventCategoryCircuit   EventCategory = "circuit"
	EventCategoryRetry     EventCategory = "retry"
	EventCategoryExecution EventCategory = "execution"
	EventCategoryHealth    EventCategory = "health"
	EventCategoryDLQ       EventCategory = "dlq"
	EventCategoryClassify  EventCategory = "classifier"
)

// EventName identifies a structured event.
type EventName string

const (
	EventCircuitOpen      EventName = "circuit-open"
	EventCircuitHalfOpen  EventName = "circuit-half-open"
	EventCircuitClosed    EventName = "circuit-closed"
	EventRetryScheduled   EventName = "retry-scheduled"
	EventBudgetExhausted  EventName = "budget-exhausted"
	EventExecuteSucceeded EventName = "execute-succeeded"
	EventExecuteFailed    EventName = "execute-failed"
	EventExecuteRejected  EventName = "execute-rejected"
	EventHealthTransition EventName = "health-transition"
	EventDeadLettered     EventName = "dead-lettered"
	EventDLQDepth         EventName = "dlq-depth"
	EventPatternLearned   EventName = "pattern-learned"
)

// Event is the record handed to external logging, metrics and notification collaborators.
type Event struct {
	ID        string         `json:"id"`
	Name      EventName      `json:"name"`
	Category  EventCategory  `json:"category"`
	Platform  string         `json:"platform,omitempty"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Context   map[string]any `json:"context,omitempty"`
}
