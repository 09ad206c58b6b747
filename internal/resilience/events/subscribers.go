package events

import (
	"context"
	"log/slog"

	"github.com/Thirteen88/ish-automation-sub001/internal/core/domain"
	"github.com/Thirteen88/ish-automation-sub001/internal/resilience/metrics"
)

// LogSubscriber writes events through slog at a level derived from severity.
type LogSubscriber struct {
	log *slog.Logger
}

// NewLogSubscriber creates a log subscriber. A nil logger uses slog.Default().
func NewLogSubscriber(log *slog.Logger) *LogSubscriber {
	if log == nil {
		log = slog.Default()
	}
	return &LogSubscriber{log: log}
}

func (s *LogSubscriber) Handle(ctx context.Context, event domain.Event) {
	level := slog.LevelInfo
	switch event.Severity {
	case domain.SeverityWarning:
		level = slog.LevelWarn
	case domain.SeverityCritical:
		level = slog.LevelError
	}

	attrs := []any{
		"event", event.Name,
		"category", event.Category,
		"severity", event.Severity,
	}
	if event.Platform != "" {
		attrs = append(attrs, "platform", event.Platform)
	}
	for k, v := range event.Context {
		attrs = append(attrs, k, v)
	}
	s.log.Log(ctx, level, event.Message, attrs...)
}

// MetricsSubscriber counts delivered events.
type MetricsSubscriber struct{}

func (MetricsSubscriber) Handle(_ context.Context, event domain.Event) {
	metrics.EventsPublished.WithLabelValues(string(event.Name), string(event.Severity)).Inc()
}
