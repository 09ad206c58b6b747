package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/Thirteen88/ish-automation-sub001/internal/core/domain"
)

// WebhookConfig configures outbound event delivery.
type WebhookConfig struct {
	URL           string        `yaml:"url"`
	Timeout       time.Duration `yaml:"timeout"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
	// MinSeverity filters out events below this severity. Empty sends everything.
	MinSeverity domain.Severity `yaml:"min_severity"`
}

// WebhookSubscriber posts events as JSON to an external endpoint.
type WebhookSubscriber struct {
	cfg     WebhookConfig
	client  *http.Client
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker
	log     *slog.Logger
}

// NewWebhookSubscriber creates a webhook subscriber with its own delivery breaker.
func NewWebhookSubscriber(cfg WebhookConfig) *WebhookSubscriber {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}

	log := slog.Default().With("component", "webhook")
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "event-webhook",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Webhook breaker state changed", "from", from.String(), "to", to.String())
		},
	})

	return &WebhookSubscriber{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		cb:      cb,
		log:     log,
	}
}

func (w *WebhookSubscriber) Handle(ctx context.Context, event domain.Event) {
	if !severityAtLeast(event.Severity, w.cfg.MinSeverity) {
		return
	}
	if !w.limiter.Allow() {
		w.log.Debug("Webhook rate limited, dropping event", "event", event.Name)
		return
	}

	_, err := w.cb.Execute(func() (interface{}, error) {
		return nil, w.send(ctx, event)
	})
	if err != nil {
		w.log.Warn("Failed to deliver event", "event", event.Name, "error", err)
	}
}

func (w *WebhookSubscriber) send(ctx context.Context, event domain.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func severityAtLeast(s, floor domain.Severity) bool {
	rank := map[domain.Severity]int{
		domain.SeverityInfo:     0,
		domain.SeverityWarning:  1,
		domain.SeverityCritical: 2,
	}
	if floor == "" {
		return true
	}
	return rank[s] >= rank[floor]
}
