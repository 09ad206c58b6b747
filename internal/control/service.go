package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/Thirteen88/ish-automation-sub001/internal/core/config"
	"github.com/Thirteen88/ish-automation-sub001/internal/core/domain"
	"github.com/Thirteen88/ish-automation-sub001/internal/core/worker"
	"github.com/Thirteen88/ish-automation-sub001/internal/infra/probe"
	"github.com/Thirteen88/ish-automation-sub001/internal/resilience"
	"github.com/Thirteen88/ish-automation-sub001/internal/resilience/events"
	"github.com/Thirteen88/ish-automation-sub001/internal/resilience/health"
)

// Service is the main application struct that manages the resilience lifecycle.
type Service struct {
	cfg          *config.AppConfig
	backend      *Backend
	bus          *events.Bus
	manager      *resilience.Manager
	healthServer *health.Server
	pruner       *worker.Pruner
	probeClosers []func() error
	log          *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a new Service with all dependencies initialized.
func NewService(ctx context.Context, cfg *config.AppConfig) (*Service, error) {
	log := slog.Default().With("component", "service")

	// 1. Initialize Storage
	backend, err := OpenStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// 2. Initialize Event Bus
	bus := events.NewBus(
		events.WithBufferSize(cfg.Events.BufferSize),
		events.WithOnDropped(func(e domain.Event) {
			log.Debug("Event dropped", "event", e.Name, "platform", e.Platform)
		}),
	)
	bus.Subscribe(events.NewLogSubscriber(slog.Default()))
	bus.Subscribe(events.MetricsSubscriber{})
	if cfg.Events.Webhook.URL != "" {
		bus.Subscribe(events.NewWebhookSubscriber(cfg.Events.Webhook))
		log.Info("Event webhook enabled", "url", cfg.Events.Webhook.URL)
	}

	// 3. Initialize Resilience Manager
	manager := resilience.NewManager(cfg.Resilience, backend.Stores, resilience.WithPublisher(bus))

	s := &Service{
		cfg:     cfg,
		backend: backend,
		bus:     bus,
		manager: manager,
		log:     log,
	}

	// 4. Register Platforms
	for _, p := range cfg.Platforms {
		pr, closeProbe, err := probe.New(p.Probe)
		if err != nil {
			_ = bus.Close(ctx)
			s.closeAll()
			return nil, fmt.Errorf("platform %s: failed to create probe: %w", p.Name, err)
		}
		s.probeClosers = append(s.probeClosers, closeProbe)
		manager.RegisterPlatform(resilience.Platform{
			Name:    p.Name,
			Probe:   pr,
			Health:  p.Health,
			Breaker: p.CircuitBreaker,
			Retry:   p.Retry,
		})
		log.Info("Registered platform", "platform", p.Name, "probe", p.Probe.Type)
	}

	// 5. Admin server and maintenance
	s.healthServer = health.NewServer(manager, cfg.Server.Port)
	s.pruner = worker.NewPruner(manager.DeadLetters(), cfg.Storage.MaintenanceInterval, clockwork.NewRealClock())

	return s, nil
}

// Manager returns the resilience manager used to execute operations.
func (s *Service) Manager() *resilience.Manager {
	return s.manager
}

// Start starts the service and all its components.
func (s *Service) Start(ctx context.Context) error {
	if err := s.manager.Start(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	// Start Admin Server
	s.goRun(func() {
		if err := s.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Admin server failed", "error", err)
		}
	})

	// Start Health Monitor
	s.goRun(func() {
		if err := s.manager.RunHealth(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("Health monitor failed", "error", err)
		}
	})

	// Start DB Metrics Collector
	if s.backend.DB != nil {
		s.backend.DB.StartMetricsCollector(ctx)
	}

	// Start Pruner
	s.goRun(func() { s.pruner.Start(ctx) })

	s.log.Info("Service started", "port", s.cfg.Server.Port, "platforms", len(s.cfg.Platforms))
	return nil
}

func (s *Service) goRun(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// Stop stops background work, drains pending events and closes connections.
func (s *Service) Stop(ctx context.Context) error {
	s.log.Info("Stopping service...")

	if s.cancel != nil {
		s.cancel()
	}
	serverErr := s.healthServer.Stop(ctx)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("Background workers did not stop in time")
	}

	if err := s.bus.Close(ctx); err != nil {
		s.log.Warn("Pending events not delivered", "pending", s.bus.Pending(), "error", err)
	}
	s.closeAll()
	return serverErr
}

func (s *Service) closeAll() {
	for _, closeProbe := range s.probeClosers {
		if err := closeProbe(); err != nil {
			s.log.Warn("Failed to close probe", "error", err)
		}
	}
	s.probeClosers = nil
	if err := s.backend.Close(); err != nil {
		s.log.Warn("Failed to close storage", "error", err)
	}
}
