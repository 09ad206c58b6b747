package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Thirteen88/ish-automation-sub001/internal/core/domain"
	"github.com/Thirteen88/ish-automation-sub001/internal/resilience/breaker"
	"github.com/Thirteen88/ish-automation-sub001/internal/resilience/budget"
)

// Backend is the resilience surface exposed by the admin server.
type Backend interface {
	GetHealthSummary() Summary
	GetBudgetStatus() budget.Status
	GetCircuits() []breaker.Snapshot
	GetDeadLetterStats(ctx context.Context) (domain.DeadLetterStats, error)
	ListDeadLetters(ctx context.Context, filter domain.DeadLetterFilter) ([]domain.DeadLetter, error)
	ResetCircuit(platform string) error
	EnablePlatform(platform string) error
}

// Server provides HTTP endpoints for health monitoring and operator actions.
type Server struct {
	backend Backend
	server  *http.Server
}

// NewServer creates a new admin server.
func NewServer(backend Backend, port int) *Server {
	s := &Server{backend: backend}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/detailed", s.handleDetailed)
	mux.HandleFunc("GET /budget", s.handleBudget)
	mux.HandleFunc("GET /circuits", s.handleCircuits)
	mux.HandleFunc("GET /dlq", s.handleDLQ)
	mux.HandleFunc("POST /circuits/{platform}/reset", s.handleResetCircuit)
	mux.HandleFunc("POST /platforms/{platform}/enable", s.handleEnable)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sum := s.backend.GetHealthSummary()

	code := http.StatusOK
	if sum.Overall == domain.HealthUnhealthy || sum.Overall == domain.HealthDisabled {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": string(sum.Overall)})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.GetHealthSummary())
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.GetBudgetStatus())
}

func (s *Server) handleCircuits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.GetCircuits())
}

// handleDLQ returns stats, plus entries when ?list=true. Filters: platform, category, limit.
func (s *Server) handleDLQ(w http.ResponseWriter, r *http.Request) {
	stats, err := s.backend.GetDeadLetterStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := map[string]any{"stats": stats}

	q := r.URL.Query()
	if q.Get("list") == "true" {
		filter := domain.DeadLetterFilter{Platform: q.Get("platform"), Limit: 100}
		if c := q.Get("category"); c != "" {
			filter.Categories = []domain.Category{domain.Category(c)}
		}
		if l := q.Get("limit"); l != "" {
			n, err := strconv.Atoi(l)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", l))
				return
			}
			filter.Limit = n
		}
		entries, err := s.backend.ListDeadLetters(r.Context(), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		resp["entries"] = entries
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResetCircuit(w http.ResponseWriter, r *http.Request) {
	platform := r.PathValue("platform")
	if err := s.backend.ResetCircuit(platform); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"platform": platform, "circuit": string(domain.CircuitClosed)})
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	platform := r.PathValue("platform")
	if err := s.backend.EnablePlatform(platform); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"platform": platform, "status": string(domain.HealthUnknown)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrPlatformNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
