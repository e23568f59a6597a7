package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/jkindrix/plumbot/internal/circuitbreaker"
)

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BreakerReporter exposes an outbound client's circuit state.
type BreakerReporter interface {
	BreakerState() circuitbreaker.State
}

// ReadinessGate reports whether the instance should receive traffic.
type ReadinessGate interface {
	IsReady() bool
}

// HealthHandler serves the health and probe endpoints.
type HealthHandler struct {
	database Pinger
	cache    Pinger
	ai       BreakerReporter
	whatsapp BreakerReporter
	gate     ReadinessGate
	version  string
	logger   *zap.Logger
}

// HealthHandlerConfig holds configuration for HealthHandler. Nil checks are
// left out of the report.
type HealthHandlerConfig struct {
	Database Pinger
	Cache    Pinger
	AI       BreakerReporter
	WhatsApp BreakerReporter
	// Gate turns readiness off while the process shuts down.
	Gate    ReadinessGate
	Version string
	Logger  *zap.Logger
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg HealthHandlerConfig) *HealthHandler {
	if cfg.Logger == nil {
		panic("logger is required")
	}
	return &HealthHandler{
		database: cfg.Database,
		cache:    cfg.Cache,
		ai:       cfg.AI,
		whatsapp: cfg.WhatsApp,
		gate:     cfg.Gate,
		version:  cfg.Version,
		logger:   cfg.Logger,
	}
}

// RegisterRoutes registers health routes on the router.
func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.HandleHealth)
	r.Get("/ready", h.HandleReadiness)
	r.Get("/live", h.HandleLiveness)
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status  string                     `json:"status"`
	Version string                     `json:"version,omitempty"`
	Checks  map[string]ComponentHealth `json:"checks,omitempty"`
}

// ComponentHealth is the health of one dependency.
type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HandleHealth reports every dependency. The database is critical; the
// cache and the outbound circuits only degrade the service.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "ok", Version: h.version, Checks: make(map[string]ComponentHealth)}
	critical, degraded := false, false

	if h.database != nil {
		if err := h.database.Ping(ctx); err != nil {
			critical = true
			resp.Checks["database"] = ComponentHealth{Status: "unhealthy", Message: err.Error()}
			h.logger.Error("database health check failed", zap.Error(err))
		} else {
			resp.Checks["database"] = ComponentHealth{Status: "healthy"}
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			degraded = true
			resp.Checks["dedupe"] = ComponentHealth{Status: "degraded", Message: err.Error()}
			h.logger.Warn("dedupe store health check failed", zap.Error(err))
		} else {
			resp.Checks["dedupe"] = ComponentHealth{Status: "healthy"}
		}
	}
	for name, b := range map[string]BreakerReporter{"ai_service": h.ai, "whatsapp": h.whatsapp} {
		if b == nil {
			continue
		}
		if state := b.BreakerState(); state != circuitbreaker.StateClosed {
			degraded = true
			resp.Checks[name] = ComponentHealth{Status: "degraded", Message: "circuit breaker " + state.String()}
			continue
		}
		resp.Checks[name] = ComponentHealth{Status: "healthy"}
	}

	status := http.StatusOK
	switch {
	case critical:
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	case degraded:
		resp.Status = "degraded"
	}
	writeJSON(w, r, status, resp)
}

// HandleReadiness checks only the database, the one dependency the
// webhook cannot work without.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	if h.gate != nil && !h.gate.IsReady() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.database != nil {
		if err := h.database.Ping(ctx); err != nil {
			h.logger.Error("readiness check failed", zap.Error(err))
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// HandleLiveness confirms the process is serving.
func (h *HealthHandler) HandleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("alive"))
}
