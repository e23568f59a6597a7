package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/jkindrix/plumbot/internal/errors"
	"github.com/jkindrix/plumbot/internal/metrics"
	"github.com/jkindrix/plumbot/internal/middleware"
)

var errNotFoundRoute = apperrors.New(apperrors.CodeNotFound, "route not found")

// RouterConfig collects the handlers and guards mounted by NewRouter. Nil
// handlers are not mounted.
type RouterConfig struct {
	Webhook *WebhookHandler
	Leads   *LeadHandler
	Health  *HealthHandler
	// Media serves stored uploads under /media/.
	Media http.Handler
	// LogLevel serves GET/PUT /admin/log-level.
	LogLevel    http.Handler
	AdminToken  string
	RateLimiter *middleware.RateLimiter
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

// NewRouter builds the HTTP router.
func NewRouter(cfg RouterConfig) chi.Router {
	if cfg.Logger == nil {
		panic("logger is required")
	}
	r := chi.NewRouter()

	// Order matters: correlation IDs first so every later log line has them.
	r.Use(middleware.Correlation)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	if cfg.Health != nil {
		cfg.Health.RegisterRoutes(r)
	}
	if cfg.Webhook != nil {
		cfg.Webhook.RegisterRoutes(r)
	}
	if cfg.Media != nil {
		r.Handle("/media/*", http.StripPrefix("/media", noDirListing(cfg.Media)))
	}

	admin := middleware.AdminToken(cfg.AdminToken, cfg.Logger)
	if cfg.LogLevel != nil {
		r.With(admin).Handle("/admin/log-level", cfg.LogLevel)
	}
	if cfg.Leads != nil {
		r.Route("/api", func(r chi.Router) {
			r.Use(middleware.RateLimit(cfg.RateLimiter))
			r.Use(admin)
			r.Use(chimiddleware.Compress(5))
			r.Use(middleware.BodySizeLimiter(middleware.MaxJSONBodySize))
			cfg.Leads.RegisterRoutes(r)
		})
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, cfg.Logger, errNotFoundRoute)
	})
	return r
}

// noDirListing hides directory indexes so one lead's link does not reveal
// the others.
func noDirListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
