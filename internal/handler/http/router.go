package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/catalogindex/pkg/health"
	"github.com/utafrali/catalogindex/pkg/middleware"
)

// requestTimeout bounds every route except rebuilds, which may run for a
// long time when the caller waits for them.
const requestTimeout = 30 * time.Second

// RouterConfig holds the dependencies of the router.
type RouterConfig struct {
	ServiceName string
	Index       *IndexHandler
	Health      *health.Handler
	Metrics     *middleware.HTTPMetrics
	Gatherer    prometheus.Gatherer
	Logger      *slog.Logger
	// PprofCIDRs enables /debug/pprof for the listed networks when non-empty.
	PprofCIDRs []string
}

// NewRouter creates a chi router with all indexer routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.RequestLogging(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Handler)
	}

	// Health check endpoints
	r.Get("/health/live", cfg.Health.LivenessHandler())
	r.Get("/health/ready", cfg.Health.ReadinessHandler())
	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	if len(cfg.PprofCIDRs) > 0 {
		middleware.RegisterPprof(r, cfg.PprofCIDRs, cfg.Logger)
	}

	r.Route("/api/v1/index", func(r chi.Router) {
		r.With(chimw.Timeout(requestTimeout)).Get("/status", cfg.Index.Status)

		r.Group(func(r chi.Router) {
			r.Use(ContentTypeJSON)
			r.Post("/rebuild", cfg.Index.Rebuild)
			r.With(chimw.Timeout(requestTimeout)).Post("/items", cfg.Index.IndexItem)
		})
	})

	return r
}
