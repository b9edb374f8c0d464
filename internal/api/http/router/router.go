package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/dtroode/kurasi/internal/api/http/handler"
	"github.com/dtroode/kurasi/internal/api/http/middleware"
	"github.com/dtroode/kurasi/internal/logger"
	"github.com/dtroode/kurasi/internal/metrics"
)

// Router builds the ops HTTP surface.
type Router struct {
	health   *handler.Health
	metrics  http.Handler
	recorder metrics.Recorder
	logger   *logger.Logger
}

func New(health *handler.Health, metricsHandler http.Handler, recorder metrics.Recorder, logger *logger.Logger) *Router {
	return &Router{
		health:   health,
		metrics:  metricsHandler,
		recorder: recorder,
		logger:   logger,
	}
}

// Register returns the handler serving /healthz and /metrics.
func (r *Router) Register() http.Handler {
	logging := middleware.NewLogging(r.logger, r.recorder)

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(logging.Handle)

	mux.Get("/healthz", r.health.Healthz)
	if r.metrics != nil {
		mux.Method(http.MethodGet, "/metrics", r.metrics)
	}

	return mux
}
