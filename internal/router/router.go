package router

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BerylCAtieno/medical-report-analyzer/internal/handlers"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/middleware"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/tracing"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/utils"
)

type Options struct {
	MaxUploadBytes int64

	// RateLimiter guards the analysis routes when set.
	RateLimiter *middleware.RateLimiter

	// Metrics serves /metrics when set.
	Metrics http.Handler
}

func NewRouter(reports *handlers.ReportHandler, health *handlers.HealthHandler, opts Options, logger *utils.Logger) http.Handler {
	r := mux.NewRouter()

	// Middlewares
	r.Use(tracing.Middleware)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS())
	r.Use(middleware.Recovery(logger))

	r.NotFoundHandler = http.HandlerFunc(reports.NotFound)

	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", health.Health).Methods(http.MethodGet)

	analysis := api.PathPrefix("/reports").Subrouter()
	if opts.RateLimiter != nil {
		analysis.Use(opts.RateLimiter.Limit)
	}
	// OPTIONS is listed so CORS preflight reaches the middleware chain.
	analysis.HandleFunc("/analyze", reports.AnalyzeReport).Methods(http.MethodPost, http.MethodOptions)
	analysis.HandleFunc("/upload", reports.UploadReport).Methods(http.MethodPost, http.MethodOptions)

	return r
}

// MetricsHandler exposes the default Prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
