package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/nholik/freshness-sentinel/internal/healthcheck"
	"github.com/nholik/freshness-sentinel/internal/metrics"
	"github.com/nholik/freshness-sentinel/internal/session"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// Targets gives the control API access to the running sessions.
type Targets interface {
	Statuses() []session.Status
	Lookup(name string) (*session.Session, bool)
}

// Options configures the health, status and metrics listeners.
type Options struct {
	CheckInterval time.Duration
	Tracker       *healthcheck.Tracker
	Metrics       *metrics.Metrics
	Targets       Targets
	HealthPort    int
	// MetricsPort of 0 serves /metrics on the health port.
	MetricsPort int
}

// Start launches health and metrics HTTP servers as configured.
func Start(ctx context.Context, logger zerolog.Logger, opts Options) {
	if opts.HealthPort == 0 && opts.MetricsPort == 0 {
		return
	}

	if opts.HealthPort > 0 && (opts.MetricsPort == 0 || opts.MetricsPort == opts.HealthPort) {
		router := NewControlRouter(logger, opts)
		registerMetricsRoute(router, opts.Metrics)
		startServer(ctx, logger, router, opts.HealthPort, "health/metrics")
		return
	}

	if opts.HealthPort > 0 {
		startServer(ctx, logger, NewControlRouter(logger, opts), opts.HealthPort, "health")
	}

	if opts.MetricsPort > 0 {
		router := mux.NewRouter()
		registerMetricsRoute(router, opts.Metrics)
		startServer(ctx, logger, router, opts.MetricsPort, "metrics")
	}
}

// NewControlRouter serves /healthz, /readyz, /status and the per-target
// check, dismiss and refresh actions.
func NewControlRouter(logger zerolog.Logger, opts Options) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", healthcheck.HealthHandler(opts.Tracker, opts.CheckInterval)).Methods(http.MethodGet)
	router.HandleFunc("/readyz", healthcheck.ReadyHandler(opts.Tracker)).Methods(http.MethodGet)

	if opts.Targets != nil {
		h := &controlHandler{logger: logger, targets: opts.Targets}
		router.HandleFunc("/status", h.status).Methods(http.MethodGet)
		router.HandleFunc("/targets/{name}", h.target).Methods(http.MethodGet)
		router.HandleFunc("/targets/{name}/check", h.check).Methods(http.MethodPost)
		router.HandleFunc("/targets/{name}/dismiss", h.dismiss).Methods(http.MethodPost)
		router.HandleFunc("/targets/{name}/refresh", h.refresh).Methods(http.MethodPost)
	}
	return router
}

func registerMetricsRoute(router *mux.Router, metricsCollector *metrics.Metrics) {
	if metricsCollector == nil {
		return
	}
	router.Handle("/metrics", metricsCollector.Handler()).Methods(http.MethodGet)
}

func startServer(ctx context.Context, logger zerolog.Logger, handler http.Handler, port int, label string) {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("server", label).Int("port", port).Msg("http server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("server", label).Int("port", port).Msg("http server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownServer(logger, server, label)
	}()
}

func shutdownServer(logger zerolog.Logger, server *http.Server, label string) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Str("server", label).Str("addr", server.Addr).Msg("http server shutdown failed")
	}
}
