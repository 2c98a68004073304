// File: internal/server/server.go
// Description: The query boundary. Serves event-range and analytics requests
// against the graph engine, result cache and metrics calculator, enforcing
// credential checks and per-credential rate limits before any engine work.

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/capgraph/api/schemas"
	"github.com/xkilldash9x/capgraph/internal/analytics"
	"github.com/xkilldash9x/capgraph/internal/config"
	"github.com/xkilldash9x/capgraph/internal/graph"
	"github.com/xkilldash9x/capgraph/internal/validator"
)

// Server is the HTTP query service.
type Server struct {
	cfg            config.ServerConfig
	computeTimeout time.Duration
	log            *zap.Logger

	engine    *graph.Engine
	calc      *analytics.Calculator
	cache     schemas.ResultCache
	snapshots schemas.SnapshotStore
	queue     schemas.IngestionQueue
	validator *validator.Validator

	limiters *limiterRegistry
	// flight deduplicates concurrent cache misses for the same analytics
	// key; all waiters share one computation.
	flight singleflight.Group

	httpSrv *http.Server
}

// Deps bundles the engine components the server reads from.
type Deps struct {
	Engine    *graph.Engine
	Calc      *analytics.Calculator
	Cache     schemas.ResultCache
	Snapshots schemas.SnapshotStore
	Queue     schemas.IngestionQueue
	Validator *validator.Validator
}

// New builds the server and its routes.
func New(cfg config.ServerConfig, computeTimeout time.Duration, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:            cfg,
		computeTimeout: computeTimeout,
		log:            logger.Named("QueryService"),
		engine:         deps.Engine,
		calc:           deps.Calc,
		cache:          deps.Cache,
		snapshots:      deps.Snapshots,
		queue:          deps.Queue,
		validator:      deps.Validator,
		limiters:       newLimiterRegistry(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}

	mux := http.NewServeMux()
	mux.Handle("GET /api/v1/events", s.protected(http.HandlerFunc(s.handleGetEvents)))
	mux.Handle("POST /api/v1/events", s.protected(http.HandlerFunc(s.handleIngest)))
	mux.Handle("GET /api/v1/analytics", s.protected(http.HandlerFunc(s.handleAnalytics)))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	s.httpSrv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.recoveryMiddleware(s.loggingMiddleware(mux)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// protected wraps a handler with credential verification and per-credential
// rate limiting, in that order.
func (s *Server) protected(next http.Handler) http.Handler {
	return s.authMiddleware(s.rateLimitMiddleware(next))
}

// ListenAndServe runs the HTTP listener until Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Info("Query service listening", zap.String("addr", s.cfg.Addr))
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests within the configured grace period.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}
