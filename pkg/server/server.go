// Package server exposes the moderator over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/polis-moderation/internal/ratelimit"
	"github.com/polisai/polis-moderation/pkg/config"
	"github.com/polisai/polis-moderation/pkg/service"
	"github.com/polisai/polis-moderation/pkg/telemetry"
)

// Server is the moderation HTTP API.
type Server struct {
	moderator *service.Moderator
	metrics   *telemetry.Metrics
	limiter   *ratelimit.Limiter
	cfg       config.ServerConfig
	logger    *slog.Logger

	server  *http.Server
	mu      sync.Mutex
	running bool
}

// New builds the server and its routes. A nil metrics instance disables /metrics.
func New(cfg config.ServerConfig, moderator *service.Moderator, metrics *telemetry.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		moderator: moderator,
		metrics:   metrics,
		limiter:   ratelimit.New(cfg.RateLimits),
		cfg:       cfg,
		logger:    logger,
	}

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	var handler http.Handler = mux
	handler = s.requestID(handler)
	if s.metrics != nil {
		handler = s.metrics.Middleware(handler)
	}
	return otelhttp.NewHandler(handler, "moderation.http")
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.Handle("POST /v1/moderate", s.limited("moderate", s.handleModerate))
	mux.Handle("POST /v1/moderate/batch", s.limited("moderate_batch", s.handleBatch))
	mux.Handle("GET /v1/tables", s.limited("tables", s.handleTables))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

// limited applies the endpoint's token bucket, answering 429 when it is empty.
func (s *Server) limited(endpoint string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, state, ok := s.limiter.Allow(endpoint)
		if ok {
			state.WriteHeaders(w, allowed)
		}
		if !allowed {
			writeError(w, r, http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded for "+endpoint)
			return
		}
		h(w, r)
	})
}

// SetRateLimits replaces the per-endpoint limits at runtime.
func (s *Server) SetRateLimits(limits map[string]ratelimit.Limit) {
	s.limiter.Configure(limits)
}

// Start listens on the configured address and blocks until Stop is called.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("Starting moderation server", "addr", s.cfg.Address, "tls", s.cfg.CertFile != "")

	var err error
	if s.cfg.CertFile != "" {
		err = s.server.ListenAndServeTLS(s.cfg.CertFile, s.cfg.KeyFile)
	} else {
		err = s.server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false
	return s.server.Shutdown(ctx)
}
