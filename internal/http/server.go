package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/davidbz/heyboss/internal/config"
	"github.com/davidbz/heyboss/internal/http/middleware"
	"github.com/davidbz/heyboss/internal/metrics"
	"github.com/davidbz/heyboss/internal/observability"
)

// Server represents the relay HTTP server.
type Server struct {
	config      config.ServerConfig
	handler     *Handler
	metrics     *metrics.Collector
	middlewares middleware.Middleware
	srv         *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(
	cfg *config.ServerConfig,
	handler *Handler,
	collector *metrics.Collector,
	middlewares middleware.Middleware,
) *Server {
	return &Server{
		config:      *cfg,
		handler:     handler,
		metrics:     collector,
		middlewares: middlewares,
		srv:         nil,
	}
}

// Routes returns the relay routes wrapped in the middleware chain.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/run", s.handler.HandleRun)
	mux.HandleFunc("/health", s.handler.HandleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	return s.middlewares(mux)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:              net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port)),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(s.config.WriteTimeout) * time.Second,
	}

	ctx := context.Background()
	observability.FromContext(ctx).Info("starting HTTP server",
		observability.String("host", s.config.Host),
		observability.Int("port", s.config.Port),
		observability.Bool("file_output", s.config.OutputDir != ""),
	)

	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	observability.FromContext(ctx).Info("shutting down HTTP server")

	if s.srv == nil {
		return nil
	}

	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	return nil
}
