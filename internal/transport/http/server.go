package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"stitch/internal/config"
	"stitch/internal/middleware"
)

// Dependencies are the read-only sources the status endpoints report on.
type Dependencies struct {
	RunID      string
	Progress   ProgressSource
	Prometheus http.Handler
	Logger     *slog.Logger
}

// NewRouter builds the status routes.
func NewRouter(cfg config.ServerConfig, deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "status_server"))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer(logger))
	if cfg.RPS > 0 {
		r.Use(middleware.NewRateLimiter(cfg.RPS, cfg.Burst, logger).Handler)
	}
	r.Use(middleware.StructuredLogger(logger))

	r.Get("/health", NewHealthHandler(deps.RunID, logger).HealthCheck)
	r.Get("/progress", NewProgressHandler(deps.Progress).GetProgress)
	r.Get("/metrics", NewMetricsHandler(deps.Prometheus).GetMetrics)
	return r
}

// Server is the status HTTP server.
type Server struct {
	srv      *http.Server
	listener net.Listener
	shutdown time.Duration
	logger   *slog.Logger
}

// Listen binds cfg.Addr. Serve must be called to accept requests.
func Listen(cfg config.ServerConfig, deps Dependencies) (*Server, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}
	return &Server{
		srv: &http.Server{
			Handler:      NewRouter(cfg, deps),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		listener: ln,
		shutdown: cfg.ShutdownTimeout,
		logger:   logger.With(slog.String("component", "status_server")),
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve accepts requests until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Status server listening", slog.String("addr", s.Addr()))
		if err := s.srv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown status server: %w", err)
	}
	s.logger.Debug("Status server stopped")
	return nil
}
