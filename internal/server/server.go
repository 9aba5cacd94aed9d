// Package server wires the relay hub, health endpoint and middleware into an HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iudanet/cartsync/internal/server/handlers"
	"github.com/iudanet/cartsync/internal/server/middleware"
	"github.com/iudanet/cartsync/internal/server/relay"
	"github.com/iudanet/cartsync/pkg/api"
)

// Config параметры relay-сервера
type Config struct {
	Addr            string
	Version         string
	OriginPatterns  []string
	RateLimit       int
	RateWindow      time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the loopback configuration
func DefaultConfig() Config {
	return Config{
		Addr:            "127.0.0.1:8080",
		Version:         "dev",
		RateLimit:       60,
		RateWindow:      time.Minute,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Server is the relay HTTP server
type Server struct {
	http    *http.Server
	hub     *relay.Hub
	limiter *middleware.RateLimiter
	logger  *slog.Logger
	cfg     Config
}

// New builds the server; nothing listens until Run or Serve
func New(cfg Config, logger *slog.Logger) *Server {
	def := DefaultConfig()
	if cfg.RateLimit <= 0 || cfg.RateWindow <= 0 {
		cfg.RateLimit, cfg.RateWindow = def.RateLimit, def.RateWindow
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	hub := relay.NewHub(logger, relay.Options{OriginPatterns: cfg.OriginPatterns})
	limiter := middleware.NewRateLimiter(cfg.RateLimit, cfg.RateWindow, logger)
	health := handlers.NewHealthHandler(hub, cfg.Version, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+api.HealthPath, health.Health)
	mux.Handle("GET "+api.ChannelsPrefix+"{name}", limiter.Middleware(hub))

	var handler http.Handler = mux
	handler = middleware.RecoveryMiddleware(logger)(handler)
	handler = middleware.LoggingWithSkip(logger, []string{api.HealthPath})(handler)

	return &Server{
		http: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		hub:     hub,
		limiter: limiter,
		logger:  logger,
		cfg:     cfg,
	}
}

// Handler returns the root handler with middleware applied
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Hub returns the relay hub
func (s *Server) Hub() *relay.Hub {
	return s.hub
}

// Run listens on the configured address and serves until ctx is done
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("Relay server listening", "addr", ln.Addr().String(), "version", s.cfg.Version)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Relay server shutting down")

		// Hijacked websocket connections are not tracked by Shutdown
		s.hub.Close()
		s.limiter.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		return nil
	})

	return g.Wait()
}
