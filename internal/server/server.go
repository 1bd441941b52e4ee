// Package server sets up the HTTP server, router, and all route definitions.
//
// This is the composition root for the HTTP side:
//
//	main.go creates:   settings → logger → sqldb.DB (pool)
//	Server.New wires:  repository → SubscriptionService → SubscriptionHandler
//
// The server does not own the pool; main opens it before New and closes it
// after Start returns.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sakif/newsletter/internal/handler"
	"github.com/sakif/newsletter/internal/middleware"
	"github.com/sakif/newsletter/internal/repository"
	"github.com/sakif/newsletter/internal/service"
)

// Config holds server configuration.
type Config struct {
	Addr           string
	AllowedOrigins []string // CORS; empty disables CORS handling

	// ShutdownTimeout bounds how long in-flight requests get after a signal.
	ShutdownTimeout time.Duration
}

// Server represents the HTTP server and all its dependencies.
type Server struct {
	router *chi.Mux
	config Config
	logger *slog.Logger
}

// New creates a Server serving subscriptions into repo.
func New(cfg Config, logger *slog.Logger, repo repository.SubscriptionRepository) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
	}
	s.setupRoutes(repo)
	return s
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET    /health_check   → liveness probe, empty 200
// POST   /subscriptions  → subscribe (form-urlencoded)
//
// MIDDLEWARE ORDER MATTERS:
// 1. Correlation: begins the per-request correlation context
// 2. RealIP: extracts real client IP from proxy headers
// 3. Logger: logs each request, tagged with the correlation id
// 4. Recoverer: catches panics and returns 500 instead of crashing
// 5. CORS: only when origins are configured
func (s *Server) setupRoutes(repo repository.SubscriptionRepository) {
	s.router.Use(middleware.Correlation)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	if len(s.config.AllowedOrigins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.config.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type"},
			ExposedHeaders: []string{middleware.RequestIDHeader},
			MaxAge:         300,
		}))
	}

	subscriptionService := service.NewSubscriptionService(repo, service.NewValidator(nil, nil), s.logger)
	subscriptionHandler := handler.NewSubscriptionHandler(subscriptionService, s.logger)

	s.router.Get("/health_check", handler.HandleHealthCheck)
	s.router.Post("/subscriptions", subscriptionHandler.HandleSubscribe)
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the configured address and serves until SIGINT or SIGTERM.
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully: new
// connections are refused and in-flight requests get ShutdownTimeout to
// finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", slog.String("addr", ln.Addr().String()))
		serverErrors <- srv.Serve(ln)
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil

	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
