// Package server exposes plantwatch over HTTP: account routes, plant
// listing and detail proxied from the telemetry API, cached day views,
// CSV/XLSX export and operational endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Sternrassler/plantwatch/pkg/auth"
	"github.com/Sternrassler/plantwatch/pkg/coordinator"
	"github.com/Sternrassler/plantwatch/pkg/export"
	"github.com/Sternrassler/plantwatch/pkg/metrics"
	"github.com/Sternrassler/plantwatch/pkg/plant"
	"github.com/Sternrassler/plantwatch/pkg/quota"
	"github.com/Sternrassler/plantwatch/pkg/rangefetch"
	"github.com/rs/zerolog"
)

// Upstream is the part of the telemetry client the server proxies.
type Upstream interface {
	ListPlants(ctx context.Context) ([]plant.Plant, error)
	Plant(ctx context.Context, plantID string) (*plant.Plant, error)
	Proxy(ctx context.Context, path string, query url.Values) (*http.Response, error)
}

// Deps are the collaborators of a Server. Quota is optional.
type Deps struct {
	Auth        *auth.Service
	Upstream    Upstream
	Coordinator *coordinator.Coordinator
	Sessions    *coordinator.Sessions
	Ranges      *rangefetch.Fetcher
	Exporter    *export.Exporter
	Quota       *quota.Tracker
	Logger      zerolog.Logger
}

// Config holds HTTP server settings.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server is the plantwatch HTTP API.
type Server struct {
	deps    Deps
	logger  zerolog.Logger
	handler http.Handler
}

// New wires the routes.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Auth == nil:
		return nil, errors.New("server needs an auth service")
	case deps.Upstream == nil:
		return nil, errors.New("server needs an upstream client")
	case deps.Coordinator == nil:
		return nil, errors.New("server needs a coordinator")
	case deps.Ranges == nil:
		return nil, errors.New("server needs a range fetcher")
	case deps.Exporter == nil:
		return nil, errors.New("server needs an exporter")
	}
	if deps.Sessions == nil {
		deps.Sessions = coordinator.NewSessions(deps.Coordinator)
	}

	s := &Server{
		deps:   deps,
		logger: deps.Logger.With().Str("component", "http").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("GET /api/auth/me", s.requireAuth(s.handleMe))
	mux.HandleFunc("POST /api/auth/logout", s.requireAuth(s.handleLogout))

	mux.HandleFunc("GET /api/plants", s.requireAuth(s.handleListPlants))
	mux.HandleFunc("GET /api/plants/{id}", s.requireAuth(s.handlePlant))
	mux.HandleFunc("GET /api/plants/{id}/days/{day}", s.requireAuth(s.handleDay))
	mux.HandleFunc("GET /api/plants/{id}/view", s.requireAuth(s.handleViewState))
	mux.HandleFunc("GET /api/plants/{id}/export", s.requireAuth(s.handleExport))
	mux.HandleFunc("GET /api/plants/{id}/raw/{path...}", s.requireAuth(s.handleRaw))
	mux.HandleFunc("GET /api/quota", s.requireAuth(s.handleQuota))

	s.handler = s.recoverer(s.requestID(s.accessLog(mux)))
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Sessions returns the per-session view registry.
func (s *Server) Sessions() *coordinator.Sessions {
	return s.deps.Sessions
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
// and waits for background prefetches.
func (s *Server) ListenAndServe(ctx context.Context, cfg Config) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", cfg.Addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info().Dur("timeout", timeout).Msg("Shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.deps.Coordinator.Wait()
	s.logger.Info().Msg("HTTP server stopped")
	return nil
}
