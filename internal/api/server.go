// Copyright (c) 2026 Kotoba. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package api wires together the HTTP router, middleware chain, and all
domain handlers into a runnable [http.Server].

Architecture:

  - This package is the topmost Presentation layer boundary.
  - It acts as the central composition root for the HTTP transport framework (chi router).
  - Only this package and cmd/api are allowed to import net/http server primitives.
*/
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/taibuivan/kotoba/internal/platform/config"
	"github.com/taibuivan/kotoba/internal/platform/constants"
	"github.com/taibuivan/kotoba/internal/platform/middleware"
	"github.com/taibuivan/kotoba/internal/platform/sec"
	"github.com/taibuivan/kotoba/internal/users/account"
	"github.com/taibuivan/kotoba/internal/users/auth"
)

// # Server Definitions

// Server wraps the chi router and the [http.Server].
//
// It is constructed once in main.go with all dependencies injected.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	log        *slog.Logger
}

// # Handler Registry

// Handlers groups all domain-specific HTTP handler sets.
type Handlers struct {
	// Liveness is the /health handler. It returns 200 while the process is alive.
	Liveness http.HandlerFunc

	// Readiness is the /ready handler. It returns 200 when all deps are healthy.
	Readiness http.HandlerFunc

	// Auth handles the session entry points (register, login, refresh, logout).
	Auth *auth.Handler

	// Account handles self-service and moderation behind the gateway.
	Account *account.Handler
}

// Gateway holds what the authentication gateway and global throttling need.
type Gateway struct {
	Verifier    middleware.TokenVerifier
	ActiveUsers middleware.ActiveUserChecker

	// RateLimiter is the per-IP limiter. Its Run loop is owned by the caller.
	RateLimiter *middleware.RateLimiter
}

// # Server Initialization

// NewServer constructs the chi router with the full middleware chain and
// registers all route groups.
func NewServer(cfg *config.Config, log *slog.Logger, gateway Gateway, h Handlers) *Server {
	r := chi.NewRouter()

	// Prefixes were validated by config.Load.
	proxies, _ := cfg.TrustedProxyPrefixes()

	// # Middleware Chain
	// Global middleware applied in order of execution.
	r.Use(middleware.RequestID())
	r.Use(middleware.ClientIP(proxies))
	r.Use(middleware.StructuredLogger(log))
	r.Use(middleware.PanicRecovery())
	r.Use(chimw.Timeout(constants.GlobalRequestTimeout))
	if gateway.RateLimiter != nil {
		r.Use(gateway.RateLimiter.Middleware)
	}
	r.Use(middleware.CORS(cfg, cfg.AllowedOrigins))
	r.Use(chimw.CleanPath)

	// # Infrastructure Endpoints
	// Unauthenticated health probes for container orchestration.
	r.Get("/health", h.Liveness)
	r.Get("/ready", h.Readiness)

	// # Application API
	r.Route("/api/v1", func(api chi.Router) {
		api.Mount("/auth", h.Auth.Routes())

		// Everything below requires a valid access token for an active account.
		api.Group(func(protected chi.Router) {
			protected.Use(middleware.RequireAuth(gateway.Verifier))
			protected.Use(middleware.RequireActiveUser(gateway.ActiveUsers))

			protected.Mount("/me", h.Account.Routes())
			protected.With(middleware.RequireRole(sec.RoleAdmin)).Mount("/users", h.Account.AdminRoutes())
		})
	})

	return &Server{
		router: r,
		log:    log,
		httpServer: &http.Server{
			Addr:              ":" + cfg.ServerPort,
			Handler:           r,
			ReadTimeout:       constants.DefaultReadTimeout,
			WriteTimeout:      constants.DefaultWriteTimeout,
			IdleTimeout:       constants.DefaultIdleTimeout,
			ReadHeaderTimeout: constants.DefaultReadHeaderTimeout,
		},
	}
}

// Handler exposes the fully wired router, mainly for in-process tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// # Server Lifecycle

// ListenAndServe starts the HTTP server.
//
// It blocks until the server is closed or an error occurs.
func (s *Server) ListenAndServe() error {
	s.log.Info("server_starting", slog.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
