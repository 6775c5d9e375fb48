// Copyright (c) 2026 Kotoba. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Command api is the entry point for the Kotoba HTTP API server.
//
// # Startup Sequence
//
//  1. Initialize structured logger.
//  2. Load configuration from environment variables.
//  3. Load the RS256 signing keys.
//  4. Connect to PostgreSQL (pgxpool) and run migrations.
//  5. Connect to Redis when configured (login throttling).
//  6. Wire HTTP handlers.
//  7. Run the HTTP server, session janitor and rate limiter until a signal arrives.
//
// No business logic lives here. All wiring is explicit constructor injection.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/taibuivan/kotoba/internal/api"
	"github.com/taibuivan/kotoba/internal/platform/config"
	"github.com/taibuivan/kotoba/internal/platform/constants"
	"github.com/taibuivan/kotoba/internal/platform/middleware"
	"github.com/taibuivan/kotoba/internal/platform/migration"
	pgstore "github.com/taibuivan/kotoba/internal/platform/postgres"
	redisstore "github.com/taibuivan/kotoba/internal/platform/redis"
	"github.com/taibuivan/kotoba/internal/platform/sec"
	"github.com/taibuivan/kotoba/internal/users/account"
	"github.com/taibuivan/kotoba/internal/users/auth"
)

func main() {
	// ── 1. Logger ──────────────────────────────────────────────────────────
	// Initialize first so that subsequent startup errors are structured JSON.
	level := new(slog.LevelVar)
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})).
		With(slog.String("app", constants.AppName))
	slog.SetDefault(log)

	log.Info("service_initializing", slog.String("version", constants.AppVersion))

	// ── 2. Configuration ──────────────────────────────────────────────────
	cfg, err := config.Load()
	must(log, err, "load configuration")

	if cfg.Debug {
		level.Set(slog.LevelDebug)
		log.Debug("debug_logging_enabled")
	}

	log.Info("configuration_loaded",
		slog.String("environment", cfg.Environment),
		slog.String("port", cfg.ServerPort),
		slog.Bool("refresh_rotation", cfg.RefreshRotation),
	)

	// ── 3. Token Service ──────────────────────────────────────────────────
	privateKey, publicKey, err := sec.LoadRSAKeys(cfg.JWTPrivKeyPath, cfg.JWTPubKeyPath)
	must(log, err, "load signing keys")

	tokens, err := sec.NewTokenService(sec.TokenConfig{
		PrivateKey: privateKey,
		PublicKey:  publicKey,
		Issuer:     cfg.Issuer(),
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	})
	must(log, err, "initialize token service")

	// Root context for startup. Use a 30s deadline so misconfiguration is
	// caught quickly rather than hanging indefinitely.
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	// ── 4. PostgreSQL ─────────────────────────────────────────────────────
	pool, err := pgstore.NewPool(startupCtx, cfg.DatabaseURL, log)
	must(log, err, "connect to postgres")
	defer func() {
		log.Info("closing_postgres_pool")
		pool.Close()
	}()

	must(log, migration.RunUp(cfg.DatabaseURL, log), "run migrations")

	healthChecks := []api.HealthCheck{{
		Name:  "postgres",
		Check: func(ctx context.Context) error { return pgstore.Ping(ctx, pool) },
	}}

	// ── 5. Redis (optional) ───────────────────────────────────────────────
	var limiter auth.LoginLimiter
	if cfg.RedisURL != "" {
		var rdb *goredis.Client
		rdb, err = redisstore.NewClient(startupCtx, cfg.RedisURL, log)
		must(log, err, "connect to redis")
		defer func() {
			log.Info("closing_redis_client")
			if cerr := rdb.Close(); cerr != nil {
				log.Error("redis_close_failed", slog.Any("error", cerr))
			}
		}()

		limiter = auth.NewLoginLimiter(rdb, cfg.LoginMaxAttempts, cfg.LoginLockoutWindow)
		healthChecks = append(healthChecks, api.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisstore.Ping(ctx, rdb) },
		})
	} else {
		log.Warn("login_throttling_disabled", slog.String("reason", "REDIS_URL not set"))
	}

	// ── 6. Domain Wiring ──────────────────────────────────────────────────
	userRepository := auth.NewUserRepository(pool)
	sessionRepository := auth.NewSessionRepository(pool)
	authService := auth.NewService(userRepository, sessionRepository, tokens, auth.Options{
		Rotation: cfg.RefreshRotation,
		Limiter:  limiter,
	})

	accountService := account.NewService(
		account.NewAccountRepository(pool),
		account.NewSessionRepository(pool),
		nil,
	)

	janitor := auth.NewJanitor(sessionRepository, cfg.SessionCleanupInterval, cfg.SessionRetention, nil, log)
	rateLimiter := middleware.NewRateLimiter(constants.DefaultRateLimitRPS, constants.DefaultRateLimitBurst)

	liveness, readiness := api.NewHealthHandlers(log, healthChecks...)

	// ── 7. HTTP Server ────────────────────────────────────────────────────
	server := api.NewServer(cfg, log,
		api.Gateway{
			Verifier:    tokens,
			ActiveUsers: authService,
			RateLimiter: rateLimiter,
		},
		api.Handlers{
			Liveness:  liveness,
			Readiness: readiness,
			Auth: auth.NewHandler(authService, auth.CookieConfig{
				Secure: cfg.IsProduction(),
				MaxAge: cfg.RefreshTokenTTL,
			}),
			Account: account.NewHandler(accountService),
		},
	)

	// ── 8. Run & Graceful Shutdown ────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error { return janitor.Run(ctx) })
	group.Go(func() error { return rateLimiter.Run(ctx) })

	// Block until OS signal or a component failure, then drain in-flight requests.
	group.Go(func() error {
		<-ctx.Done()
		log.Info("shutting_down_server", slog.Duration("timeout", constants.ShutdownTimeout))
		return server.Shutdown(constants.ShutdownTimeout)
	})

	if err := group.Wait(); err != nil {
		log.Error("server_stopped_with_error", slog.Any("error", err))
		os.Exit(1)
	}

	log.Info("server_stopped_cleanly")
}

// must logs a structured fatal error and terminates the process if err is non-nil.
//
// It is intentionally limited to startup wiring. After startup, all errors
// must be returned and handled explicitly (never panic).
func must(log *slog.Logger, err error, step string) {
	if err != nil {
		log.Error("startup_failure",
			slog.String("step", step),
			slog.Any("error", err),
		)
		os.Exit(1)
	}
}
