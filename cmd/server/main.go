// Package main is the entrypoint for the akhbar OCR progress server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/akhbar/internal/api"
	"github.com/kiranshivaraju/akhbar/internal/api/handler"
	mw "github.com/kiranshivaraju/akhbar/internal/api/middleware"
	"github.com/kiranshivaraju/akhbar/internal/api/response"
	"github.com/kiranshivaraju/akhbar/internal/backend"
	"github.com/kiranshivaraju/akhbar/internal/cache"
	"github.com/kiranshivaraju/akhbar/internal/config"
	"github.com/kiranshivaraju/akhbar/internal/ocr"
	"github.com/kiranshivaraju/akhbar/internal/progress"
	"github.com/kiranshivaraju/akhbar/internal/session"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config; fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "backend", cfg.Backend.BaseURL, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Snapshot cache: Redis when configured, in-process otherwise
	var c cache.Cache
	if cfg.Redis.URL != "" {
		redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("create redis cache: %w", err)
		}
		defer redisCache.Close()

		if err := redisCache.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		slog.Info("redis connected")
		c = redisCache
	} else {
		c = cache.NewMemoryCache()
		slog.Info("using in-memory cache")
	}
	progressCache := cache.NewProgressCache(c, cfg.Cache.TTL, cfg.Cache.CompletedTTL)

	// 3. Session token
	var (
		tokens   session.TokenSource
		sessions *session.FileStore
	)
	if cfg.Session.Token != "" {
		tokens = session.Static(cfg.Session.Token)
		slog.Info("using configured session token")
	} else {
		sessions, err = session.NewFileStore(cfg.Session.File, slog.Default())
		if err != nil {
			return fmt.Errorf("open session: %w", err)
		}
		if err := sessions.Watch(ctx); err != nil {
			return fmt.Errorf("watch session: %w", err)
		}
		tokens = sessions
		slog.Info("session loaded", "path", sessions.Path())
	}

	// 4. Backend client
	client := backend.NewHTTPClient(cfg.Backend.BaseURL, tokens, cfg.Backend.Timeout,
		backend.WithSubmitTimeout(cfg.Backend.SubmitTimeout))

	// 5. Shared job state, poller and submitter
	store := progress.NewStore(slog.Default())
	poller := progress.NewPoller(client, store,
		progress.WithInterval(cfg.Poll.Interval),
		progress.WithFetchTimeout(cfg.Backend.Timeout),
		progress.WithSink(progressCache),
		progress.WithLogger(slog.Default()),
	)
	unfollow := poller.Follow(store)
	defer func() {
		unfollow()
		poller.Stop()
	}()

	if sessions != nil {
		// A fresh login resumes tracking that stopped for a missing token.
		sessions.OnReload(func() {
			if poller.Retry() {
				slog.Info("progress polling resumed after session reload")
			}
		})
	}

	submitter := ocr.NewSubmitter(client, tokens, store, slog.Default())

	// 6. Build router with dependencies
	deps := api.Dependencies{
		Session:   mw.NewSession(tokens),
		RateLimit: mw.NewRateLimit(c, "submit", cfg.RateLimit.SubmitsPerMinute),

		HealthHandler:   healthHandler(c, tokens),
		SubmitHandler:   handler.NewSubmitHandler(submitter),
		ProgressHandler: handler.NewProgressHandler(store, poller),
		StateHandler:    handler.NewStateHandler(store, poller),
		DismissHandler:  handler.NewDismissHandler(store, progressCache),
		SnapshotHandler: handler.NewSnapshotHandler(progressCache, client),
	}

	router := api.NewRouter(deps)

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Backend.SubmitTimeout,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks cache connectivity and reports whether a session token is stored.
// A missing token is reported but does not degrade the service.
func healthHandler(c cache.Cache, tokens session.TokenSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"cache":   "ok",
			"session": "ok",
		}

		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}
		if _, err := tokens.Token(); err != nil {
			checks["session"] = "logged_out"
		}

		if checks["cache"] != "ok" {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
