// Package main is the entrypoint for the Vista API server.
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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/vista/internal/api"
	"github.com/kiranshivaraju/vista/internal/api/handler"
	mw "github.com/kiranshivaraju/vista/internal/api/middleware"
	"github.com/kiranshivaraju/vista/internal/cache"
	"github.com/kiranshivaraju/vista/internal/catalog"
	"github.com/kiranshivaraju/vista/internal/config"
	"github.com/kiranshivaraju/vista/internal/events"
	"github.com/kiranshivaraju/vista/internal/gateway"
	"github.com/kiranshivaraju/vista/internal/jobs"
	"github.com/kiranshivaraju/vista/internal/poller"
	"github.com/kiranshivaraju/vista/internal/provider"
	"github.com/kiranshivaraju/vista/internal/resolver"
	"github.com/kiranshivaraju/vista/internal/store"
)

const (
	shutdownTimeout = 30 * time.Second
	migrationsDir   = "migrations"
)

func main() {
	slog.SetDefault(newLogger("info"))

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}

func run() error {
	// 1. Load config, fail fast on invalid values
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("config loaded",
		"env", cfg.Server.Env, "store", cfg.Store.Backend, "provider", cfg.Provider.Name)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Job store, with Postgres when configured
	jobStore, pool, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer jobStore.Close()
	if pool != nil {
		defer pool.Close()
	}

	// 3. Template catalog
	templates, err := openCatalog(cfg, pool)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}

	// 4. Cache, shared through Redis when configured
	c, shared, err := openCache(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer c.Close()

	// 5. Video provider
	videoProvider, err := provider.NewProvider(cfg.Provider)
	if err != nil {
		return fmt.Errorf("create provider: %w", err)
	}
	slog.Info("provider initialized", "provider", videoProvider.Name())

	// 6. Orchestration
	broker := events.NewBroker()
	st := store.NewObserved(jobStore, broker)
	gw := gateway.New(videoProvider, cfg.Uploads)

	pollOpts := []poller.Option{
		poller.WithInterval(cfg.Polling.Interval),
		poller.WithMaxConsecutiveErrors(cfg.Polling.MaxConsecutiveErrors),
	}
	if shared {
		pollOpts = append(pollOpts, poller.WithLeases(c))
	}
	pl := poller.New(st, gw, pollOpts...)

	svc := jobs.NewService(st, resolver.New(templates), gw, pl,
		jobs.WithEvents(broker),
		jobs.WithOrphanAfter(cfg.Polling.OrphanAfter),
	)
	defer svc.Shutdown()

	if _, err := svc.Resume(ctx); err != nil {
		slog.Warn("startup reconcile failed", "error", err)
	}

	scheduler, err := jobs.NewScheduler(svc, cfg.Polling.ReconcileSchedule)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// 7. Router
	maxUpload := max(cfg.Uploads.MaxImageBytes, cfg.Uploads.MaxVideoBytes)
	deps := api.Dependencies{
		RateLimit: mw.NewRateLimit(c, cfg.RateLimit.RequestsPerMinute),

		HealthHandler: handler.NewHealthHandler(map[string]handler.Pinger{
			"store": jobStore,
			"cache": c,
		}),
		ListTemplates:    handler.NewListTemplatesHandler(templates),
		StartJobHandler:  handler.NewStartJobHandler(svc, maxUpload),
		ListJobsHandler:  handler.NewListJobsHandler(svc),
		GetJobHandler:    handler.NewGetJobHandler(svc),
		RefreshJob:       handler.NewRefreshJobHandler(svc),
		CancelJob:        handler.NewCancelJobHandler(svc),
		DeleteJob:        handler.NewDeleteJobHandler(svc),
		WatchJobHandler:  handler.NewWatchJobHandler(svc),
		WatchJobsHandler: handler.NewWatchJobsHandler(svc),
	}
	router := api.NewRouter(deps)

	// 8. HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 5 * time.Minute,
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// openStore returns the configured job store. The pool is non-nil only for the
// postgres backend and is closed by the caller.
func openStore(ctx context.Context, cfg *config.Config) (store.JobStore, *pgxpool.Pool, error) {
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		pool, err := store.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		if err := store.RunMigrations(cfg.Database.URL, migrationsDir); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		slog.Info("database connected, migrations applied")
		return store.NewPostgresStore(pool), pool, nil
	case config.BackendBadger:
		s, err := store.OpenBadgerStore(cfg.Store.BadgerPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open badger store: %w", err)
		}
		slog.Info("badger store opened", "path", cfg.Store.BadgerPath)
		return s, nil, nil
	default:
		slog.Warn("using in-memory job store, records are lost on restart")
		return store.NewMemoryStore(), nil, nil
	}
}

// openCatalog reads templates from Postgres when a pool is available and from the
// TOML file otherwise.
func openCatalog(cfg *config.Config, pool *pgxpool.Pool) (catalog.Catalog, error) {
	if pool != nil {
		return catalog.NewPostgresCatalog(pool), nil
	}
	c, err := catalog.LoadFile(cfg.Templates.File)
	if err != nil {
		return nil, err
	}
	slog.Info("template catalog loaded", "file", cfg.Templates.File)
	return c, nil
}

// openCache connects to Redis when a URL is configured. shared reports whether the
// cache is visible to other server processes.
func openCache(ctx context.Context, cfg config.RedisConfig) (c cache.Cache, shared bool, err error) {
	if cfg.URL == "" {
		return cache.NewLocalCache(), false, nil
	}
	rc, err := cache.NewRedisCache(cfg.URL)
	if err != nil {
		return nil, false, fmt.Errorf("create redis cache: %w", err)
	}
	if err := rc.Ping(ctx); err != nil {
		rc.Close()
		return nil, false, fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")
	return rc, true, nil
}
