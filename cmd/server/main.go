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

	"github.com/outflowhq/outflow/internal/api"
	"github.com/outflowhq/outflow/internal/cache"
	"github.com/outflowhq/outflow/internal/config"
	"github.com/outflowhq/outflow/internal/enrich"
	"github.com/outflowhq/outflow/internal/provider"
	"github.com/outflowhq/outflow/internal/store"
)

const lookupCacheTTL = time.Hour

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer redisCache.Close()

	prov, err := provider.NewProvider(cfg.Enrich)
	if err != nil {
		return fmt.Errorf("building enrichment provider: %w", err)
	}
	logger.Info("enrichment provider ready", "provider", prov.Name())

	pgStore := store.NewPostgresStore(pool)
	proc := enrich.NewProcessor(prov, redisCache, lookupCacheTTL)
	sched := enrich.NewScheduler(pgStore, redisCache, proc, cfg.Enrich.ItemDelay, cfg.Enrich.BatchDelay, logger)
	svc := enrich.NewService(pgStore, redisCache, sched, cfg.Enrich, logger)

	// Pick up jobs a previous process left mid-flight.
	if n, err := svc.ResumeInterrupted(ctx); err != nil {
		logger.Warn("resume interrupted jobs", "error", err)
	} else if n > 0 {
		logger.Info("resumed interrupted jobs", "count", n)
	}

	router := api.NewRouter(api.Dependencies{
		Store:         pgStore,
		Cache:         redisCache,
		EnrichService: svc,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Server.Port, "env", cfg.Server.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
