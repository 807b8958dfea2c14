// Package main provides the Selection API server entrypoint.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/curatelabs/selection-engine/internal/billing"
	"github.com/curatelabs/selection-engine/internal/cache"
	"github.com/curatelabs/selection-engine/internal/catalog"
	"github.com/curatelabs/selection-engine/internal/config"
	"github.com/curatelabs/selection-engine/internal/observability"
	"github.com/curatelabs/selection-engine/internal/pipeline"
	"github.com/curatelabs/selection-engine/internal/rerank"
	"github.com/curatelabs/selection-engine/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if len(os.Args) > 2 && os.Args[1] == "--config" {
		cfgPath = os.Args[2]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})

	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("database", cfg.Database.Driver).
		Str("cache", cfg.Cache.Driver).
		Msg("Starting Selection API")

	ctx := context.Background()

	db, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open database")
		os.Exit(1)
	}
	defer db.Close()
	if err := storage.EnsureSchema(ctx, db); err != nil {
		logger.Error().Err(err).Msg("Failed to apply schema")
		os.Exit(1)
	}

	var cacheClient cache.Client
	if cfg.Cache.Driver == "redis" {
		cacheClient, err = cache.NewRedisClient(cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			PoolSize: cfg.Cache.Redis.PoolSize,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable, using in-memory cache")
			cacheClient = cache.NewMemoryClient(cfg.Cache.MaxEntries)
		}
	} else {
		cacheClient = cache.NewMemoryClient(cfg.Cache.MaxEntries)
	}
	defer cacheClient.Close()

	snapshot, err := catalog.LoadSnapshot(cfg.Catalog.SnapshotPath)
	if err != nil {
		logger.Error().Err(err).Str("path", cfg.Catalog.SnapshotPath).Msg("Failed to load catalog snapshot")
		os.Exit(1)
	}
	logger.Info().Int("candidates", snapshot.Len()).Msg("Catalog snapshot loaded")
	source := catalog.NewCachedSource(snapshot, cacheClient, logger, cfg.Catalog.SearchCacheTTL)

	var reranker rerank.Service
	if cfg.Reranker.Endpoint != "" {
		reranker = rerank.NewHTTPService(cfg.Reranker.Endpoint, cfg.Reranker.APIKey, cfg.Reranker.RequestTimeout)
	}

	driver := cfg.Database.Driver
	store := storage.NewSelectionStore(db, driver)
	biller := billing.NewService(storage.NewBillingRepository(db, driver), billing.DefaultPlan(), logger)

	p := pipeline.New(cfg, source, nil, reranker, store, biller, logger)
	router := NewRouter(logger, p, store, cfg.Server.ReadTimeout)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error().Err(err).Msg("Server error")
	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
		if err := srv.Close(); err != nil {
			logger.Error().Err(err).Msg("Forced shutdown failed")
		}
	}

	logger.Info().Msg("Server stopped")
}
