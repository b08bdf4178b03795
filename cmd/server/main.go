// Package main is the entry point for the api-cache gateway server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	_ "github.com/lib/pq"

	"github.com/seolytics/apicache/internal/cachemanager"
	"github.com/seolytics/apicache/internal/cachestore"
	"github.com/seolytics/apicache/internal/compression"
	"github.com/seolytics/apicache/internal/config"
	"github.com/seolytics/apicache/internal/observability"
	"github.com/seolytics/apicache/internal/ratelimit"
	"github.com/seolytics/apicache/internal/task"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	bootstrap := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(bootstrap)

	bootstrap.Info("starting api-cache gateway", "version", "0.1.0")

	cfgManager, err := config.NewManager(*configPath, bootstrap)
	if err != nil {
		bootstrap.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	logger := buildLogger(cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := cfgManager.Watch(ctx); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		logger.RedactedError("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	dialect := cachestore.DialectSQLite
	if cfg.Database.Driver == "postgres" {
		dialect = cachestore.DialectPostgres
	}

	compressor := compression.NewService(cfgManager)
	repo := cachestore.New(db, dialect, compressor, logger)
	if err := repo.Migrate(ctx); err != nil {
		logger.RedactedError("failed to migrate schema", "error", err)
		os.Exit(1)
	}

	store, closeStore, err := buildLimiterStore(ctx, cfg.Redis, logger)
	if err != nil {
		logger.RedactedError("failed to connect rate-limit store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	limiter := ratelimit.NewService(store, cfgManager, logger)
	manager := cachemanager.New(repo, limiter, logger)
	reconciler := task.NewReconciler(manager, logger)

	srv := &server{
		cfg:        cfgManager,
		manager:    manager,
		reconciler: reconciler,
		logger:     logger,
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.routes(cfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.RedactedError("server failed", "error", err)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		logger.Info("shutting down", "signal", s.String())
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.RedactedError("shutdown failed", "error", err)
	}
	_ = cfgManager.Close()
}

func buildLogger(cfg config.LoggingConfig) *observability.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return observability.NewLogger(observability.LoggerConfig{
		Level:      level,
		Output:     os.Stdout,
		JSONFormat: cfg.Format != "text",
	}, observability.NewRedactor())
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// buildLimiterStore selects Redis when an address is configured, otherwise
// the in-process store. Single-node deployments work without Redis; anything
// horizontally scaled needs the shared store.
func buildLimiterStore(ctx context.Context, cfg config.RedisConfig, logger *observability.Logger) (ratelimit.Store, func(), error) {
	if cfg.Addr == "" {
		logger.Info("rate limiting uses the in-process store")
		return ratelimit.NewMemoryStore(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	logger.Info("rate limiting uses redis", "addr", cfg.Addr)
	return ratelimit.NewRedisStore(client), func() { _ = client.Close() }, nil
}
