// Ledger service that consumes lending events from Kafka and records them in
// the lending_history table. Run several instances in one consumer group to
// spread partitions.
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

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deKupini/the-library/internal/config"
	"github.com/deKupini/the-library/internal/kafka"
	"github.com/deKupini/the-library/internal/observability"
	"github.com/deKupini/the-library/internal/repository/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	if !cfg.Kafka.Enabled() {
		logger.Error("KAFKA_BROKERS is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poolConfig, err := cfg.PoolConfig()
	if err != nil {
		logger.Error("invalid database configuration", "error", err)
		os.Exit(1)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	metrics := observability.NewMetrics(cfg.MetricsNamespace, prometheus.DefaultRegisterer)
	handler := kafka.NewHistoryHandler(postgres.NewHistoryRepository(pool), logger).WithMetrics(metrics)

	consumerConfig := kafka.DefaultConsumerConfig()
	consumerConfig.Brokers = cfg.Kafka.Brokers
	consumerConfig.Topic = cfg.Kafka.Topic
	consumerConfig.GroupID = cfg.Kafka.GroupID

	consumer := kafka.NewConsumer(consumerConfig, handler, logger)
	consumer.Start(ctx)

	logger.Info("ledger started",
		"brokers", cfg.Kafka.Brokers,
		"topic", cfg.Kafka.Topic,
		"group", cfg.Kafka.GroupID,
	)

	healthHandler := observability.NewHealthHandler(map[string]observability.HealthChecker{"database": pool})
	r := chi.NewRouter()
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
		}
	}()
	healthHandler.SetReady(true)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")
	healthHandler.SetReady(false)
	consumer.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}
	logger.Info("shutdown complete")
}
