// API server for the library catalog.
//
// Storage is chosen with STORAGE (postgres, redis or memory). Lending events
// are published to Kafka when KAFKA_BROKERS is set.
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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/deKupini/the-library/internal/api"
	"github.com/deKupini/the-library/internal/clock"
	"github.com/deKupini/the-library/internal/config"
	"github.com/deKupini/the-library/internal/kafka"
	"github.com/deKupini/the-library/internal/lending"
	"github.com/deKupini/the-library/internal/observability"
	"github.com/deKupini/the-library/internal/repository"
	"github.com/deKupini/the-library/internal/repository/memory"
	"github.com/deKupini/the-library/internal/repository/postgres"
	"github.com/deKupini/the-library/internal/repository/redisstore"
	"github.com/deKupini/the-library/internal/resilience"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics(cfg.MetricsNamespace, prometheus.DefaultRegisterer)
	checks := map[string]observability.HealthChecker{}

	var redisClient *redis.Client
	if cfg.NeedsRedis() {
		opt, err := cfg.Redis.ClientOptions()
		if err != nil {
			logger.Error("invalid redis configuration", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opt)
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("failed to ping redis", "error", err)
			os.Exit(1)
		}
		logger.Info("connected to redis")
	}

	var books repository.BookRepository
	var history repository.HistoryRepository

	switch cfg.Storage {
	case config.StoragePostgres:
		pool, err := connectPostgres(ctx, cfg)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		logger.Info("connected to database")

		books = postgres.NewBookRepository(pool)
		history = postgres.NewHistoryRepository(pool)
		checks["database"] = pool

	case config.StorageRedis:
		store := redisstore.NewBookRepository(redisClient, redisstore.DefaultConfig())
		books = store
		checks["redis"] = store

	case config.StorageMemory:
		logger.Warn("using in-memory storage, books are lost on restart")
		books = memory.NewBookRepository()
	}

	var publisher lending.Publisher = lending.NoopPublisher{}
	if cfg.Kafka.Enabled() {
		breakers := resilience.NewCircuitBreakerManager(resilience.DefaultCircuitBreakerConfig())
		breakers.OnStateChange(metrics.RecordBreakerTransition)

		producerConfig := kafka.DefaultProducerConfig()
		producerConfig.Brokers = cfg.Kafka.Brokers
		producerConfig.Topic = cfg.Kafka.Topic

		producer := kafka.NewProducer(producerConfig,
			kafka.WithCircuitBreaker(breakers),
			kafka.WithLogger(logger),
		)
		defer producer.Close()
		publisher = producer

		logger.Info("publishing lending events", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	} else {
		logger.Info("KAFKA_BROKERS not set, lending events are not published")
	}

	service := lending.NewService(books, publisher, clock.RealClock{}, logger).WithMetrics(metrics)
	if history != nil {
		service.WithHistory(history)
	}

	var limiter resilience.RateLimiter
	if cfg.RateLimitEnabled() {
		limiterConfig := resilience.RateLimiterConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			BurstSize:         cfg.RateLimitBurst,
		}
		if cfg.RateLimitBackend == config.StorageRedis {
			limiter = resilience.NewRedisRateLimiter(redisClient, resilience.RedisRateLimiterConfig{
				Window: time.Second,
				Limit:  cfg.RateLimitBurst,
			}, logger)
		} else {
			limiter = resilience.NewInMemoryRateLimiter(limiterConfig)
		}
	}

	healthHandler := observability.NewHealthHandler(checks)
	router := api.NewRouter(api.RouterConfig{
		Handler:       api.NewHandler(service, logger),
		HealthHandler: healthHandler,
		Metrics:       metrics,
		Logger:        logger,
		RateLimiter:   limiter,
	})

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting HTTP server", "addr", cfg.Addr, "storage", cfg.Storage)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()
	healthHandler.SetReady(true)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")
	healthHandler.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
}

func connectPostgres(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	poolConfig, err := cfg.PoolConfig()
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
