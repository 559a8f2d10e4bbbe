package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"novel-engine/internal/config"
	"novel-engine/internal/memory"
	"novel-engine/internal/parser"
	"novel-engine/internal/pipeline"
	"novel-engine/internal/prompt"
	"novel-engine/internal/provider"
	"novel-engine/internal/repository"
	"novel-engine/internal/worker"
	"novel-engine/shared/logger"
	"novel-engine/shared/messaging"
)

const (
	serviceName     = "story-worker"
	shutdownTimeout = 15 * time.Second
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Encoding:    cfg.LogEncoding,
		ServiceName: serviceName,
	})
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer func() { _ = zapLogger.Sync() }()

	cfg.LogSummary(zapLogger)
	if err := run(cfg, zapLogger); err != nil {
		zapLogger.Fatal("Story worker stopped with error", zap.Error(err))
	}
	zapLogger.Info("Story worker stopped")
}

func run(cfg *config.Config, zapLogger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsServer := startMetricsServer(cfg.MetricsPort, zapLogger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			zapLogger.Warn("Failed to stop metrics server", zap.Error(err))
		}
	}()

	if cfg.PushgatewayURL != "" {
		pusher, err := worker.NewMetricsPusher(cfg.PushgatewayURL, zapLogger)
		if err != nil {
			zapLogger.Warn("Pushgateway is unavailable, continuing without push", zap.Error(err))
		} else {
			go pusher.Run(ctx, cfg.MetricsPushInterval)
			defer pusher.Cleanup()
		}
	}

	genProvider, err := provider.NewGenerationProvider(cfg, zapLogger)
	if err != nil {
		return fmt.Errorf("failed to init generation provider: %w", err)
	}

	index, err := openVectorIndex(cfg, zapLogger)
	if err != nil {
		return fmt.Errorf("failed to open memory index: %w", err)
	}
	builder := prompt.NewBuilder(prompt.SettingsFromConfig(cfg))
	store := memory.NewStore(index, genProvider, builder, memory.StoreConfigFromConfig(cfg), zapLogger)
	defer func() {
		if err := store.Close(); err != nil {
			zapLogger.Warn("Failed to close memory store", zap.Error(err))
		}
	}()

	orchestrator := pipeline.NewOrchestrator(
		genProvider,
		store,
		builder,
		parser.NewContentParser(parser.ConfigFromConfig(cfg), zapLogger),
		pipeline.SettingsFromConfig(cfg),
		zapLogger,
	)

	dbPool, err := setupDatabase(ctx, cfg, zapLogger)
	if err != nil {
		return err
	}
	defer dbPool.Close()
	if err := repository.NewMigrator(dbPool, zapLogger).Up(ctx); err != nil {
		return err
	}

	conn, err := connectRabbitMQ(ctx, cfg.RabbitMQURL, zapLogger)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Публикация и потребление идут по разным каналам: отмена подписки не должна мешать уведомлениям.
	pubCh, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open publish channel: %w", err)
	}
	defer pubCh.Close()
	if err := worker.DeclareTopology(pubCh); err != nil {
		return err
	}
	consumeCh, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open consume channel: %w", err)
	}
	defer consumeCh.Close()

	handler := worker.NewTaskHandler(
		orchestrator,
		repository.NewPgStageResultRepository(dbPool, zapLogger),
		worker.NewRabbitMQNotifier(pubCh, messaging.StageNotificationQueueName, zapLogger),
		zapLogger,
	)
	consumer := worker.NewConsumer(consumeCh, handler, cfg.WorkerConcurrency, zapLogger)
	if err := consumer.Start(ctx); err != nil {
		return err
	}
	zapLogger.Info("Story worker is waiting for stage tasks")

	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	select {
	case <-ctx.Done():
		zapLogger.Info("Shutdown signal received")
	case amqpErr := <-connClosed:
		stop()
		if amqpErr != nil {
			return fmt.Errorf("rabbitmq connection closed: %w", amqpErr)
		}
	}
	return consumer.Stop()
}

// openVectorIndex открывает бэкенд индекса по MEMORY_BACKEND.
func openVectorIndex(cfg *config.Config, zapLogger *zap.Logger) (memory.VectorIndex, error) {
	switch strings.ToLower(cfg.MemoryBackend) {
	case "embedded":
		return memory.OpenEmbeddedIndex(cfg.MemoryDataDir, cfg.VectorDimension, cfg.MemoryCacheSize, zapLogger)
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.RedisAddr, err)
		}
		return memory.NewRedisIndex(client, cfg.RedisKeyPrefix, cfg.VectorDimension, zapLogger), nil
	default:
		return nil, fmt.Errorf("unknown memory backend: '%s'", cfg.MemoryBackend)
	}
}

// startMetricsServer поднимает /metrics и /health.
func startMetricsServer(port string, zapLogger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status": "ok"}`))
	})

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		zapLogger.Info("Starting metrics server", zap.String("port", port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	return server
}

// setupDatabase создает пул соединений, повторяя попытки, пока база поднимается.
func setupDatabase(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) (*pgxpool.Pool, error) {
	const (
		maxRetries = 30
		retryDelay = 3 * time.Second
	)
	poolConfig, err := pgxpool.ParseConfig(cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.DBMaxConns)
	poolConfig.MaxConnIdleTime = cfg.DBIdleTimeout

	for attempt := 1; attempt <= maxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		pool, err := pgxpool.NewWithConfig(attemptCtx, poolConfig)
		if err == nil {
			err = pool.Ping(attemptCtx)
			if err != nil {
				pool.Close()
			}
		}
		cancel()
		if err == nil {
			zapLogger.Info("Connected to PostgreSQL", zap.Int("attempt", attempt))
			return pool, nil
		}
		zapLogger.Warn("PostgreSQL is not ready",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxRetries),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
	return nil, fmt.Errorf("failed to connect to database after %d attempts", maxRetries)
}

// connectRabbitMQ подключается к RabbitMQ с повторными попытками.
func connectRabbitMQ(ctx context.Context, url string, zapLogger *zap.Logger) (*amqp.Connection, error) {
	const (
		maxRetries = 10
		retryDelay = 5 * time.Second
	)
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		conn, err := amqp.Dial(url)
		if err == nil {
			zapLogger.Info("Connected to RabbitMQ", zap.Int("attempt", attempt))
			return conn, nil
		}
		lastErr = err
		zapLogger.Warn("RabbitMQ is not ready", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, lastErr)
}
