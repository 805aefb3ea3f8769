package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/example/report-queue/internal/config"
	"github.com/example/report-queue/internal/dedup"
	"github.com/example/report-queue/internal/pipeline"
	"github.com/example/report-queue/internal/queue"
	"github.com/example/report-queue/internal/report"
	"github.com/example/report-queue/internal/store"
	"github.com/example/report-queue/shared/logger"
	"github.com/example/report-queue/shared/mongodb"
	"github.com/example/report-queue/shared/postgresql"
	"github.com/example/report-queue/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger := logger.New(logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableCaller: cfg.Logging.EnableCaller,
		Service:      "worker-service",
	})

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	messageStore, storeCleanup, err := initStore(cfg, appLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer storeCleanup()

	queueClient, queueCleanup, err := initQueue(cfg, appLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize queue: %w", err)
	}
	defer queueCleanup()

	processor := report.NewRunner(cfg.Pipeline.SimulatedExecution(), appLogger)

	pipe := pipeline.New(queueClient, messageStore, dedup.NewGuard(), processor, pipeline.Options{
		QueueName:       cfg.Queue.MainName,
		ChannelCapacity: cfg.Pipeline.ChannelCapacity,
		WorkerCount:     cfg.Pipeline.WorkerCount,
		MaxRetries:      cfg.Pipeline.MaxRetries,
		ReceiveWait:     cfg.Pipeline.ReceiveWait(),
		DrainTimeout:    cfg.Pipeline.DrainTimeout(),
		ClaimTTL:        cfg.Pipeline.ClaimTTL(),
		Retention:       cfg.Pipeline.Retention(),
		Host:            cfg.Pipeline.Host,
	}, appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipe.Start(ctx)

	appLogger.Info("Worker service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	appLogger.Info("Received signal, shutting down gracefully",
		slog.String("signal", sig.String()),
	)

	cancel()
	pipe.Stop()

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// initStore builds the configured job store and returns a cleanup func.
func initStore(cfg *config.Config, appLogger *slog.Logger) (store.Store, func(), error) {
	switch cfg.Store.Driver {
	case "postgres":
		dbClient, err := postgresql.NewClient(postgresql.Config{
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			Database:        cfg.Database.Database,
			SSLMode:         cfg.Database.SSLMode,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetimeMinutes) * time.Minute,
			ConnMaxIdleTime: time.Duration(cfg.Database.ConnMaxIdleTimeMinutes) * time.Minute,
		}, appLogger)
		if err != nil {
			return nil, nil, err
		}

		pgStore := store.NewPostgresStore(dbClient.GetDB(), cfg.Queue.MainName, appLogger)
		if err := pgStore.EnsureSchema(context.Background()); err != nil {
			dbClient.Close()
			return nil, nil, fmt.Errorf("failed to ensure postgres schema: %w", err)
		}
		return pgStore, func() { dbClient.Close() }, nil

	case "mongo":
		mongoClient, err := mongodb.NewClient(mongodb.Config{
			URI:      cfg.Mongo.URI,
			Database: cfg.Mongo.Database,
		}, appLogger)
		if err != nil {
			return nil, nil, err
		}

		mongoStore := store.NewMongoStore(mongoClient.Collection(cfg.Mongo.Collection), cfg.Queue.MainName, appLogger)
		if err := mongoStore.EnsureIndexes(context.Background()); err != nil {
			mongoClient.Close(context.Background())
			return nil, nil, fmt.Errorf("failed to ensure mongo indexes: %w", err)
		}
		return mongoStore, func() { mongoClient.Close(context.Background()) }, nil

	default:
		return store.NewMemoryStore(cfg.Queue.MainName), func() {}, nil
	}
}

// initQueue builds the configured broker client and returns a cleanup func.
func initQueue(cfg *config.Config, appLogger *slog.Logger) (queue.Client, func(), error) {
	switch cfg.Queue.Provider {
	case "rabbitmq":
		rabbitClient, err := rabbitmq.NewClient(&rabbitmq.Config{
			Host:               cfg.RabbitMQ.Host,
			Port:               cfg.RabbitMQ.Port,
			User:               cfg.RabbitMQ.User,
			Password:           cfg.RabbitMQ.Password,
			VHost:              cfg.RabbitMQ.VHost,
			ExchangeName:       cfg.RabbitMQ.Exchange,
			ExchangeType:       cfg.RabbitMQ.ExchangeType,
			ExchangeDurable:    cfg.RabbitMQ.Durable,
			MainQueue:          cfg.Queue.MainName,
			ErrorQueue:         cfg.Queue.ErrorName,
			QueueDurable:       cfg.RabbitMQ.Durable,
			RetryAttempts:      cfg.RabbitMQ.RetryAttempts,
			RetryInterval:      time.Duration(cfg.RabbitMQ.RetryIntervalSeconds) * time.Second,
			Heartbeat:          time.Duration(cfg.RabbitMQ.HeartbeatSeconds) * time.Second,
			PublishRetries:     cfg.RabbitMQ.PublishRetries,
			PublishRetryDelay:  time.Duration(cfg.RabbitMQ.PublishRetryDelayMs) * time.Millisecond,
			PublishBackoffMult: cfg.RabbitMQ.PublishBackoffMult,
		}, appLogger)
		if err != nil {
			return nil, nil, err
		}

		client := queue.NewRabbitClient(rabbitClient, cfg.Queue.MainName, cfg.Queue.ErrorName, cfg.Pipeline.ReceiveWait(), appLogger)
		return client, func() { rabbitClient.Close() }, nil

	default:
		return queue.NewMemoryClient(cfg.Queue.MainName, cfg.Queue.ErrorName), func() {}, nil
	}
}
