package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/example/report-queue/internal/api/handler"
	"github.com/example/report-queue/internal/api/router"
	"github.com/example/report-queue/internal/config"
	"github.com/example/report-queue/internal/queue"
	"github.com/example/report-queue/internal/replay"
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

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger := logger.New(logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableCaller: cfg.Logging.EnableCaller,
		Service:      "api-service",
	})

	appLogger.Info("Starting API service",
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

	replayService := replay.NewService(
		queueClient,
		messageStore,
		cfg.Queue.MainName,
		cfg.Pipeline.ErrorScanLimit,
		cfg.Pipeline.Retention(),
		appLogger,
	)

	r := initRouter(cfg, appLogger, queueClient, messageStore, replayService)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSeconds) * time.Second,
	}

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
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

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, appLogger *slog.Logger, queueClient queue.Client, messageStore store.Store, replayService *replay.Service) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	handlerDeps := &handler.Dependencies{
		Logger:         appLogger,
		Queue:          queueClient,
		Store:          messageStore,
		Replay:         replayService,
		MainQueueName:  cfg.Queue.MainName,
		PeekMaxDefault: cfg.Pipeline.PeekMaxDefault,
		Retention:      cfg.Pipeline.Retention(),
	}

	return router.SetupRouter(handlerDeps)
}
