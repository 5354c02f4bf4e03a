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

	"github.com/jobflow-dev/jobflow-be/internal/config"
	"github.com/jobflow-dev/jobflow-be/internal/job/dispatch"
	"github.com/jobflow-dev/jobflow-be/internal/job/repository"
	"github.com/jobflow-dev/jobflow-be/internal/job/service"
	"github.com/jobflow-dev/jobflow-be/internal/joblock"
	"github.com/jobflow-dev/jobflow-be/internal/sweeper"
	"github.com/jobflow-dev/jobflow-be/internal/worker"
	"github.com/jobflow-dev/jobflow-be/shared/logger"
	"github.com/jobflow-dev/jobflow-be/shared/postgresql"
	"github.com/jobflow-dev/jobflow-be/shared/rabbitmq"
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

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.Int("concurrency", cfg.Worker.Concurrency),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established")

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	// Wire the job lifecycle
	repo := repository.New(dbClient.GetDB(), appLogger.Logger)
	dispatcher := dispatch.New(rabbitClient, appLogger.Logger)

	var locker service.Locker
	if cfg.Jobs.UseExclusiveLock {
		locker = joblock.NewManager(dbClient.GetDB())
	}

	jobService := service.New(&service.Config{
		Logger:         appLogger.Logger,
		Store:          repo,
		Dispatcher:     dispatcher,
		Processor:      &service.SimulatedProcessor{Delay: 2 * time.Second},
		Locker:         locker,
		ProcessTimeout: cfg.Worker.JobTimeout,
	})

	// Create worker pool consuming dispatched jobs
	w := worker.New(&worker.Config{
		Logger:        appLogger.Logger,
		Lifecycle:     jobService,
		RabbitClient:  rabbitClient,
		Concurrency:   cfg.Worker.Concurrency,
		PrefetchCount: cfg.RabbitMQ.Consumer.PrefetchCount,
	})

	// Create the maintenance sweeper
	sw := sweeper.New(&sweeper.Config{
		Logger:           appLogger.Logger,
		Store:            repo,
		Dispatcher:       dispatcher,
		StalledThreshold: cfg.Jobs.StalledThreshold,
		RedispatchAfter:  cfg.Jobs.RedispatchAfter,
		RetentionDays:    cfg.Jobs.RetentionDays,
		SweepSchedule:    cfg.Jobs.SweepSchedule,
		CleanupSchedule:  cfg.Jobs.CleanupSchedule,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sw.Start(); err != nil {
		return fmt.Errorf("failed to start sweeper: %w", err)
	}

	// Start worker in goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := w.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service is running")

	// Wait for interrupt signal or worker failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received shutdown signal",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Worker failed",
			slog.Any("error", err),
		)
		sw.Stop()
		return err
	}

	// Graceful shutdown
	appLogger.Info("Shutting down worker service...",
		slog.Duration("timeout", cfg.Worker.ShutdownTimeout),
	)

	cancel()
	sw.Stop()

	shutdownDone := make(chan struct{})
	go func() {
		w.Stop()
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
		appLogger.Info("Worker service shutdown complete")
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("Worker service shutdown timed out, forcing exit")
	}

	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		DelayQueueName:     cfg.DelayQueue,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
