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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/icclabs/icc-cron/internal/config"
	"github.com/icclabs/icc-cron/internal/cron/backoff"
	"github.com/icclabs/icc-cron/internal/cron/engine"
	"github.com/icclabs/icc-cron/internal/cron/metrics"
	"github.com/icclabs/icc-cron/internal/cron/service"
	"github.com/icclabs/icc-cron/internal/cron/storage"
	"github.com/icclabs/icc-cron/shared/logger"
	"github.com/icclabs/icc-cron/shared/postgresql"
	"github.com/icclabs/icc-cron/shared/rabbitmq"
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
	defaultConfigPath := os.Getenv("SCHEDULER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/scheduler-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateSchedulerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting scheduler service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	appLogger.Info("Database connection established")

	// Initialize RabbitMQ client for wake events (optional)
	var rabbitClient *rabbitmq.Client
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err = initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		appLogger.Info("RabbitMQ connection established")
	} else {
		appLogger.Info("RabbitMQ disabled, running on poll interval alone")
	}

	// Wire storage, service, and the delivery engine
	store := storage.NewStore(dbClient, appLogger.Logger)
	svc := service.New(store, appLogger.Logger, nil)

	// Seed the internal job catalogue before the first poll
	if err := svc.ApplyICCJobs(context.Background(), iccJobSpecs(cfg.ICCJobs)); err != nil {
		return fmt.Errorf("failed to apply internal jobs: %w", err)
	}

	registry := prometheus.NewRegistry()
	engineMetrics := metrics.New(registry)

	executor := engine.NewExecutor(&engine.ExecutorConfig{
		Store:   store,
		Metrics: engineMetrics,
		Logger:  appLogger.Logger,
		Backoff: backoff.Policy{
			Initial: cfg.Scheduler.BackoffInitial,
			Max:     cfg.Scheduler.BackoffMax,
		},
		RequestTimeout: cfg.Scheduler.RequestTimeout,
	})

	scheduler := engine.NewScheduler(&engine.SchedulerConfig{
		Store:        store,
		Executor:     executor,
		Logger:       appLogger.Logger,
		PollInterval: cfg.Scheduler.PollInterval,
		DueLimit:     cfg.Scheduler.DueLimit,
		Concurrency:  cfg.Scheduler.Concurrency,
	})

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start scheduler in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := scheduler.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	// Forward broker wake events into the scheduler
	if rabbitClient != nil {
		if err := consumeWakeEvents(ctx, rabbitClient, scheduler, appLogger.Logger); err != nil {
			return fmt.Errorf("failed to consume wake events: %w", err)
		}
	}

	// Expose health and metrics
	metricsSrv := startMetricsServer(cfg.Server.Port, registry, appLogger.Logger)

	appLogger.Info("Scheduler service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Scheduler error",
			slog.Any("error", err),
		)
		return err
	}

	// Cancel context to stop the scheduler loop and workers
	cancel()

	shutdownTimeout := cfg.Scheduler.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop scheduler, waiting for in-flight deliveries
	done := make(chan struct{})
	go func() {
		scheduler.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Scheduler stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Scheduler shutdown timeout exceeded, forcing exit")
	}

	// Cleanup function to close all resources
	cleanup := func() {
		if metricsSrv != nil {
			metricsSrv.Shutdown(shutdownCtx)
		}
		if dbClient != nil {
			dbClient.Close()
		}
		if rabbitClient != nil {
			rabbitClient.Close()
		}
	}
	cleanup()

	appLogger.Info("Scheduler service shutdown complete")
	return nil
}

// iccJobSpecs converts the configured internal job catalogue into
// service specs.
func iccJobSpecs(jobs []config.ICCJobConfig) []service.ICCJobSpec {
	specs := make([]service.ICCJobSpec, len(jobs))
	for i, j := range jobs {
		specs[i] = service.ICCJobSpec{
			Name:       j.Name,
			Schedule:   j.Schedule,
			URL:        j.URL,
			Method:     j.Method,
			MaxRetries: j.MaxRetries,
			Paused:     j.Paused,
			Enabled:    j.Enabled,
		}
	}
	return specs
}

// consumeWakeEvents drains the wake queue and nudges the scheduler. The
// event payload carries no information; the poll re-reads the database.
func consumeWakeEvents(ctx context.Context, client *rabbitmq.Client, scheduler *engine.Scheduler, logger *slog.Logger) error {
	deliveries, err := client.Consume("scheduler-service")
	if err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					logger.Warn("Wake event channel closed")
					return
				}
				scheduler.Wake()
				if err := d.Ack(false); err != nil {
					logger.Warn("Failed to ack wake event",
						slog.Any("error", err),
					)
				}
			}
		}
	}()

	return nil
}

// startMetricsServer serves /health and /metrics for the scheduler process.
func startMetricsServer(port int, registry *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"icc-cron-scheduler"}`))
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed",
				slog.Any("error", err),
			)
		}
	}()

	return srv
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
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
