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

	"github.com/mdlforge/conversiond/internal/api/handler"
	"github.com/mdlforge/conversiond/internal/api/router"
	"github.com/mdlforge/conversiond/internal/archive"
	"github.com/mdlforge/conversiond/internal/config"
	"github.com/mdlforge/conversiond/internal/events"
	"github.com/mdlforge/conversiond/internal/janitor"
	"github.com/mdlforge/conversiond/internal/job"
	"github.com/mdlforge/conversiond/internal/packager"
	"github.com/mdlforge/conversiond/internal/pipeline"
	"github.com/mdlforge/conversiond/internal/ratelimit"
	"github.com/mdlforge/conversiond/internal/scheduler"
	"github.com/mdlforge/conversiond/internal/upload"
	"github.com/mdlforge/conversiond/shared/logger"
	"github.com/mdlforge/conversiond/shared/postgresql"
	"github.com/mdlforge/conversiond/shared/rabbitmq"
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
	defaultConfigPath := os.Getenv("CONVERSIOND_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting conversion service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Prepare the working directory root
	if err := os.MkdirAll(cfg.Storage.WorkRoot, 0o755); err != nil {
		return fmt.Errorf("failed to create work root: %w", err)
	}

	// Core engine: registry, limiter, validator, pipeline, scheduler
	registry := job.NewRegistry(appLogger.Logger)
	limiter := ratelimit.New(cfg.Limits.RateMaxRequests, cfg.Limits.RateWindow)
	validator := upload.NewValidator(cfg.Limits.MinUploadSize, cfg.Limits.MaxUploadSize)
	bundler := packager.New(appLogger.Logger)

	stages := pipeline.DefaultStages(pipeline.Tools{
		BlenderPath:   cfg.Pipeline.BlenderPath,
		WinePath:      cfg.Pipeline.WinePath,
		StudioMDLPath: cfg.Pipeline.StudioMDLPath,

		ConvertTimeout:  cfg.Pipeline.Convert.Timeout,
		AssembleTimeout: cfg.Pipeline.Assemble.Timeout,
		CompileTimeout:  cfg.Pipeline.Compile.Timeout,

		ConvertWeight:  cfg.Pipeline.Convert.Weight,
		AssembleWeight: cfg.Pipeline.Assemble.Weight,
		CompileWeight:  cfg.Pipeline.Compile.Weight,
	})
	executor := pipeline.NewExecutor(registry, bundler, stages, appLogger.Logger)

	sched := scheduler.New(&scheduler.Config{
		Logger:      appLogger.Logger,
		Registry:    registry,
		Runner:      executor,
		Concurrency: cfg.Worker.Concurrency,
		QueueSize:   cfg.Worker.QueueSize,
	})

	// Optional terminal-job archive
	var dbClient *postgresql.Client
	if cfg.Archive.Enabled {
		dbClient, err = initPostgreSQL(&cfg.Archive, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize archive database: %w", err)
		}

		store, err := archive.NewStore(dbClient, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize archive store: %w", err)
		}
		registry.OnTerminal(store.TerminalHook())
		appLogger.Info("Archive database connection established")
	}

	// Optional lifecycle event publishing
	var rabbitClient *rabbitmq.Client
	if cfg.Events.Enabled {
		rabbitClient, err = initRabbitMQ(&cfg.Events, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize event broker: %w", err)
		}

		publisher := events.NewPublisher(rabbitClient, appLogger.Logger)
		registry.OnTerminal(publisher.TerminalHook())
		appLogger.Info("Event broker connection established")
	}

	// Retention janitor
	schedule := cfg.Storage.CleanupSchedule
	if schedule == "" {
		schedule = "@every 5m"
	}
	jan := janitor.New(&janitor.Config{
		Logger:    appLogger.Logger,
		Registry:  registry,
		Limiter:   limiter,
		Retention: cfg.Storage.Retention,
		Schedule:  schedule,
	})
	if err := jan.Start(); err != nil {
		return fmt.Errorf("failed to start janitor: %w", err)
	}

	// Start the executor pool
	schedCtx, schedCancel := context.WithCancel(context.Background())
	defer schedCancel()
	sched.Start(schedCtx)

	// Initialize router
	r := initRouter(cfg, appLogger.Logger, registry, sched, limiter, validator)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("Conversion service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)

	// Cleanup function to close all resources
	cleanup := func() {
		cancel()
		jan.Stop()
		sched.Stop()
		if dbClient != nil {
			dbClient.Close()
		}
		if rabbitClient != nil {
			rabbitClient.Close()
		}
	}
	defer cleanup()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
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

// initPostgreSQL initializes the archive database client
func initPostgreSQL(cfg *config.ArchiveConfig, logger *slog.Logger) (*postgresql.Client, error) {
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

// initRabbitMQ initializes the lifecycle event broker client
func initRabbitMQ(cfg *config.EventsConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
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

// initRouter initializes the Gin router with all routes and middleware
func initRouter(
	cfg *config.Config,
	logger *slog.Logger,
	registry *job.Registry,
	sched *scheduler.Scheduler,
	limiter *ratelimit.Limiter,
	validator *upload.Validator,
) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize handler dependencies
	handlerDeps := &handler.Dependencies{
		Logger:    logger,
		Registry:  registry,
		Scheduler: sched,
		Limiter:   limiter,
		Validator: validator,
		WorkRoot:  cfg.Storage.WorkRoot,
		LogTail:   cfg.Limits.StatusLogTail,
	}

	// Setup router
	return router.SetupRouter(handlerDeps)
}
