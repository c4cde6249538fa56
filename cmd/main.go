package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/baymax-09/roobet-casino-sub000/internal/api/handlers"
	"github.com/baymax-09/roobet-casino-sub000/internal/api/routes"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	"github.com/baymax-09/roobet-casino-sub000/internal/infrastructure/config"
	"github.com/baymax-09/roobet-casino-sub000/internal/infrastructure/database"
	"github.com/baymax-09/roobet-casino-sub000/internal/infrastructure/di"
	"github.com/baymax-09/roobet-casino-sub000/internal/infrastructure/stream"
	"github.com/baymax-09/roobet-casino-sub000/pkg/graceful"
	"github.com/baymax-09/roobet-casino-sub000/pkg/logger"
	"github.com/baymax-09/roobet-casino-sub000/pkg/tracing"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel, cfg.Environment)
	defer log.Sync()

	if len(os.Args) > 1 && os.Args[1] == "publish-deposits" {
		if err := publishDeposits(context.Background(), cfg, os.Stdin); err != nil {
			log.Fatal("Failed to publish deposits", "error", err)
		}
		return
	}

	// Initialize OpenTelemetry tracing
	tracingConfig := tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		CollectorURL: cfg.Tracing.CollectorURL,
		Environment:  cfg.Environment,
		SampleRate:   cfg.Tracing.SampleRate,
		Insecure:     cfg.Tracing.Insecure,
	}
	tracingShutdown, err := tracing.InitTracer(context.Background(), tracingConfig, log.Zap())
	if err != nil {
		log.Fatal("Failed to initialize tracing", "error", err)
	}

	// Initialize database
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}

	// Run migrations
	if err := database.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsPath); err != nil {
		log.Fatal("Failed to run migrations", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Build dependency injection container
	container, err := di.NewContainer(ctx, cfg, db, log)
	if err != nil {
		log.Fatal("Failed to create DI container", "error", err)
	}

	if err := container.StartWorkers(ctx); err != nil {
		log.Fatal("Failed to start workers", "error", err)
	}
	log.Info("Settlement workers started", "networks", container.Networks())

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := routes.SetupRoutes(handlers.NewCoreHandlers(container.HealthChecks(), log), log)

	server := &http.Server{
		Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	go func() {
		log.Info("Starting server",
			"port", cfg.Server.Port,
			"environment", cfg.Environment,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", "error", err)
		}
	}()

	shutdown := graceful.NewShutdownManager(server, db, cancel, log)
	shutdown.Register(graceful.ShutdownFunc(container.Shutdown))
	shutdown.Register(graceful.ShutdownFunc(tracingShutdown))
	shutdown.WaitForShutdown()

	log.Info("Server exited gracefully")
}

// publishDeposits writes the deposit batches read from r, one JSON object
// per batch, to the deposit topic. Chain watchers and operators use it to
// replay observed deposits.
func publishDeposits(ctx context.Context, cfg *config.Config, r io.Reader) error {
	publisher := stream.NewDepositPublisher(stream.NewDepositWriter(cfg.Kafka))
	defer publisher.Close()

	dec := json.NewDecoder(r)
	for {
		var msg entities.DepositMessage
		if err := dec.Decode(&msg); err == io.EOF {
			return nil
		} else if err != nil {
			return fmt.Errorf("failed to decode deposit batch: %w", err)
		}
		if err := publisher.PublishDepositMessage(ctx, msg); err != nil {
			return err
		}
	}
}
