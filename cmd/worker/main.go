package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/langboard/botengine/internal/api"
	"github.com/langboard/botengine/internal/bots/broker"
	"github.com/langboard/botengine/internal/bots/engine"
	"github.com/langboard/botengine/internal/bots/events"
	"github.com/langboard/botengine/internal/domain/models"
	"github.com/langboard/botengine/internal/pkg/config"
	"github.com/langboard/botengine/internal/pkg/database"
	"github.com/langboard/botengine/internal/pkg/logger"
	"github.com/langboard/botengine/internal/pkg/queue"
	pkgredis "github.com/langboard/botengine/internal/pkg/redis"
	"github.com/langboard/botengine/internal/scheduler/crontab"
	"github.com/langboard/botengine/internal/worker"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize logger
	logger.Init(cfg.App.Environment, cfg.App.Debug)
	models.SetSnowflakeNode(cfg.Snowflake.Node)

	log.Info().
		Str("app", cfg.App.Name).
		Str("service", "worker").
		Str("broker", cfg.Worker.Broker).
		Msg("Starting worker service")

	// Connect to database
	db, err := database.NewGormDB(&cfg.Database, cfg.App.Debug)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	if cfg.Database.AutoMigrate {
		if err := database.AutoMigrate(db); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}
	}

	// Connect to Redis
	redisClient, err := pkgredis.NewClient(&cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}

	// Initialize queue client
	queueClient := queue.NewClient(&cfg.Redis)
	defer queueClient.Close()
	queueClient.SetDispatchTimeout(time.Duration(cfg.Bots.RequestTrials+1)*cfg.Bots.RequestTimeout + time.Minute)

	deps := engine.Dependencies{
		DB:        db,
		Crontab:   newCrontabStore(cfg),
		Publisher: events.NewRedisPublisher(redisClient.Client),
		Claimer:   redisClient,
	}
	if cfg.Worker.Broker != "local" {
		deps.Broker = broker.NewQueue(queueClient)
	}
	eng := engine.New(cfg, deps)

	// Ops endpoints
	ops := api.NewServer(cfg.Worker.MetricsAddr, cfg.App.Name+"-worker", db, redisClient.Client)
	ops.Start()

	// Create worker
	w := worker.New(cfg, eng)

	// Start worker
	if err := w.Start(); err != nil {
		log.Fatal().Err(err).Msg("Worker error")
	}

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ops.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Error stopping ops server")
	}
	w.Shutdown()
	eng.Close()

	log.Info().Msg("Worker stopped")
}

func newCrontabStore(cfg *config.Config) crontab.Store {
	var opts []crontab.FileStoreOption
	if cfg.Crontab.InstallCommand != "" {
		opts = append(opts, crontab.WithInstallCommand(cfg.Crontab.InstallCommand))
	}
	return crontab.NewFileStore(cfg.Crontab.Path, opts...)
}
