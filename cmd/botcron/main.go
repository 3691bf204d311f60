// Command botcron fires the bots behind one crontab comment. The crontab
// lines written by the schedule registry call it through the wrapper
// script:
//
//	botcron '<comment>'
//
// botcron daemon runs the crontab in-process for hosts without cron, and
// botcron reconcile rewrites the managed lines from the database.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

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
	"github.com/langboard/botengine/internal/scheduler/daemon"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
)

func main() {
	timeout := flag.Duration("timeout", 10*time.Minute, "upper bound for one firing, dispatches included")
	debounce := flag.Duration("debounce", 250*time.Millisecond, "daemon: delay before reloading a changed crontab")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: botcron [flags] '<comment>' | daemon | reconcile\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.Init(cfg.App.Environment, cfg.App.Debug)
	models.SetSnowflakeNode(cfg.Snowflake.Node)

	db, err := database.NewGormDB(&cfg.Database, cfg.App.Debug)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}

	var opts []crontab.FileStoreOption
	if cfg.Crontab.InstallCommand != "" {
		opts = append(opts, crontab.WithInstallCommand(cfg.Crontab.InstallCommand))
	}
	store := crontab.NewFileStore(cfg.Crontab.Path, opts...)
	deps := engine.Dependencies{DB: db, Crontab: store}

	// Redis carries the dispatch queue, the log stream and the tick claims.
	// Local dispatch can run without it.
	redisClient, err := pkgredis.NewClient(&cfg.Redis)
	switch {
	case err == nil:
		deps.Publisher = events.NewRedisPublisher(redisClient.Client)
		deps.Claimer = redisClient
		if cfg.Worker.Broker != "local" {
			queueClient := queue.NewClient(&cfg.Redis)
			defer queueClient.Close()
			deps.Broker = broker.NewQueue(queueClient)
		}
	case cfg.Worker.Broker == "local":
		log.Warn().Err(err).Msg("Redis unavailable, dispatching locally without log events")
	default:
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}

	eng := engine.New(cfg, deps)
	defer eng.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd := flag.Arg(0); {
	case cmd == "daemon" && flag.NArg() == 1:
		runDaemon(ctx, cfg, eng, store, *debounce)
	case cmd == "reconcile" && flag.NArg() == 1:
		added, removed, err := eng.Schedules.Reconcile(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Crontab reconcile failed")
		}
		log.Info().Int("added", added).Int("removed", removed).Msg("Crontab reconciled")
	default:
		fireOnce(ctx, eng, strings.Join(flag.Args(), " "), *timeout)
	}
}

func fireOnce(ctx context.Context, eng *engine.Engine, comment string, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	l := logger.WithComment(comment)
	report, err := eng.FireCron(ctx, comment)
	if err != nil {
		l.Fatal().Err(err).Msg("Cron firing failed")
	}
	eng.Wait()

	l.Info().
		Bool("duplicate", report.Duplicate).
		Int("matched", report.Matched).
		Int("fired", len(report.Fired)).
		Int("started", len(report.Started)).
		Int("stopped", len(report.Stopped)).
		Int("skipped", len(report.Skipped)).
		Int("failed", len(report.Failed)).
		Msg("Cron firing finished")
}

func runDaemon(ctx context.Context, cfg *config.Config, eng *engine.Engine, store crontab.Store, debounce time.Duration) {
	d := daemon.New(daemon.Config{
		ScriptPath: cfg.Crontab.ScriptPath,
		WatchPath:  cfg.Crontab.Path,
		Debounce:   debounce,
	}, store, func(ctx context.Context, comment string) error {
		_, err := eng.FireCron(ctx, comment)
		return err
	})

	if err := d.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Cron daemon failed")
	}
	eng.Wait()
}
