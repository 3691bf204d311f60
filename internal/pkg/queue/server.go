package queue

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/langboard/botengine/internal/pkg/config"
	"github.com/rs/zerolog/log"
)

type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewServer builds the worker side of the event bus. Routing tasks on the
// critical queue always drain before dispatches.
func NewServer(cfg *config.RedisConfig, concurrency int, shutdownTimeout time.Duration) *Server {
	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Addr(),
			Password: cfg.Password,
			DB:       cfg.DB,
		},
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				QueueCritical: 6,
				QueueDefault:  3,
				QueueLow:      1,
			},
			StrictPriority:  true,
			ShutdownTimeout: shutdownTimeout,
			ErrorHandler:    asynq.ErrorHandlerFunc(reportFailure),
			Logger:          &asynqLogger{},
		},
	)

	return &Server{
		server: server,
		mux:    asynq.NewServeMux(),
	}
}

func reportFailure(ctx context.Context, task *asynq.Task, err error) {
	taskID, _ := asynq.GetTaskID(ctx)
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)

	ev := log.Error()
	if errors.Is(err, asynq.SkipRetry) || retried < maxRetry {
		ev = log.Warn()
	}
	ev.Str("task_type", task.Type()).
		Str("task_id", taskID).
		Int("retried", retried).
		Int("max_retry", maxRetry).
		Err(err).
		Msg("Task failed")
}

func (s *Server) HandleFunc(pattern string, handler func(context.Context, *asynq.Task) error) {
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) Start() error {
	log.Info().Msg("Starting queue server...")
	return s.server.Start(s.mux)
}

func (s *Server) Shutdown() {
	log.Info().Msg("Shutting down queue server...")
	s.server.Shutdown()
}

type asynqLogger struct{}

func (l *asynqLogger) Debug(args ...interface{}) {
	log.Debug().Str("component", "asynq").Msgf("%v", args)
}

func (l *asynqLogger) Info(args ...interface{}) {
	log.Info().Str("component", "asynq").Msgf("%v", args)
}

func (l *asynqLogger) Warn(args ...interface{}) {
	log.Warn().Str("component", "asynq").Msgf("%v", args)
}

func (l *asynqLogger) Error(args ...interface{}) {
	log.Error().Str("component", "asynq").Msgf("%v", args)
}

func (l *asynqLogger) Fatal(args ...interface{}) {
	log.Fatal().Str("component", "asynq").Msgf("%v", args)
}
