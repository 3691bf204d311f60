package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/langboard/botengine/internal/bots/broker"
	"github.com/langboard/botengine/internal/bots/engine"
	"github.com/langboard/botengine/internal/bots/router"
	"github.com/langboard/botengine/internal/pkg/config"
	"github.com/langboard/botengine/internal/pkg/queue"
	"github.com/rs/zerolog/log"
)

type Worker struct {
	server *queue.Server
	engine *engine.Engine
}

func New(cfg *config.Config, eng *engine.Engine) *Worker {
	server := queue.NewServer(&cfg.Redis, cfg.Worker.Concurrency, cfg.Bots.RequestTimeout+10*time.Second)

	w := &Worker{
		server: server,
		engine: eng,
	}

	// Register handlers
	server.HandleFunc(queue.TypeBotEvent, w.handleBotEvent)
	server.HandleFunc(queue.TypeBotDispatch, broker.TaskHandler(eng.Dispatcher.Handle))

	return w
}

func (w *Worker) Start() error {
	log.Info().Msg("Starting worker...")
	return w.server.Start()
}

func (w *Worker) Shutdown() {
	w.server.Shutdown()
	w.engine.Wait()
}

func (w *Worker) handleBotEvent(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseBotEvent(task)
	if err != nil {
		return err
	}

	event := payload.Event
	log.Debug().
		Str("event", event.Kind).
		Str("scope", event.Scope.String()).
		Msg("Routing bot event")

	targets, err := w.engine.HandleEvent(ctx, &event)
	switch {
	case errors.Is(err, router.ErrNoTarget), errors.Is(err, router.ErrBotNotFound):
		// nothing to retry: the event names a bot that cannot be reached
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	case err != nil:
		return err
	}

	log.Info().
		Str("event", event.Kind).
		Int("targets", len(targets)).
		Msg("Bot event routed")
	return nil
}
