// Package broker runs dispatch tasks, either on an in-process worker pool
// or through the asynq queue.
package broker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/langboard/botengine/internal/domain/models"
	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("broker closed")

// Task asks for one bot to be called with one event. Scope is zero for
// default triggers that do not go through a subscription.
type Task struct {
	ID    string             `json:"task_id"`
	BotID models.SnowflakeID `json:"bot_uid"`
	Scope models.ScopeRef    `json:"scope"`
	Event models.Event       `json:"event"`
}

func NewTask(botID models.SnowflakeID, scope models.ScopeRef, event models.Event) Task {
	return Task{
		ID:    uuid.NewString(),
		BotID: botID,
		Scope: scope,
		Event: event,
	}
}

type Broker interface {
	Submit(ctx context.Context, task Task) error
}

type Handler func(ctx context.Context, task Task) error

type Middleware func(Handler) Handler

// Chain wraps h so the first middleware runs outermost.
func Chain(h Handler, middlewares ...Middleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// Recover turns a panicking task into an error.
func Recover() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, task Task) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Str("task_id", task.ID).
						Str("bot_id", task.BotID.String()).
						Interface("panic", r).
						Str("stack", string(debug.Stack())).
						Msg("Dispatch task panicked")
					err = fmt.Errorf("task panicked: %v", r)
				}
			}()
			return next(ctx, task)
		}
	}
}

func Logging() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, task Task) error {
			start := time.Now()
			err := next(ctx, task)
			event := log.Debug()
			if err != nil {
				event = log.Warn().Err(err)
			}
			event.
				Str("task_id", task.ID).
				Str("bot_id", task.BotID.String()).
				Str("event", task.Event.Kind).
				Dur("duration", time.Since(start)).
				Msg("Dispatch task finished")
			return err
		}
	}
}

// Sync runs every task inline on the caller's goroutine.
type Sync struct {
	handler Handler
}

func NewSync(handler Handler) *Sync {
	return &Sync{handler: Chain(handler, Recover())}
}

func (s *Sync) Submit(ctx context.Context, task Task) error {
	return s.handler(ctx, task)
}
