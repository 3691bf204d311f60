package broker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/langboard/botengine/internal/pkg/metrics"
	"github.com/langboard/botengine/internal/pkg/queue"
)

type enqueuer interface {
	EnqueueBotDispatch(ctx context.Context, payload queue.BotDispatchPayload) (*asynq.TaskInfo, error)
}

// Queue hands tasks to the asynq queue for the worker process to run.
type Queue struct {
	client enqueuer
}

func NewQueue(client *queue.Client) *Queue {
	return &Queue{client: client}
}

func (q *Queue) Submit(ctx context.Context, task Task) error {
	_, err := q.client.EnqueueBotDispatch(ctx, queue.BotDispatchPayload{
		TaskID: task.ID,
		BotID:  task.BotID,
		Scope:  task.Scope,
		Event:  task.Event,
	})
	if err != nil {
		return fmt.Errorf("enqueue dispatch for bot %s: %w", task.BotID, err)
	}
	metrics.QueueTasksTotal.WithLabelValues(queue.TypeBotDispatch, "queue").Inc()
	return nil
}

// TaskHandler adapts a Handler to asynq's bot:dispatch task.
func TaskHandler(h Handler) func(context.Context, *asynq.Task) error {
	h = Chain(h, Recover(), Logging())
	return func(ctx context.Context, t *asynq.Task) error {
		payload, err := queue.ParseBotDispatch(t)
		if err != nil {
			return err
		}
		err = h(ctx, Task{
			ID:    payload.TaskID,
			BotID: payload.BotID,
			Scope: payload.Scope,
			Event: payload.Event,
		})
		status := "succeeded"
		if err != nil {
			status = "failed"
		}
		metrics.QueueTasksProcessed.WithLabelValues(queue.TypeBotDispatch, status).Inc()
		return err
	}
}
