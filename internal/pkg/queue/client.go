package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/langboard/botengine/internal/domain/models"
	"github.com/langboard/botengine/internal/pkg/config"
)

const (
	TypeBotEvent    = "bot:event"
	TypeBotDispatch = "bot:dispatch"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

type Client struct {
	client *asynq.Client

	// upper bound for one dispatch task, all attempts included
	dispatchTimeout time.Duration
}

func NewClient(cfg *config.RedisConfig) *Client {
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &Client{client: client, dispatchTimeout: 30 * time.Minute}
}

// SetDispatchTimeout bounds how long a worker may spend on one dispatch.
func (c *Client) SetDispatchTimeout(d time.Duration) {
	if d > 0 {
		c.dispatchTimeout = d
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// Domain event published by the application for routing
type BotEventPayload struct {
	Event models.Event `json:"event"`
}

func (c *Client) EnqueueBotEvent(ctx context.Context, payload BotEventPayload) (*asynq.TaskInfo, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	task := asynq.NewTask(TypeBotEvent, data,
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(3),
		asynq.Timeout(time.Minute),
		asynq.Retention(time.Hour),
	)

	return c.client.EnqueueContext(ctx, task)
}

// One bot to call for one routed event
type BotDispatchPayload struct {
	TaskID string             `json:"task_id"`
	BotID  models.SnowflakeID `json:"bot_uid"`
	Scope  models.ScopeRef    `json:"scope"`
	Event  models.Event       `json:"event"`
}

// EnqueueBotDispatch queues a dispatch. The dispatcher retries on its own
// and records every attempt in the bot log, so asynq must not retry it.
func (c *Client) EnqueueBotDispatch(ctx context.Context, payload BotDispatchPayload) (*asynq.TaskInfo, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	opts := []asynq.Option{
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(0),
		asynq.Timeout(c.dispatchTimeout),
		asynq.Retention(24 * time.Hour),
	}
	if payload.TaskID != "" {
		opts = append(opts, asynq.TaskID(payload.TaskID))
	}
	task := asynq.NewTask(TypeBotDispatch, data, opts...)

	return c.client.EnqueueContext(ctx, task)
}

func ParseBotEvent(task *asynq.Task) (*BotEventPayload, error) {
	var payload BotEventPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	return &payload, nil
}

func ParseBotDispatch(task *asynq.Task) (*BotDispatchPayload, error) {
	var payload BotDispatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	return &payload, nil
}
