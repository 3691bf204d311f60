// Package events publishes bot log stream and webhook control events over
// Redis pub/sub.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/langboard/botengine/internal/domain/models"
	"github.com/redis/go-redis/v9"
)

type EventType string

const (
	EventLogCreated    EventType = "bot_log_created"
	EventLogStackAdded EventType = "bot_log_stack_added"
	EventWebhook       EventType = "webhook"
)

const WebhookChannel = "bots:webhook"

type Event struct {
	Type      EventType              `json:"type"`
	BotID     models.SnowflakeID     `json:"bot_uid,omitempty"`
	ProjectID *models.SnowflakeID    `json:"project_uid,omitempty"`
	LogID     models.SnowflakeID     `json:"log_uid,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Channel is where the event is published: the project room when the event
// is project-bound, otherwise the bot's own channel.
func (e *Event) Channel() string {
	switch {
	case e.Type == EventWebhook:
		return WebhookChannel
	case e.ProjectID != nil && !e.ProjectID.IsZero():
		return "project:" + e.ProjectID.ShortCode()
	default:
		return "bot:" + e.BotID.ShortCode()
	}
}

// Publisher is the hook the engine reports to. Implementations must keep
// the order of calls made from one goroutine.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
}

type RedisPublisher struct {
	redis *redis.Client
	now   func() time.Time
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{redis: client, now: time.Now}
}

func (p *RedisPublisher) Publish(ctx context.Context, event *Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.redis.Publish(ctx, event.Channel(), data).Err()
}

func LogCreated(ctx context.Context, p Publisher, log *models.BotLog, projectID *models.SnowflakeID) error {
	data := map[string]interface{}{
		"log_type":      log.LogType,
		"message_stack": log.MessageStack,
		"created_at":    log.CreatedAt,
	}
	if log.Scope != nil {
		data["scope_kind"] = log.Scope.ScopeKind
		data["scope_uid"] = log.Scope.ScopeID
	}
	return p.Publish(ctx, &Event{
		Type:      EventLogCreated,
		BotID:     log.BotID,
		ProjectID: projectID,
		LogID:     log.ID,
		Data:      data,
	})
}

func LogStackAdded(ctx context.Context, p Publisher, log *models.BotLog, frame models.LogFrame, projectID *models.SnowflakeID) error {
	return p.Publish(ctx, &Event{
		Type:      EventLogStackAdded,
		BotID:     log.BotID,
		ProjectID: projectID,
		LogID:     log.ID,
		Data: map[string]interface{}{
			"log_type":   log.LogType,
			"stack":      frame,
			"updated_at": log.UpdatedAt,
		},
	})
}

// Webhook announces a routed domain event to external listeners.
func Webhook(ctx context.Context, p Publisher, event *models.Event) error {
	projectID, _ := event.ProjectID()
	var pid *models.SnowflakeID
	if !projectID.IsZero() {
		pid = &projectID
	}
	return p.Publish(ctx, &Event{
		Type:      EventWebhook,
		ProjectID: pid,
		Data: map[string]interface{}{
			"event":   event.Kind,
			"payload": event.Payload,
		},
	})
}
