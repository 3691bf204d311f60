// Package router fans domain events out to the bots subscribed to them.
package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/langboard/botengine/internal/bots/broker"
	"github.com/langboard/botengine/internal/bots/events"
	"github.com/langboard/botengine/internal/bots/scope"
	"github.com/langboard/botengine/internal/domain/models"
	"github.com/langboard/botengine/internal/domain/repositories"
	"github.com/langboard/botengine/internal/pkg/metrics"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var (
	ErrNoTarget    = errors.New("default trigger without target bot")
	ErrBotNotFound = errors.New("target bot not found")
)

// Target is one bot to call for an event. Scope is the subscription level
// that matched, or the event's own scope for default triggers.
type Target struct {
	Bot   *models.Bot
	Scope models.ScopeRef
}

type Router struct {
	scopes    *scope.Registry
	bots      *repositories.BotRepository
	broker    broker.Broker
	publisher events.Publisher
	dedupe    bool
}

type Option func(*Router)

// WithDedupe keeps only the first target per bot, broadest scope first.
func WithDedupe() Option {
	return func(r *Router) { r.dedupe = true }
}

func WithPublisher(p events.Publisher) Option {
	return func(r *Router) { r.publisher = p }
}

func New(db *gorm.DB, scopes *scope.Registry, b broker.Broker, opts ...Option) *Router {
	r := &Router{
		scopes:    scopes,
		bots:      repositories.NewBotRepository(db),
		broker:    b,
		publisher: events.Nop{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route resolves the targets of event and submits one dispatch task per
// target. Submission failures are logged; the targets are still returned.
func (r *Router) Route(ctx context.Context, event *models.Event) ([]Target, error) {
	var (
		targets []Target
		err     error
	)
	if models.IsDefaultTrigger(event.Kind) {
		targets, err = r.direct(ctx, event)
	} else {
		targets, err = r.subscribed(ctx, event)
		if err == nil {
			if perr := events.Webhook(ctx, r.publisher, event); perr != nil {
				log.Warn().Err(perr).Str("event", event.Kind).Msg("Failed to publish webhook event")
			}
		}
	}
	if err != nil {
		return nil, err
	}

	for _, target := range targets {
		task := broker.NewTask(target.Bot.ID, target.Scope, *event)
		if serr := r.broker.Submit(ctx, task); serr != nil {
			log.Error().
				Err(serr).
				Str("bot_id", target.Bot.ID.String()).
				Str("event", event.Kind).
				Msg("Failed to submit dispatch task")
		}
	}

	metrics.RecordRoute(event.Kind, len(targets))
	log.Debug().
		Str("event", event.Kind).
		Int("targets", len(targets)).
		Msg("Event routed")
	return targets, nil
}

// direct handles default triggers, which name their bot and skip
// subscriptions.
func (r *Router) direct(ctx context.Context, event *models.Event) ([]Target, error) {
	if event.TargetBotID == nil || event.TargetBotID.IsZero() {
		return nil, fmt.Errorf("%w: %s", ErrNoTarget, event.Kind)
	}
	bot, err := r.bots.FindByID(ctx, *event.TargetBotID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrBotNotFound, *event.TargetBotID)
	}
	if err != nil {
		return nil, err
	}
	return []Target{{Bot: bot, Scope: event.Scope}}, nil
}

func (r *Router) subscribed(ctx context.Context, event *models.Event) ([]Target, error) {
	condition := models.TriggerCondition(event.Kind)
	var targets []Target
	seen := make(map[models.SnowflakeID]struct{})

	for _, kind := range models.KindsAccepting(condition) {
		id, ok := event.ScopeID(kind)
		if !ok {
			continue
		}
		ref := models.ScopeRef{Kind: kind, ID: id}
		subs, err := r.scopes.Subscribers(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("load subscribers of %s: %w", ref, err)
		}
		for i := range subs {
			sub := &subs[i]
			if sub.Bot == nil || !sub.HasCondition(condition) {
				continue
			}
			if r.dedupe {
				if _, dup := seen[sub.BotID]; dup {
					continue
				}
				seen[sub.BotID] = struct{}{}
			}
			targets = append(targets, Target{Bot: sub.Bot, Scope: ref})
		}
	}
	return targets, nil
}
