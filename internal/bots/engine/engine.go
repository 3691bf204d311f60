// Package engine wires the schedule, subscription, routing, dispatch and
// log components into the surface the rest of the platform calls.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/langboard/botengine/internal/bots/botlog"
	"github.com/langboard/botengine/internal/bots/broker"
	"github.com/langboard/botengine/internal/bots/dispatcher"
	"github.com/langboard/botengine/internal/bots/events"
	"github.com/langboard/botengine/internal/bots/router"
	"github.com/langboard/botengine/internal/bots/scope"
	"github.com/langboard/botengine/internal/domain/models"
	"github.com/langboard/botengine/internal/pkg/config"
	"github.com/langboard/botengine/internal/pkg/httpclient"
	"github.com/langboard/botengine/internal/pkg/validator"
	"github.com/langboard/botengine/internal/scheduler"
	"github.com/langboard/botengine/internal/scheduler/cron"
	"github.com/langboard/botengine/internal/scheduler/crontab"
	"github.com/langboard/botengine/internal/scheduler/runner"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Dependencies are the handles the engine does not create itself. A nil
// Broker gets an in-process pool running the dispatcher.
type Dependencies struct {
	DB         *gorm.DB
	Crontab    crontab.Store
	Publisher  events.Publisher
	Broker     broker.Broker
	HTTPClient *httpclient.PooledClient
	Claimer    runner.Claimer
}

type Engine struct {
	Schedules  *scheduler.Registry
	Scopes     *scope.Registry
	Logs       *botlog.Stream
	Router     *router.Router
	Dispatcher *dispatcher.Dispatcher
	Runner     *runner.Runner

	db     *gorm.DB
	broker broker.Broker
	local  *broker.Local
}

func New(cfg *config.Config, deps Dependencies) *Engine {
	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.Nop{}
	}

	e := &Engine{
		Schedules: scheduler.NewRegistry(&scheduler.Config{
			ScriptPath:    cfg.Crontab.ScriptPath,
			AllowDSTZones: cfg.Bots.AllowDSTZones,
		}, &scheduler.Dependencies{DB: deps.DB, Crontab: deps.Crontab}),
		Scopes: scope.NewRegistry(deps.DB),
		Logs:   botlog.NewStream(deps.DB, publisher),
		db:     deps.DB,
	}
	e.Dispatcher = dispatcher.New(dispatcher.ConfigFrom(&cfg.Bots), deps.DB, e.Logs, deps.HTTPClient)

	e.broker = deps.Broker
	if e.broker == nil {
		e.local = broker.NewLocal(e.Dispatcher.Handle, cfg.Worker.Concurrency, cfg.Worker.QueueSize)
		e.broker = e.local
	}

	opts := []router.Option{router.WithPublisher(publisher)}
	if cfg.Bots.DedupeTargets {
		opts = append(opts, router.WithDedupe())
	}
	e.Router = router.New(deps.DB, e.Scopes, e.broker, opts...)

	var runnerOpts []runner.Option
	if deps.Claimer != nil {
		runnerOpts = append(runnerOpts, runner.WithClaimer(deps.Claimer, 2*time.Minute))
	}
	e.Runner = runner.New(e.Schedules, e.Router, runnerOpts...)
	return e
}

// Wait blocks until in-process dispatches have finished. It returns at once
// when dispatch is handed to a queue.
func (e *Engine) Wait() {
	if e.local != nil {
		e.local.Wait()
	}
}

func (e *Engine) Close() {
	if e.local != nil {
		e.local.Close()
	}
}

type ScheduleInput struct {
	BotID       models.SnowflakeID            `json:"bot_uid" validate:"required"`
	ScopeKind   models.ScopeKind              `json:"scope_kind" validate:"required,scope_kind"`
	ScopeID     models.SnowflakeID            `json:"scope_uid" validate:"required"`
	Interval    string                        `json:"interval_str" validate:"required,max=255,cron"`
	RunningType models.BotScheduleRunningType `json:"running_type" validate:"omitempty,schedule_type"`
	StartAt     *time.Time                    `json:"start_at"`
	EndAt       *time.Time                    `json:"end_at"`
	Timezone    string                        `json:"timezone" validate:"omitempty,max=64,timezone"`
}

type RescheduleInput struct {
	Scope       *models.ScopeRef               `json:"scope"`
	Interval    *string                        `json:"interval_str" validate:"omitempty,max=255,cron"`
	RunningType *models.BotScheduleRunningType `json:"running_type" validate:"omitempty,schedule_type"`
	StartAt     *time.Time                     `json:"start_at"`
	EndAt       *time.Time                     `json:"end_at"`
	Timezone    *string                        `json:"timezone" validate:"omitempty,max=64,timezone"`
}

type SubscribeInput struct {
	BotID      models.SnowflakeID        `json:"bot_uid" validate:"required"`
	ScopeKind  models.ScopeKind          `json:"scope_kind" validate:"required,scope_kind"`
	ScopeID    models.SnowflakeID        `json:"scope_uid" validate:"required"`
	Conditions []models.TriggerCondition `json:"conditions"`
}

func invalid(err error) error {
	return fmt.Errorf("%w: %s", scheduler.ErrInvalidInput, validator.Summary(err))
}

func (e *Engine) Schedule(ctx context.Context, in ScheduleInput) (*models.BotSchedule, error) {
	if err := validator.Validate(in); err != nil {
		return nil, invalid(err)
	}
	return e.Schedules.Schedule(ctx, scheduler.ScheduleParams{
		BotID:       in.BotID,
		Scope:       models.ScopeRef{Kind: in.ScopeKind, ID: in.ScopeID},
		Interval:    in.Interval,
		RunningType: in.RunningType,
		StartAt:     in.StartAt,
		EndAt:       in.EndAt,
		Timezone:    in.Timezone,
	})
}

func (e *Engine) Reschedule(ctx context.Context, id models.SnowflakeID, in RescheduleInput) (*models.BotSchedule, scheduler.Diff, error) {
	if err := validator.Validate(in); err != nil {
		return nil, nil, invalid(err)
	}
	return e.Schedules.Reschedule(ctx, id, scheduler.RescheduleParams{
		Scope:       in.Scope,
		Interval:    in.Interval,
		RunningType: in.RunningType,
		StartAt:     in.StartAt,
		EndAt:       in.EndAt,
		Timezone:    in.Timezone,
	})
}

func (e *Engine) Unschedule(ctx context.Context, id models.SnowflakeID) (*models.BotSchedule, error) {
	return e.Schedules.Unschedule(ctx, id)
}

// Preview lists the next n UTC run times of an interval after from.
func (e *Engine) Preview(interval string, from time.Time, n int) ([]time.Time, error) {
	normalized, err := cron.Normalize(interval)
	if err != nil {
		return nil, err
	}
	return cron.NextRuns(normalized, from.UTC(), n)
}

func (e *Engine) Subscribe(ctx context.Context, in SubscribeInput) (*models.BotScope, error) {
	if err := validator.Validate(in); err != nil {
		return nil, fmt.Errorf("%w: %s", scope.ErrInvalidInput, validator.Summary(err))
	}
	return e.Scopes.Create(ctx, scope.CreateInput{
		BotID:      in.BotID,
		Scope:      models.ScopeRef{Kind: in.ScopeKind, ID: in.ScopeID},
		Conditions: in.Conditions,
	})
}

func (e *Engine) ToggleCondition(ctx context.Context, scopeID models.SnowflakeID, condition models.TriggerCondition) (bool, error) {
	return e.Scopes.Toggle(ctx, scopeID, condition)
}

// HandleEvent routes one domain event to its bots.
func (e *Engine) HandleEvent(ctx context.Context, event *models.Event) ([]router.Target, error) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	return e.Router.Route(ctx, event)
}

func (e *Engine) FireCron(ctx context.Context, comment string) (*runner.Report, error) {
	return e.Runner.Fire(ctx, comment)
}

// Cascade counts the rows a deletion removed.
type Cascade struct {
	Schedules int64 `json:"schedules"`
	Scopes    int64 `json:"scopes"`
	Logs      int64 `json:"logs"`
}

// DeleteScope removes everything anchored to a scope model that is being
// deleted: its schedules (with their crontab lines), its subscriptions and
// its logs. The deletes commit together; schedules go last since their
// crontab save is the step that cannot be rolled back.
func (e *Engine) DeleteScope(ctx context.Context, ref models.ScopeRef) (*Cascade, error) {
	var out Cascade
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if out.Scopes, err = e.Scopes.WithTx(tx).DeleteByScope(ctx, ref); err != nil {
			return fmt.Errorf("delete subscriptions of %s: %w", ref, err)
		}
		if out.Logs, err = e.Logs.WithTx(tx).DeleteByScope(ctx, ref); err != nil {
			return fmt.Errorf("delete logs of %s: %w", ref, err)
		}
		if out.Schedules, err = e.Schedules.WithTx(tx).UnscheduleByScope(ctx, ref); err != nil {
			return fmt.Errorf("unschedule %s: %w", ref, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("scope", ref.String()).
		Int64("schedules", out.Schedules).
		Int64("scopes", out.Scopes).
		Int64("logs", out.Logs).
		Msg("Scope removed from bot engine")
	return &out, nil
}

// DeleteBot drops a bot's schedules and subscriptions in one transaction.
// Its logs stay for the audit trail.
func (e *Engine) DeleteBot(ctx context.Context, botID models.SnowflakeID) (*Cascade, error) {
	var out Cascade
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if out.Scopes, err = e.Scopes.WithTx(tx).DeleteByBot(ctx, botID); err != nil {
			return fmt.Errorf("delete subscriptions of bot %s: %w", botID, err)
		}
		if out.Schedules, err = e.Schedules.WithTx(tx).UnscheduleByBot(ctx, botID); err != nil {
			return fmt.Errorf("unschedule bot %s: %w", botID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("bot_id", botID.String()).
		Int64("schedules", out.Schedules).
		Int64("scopes", out.Scopes).
		Msg("Bot removed from bot engine")
	return &out, nil
}
