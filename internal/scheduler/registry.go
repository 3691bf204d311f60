package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/langboard/botengine/internal/domain/models"
	"github.com/langboard/botengine/internal/domain/repositories"
	"github.com/langboard/botengine/internal/pkg/logger"
	"github.com/langboard/botengine/internal/pkg/metrics"
	"github.com/langboard/botengine/internal/scheduler/cron"
	"github.com/langboard/botengine/internal/scheduler/crontab"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Dependencies holds the external dependencies for the registry
type Dependencies struct {
	DB      *gorm.DB
	Crontab crontab.Store
}

// Registry owns bot schedules and keeps the crontab in step with them. Every
// mutation runs in one database transaction that also covers the crontab
// save; a failed save rolls the rows back.
type Registry struct {
	config    *Config
	db        *gorm.DB
	schedules *repositories.BotScheduleRepository
	store     crontab.Store
	now       func() time.Time

	// serializes mutations within the process; row locks cover the rest
	mu *sync.Mutex
}

func NewRegistry(cfg *Config, deps *Dependencies) *Registry {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	_ = cfg.Validate()
	return &Registry{
		config:    cfg,
		db:        deps.DB,
		schedules: repositories.NewBotScheduleRepository(deps.DB),
		store:     deps.Crontab,
		now:       time.Now,
		mu:        &sync.Mutex{},
	}
}

// WithTx returns a registry whose mutations run inside tx. The crontab is
// saved before tx commits, so callers put it last in a cascade.
func (r *Registry) WithTx(tx *gorm.DB) *Registry {
	c := *r
	c.db = tx
	c.schedules = r.schedules.WithTx(tx)
	return &c
}

func (r *Registry) Store() crontab.Store {
	return r.store
}

type ScheduleParams struct {
	BotID       models.SnowflakeID
	Scope       models.ScopeRef
	Interval    string
	RunningType models.BotScheduleRunningType
	StartAt     *time.Time
	EndAt       *time.Time
	Timezone    string
}

// RescheduleParams carries the fields to change; nil leaves a field as is.
type RescheduleParams struct {
	Scope       *models.ScopeRef
	Interval    *string
	RunningType *models.BotScheduleRunningType
	StartAt     *time.Time
	EndAt       *time.Time
	Timezone    *string
}

// Diff maps changed column names to their new values.
type Diff map[string]interface{}

func (r *Registry) Schedule(ctx context.Context, p ScheduleParams) (*models.BotSchedule, error) {
	if p.BotID.IsZero() || p.Scope.ID.IsZero() || !p.Scope.Kind.Valid() {
		return nil, fmt.Errorf("%w: bot and scope are required", ErrInvalidInput)
	}
	interval, err := r.prepareInterval(p.Interval, p.Timezone)
	if err != nil {
		return nil, err
	}
	status, startAt, endAt, err := ResolveStatus(p.RunningType, p.StartAt, p.EndAt)
	if err != nil {
		return nil, err
	}
	rt := p.RunningType
	if rt == "" {
		rt = models.ScheduleInfinite
	}

	schedule := &models.BotSchedule{
		BotID:       p.BotID,
		RunningType: rt,
		Status:      status,
		IntervalStr: interval,
		StartAt:     startAt,
		EndAt:       endAt,
		Timezone:    p.Timezone,
	}
	scoped := &models.BotScopedSchedule{ScopeKind: p.Scope.Kind, ScopeID: p.Scope.ID}

	err = r.mutate(ctx, func(ctx context.Context, repo *repositories.BotScheduleRepository, plan *cronPlan) error {
		if err := lockIntervals(ctx, repo, interval); err != nil {
			return err
		}
		if err := repo.CreateWithScope(ctx, schedule, scoped); err != nil {
			return err
		}
		plan.Add(keyOf(schedule))
		return nil
	})
	if err != nil {
		return nil, err
	}

	l := logger.WithScheduleID(schedule.ID.String())
	l.Info().
		Str("bot_id", p.BotID.String()).
		Str("scope", p.Scope.String()).
		Str("interval", interval).
		Str("status", string(status)).
		Msg("Schedule created")
	return schedule, nil
}

// Reschedule edits a schedule in place. The scope it is anchored to cannot
// change. Status is re-derived when the running type or the start time
// changes; a new end time alone keeps the current status.
func (r *Registry) Reschedule(ctx context.Context, id models.SnowflakeID, p RescheduleParams) (*models.BotSchedule, Diff, error) {
	diff := Diff{}
	var updated *models.BotSchedule

	err := r.mutate(ctx, func(ctx context.Context, repo *repositories.BotScheduleRepository, plan *cronPlan) error {
		current, err := repo.LockByID(ctx, id)
		if err != nil {
			return mapNotFound(err)
		}
		if p.Scope != nil && current.Scoped != nil && *p.Scope != current.Scoped.Ref() {
			return fmt.Errorf("%w: schedule %s cannot move from %s to %s", ErrInvalidInput, id, current.Scoped.Ref(), *p.Scope)
		}

		tz := current.Timezone
		if p.Timezone != nil {
			tz = *p.Timezone
		}
		interval := current.IntervalStr
		if p.Interval != nil {
			if interval, err = r.prepareInterval(*p.Interval, tz); err != nil {
				return err
			}
		}

		rt, startAt, endAt := current.RunningType, current.StartAt, current.EndAt
		if p.RunningType != nil {
			rt = *p.RunningType
		}
		if p.StartAt != nil {
			startAt = p.StartAt
		}
		if p.EndAt != nil {
			endAt = p.EndAt
		}
		status := current.Status
		if rt != current.RunningType || !samePtrTime(startAt, current.StartAt) || !samePtrTime(endAt, current.EndAt) {
			var resolved models.BotScheduleStatus
			if resolved, startAt, endAt, err = ResolveStatus(rt, startAt, endAt); err != nil {
				return err
			}
			// Moving only the end time leaves a running schedule running.
			if rt != current.RunningType || !samePtrTime(startAt, current.StartAt) {
				status = resolved
			}
			if rt == "" {
				rt = models.ScheduleInfinite
			}
		}

		if interval != current.IntervalStr {
			diff["interval_str"] = interval
		}
		if rt != current.RunningType {
			diff["running_type"] = rt
		}
		if status != current.Status {
			diff["status"] = status
		}
		if !samePtrTime(startAt, current.StartAt) {
			diff["start_at"] = startAt
		}
		if !samePtrTime(endAt, current.EndAt) {
			diff["end_at"] = endAt
		}
		if tz != current.Timezone {
			diff["timezone"] = tz
		}
		if len(diff) == 0 {
			updated = current
			return nil
		}

		if err := lockIntervals(ctx, repo, current.IntervalStr, interval); err != nil {
			return err
		}
		fields := make(map[string]interface{}, len(diff))
		for k, v := range diff {
			fields[k] = v
		}
		if err := repo.UpdateFields(ctx, id, fields); err != nil {
			return err
		}
		if updated, err = repo.FindWithScope(ctx, id); err != nil {
			return err
		}
		plan.Add(keyOf(updated))
		plan.Retire(keyOf(current))
		if status != current.Status {
			metrics.RecordTransition(string(current.Status), string(status))
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if len(diff) > 0 {
		l := logger.WithScheduleID(id.String())
		l.Info().
			Interface("diff", diff).
			Msg("Schedule rescheduled")
	}
	return updated, diff, nil
}

func (r *Registry) Unschedule(ctx context.Context, id models.SnowflakeID) (*models.BotSchedule, error) {
	var removed *models.BotSchedule
	err := r.mutate(ctx, func(ctx context.Context, repo *repositories.BotScheduleRepository, plan *cronPlan) error {
		current, err := repo.LockByID(ctx, id)
		if err != nil {
			return mapNotFound(err)
		}
		if err := lockIntervals(ctx, repo, current.IntervalStr); err != nil {
			return err
		}
		if _, err := repo.DeleteByIDs(ctx, []models.SnowflakeID{id}); err != nil {
			return err
		}
		plan.Retire(keyOf(current))
		removed = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	l := logger.WithScheduleID(id.String())
	l.Info().Msg("Schedule removed")
	return removed, nil
}

// UnscheduleByScope removes every schedule anchored to ref with a single
// crontab save.
func (r *Registry) UnscheduleByScope(ctx context.Context, ref models.ScopeRef) (int64, error) {
	return r.unscheduleWhere(ctx, func(ctx context.Context, repo *repositories.BotScheduleRepository) ([]models.BotSchedule, error) {
		return repo.FindByScope(ctx, ref, nil)
	})
}

// UnscheduleByBot removes every schedule owned by a bot.
func (r *Registry) UnscheduleByBot(ctx context.Context, botID models.SnowflakeID) (int64, error) {
	return r.unscheduleWhere(ctx, func(ctx context.Context, repo *repositories.BotScheduleRepository) ([]models.BotSchedule, error) {
		return repo.FindByBot(ctx, botID)
	})
}

func (r *Registry) unscheduleWhere(ctx context.Context, find func(context.Context, *repositories.BotScheduleRepository) ([]models.BotSchedule, error)) (int64, error) {
	var deleted int64
	err := r.mutate(ctx, func(ctx context.Context, repo *repositories.BotScheduleRepository, plan *cronPlan) error {
		schedules, err := find(ctx, repo)
		if err != nil || len(schedules) == 0 {
			return err
		}
		ids := make([]models.SnowflakeID, 0, len(schedules))
		intervals := make([]string, 0, len(schedules))
		for i := range schedules {
			ids = append(ids, schedules[i].ID)
			intervals = append(intervals, schedules[i].IntervalStr)
			plan.Retire(keyOf(&schedules[i]))
		}
		if err := lockIntervals(ctx, repo, intervals...); err != nil {
			return err
		}
		deleted, err = repo.DeleteByIDs(ctx, ids)
		return err
	})
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		log.Info().Int64("count", deleted).Msg("Schedules removed")
	}
	return deleted, nil
}

// ChangeStatus moves one schedule to status. Moving to the current status
// is a no-op.
func (r *Registry) ChangeStatus(ctx context.Context, id models.SnowflakeID, status models.BotScheduleStatus) (*models.BotSchedule, error) {
	changed, err := r.ChangeStatuses(ctx, []models.SnowflakeID{id}, status)
	if err != nil {
		return nil, err
	}
	if len(changed) == 1 {
		return &changed[0], nil
	}
	return r.Get(ctx, id)
}

// ChangeStatuses moves several schedules to status in one transaction and
// one crontab save. Schedules already in status or gone are skipped; the
// ones actually moved are returned.
func (r *Registry) ChangeStatuses(ctx context.Context, ids []models.SnowflakeID, status models.BotScheduleStatus) ([]models.BotSchedule, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var changed []models.BotSchedule
	var transitions []string
	err := r.mutate(ctx, func(ctx context.Context, repo *repositories.BotScheduleRepository, plan *cronPlan) error {
		for _, id := range ids {
			current, err := repo.LockByID(ctx, id)
			if errors.Is(err, repositories.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if current.Status == status {
				continue
			}
			if err := lockIntervals(ctx, repo, current.IntervalStr); err != nil {
				return err
			}
			if err := repo.UpdateFields(ctx, id, map[string]interface{}{"status": status}); err != nil {
				return err
			}
			from := current.Status
			plan.Retire(keyOf(current))
			current.Status = status
			plan.Add(keyOf(current))
			changed = append(changed, *current)
			transitions = append(transitions, string(from))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i := range changed {
		metrics.RecordTransition(transitions[i], string(status))
		l := logger.WithScheduleID(changed[i].ID.String())
		l.Info().
			Str("from", transitions[i]).
			Str("to", string(status)).
			Msg("Schedule status changed")
	}
	return changed, nil
}

// RecordRun stamps a fire on the schedule.
func (r *Registry) RecordRun(ctx context.Context, id models.SnowflakeID, at time.Time) error {
	return r.schedules.RecordRun(ctx, id, at.UTC())
}

func (r *Registry) Get(ctx context.Context, id models.SnowflakeID) (*models.BotSchedule, error) {
	schedule, err := r.schedules.FindWithScope(ctx, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return schedule, nil
}

func (r *Registry) ListByScope(ctx context.Context, ref models.ScopeRef, botID *models.SnowflakeID) ([]models.BotSchedule, error) {
	return r.schedules.FindByScope(ctx, ref, botID)
}

func (r *Registry) ListByBot(ctx context.Context, botID models.SnowflakeID) ([]models.BotSchedule, error) {
	return r.schedules.FindByBot(ctx, botID)
}

// ListByComment resolves a crontab comment to the schedules it fires.
func (r *Registry) ListByComment(ctx context.Context, comment string) ([]models.BotSchedule, error) {
	interval, boundary := crontab.ParseComment(comment)
	status := models.ScheduleStatusStarted
	if boundary {
		status = models.ScheduleStatusPending
	}
	return r.schedules.FindByKey(ctx, repositories.ScheduleKey{IntervalStr: interval, Status: status})
}

// Reconcile rewrites the managed part of the crontab from the database:
// missing lines are added and lines nothing references are dropped. Lines
// not produced by the runner script are left alone.
func (r *Registry) Reconcile(ctx context.Context) (added, removed int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys, err := r.schedules.Keys(ctx)
	if err != nil {
		return 0, 0, err
	}
	wanted := make(map[string]repositories.ScheduleKey, len(keys))
	for _, key := range keys {
		if comment := crontab.Comment(key.IntervalStr, key.Status); comment != "" {
			wanted[comment] = key
		}
	}

	err = r.store.Update(ctx, func(c *crontab.Cron) error {
		prefix := r.config.ScriptPath + " "
		for _, job := range c.Jobs() {
			if _, ok := wanted[job.Comment]; ok || !strings.HasPrefix(job.Command, prefix) {
				continue
			}
			if c.RemoveJob(job.Comment) {
				removed++
			}
		}
		comments := make([]string, 0, len(wanted))
		for comment := range wanted {
			comments = append(comments, comment)
		}
		sort.Strings(comments)
		for _, comment := range comments {
			key := wanted[comment]
			if c.AddJob(key.IntervalStr, crontab.Command(r.config.ScriptPath, comment), comment) {
				added++
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	if added > 0 || removed > 0 {
		log.Info().Int("added", added).Int("removed", removed).Msg("Crontab reconciled")
	}
	return added, removed, nil
}

func (r *Registry) prepareInterval(interval, tz string) (string, error) {
	normalized, err := cron.Normalize(interval)
	if err != nil {
		return "", err
	}
	offset, err := cron.ParseTimezoneAt(tz, r.config.AllowDSTZones, r.now())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return cron.ToUTC(normalized, offset)
}

// mutate runs fn in a transaction and applies the resulting crontab plan
// before commit.
func (r *Registry) mutate(ctx context.Context, fn func(context.Context, *repositories.BotScheduleRepository, *cronPlan) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := r.schedules.WithTx(tx)
		plan := &cronPlan{}
		if err := fn(ctx, repo, plan); err != nil {
			return err
		}
		if plan.Empty() {
			return nil
		}
		if err := r.store.Update(ctx, plan.apply(ctx, repo, r.config.ScriptPath)); err != nil {
			log.Error().Err(err).Msg("Crontab update failed, rolling back")
			return err
		}
		return nil
	})
}

// lockIntervals takes row locks on every schedule sharing one of the
// intervals, in a fixed order.
func lockIntervals(ctx context.Context, repo *repositories.BotScheduleRepository, intervals ...string) error {
	seen := make(map[string]struct{}, len(intervals))
	unique := make([]string, 0, len(intervals))
	for _, interval := range intervals {
		if _, ok := seen[interval]; ok {
			continue
		}
		seen[interval] = struct{}{}
		unique = append(unique, interval)
	}
	sort.Strings(unique)
	for _, interval := range unique {
		if _, err := repo.LockByInterval(ctx, interval); err != nil {
			return err
		}
	}
	return nil
}

func mapNotFound(err error) error {
	if errors.Is(err, repositories.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// cronPlan collects the crontab effects of a mutation. Added keys get a
// line; retired keys lose theirs once no schedule references them.
type cronPlan struct {
	add    []repositories.ScheduleKey
	retire []repositories.ScheduleKey
}

func (p *cronPlan) Add(key repositories.ScheduleKey) {
	if key.Status != models.ScheduleStatusStopped {
		p.add = append(p.add, key)
	}
}

func (p *cronPlan) Retire(key repositories.ScheduleKey) {
	if key.Status != models.ScheduleStatusStopped {
		p.retire = append(p.retire, key)
	}
}

func (p *cronPlan) Empty() bool {
	return len(p.add) == 0 && len(p.retire) == 0
}

func (p *cronPlan) apply(ctx context.Context, repo *repositories.BotScheduleRepository, scriptPath string) func(*crontab.Cron) error {
	return func(c *crontab.Cron) error {
		for _, key := range p.add {
			comment := crontab.Comment(key.IntervalStr, key.Status)
			c.AddJob(key.IntervalStr, crontab.Command(scriptPath, comment), comment)
		}
		checked := make(map[repositories.ScheduleKey]struct{}, len(p.retire))
		for _, key := range p.retire {
			if _, ok := checked[key]; ok {
				continue
			}
			checked[key] = struct{}{}
			count, err := repo.CountByKey(ctx, key)
			if err != nil {
				return err
			}
			if count == 0 {
				c.RemoveJob(crontab.Comment(key.IntervalStr, key.Status))
			}
		}
		return nil
	}
}
