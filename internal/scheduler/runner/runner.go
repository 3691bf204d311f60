// Package runner executes one crontab firing: it advances the lifecycle of
// the schedules behind the fired comment and sends each due schedule's bot a
// cron event.
package runner

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/langboard/botengine/internal/bots/router"
	"github.com/langboard/botengine/internal/domain/models"
	"github.com/langboard/botengine/internal/pkg/logger"
	"github.com/langboard/botengine/internal/pkg/metrics"
	"github.com/langboard/botengine/internal/scheduler"
	"github.com/langboard/botengine/internal/scheduler/crontab"
)

type Router interface {
	Route(ctx context.Context, event *models.Event) ([]router.Target, error)
}

// Claimer guards against the same comment firing twice in one minute, as
// happens when several hosts install the same crontab.
type Claimer interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Report lists what a firing did, by schedule id.
type Report struct {
	Comment   string
	Boundary  bool
	Duplicate bool
	Matched   int
	Started   []models.SnowflakeID
	Stopped   []models.SnowflakeID
	Fired     []models.SnowflakeID
	Skipped   []models.SnowflakeID
	Failed    []models.SnowflakeID
}

type Runner struct {
	registry *scheduler.Registry
	router   Router
	claimer  Claimer
	claimTTL time.Duration
	workers  int
	stats    *Stats
	now      func() time.Time
}

type Option func(*Runner)

func WithClaimer(c Claimer, ttl time.Duration) Option {
	return func(r *Runner) {
		r.claimer = c
		r.claimTTL = ttl
	}
}

func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

func New(registry *scheduler.Registry, rt Router, opts ...Option) *Runner {
	r := &Runner{
		registry: registry,
		router:   rt,
		claimTTL: 2 * time.Minute,
		workers:  8,
		stats:    NewStats(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) Stats() *Stats {
	return r.stats
}

// Fire handles the crontab line tagged comment. Per-schedule failures are
// logged and reported; only failures to read or move schedules are
// returned.
func (r *Runner) Fire(ctx context.Context, comment string) (*Report, error) {
	begin := time.Now()
	now := r.now().UTC()
	interval, boundary := crontab.ParseComment(comment)
	report := &Report{Comment: comment, Boundary: boundary}
	defer func() { r.stats.record(report, time.Since(begin)) }()

	l := logger.WithComment(comment)
	if boundary {
		metrics.RecordCronTick("boundary")
	} else {
		metrics.RecordCronTick("regular")
	}

	if r.claimer != nil {
		key := comment + "@" + strconv.FormatInt(now.Truncate(time.Minute).Unix(), 10)
		ok, err := r.claimer.Claim(ctx, key, r.claimTTL)
		switch {
		case err != nil:
			l.Warn().Err(err).Msg("Tick claim failed, firing anyway")
		case !ok:
			report.Duplicate = true
			l.Info().Msg("Tick already handled elsewhere")
			return report, nil
		}
	}

	schedules, err := r.registry.ListByComment(ctx, comment)
	if err != nil {
		return report, fmt.Errorf("load schedules for %q: %w", comment, err)
	}
	report.Matched = len(schedules)

	if boundary {
		err = r.boundaryTick(ctx, schedules, now, report)
	} else {
		err = r.regularTick(ctx, schedules, now, report)
	}

	l.Info().
		Str("interval", interval).
		Int("matched", report.Matched).
		Int("fired", len(report.Fired)).
		Int("started", len(report.Started)).
		Int("stopped", len(report.Stopped)).
		Int("skipped", len(report.Skipped)).
		Int("failed", len(report.Failed)).
		Msg("Cron tick handled")
	return report, err
}

// boundaryTick starts the pending schedules whose start time has come and
// fires them. Duration schedules already past their end never start.
func (r *Runner) boundaryTick(ctx context.Context, schedules []models.BotSchedule, now time.Time, report *Report) error {
	var start, expire []models.SnowflakeID
	for i := range schedules {
		s := &schedules[i]
		if s.StartAt != nil && s.StartAt.After(now) {
			continue
		}
		if ended(s, now) {
			expire = append(expire, s.ID)
			continue
		}
		start = append(start, s.ID)
	}

	stopped, err := r.registry.ChangeStatuses(ctx, expire, models.ScheduleStatusStopped)
	if err != nil {
		return err
	}
	report.Stopped = append(report.Stopped, idsOf(stopped)...)

	started, err := r.registry.ChangeStatuses(ctx, start, models.ScheduleStatusStarted)
	if err != nil {
		return err
	}
	report.Started = idsOf(started)

	r.fireAll(ctx, started, now, report)
	return nil
}

// regularTick fires live schedules and retires the ones whose run is over.
func (r *Runner) regularTick(ctx context.Context, schedules []models.BotSchedule, now time.Time, report *Report) error {
	var due []models.BotSchedule
	var stop []models.SnowflakeID
	for i := range schedules {
		s := schedules[i]
		switch {
		case ended(&s, now):
			stop = append(stop, s.ID)
		case s.RunningType == models.ScheduleOnetime && s.RunCount > 0:
			stop = append(stop, s.ID)
		case s.RunningType == models.ScheduleOnetime:
			due = append(due, s)
			stop = append(stop, s.ID)
		default:
			due = append(due, s)
		}
	}

	r.fireAll(ctx, due, now, report)

	stopped, err := r.registry.ChangeStatuses(ctx, stop, models.ScheduleStatusStopped)
	if err != nil {
		return err
	}
	report.Stopped = append(report.Stopped, idsOf(stopped)...)
	return nil
}

func (r *Runner) fireAll(ctx context.Context, schedules []models.BotSchedule, now time.Time, report *Report) {
	if len(schedules) == 0 {
		return
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, r.workers)
	)
	for i := range schedules {
		s := schedules[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := r.fire(ctx, &s, now)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case fired:
				report.Fired = append(report.Fired, s.ID)
			case skipped:
				report.Skipped = append(report.Skipped, s.ID)
			default:
				report.Failed = append(report.Failed, s.ID)
			}
		}()
	}
	wg.Wait()
}

type fireOutcome int

const (
	fired fireOutcome = iota
	skipped
	failed
)

func (r *Runner) fire(ctx context.Context, s *models.BotSchedule, now time.Time) fireOutcome {
	l := logger.WithScheduleID(s.ID.String())
	if s.Scoped == nil {
		l.Warn().Str("bot_id", s.BotID.String()).Msg("Schedule has no scope, skipping")
		return skipped
	}

	ref := s.Scoped.Ref()
	botID := s.BotID
	event := &models.Event{
		Kind:  string(models.TriggerBotCronScheduled),
		Actor: models.Actor{Type: models.ActorBot, ID: botID},
		Scope: ref,
		Payload: models.JSON{
			ref.Kind.PayloadKey(): ref.ID.ShortCode(),
			"scheduleId":          s.ID.ShortCode(),
			"intervalStr":         s.IntervalStr,
			"runningType":         string(s.RunningType),
		},
		TargetBotID: &botID,
		OccurredAt:  now,
	}
	if _, err := r.router.Route(ctx, event); err != nil {
		l.Error().Err(err).Str("bot_id", botID.String()).Msg("Failed to route cron event")
		return failed
	}

	if err := r.registry.RecordRun(ctx, s.ID, now); err != nil {
		l.Warn().Err(err).Msg("Failed to record schedule run")
	}
	return fired
}

func ended(s *models.BotSchedule, now time.Time) bool {
	return s.RunningType == models.ScheduleDuration && s.EndAt != nil && !s.EndAt.After(now)
}

func idsOf(schedules []models.BotSchedule) []models.SnowflakeID {
	ids := make([]models.SnowflakeID, 0, len(schedules))
	for _, s := range schedules {
		ids = append(ids, s.ID)
	}
	return ids
}
