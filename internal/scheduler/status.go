package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/langboard/botengine/internal/domain/models"
	"github.com/langboard/botengine/internal/domain/repositories"
	"github.com/langboard/botengine/internal/scheduler/cron"
)

var (
	ErrNotFound         = errors.New("schedule not found")
	ErrInvalidInput     = errors.New("invalid schedule input")
	ErrInvalidInterval  = cron.ErrInvalidInterval
	ErrInvalidLifecycle = errors.New("invalid schedule lifecycle")
)

// ResolveStatus derives the initial status and the stored start/end times
// for a running type. Infinite schedules start immediately and keep no
// times; the others wait in Pending for their start time.
func ResolveStatus(rt models.BotScheduleRunningType, startAt, endAt *time.Time) (models.BotScheduleStatus, *time.Time, *time.Time, error) {
	if rt == "" || rt == models.ScheduleInfinite {
		return models.ScheduleStatusStarted, nil, nil, nil
	}
	if !rt.Valid() {
		return "", nil, nil, fmt.Errorf("%w: unknown running type %q", ErrInvalidInput, rt)
	}
	if rt.NeedsStartAt() && startAt == nil {
		return "", nil, nil, fmt.Errorf("%w: %s requires a start time", ErrInvalidLifecycle, rt)
	}
	if !rt.NeedsEndAt() {
		return models.ScheduleStatusPending, utcPtr(startAt), nil, nil
	}
	if endAt == nil {
		return "", nil, nil, fmt.Errorf("%w: %s requires an end time", ErrInvalidLifecycle, rt)
	}
	if !endAt.After(*startAt) {
		return "", nil, nil, fmt.Errorf("%w: end time must be after start time", ErrInvalidLifecycle)
	}
	return models.ScheduleStatusPending, utcPtr(startAt), utcPtr(endAt), nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func keyOf(s *models.BotSchedule) repositories.ScheduleKey {
	return repositories.ScheduleKey{IntervalStr: s.IntervalStr, Status: s.Status}
}

func samePtrTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
