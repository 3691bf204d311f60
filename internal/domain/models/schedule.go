package models

import (
	"time"

	"gorm.io/gorm"
)

type BotScheduleRunningType string

const (
	ScheduleInfinite BotScheduleRunningType = "infinite"
	ScheduleDuration BotScheduleRunningType = "duration"
	ScheduleReserved BotScheduleRunningType = "reserved"
	ScheduleOnetime  BotScheduleRunningType = "onetime"
)

func (t BotScheduleRunningType) Valid() bool {
	switch t {
	case ScheduleInfinite, ScheduleDuration, ScheduleReserved, ScheduleOnetime:
		return true
	}
	return false
}

// NeedsStartAt reports whether the type waits for a start time in Pending.
func (t BotScheduleRunningType) NeedsStartAt() bool {
	switch t {
	case ScheduleDuration, ScheduleReserved, ScheduleOnetime:
		return true
	}
	return false
}

func (t BotScheduleRunningType) NeedsEndAt() bool {
	return t == ScheduleDuration
}

type BotScheduleStatus string

const (
	ScheduleStatusPending BotScheduleStatus = "pending"
	ScheduleStatusStarted BotScheduleStatus = "started"
	ScheduleStatusStopped BotScheduleStatus = "stopped"
)

func (s BotScheduleStatus) Valid() bool {
	switch s {
	case ScheduleStatusPending, ScheduleStatusStarted, ScheduleStatusStopped:
		return true
	}
	return false
}

// BotSchedule rows are hard deleted so interval reference counts only ever
// see live schedules.
type BotSchedule struct {
	ID          SnowflakeID            `gorm:"primaryKey;autoIncrement:false" json:"uid"`
	BotID       SnowflakeID            `gorm:"not null;index" json:"bot_uid"`
	RunningType BotScheduleRunningType `gorm:"size:20;not null" json:"running_type"`
	Status      BotScheduleStatus      `gorm:"size:20;not null;index:idx_bot_schedule_key,priority:2" json:"status"`
	IntervalStr string                 `gorm:"size:255;not null;index:idx_bot_schedule_key,priority:1" json:"interval_str"`
	StartAt     *time.Time             `json:"start_at,omitempty"`
	EndAt       *time.Time             `json:"end_at,omitempty"`
	Timezone    string                 `gorm:"size:64;default:UTC" json:"timezone"`
	LastRunAt   *time.Time             `json:"last_run_at,omitempty"`
	RunCount    int                    `gorm:"default:0" json:"run_count"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`

	Bot    *Bot               `gorm:"foreignKey:BotID;constraint:OnDelete:CASCADE" json:"-"`
	Scoped *BotScopedSchedule `gorm:"foreignKey:BotScheduleID;constraint:OnDelete:CASCADE" json:"-"`
}

func (BotSchedule) TableName() string {
	return "bot_schedules"
}

func (s *BotSchedule) BeforeCreate(tx *gorm.DB) error {
	if s.ID.IsZero() {
		s.ID = NewSnowflakeID()
	}
	return nil
}

// BotScopedSchedule anchors a schedule to the scope model it was created on.
type BotScopedSchedule struct {
	ID            SnowflakeID `gorm:"primaryKey;autoIncrement:false" json:"uid"`
	BotScheduleID SnowflakeID `gorm:"not null;uniqueIndex" json:"bot_schedule_uid"`
	ScopeKind     ScopeKind   `gorm:"size:32;not null;index:idx_scoped_schedule_target,priority:1" json:"scope_kind"`
	ScopeID       SnowflakeID `gorm:"not null;index:idx_scoped_schedule_target,priority:2" json:"scope_uid"`
	CreatedAt     time.Time   `json:"created_at"`
}

func (BotScopedSchedule) TableName() string {
	return "bot_scoped_schedules"
}

func (s *BotScopedSchedule) BeforeCreate(tx *gorm.DB) error {
	if s.ID.IsZero() {
		s.ID = NewSnowflakeID()
	}
	return nil
}

func (s *BotScopedSchedule) Ref() ScopeRef {
	return ScopeRef{Kind: s.ScopeKind, ID: s.ScopeID}
}
