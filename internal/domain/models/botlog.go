package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type BotLogType string

const (
	BotLogInfo    BotLogType = "info"
	BotLogSuccess BotLogType = "success"
	BotLogError   BotLogType = "error"
)

// LogFrame is one entry of a BotLog message stack.
type LogFrame struct {
	Message   string     `json:"message"`
	LogType   BotLogType `json:"log_type"`
	Timestamp time.Time  `json:"log_date"`
}

type BotLog struct {
	ID           SnowflakeID                   `gorm:"primaryKey;autoIncrement:false" json:"uid"`
	BotID        SnowflakeID                   `gorm:"not null;index" json:"bot_uid"`
	LogType      BotLogType                    `gorm:"size:20;not null" json:"log_type"`
	MessageStack datatypes.JSONSlice[LogFrame] `json:"message_stack"`
	CreatedAt    time.Time                     `json:"created_at"`
	UpdatedAt    time.Time                     `json:"updated_at"`

	Scope *BotLogScope `gorm:"foreignKey:BotLogID;constraint:OnDelete:CASCADE" json:"-"`
}

func (BotLog) TableName() string {
	return "bot_logs"
}

func (l *BotLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID.IsZero() {
		l.ID = NewSnowflakeID()
	}
	return nil
}

// BotLogScope binds a log to the scope it was produced for.
type BotLogScope struct {
	ID        SnowflakeID  `gorm:"primaryKey;autoIncrement:false" json:"uid"`
	BotLogID  SnowflakeID  `gorm:"not null;uniqueIndex" json:"bot_log_uid"`
	ScopeKind ScopeKind    `gorm:"size:32;not null;index:idx_bot_log_scope_target,priority:1" json:"scope_kind"`
	ScopeID   SnowflakeID  `gorm:"not null;index:idx_bot_log_scope_target,priority:2" json:"scope_uid"`
	ProjectID *SnowflakeID `gorm:"index" json:"project_uid,omitempty"`
}

func (BotLogScope) TableName() string {
	return "bot_log_scopes"
}

func (s *BotLogScope) BeforeCreate(tx *gorm.DB) error {
	if s.ID.IsZero() {
		s.ID = NewSnowflakeID()
	}
	return nil
}
