package models

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ScopeKind names the domain table a bot can subscribe to.
type ScopeKind string

const (
	ScopeProject       ScopeKind = "project"
	ScopeProjectColumn ScopeKind = "project_column"
	ScopeCard          ScopeKind = "card"
	ScopeProjectWiki   ScopeKind = "project_wiki"
)

var scopeKinds = []ScopeKind{ScopeProject, ScopeProjectColumn, ScopeCard, ScopeProjectWiki}

// ScopeKinds returns every known kind, broadest first.
func ScopeKinds() []ScopeKind {
	return append([]ScopeKind(nil), scopeKinds...)
}

func (k ScopeKind) Valid() bool {
	for _, known := range scopeKinds {
		if k == known {
			return true
		}
	}
	return false
}

// PayloadKey is the event payload field carrying the id of this scope level.
func (k ScopeKind) PayloadKey() string {
	switch k {
	case ScopeProject:
		return "projectId"
	case ScopeProjectColumn:
		return "projectColumnId"
	case ScopeCard:
		return "cardId"
	case ScopeProjectWiki:
		return "projectWikiId"
	}
	return ""
}

func ParseScopeKind(s string) (ScopeKind, error) {
	k := ScopeKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown scope kind %q", s)
	}
	return k, nil
}

// ScopeRef identifies one scope model instance.
type ScopeRef struct {
	Kind ScopeKind   `json:"kind"`
	ID   SnowflakeID `json:"id"`
}

func (s ScopeRef) IsZero() bool {
	return s.Kind == "" && s.ID.IsZero()
}

func (s ScopeRef) String() string {
	return string(s.Kind) + "#" + s.ID.ShortCode()
}

type BotScope struct {
	ID         SnowflakeID                           `gorm:"primaryKey;autoIncrement:false" json:"uid"`
	BotID      SnowflakeID                           `gorm:"not null;uniqueIndex:idx_bot_scope_unique,priority:1;index" json:"bot_uid"`
	ScopeKind  ScopeKind                             `gorm:"size:32;not null;uniqueIndex:idx_bot_scope_unique,priority:2;index:idx_bot_scope_target,priority:1" json:"scope_kind"`
	ScopeID    SnowflakeID                           `gorm:"not null;uniqueIndex:idx_bot_scope_unique,priority:3;index:idx_bot_scope_target,priority:2" json:"scope_uid"`
	Conditions datatypes.JSONSlice[TriggerCondition] `json:"conditions"`
	CreatedAt  time.Time                             `json:"created_at"`
	UpdatedAt  time.Time                             `json:"updated_at"`

	Bot *Bot `gorm:"foreignKey:BotID;constraint:OnDelete:CASCADE" json:"-"`
}

func (BotScope) TableName() string {
	return "bot_scopes"
}

func (s *BotScope) BeforeCreate(tx *gorm.DB) error {
	if s.ID.IsZero() {
		s.ID = NewSnowflakeID()
	}
	return nil
}

func (s *BotScope) Ref() ScopeRef {
	return ScopeRef{Kind: s.ScopeKind, ID: s.ScopeID}
}

func (s *BotScope) HasCondition(c TriggerCondition) bool {
	for _, have := range s.Conditions {
		if have == c {
			return true
		}
	}
	return false
}
