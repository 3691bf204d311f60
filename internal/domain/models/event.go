package models

import "time"

type ActorType string

const (
	ActorUser ActorType = "user"
	ActorBot  ActorType = "bot"
)

type Actor struct {
	Type ActorType   `json:"type"`
	ID   SnowflakeID `json:"uid"`
}

// Event is a domain write observed by the engine. Kind is a TriggerCondition
// or a DefaultTrigger. Payload carries the id of every ancestor scope level
// under the keys returned by ScopeKind.PayloadKey.
type Event struct {
	Kind        string       `json:"event"`
	Actor       Actor        `json:"actor"`
	Scope       ScopeRef     `json:"scope"`
	Payload     JSON         `json:"payload"`
	TargetBotID *SnowflakeID `json:"target_bot_uid,omitempty"`
	OccurredAt  time.Time    `json:"occurred_at"`
}

// ScopeID resolves the id of the given scope level for this event. The
// payload wins; the event's own scope is used when it is of that kind.
func (e *Event) ScopeID(kind ScopeKind) (SnowflakeID, bool) {
	if raw, ok := e.Payload[kind.PayloadKey()]; ok && raw != nil {
		if id, err := ParseSnowflakeID(raw); err == nil && !id.IsZero() {
			return id, true
		}
	}
	if e.Scope.Kind == kind && !e.Scope.ID.IsZero() {
		return e.Scope.ID, true
	}
	return 0, false
}

// ProjectID is a convenience for the project level id.
func (e *Event) ProjectID() (SnowflakeID, bool) {
	return e.ScopeID(ScopeProject)
}
