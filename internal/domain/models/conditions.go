package models

// TriggerCondition is the stable snake_case tag of a domain event kind.
type TriggerCondition string

const (
	ConditionProjectUpdated TriggerCondition = "project_updated"
	ConditionProjectDeleted TriggerCondition = "project_deleted"

	ConditionProjectColumnCreated     TriggerCondition = "project_column_created"
	ConditionProjectColumnNameChanged TriggerCondition = "project_column_name_changed"
	ConditionProjectColumnDeleted     TriggerCondition = "project_column_deleted"

	ConditionCardCreated              TriggerCondition = "card_created"
	ConditionCardUpdated              TriggerCondition = "card_updated"
	ConditionCardMoved                TriggerCondition = "card_moved"
	ConditionCardLabelsUpdated        TriggerCondition = "card_labels_updated"
	ConditionCardRelationshipsUpdated TriggerCondition = "card_relationships_updated"
	ConditionCardDeleted              TriggerCondition = "card_deleted"

	ConditionCardAttachmentUploaded    TriggerCondition = "card_attachment_uploaded"
	ConditionCardAttachmentNameChanged TriggerCondition = "card_attachment_name_changed"
	ConditionCardAttachmentDeleted     TriggerCondition = "card_attachment_deleted"

	ConditionCardCommentAdded     TriggerCondition = "card_comment_added"
	ConditionCardCommentUpdated   TriggerCondition = "card_comment_updated"
	ConditionCardCommentDeleted   TriggerCondition = "card_comment_deleted"
	ConditionCardCommentReacted   TriggerCondition = "card_comment_reacted"
	ConditionCardCommentUnreacted TriggerCondition = "card_comment_unreacted"

	ConditionCardChecklistCreated      TriggerCondition = "card_checklist_created"
	ConditionCardChecklistTitleChanged TriggerCondition = "card_checklist_title_changed"
	ConditionCardChecklistChecked      TriggerCondition = "card_checklist_checked"
	ConditionCardChecklistUnchecked    TriggerCondition = "card_checklist_unchecked"
	ConditionCardChecklistDeleted      TriggerCondition = "card_checklist_deleted"

	ConditionCardCheckitemCreated      TriggerCondition = "card_checkitem_created"
	ConditionCardCheckitemTitleChanged TriggerCondition = "card_checkitem_title_changed"
	ConditionCardCheckitemTimerStarted TriggerCondition = "card_checkitem_timer_started"
	ConditionCardCheckitemTimerPaused  TriggerCondition = "card_checkitem_timer_paused"
	ConditionCardCheckitemTimerStopped TriggerCondition = "card_checkitem_timer_stopped"
	ConditionCardCheckitemChecked      TriggerCondition = "card_checkitem_checked"
	ConditionCardCheckitemUnchecked    TriggerCondition = "card_checkitem_unchecked"
	ConditionCardCheckitemCardified    TriggerCondition = "card_checkitem_cardified"
	ConditionCardCheckitemDeleted      TriggerCondition = "card_checkitem_deleted"

	ConditionProjectWikiCreated          TriggerCondition = "project_wiki_created"
	ConditionProjectWikiUpdated          TriggerCondition = "project_wiki_updated"
	ConditionProjectWikiPublicityChanged TriggerCondition = "project_wiki_publicity_changed"
	ConditionProjectWikiDeleted          TriggerCondition = "project_wiki_deleted"
)

// DefaultTrigger kinds bypass scope routing and go to a single named bot.
type DefaultTrigger string

const (
	TriggerBotMentioned     DefaultTrigger = "bot_mentioned"
	TriggerBotCronScheduled DefaultTrigger = "bot_cron_scheduled"
)

func IsDefaultTrigger(kind string) bool {
	switch DefaultTrigger(kind) {
	case TriggerBotMentioned, TriggerBotCronScheduled:
		return true
	}
	return false
}

var cardConditions = []TriggerCondition{
	ConditionCardUpdated,
	ConditionCardMoved,
	ConditionCardLabelsUpdated,
	ConditionCardRelationshipsUpdated,
	ConditionCardDeleted,
	ConditionCardAttachmentUploaded,
	ConditionCardAttachmentNameChanged,
	ConditionCardAttachmentDeleted,
	ConditionCardCommentAdded,
	ConditionCardCommentUpdated,
	ConditionCardCommentDeleted,
	ConditionCardCommentReacted,
	ConditionCardCommentUnreacted,
	ConditionCardChecklistCreated,
	ConditionCardChecklistTitleChanged,
	ConditionCardChecklistChecked,
	ConditionCardChecklistUnchecked,
	ConditionCardChecklistDeleted,
	ConditionCardCheckitemCreated,
	ConditionCardCheckitemTitleChanged,
	ConditionCardCheckitemTimerStarted,
	ConditionCardCheckitemTimerPaused,
	ConditionCardCheckitemTimerStopped,
	ConditionCardCheckitemChecked,
	ConditionCardCheckitemUnchecked,
	ConditionCardCheckitemCardified,
	ConditionCardCheckitemDeleted,
}

var wikiConditions = []TriggerCondition{
	ConditionProjectWikiUpdated,
	ConditionProjectWikiPublicityChanged,
	ConditionProjectWikiDeleted,
}

var columnConditions = concatConditions(
	[]TriggerCondition{
		ConditionProjectColumnNameChanged,
		ConditionProjectColumnDeleted,
		ConditionCardCreated,
	},
	cardConditions,
)

var projectConditions = concatConditions(
	[]TriggerCondition{
		ConditionProjectUpdated,
		ConditionProjectDeleted,
		ConditionProjectColumnCreated,
		ConditionProjectWikiCreated,
	},
	columnConditions,
	wikiConditions,
)

var allowedConditions = map[ScopeKind]map[TriggerCondition]struct{}{
	ScopeProject:       conditionSet(projectConditions),
	ScopeProjectColumn: conditionSet(columnConditions),
	ScopeCard:          conditionSet(cardConditions),
	ScopeProjectWiki:   conditionSet(wikiConditions),
}

func concatConditions(groups ...[]TriggerCondition) []TriggerCondition {
	var out []TriggerCondition
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func conditionSet(list []TriggerCondition) map[TriggerCondition]struct{} {
	set := make(map[TriggerCondition]struct{}, len(list))
	for _, c := range list {
		set[c] = struct{}{}
	}
	return set
}

// AllowedConditions returns the conditions a scope kind accepts, in a stable
// order.
func AllowedConditions(kind ScopeKind) []TriggerCondition {
	switch kind {
	case ScopeProject:
		return append([]TriggerCondition(nil), projectConditions...)
	case ScopeProjectColumn:
		return append([]TriggerCondition(nil), columnConditions...)
	case ScopeCard:
		return append([]TriggerCondition(nil), cardConditions...)
	case ScopeProjectWiki:
		return append([]TriggerCondition(nil), wikiConditions...)
	}
	return nil
}

func (k ScopeKind) Allows(c TriggerCondition) bool {
	_, ok := allowedConditions[k][c]
	return ok
}

// KindsAccepting lists every scope kind whose allowed set contains c.
func KindsAccepting(c TriggerCondition) []ScopeKind {
	var kinds []ScopeKind
	for _, k := range ScopeKinds() {
		if k.Allows(c) {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// AllConditions is the union of every scope kind's allowed set.
func AllConditions() []TriggerCondition {
	seen := make(map[TriggerCondition]struct{})
	var out []TriggerCondition
	for _, k := range ScopeKinds() {
		for _, c := range AllowedConditions(k) {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}
