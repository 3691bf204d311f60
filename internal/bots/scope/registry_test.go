package scope

import (
	"context"
	"errors"
	"testing"

	"github.com/langboard/botengine/internal/domain/models"
	"github.com/langboard/botengine/internal/testutil"
)

func TestFilterConditions(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		kind models.ScopeKind
		in   []models.TriggerCondition
		want []models.TriggerCondition
	}{
		{
			name: "card drops wiki and project conditions",
			kind: models.ScopeCard,
			in: []models.TriggerCondition{
				models.ConditionCardMoved,
				models.ConditionProjectWikiUpdated,
				models.ConditionProjectUpdated,
				models.ConditionCardCheckitemTimerStarted,
			},
			want: []models.TriggerCondition{models.ConditionCardMoved, models.ConditionCardCheckitemTimerStarted},
		},
		{
			name: "duplicates collapse",
			kind: models.ScopeProjectColumn,
			in:   []models.TriggerCondition{models.ConditionCardCreated, models.ConditionCardCreated},
			want: []models.TriggerCondition{models.ConditionCardCreated},
		},
		{
			name: "project accepts wiki events",
			kind: models.ScopeProject,
			in:   []models.TriggerCondition{models.ConditionProjectWikiPublicityChanged, "made_up"},
			want: []models.TriggerCondition{models.ConditionProjectWikiPublicityChanged},
		},
		{
			name: "unknown kind accepts nothing",
			kind: "board",
			in:   []models.TriggerCondition{models.ConditionCardMoved},
			want: []models.TriggerCondition{},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := FilterConditions(tt.kind, tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("FilterConditions() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("FilterConditions()[%d] = %s, want %s", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestCreateUpserts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := testutil.NewDB(t)
	reg := NewRegistry(db)
	bot := testutil.CreateBot(t, db, "scoper", models.BotPlatformN8N, models.BotRunningTypeDefault)
	ref := models.ScopeRef{Kind: models.ScopeCard, ID: 11}

	first, err := reg.Create(ctx, CreateInput{
		BotID:      bot.ID,
		Scope:      ref,
		Conditions: []models.TriggerCondition{models.ConditionCardMoved, models.ConditionProjectWikiUpdated},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(first.Conditions) != 1 || first.Conditions[0] != models.ConditionCardMoved {
		t.Fatalf("Conditions = %v, want [card_moved]", first.Conditions)
	}

	second, err := reg.Create(ctx, CreateInput{
		BotID:      bot.ID,
		Scope:      ref,
		Conditions: []models.TriggerCondition{models.ConditionCardDeleted},
	})
	if err != nil {
		t.Fatalf("Create again: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("second Create made a new row %s, want %s", second.ID, first.ID)
	}
	if !second.HasCondition(models.ConditionCardDeleted) || second.HasCondition(models.ConditionCardMoved) {
		t.Fatalf("Conditions = %v, want replaced", second.Conditions)
	}

	all, err := reg.List(ctx, Filter{BotID: &bot.ID})
	if err != nil || len(all) != 1 {
		t.Fatalf("List = %d, %v, want 1 row", len(all), err)
	}
}

func TestCreateRejects(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := testutil.NewDB(t)
	reg := NewRegistry(db)
	bot := testutil.CreateBot(t, db, "rejecter", models.BotPlatformDefault, models.BotRunningTypeDefault)

	if _, err := reg.Create(ctx, CreateInput{BotID: bot.ID, Scope: models.ScopeRef{Kind: "board", ID: 1}}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bad kind error = %v", err)
	}
	if _, err := reg.Create(ctx, CreateInput{BotID: 99, Scope: models.ScopeRef{Kind: models.ScopeCard, ID: 1}}); !errors.Is(err, ErrBotNotFound) {
		t.Fatalf("missing bot error = %v", err)
	}
}

func TestToggle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := testutil.NewDB(t)
	reg := NewRegistry(db)
	bot := testutil.CreateBot(t, db, "toggler", models.BotPlatformDefault, models.BotRunningTypeDefault)

	s, err := reg.Create(ctx, CreateInput{BotID: bot.ID, Scope: models.ScopeRef{Kind: models.ScopeProjectWiki, ID: 5}})
	if err != nil {
		t.Fatal(err)
	}

	steps := []struct {
		condition models.TriggerCondition
		changed   bool
		enabled   bool
	}{
		{condition: models.ConditionProjectWikiUpdated, changed: true, enabled: true},
		{condition: models.ConditionProjectWikiUpdated, changed: true, enabled: false},
		{condition: models.ConditionCardMoved, changed: false, enabled: false},
		{condition: models.ConditionProjectWikiDeleted, changed: true, enabled: true},
	}
	for i, step := range steps {
		changed, err := reg.Toggle(ctx, s.ID, step.condition)
		if err != nil {
			t.Fatalf("step %d: Toggle error: %v", i, err)
		}
		if changed != step.changed {
			t.Fatalf("step %d: changed = %v, want %v", i, changed, step.changed)
		}
		got, err := reg.Get(ctx, s.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.HasCondition(step.condition) != step.enabled {
			t.Fatalf("step %d: %s enabled = %v, want %v", i, step.condition, !step.enabled, step.enabled)
		}
	}

	if _, err := reg.Toggle(ctx, 12345, models.ConditionProjectWikiUpdated); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing scope error = %v", err)
	}
}

func TestDeletes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := testutil.NewDB(t)
	reg := NewRegistry(db)
	a := testutil.CreateBot(t, db, "alpha", models.BotPlatformDefault, models.BotRunningTypeDefault)
	b := testutil.CreateBot(t, db, "beta", models.BotPlatformDefault, models.BotRunningTypeDefault)
	card := models.ScopeRef{Kind: models.ScopeCard, ID: 1}
	project := models.ScopeRef{Kind: models.ScopeProject, ID: 2}

	for _, in := range []CreateInput{
		{BotID: a.ID, Scope: card},
		{BotID: b.ID, Scope: card},
		{BotID: a.ID, Scope: project},
		{BotID: b.ID, Scope: project},
	} {
		if _, err := reg.Create(ctx, in); err != nil {
			t.Fatal(err)
		}
	}

	n, err := reg.DeleteByScope(ctx, card)
	if err != nil || n != 2 {
		t.Fatalf("DeleteByScope = %d, %v, want 2", n, err)
	}
	n, err = reg.DeleteByBot(ctx, a.ID)
	if err != nil || n != 1 {
		t.Fatalf("DeleteByBot = %d, %v, want 1", n, err)
	}

	left, err := reg.Subscribers(ctx, project)
	if err != nil || len(left) != 1 || left[0].BotID != b.ID {
		t.Fatalf("Subscribers = %v, %v", left, err)
	}
	if left[0].Bot == nil || left[0].Bot.Uname != "beta" {
		t.Fatalf("Bot not preloaded: %+v", left[0].Bot)
	}

	if err := reg.Delete(ctx, left[0].ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := reg.Delete(ctx, left[0].ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Delete = %v, want ErrNotFound", err)
	}
}
