package router

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/langboard/botengine/internal/bots/broker"
	"github.com/langboard/botengine/internal/bots/events"
	"github.com/langboard/botengine/internal/bots/scope"
	"github.com/langboard/botengine/internal/domain/models"
	"github.com/langboard/botengine/internal/testutil"
	"gorm.io/gorm"
)

type recordingBroker struct {
	mu    sync.Mutex
	tasks []broker.Task
}

func (b *recordingBroker) Submit(ctx context.Context, task broker.Task) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks = append(b.tasks, task)
	return nil
}

var (
	projectID = models.SnowflakeID(1001)
	columnID  = models.SnowflakeID(1002)
	cardID    = models.SnowflakeID(1003)
	otherCard = models.SnowflakeID(1004)
)

type fixture struct {
	db     *gorm.DB
	scopes *scope.Registry
	broker *recordingBroker
	events *events.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	return &fixture{
		db:     db,
		scopes: scope.NewRegistry(db),
		broker: &recordingBroker{},
		events: events.NewRecorder(),
	}
}

func (f *fixture) router(opts ...Option) *Router {
	opts = append([]Option{WithPublisher(f.events)}, opts...)
	return New(f.db, f.scopes, f.broker, opts...)
}

func (f *fixture) subscribe(t *testing.T, bot *models.Bot, ref models.ScopeRef, conditions ...models.TriggerCondition) {
	t.Helper()
	if _, err := f.scopes.Create(context.Background(), scope.CreateInput{BotID: bot.ID, Scope: ref, Conditions: conditions}); err != nil {
		t.Fatalf("subscribe %s to %s: %v", bot.Uname, ref, err)
	}
}

func cardEvent(kind models.TriggerCondition, card models.SnowflakeID) *models.Event {
	return &models.Event{
		Kind:  string(kind),
		Actor: models.Actor{Type: models.ActorUser, ID: 1},
		Scope: models.ScopeRef{Kind: models.ScopeCard, ID: card},
		Payload: models.JSON{
			"cardId":          card.ShortCode(),
			"projectColumnId": columnID.ShortCode(),
			"projectId":       projectID.ShortCode(),
		},
	}
}

func targetNames(targets []Target) map[string]int {
	out := make(map[string]int)
	for _, t := range targets {
		out[t.Bot.Uname+"@"+string(t.Scope.Kind)]++
	}
	return out
}

func TestRouteFanOut(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	onCard := testutil.CreateBot(t, f.db, "on-card", models.BotPlatformDefault, models.BotRunningTypeDefault)
	onProject := testutil.CreateBot(t, f.db, "on-project", models.BotPlatformN8N, models.BotRunningTypeDefault)
	wrongCondition := testutil.CreateBot(t, f.db, "wrong-condition", models.BotPlatformDefault, models.BotRunningTypeDefault)
	wrongCard := testutil.CreateBot(t, f.db, "wrong-card", models.BotPlatformDefault, models.BotRunningTypeDefault)

	f.subscribe(t, onCard, models.ScopeRef{Kind: models.ScopeCard, ID: cardID}, models.ConditionCardMoved)
	f.subscribe(t, onProject, models.ScopeRef{Kind: models.ScopeProject, ID: projectID}, models.ConditionCardMoved)
	f.subscribe(t, wrongCondition, models.ScopeRef{Kind: models.ScopeCard, ID: cardID}, models.ConditionCardDeleted)
	f.subscribe(t, wrongCard, models.ScopeRef{Kind: models.ScopeCard, ID: otherCard}, models.ConditionCardMoved)

	targets, err := f.router().Route(context.Background(), cardEvent(models.ConditionCardMoved, cardID))
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	got := targetNames(targets)
	want := map[string]int{"on-card@card": 1, "on-project@project": 1}
	if len(got) != len(want) {
		t.Fatalf("targets = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("targets = %v, want %v", got, want)
		}
	}

	if len(f.broker.tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(f.broker.tasks))
	}
	for _, task := range f.broker.tasks {
		if task.Event.Kind != "card_moved" || task.ID == "" {
			t.Fatalf("task = %+v", task)
		}
	}
	if hooks := f.events.OfType(events.EventWebhook); len(hooks) != 1 {
		t.Fatalf("webhook events = %d, want 1", len(hooks))
	}
}

// A bot subscribed at several levels receives the event once per level
// unless deduplication is on.
func TestRouteMultiLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		opts []Option
		want int
	}{
		{name: "default keeps duplicates", want: 3},
		{name: "dedupe", opts: []Option{WithDedupe()}, want: 1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			bot := testutil.CreateBot(t, f.db, "everywhere", models.BotPlatformDefault, models.BotRunningTypeDefault)
			f.subscribe(t, bot, models.ScopeRef{Kind: models.ScopeCard, ID: cardID}, models.ConditionCardUpdated)
			f.subscribe(t, bot, models.ScopeRef{Kind: models.ScopeProjectColumn, ID: columnID}, models.ConditionCardUpdated)
			f.subscribe(t, bot, models.ScopeRef{Kind: models.ScopeProject, ID: projectID}, models.ConditionCardUpdated)

			targets, err := f.router(tt.opts...).Route(context.Background(), cardEvent(models.ConditionCardUpdated, cardID))
			if err != nil {
				t.Fatal(err)
			}
			if len(targets) != tt.want {
				t.Fatalf("targets = %d, want %d", len(targets), tt.want)
			}
		})
	}
}

func TestRouteUsesEventScopeWhenPayloadLacksKey(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	bot := testutil.CreateBot(t, f.db, "wiki-bot", models.BotPlatformDefault, models.BotRunningTypeDefault)
	wiki := models.ScopeRef{Kind: models.ScopeProjectWiki, ID: 55}
	f.subscribe(t, bot, wiki, models.ConditionProjectWikiUpdated)

	targets, err := f.router().Route(context.Background(), &models.Event{
		Kind:  string(models.ConditionProjectWikiUpdated),
		Scope: wiki,
	})
	if err != nil || len(targets) != 1 || targets[0].Scope != wiki {
		t.Fatalf("Route = %v, %v", targets, err)
	}
}

func TestRouteDefaultTriggers(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	bot := testutil.CreateBot(t, f.db, "mentioned", models.BotPlatformDefault, models.BotRunningTypeDefault)
	// a subscription must not matter for default triggers
	f.subscribe(t, bot, models.ScopeRef{Kind: models.ScopeCard, ID: cardID}, models.ConditionCardCheckitemTimerStarted)
	r := f.router()

	for _, kind := range []models.DefaultTrigger{models.TriggerBotMentioned, models.TriggerBotCronScheduled} {
		ev := cardEvent(models.TriggerCondition(kind), cardID)
		ev.TargetBotID = &bot.ID
		targets, err := r.Route(context.Background(), ev)
		if err != nil {
			t.Fatalf("%s: Route: %v", kind, err)
		}
		if len(targets) != 1 || targets[0].Bot.ID != bot.ID {
			t.Fatalf("%s: targets = %v", kind, targets)
		}
	}
	if hooks := f.events.OfType(events.EventWebhook); len(hooks) != 0 {
		t.Fatalf("default triggers published %d webhook events", len(hooks))
	}

	ev := cardEvent(models.TriggerCondition(models.TriggerBotMentioned), cardID)
	if _, err := r.Route(context.Background(), ev); !errors.Is(err, ErrNoTarget) {
		t.Fatalf("no target error = %v", err)
	}
	missing := models.SnowflakeID(999)
	ev.TargetBotID = &missing
	if _, err := r.Route(context.Background(), ev); !errors.Is(err, ErrBotNotFound) {
		t.Fatalf("missing bot error = %v", err)
	}
}

// A cron tick reaches only the schedule's bot, never the card subscribers.
func TestRouteCronTickSkipsSubscribers(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	owner := testutil.CreateBot(t, f.db, "owner", models.BotPlatformDefault, models.BotRunningTypeDefault)
	watcher := testutil.CreateBot(t, f.db, "watcher", models.BotPlatformDefault, models.BotRunningTypeDefault)
	f.subscribe(t, watcher, models.ScopeRef{Kind: models.ScopeCard, ID: cardID}, models.ConditionCardCheckitemTimerStarted)

	ev := cardEvent(models.TriggerCondition(models.TriggerBotCronScheduled), cardID)
	ev.TargetBotID = &owner.ID
	targets, err := f.router().Route(context.Background(), ev)
	if err != nil {
		t.Fatal(err)
	}
	if len(targets) != 1 || targets[0].Bot.Uname != "owner" {
		t.Fatalf("targets = %v, want only the owner", targetNames(targets))
	}

	targets, err = f.router().Route(context.Background(), cardEvent(models.ConditionCardCheckitemTimerStarted, cardID))
	if err != nil || len(targets) != 1 || targets[0].Bot.Uname != "watcher" {
		t.Fatalf("genuine event targets = %v, %v", targetNames(targets), err)
	}
}

func TestRouteUnknownKind(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	targets, err := f.router().Route(context.Background(), cardEvent("card_teleported", cardID))
	if err != nil || len(targets) != 0 {
		t.Fatalf("Route = %v, %v", targets, err)
	}
}
