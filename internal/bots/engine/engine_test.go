package engine

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/langboard/botengine/internal/bots/events"
	"github.com/langboard/botengine/internal/domain/models"
	"github.com/langboard/botengine/internal/pkg/config"
	"github.com/langboard/botengine/internal/scheduler"
	"github.com/langboard/botengine/internal/scheduler/crontab"
	"github.com/langboard/botengine/internal/testutil"
	"gorm.io/gorm"
)

func testConfig() *config.Config {
	return &config.Config{
		Bots: config.BotsConfig{
			DefaultFlowsURL: "http://flows.invalid",
			RequestTimeout:  2 * time.Second,
			RequestTrials:   1,
		},
		Crontab: config.CrontabConfig{ScriptPath: crontab.DefaultScriptPath},
		Worker:  config.WorkerConfig{Concurrency: 2, QueueSize: 8},
	}
}

func newEngine(t *testing.T) (*Engine, *gorm.DB, *crontab.MemoryStore, *events.Recorder) {
	t.Helper()
	db := testutil.NewDB(t)
	store := crontab.NewMemoryStore("")
	rec := events.NewRecorder()
	e := New(testConfig(), Dependencies{DB: db, Crontab: store, Publisher: rec})
	t.Cleanup(e.Close)
	return e, db, store, rec
}

func hasComment(store *crontab.MemoryStore, comment string) bool {
	for _, c := range store.Comments() {
		if c == comment {
			return true
		}
	}
	return false
}

var (
	c1 = models.ScopeRef{Kind: models.ScopeCard, ID: 501}
	c2 = models.ScopeRef{Kind: models.ScopeCard, ID: 502}
	p1 = models.SnowflakeID(500)
)

func TestDeleteScopeCascade(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, db, store, _ := newEngine(t)
	b1 := testutil.CreateBot(t, db, "b1", models.BotPlatformDefault, models.BotRunningTypeDefault)
	b2 := testutil.CreateBot(t, db, "b2", models.BotPlatformN8N, models.BotRunningTypeDefault)

	for _, in := range []ScheduleInput{
		{BotID: b1.ID, ScopeKind: c1.Kind, ScopeID: c1.ID, Interval: "0 9 * * *"},
		{BotID: b2.ID, ScopeKind: c1.Kind, ScopeID: c1.ID, Interval: "0 9 * * *"},
		{BotID: b1.ID, ScopeKind: c1.Kind, ScopeID: c1.ID, Interval: "*/10 * * * *"},
		{BotID: b1.ID, ScopeKind: c2.Kind, ScopeID: c2.ID, Interval: "0 9 * * *"},
	} {
		if _, err := e.Schedule(ctx, in); err != nil {
			t.Fatalf("Schedule: %v", err)
		}
	}
	for _, bot := range []*models.Bot{b1, b2} {
		if _, err := e.Subscribe(ctx, SubscribeInput{BotID: bot.ID, ScopeKind: c1.Kind, ScopeID: c1.ID, Conditions: []models.TriggerCondition{models.ConditionCardMoved}}); err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
	}
	if _, err := e.Logs.Create(ctx, b1.ID, models.BotLogInfo, "started", c1, &p1); err != nil {
		t.Fatal(err)
	}

	savesBefore := len(store.Saves())
	cascade, err := e.DeleteScope(ctx, c1)
	if err != nil {
		t.Fatalf("DeleteScope: %v", err)
	}
	if cascade.Schedules != 3 || cascade.Scopes != 2 || cascade.Logs != 1 {
		t.Fatalf("cascade = %+v", cascade)
	}
	if got := len(store.Saves()) - savesBefore; got != 1 {
		t.Fatalf("saves = %d, want 1", got)
	}
	if !hasComment(store, "0 9 * * *") {
		t.Fatal("line still referenced by another card was removed")
	}
	if hasComment(store, "*/10 * * * *") {
		t.Fatal("unreferenced line kept")
	}

	left, err := e.Schedules.ListByScope(ctx, c1, nil)
	if err != nil || len(left) != 0 {
		t.Fatalf("schedules left = %v, %v", left, err)
	}
	if other, _ := e.Schedules.ListByScope(ctx, c2, nil); len(other) != 1 {
		t.Fatalf("other card schedules = %d, want 1", len(other))
	}
}

func TestDeleteScopeCrontabFailureKeepsEverything(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, db, store, _ := newEngine(t)
	bot := testutil.CreateBot(t, db, "kept", models.BotPlatformDefault, models.BotRunningTypeDefault)

	if _, err := e.Schedule(ctx, ScheduleInput{BotID: bot.ID, ScopeKind: c1.Kind, ScopeID: c1.ID, Interval: "0 9 * * *"}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if _, err := e.Subscribe(ctx, SubscribeInput{BotID: bot.ID, ScopeKind: c1.Kind, ScopeID: c1.ID, Conditions: []models.TriggerCondition{models.ConditionCardMoved}}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := e.Logs.Create(ctx, bot.ID, models.BotLogInfo, "started", c1, &p1); err != nil {
		t.Fatal(err)
	}

	store.FailSaves(crontab.ErrCronIO)
	if _, err := e.DeleteScope(ctx, c1); !errors.Is(err, crontab.ErrCronIO) {
		t.Fatalf("DeleteScope error = %v, want ErrCronIO", err)
	}
	if subs, err := e.Scopes.Subscribers(ctx, c1); err != nil || len(subs) != 1 {
		t.Fatalf("subscriptions after failed delete = %d, %v, want 1", len(subs), err)
	}
	if logs, err := e.Logs.ListByScope(ctx, c1, nil); err != nil || len(logs) != 1 {
		t.Fatalf("logs after failed delete = %d, %v, want 1", len(logs), err)
	}
	if left, err := e.Schedules.ListByScope(ctx, c1, nil); err != nil || len(left) != 1 {
		t.Fatalf("schedules after failed delete = %d, %v, want 1", len(left), err)
	}
	if !hasComment(store, "0 9 * * *") {
		t.Fatal("crontab line lost")
	}

	store.FailSaves(nil)
	cascade, err := e.DeleteScope(ctx, c1)
	if err != nil {
		t.Fatalf("DeleteScope retry: %v", err)
	}
	if cascade.Schedules != 1 || cascade.Scopes != 1 || cascade.Logs != 1 {
		t.Fatalf("cascade = %+v", cascade)
	}
	if hasComment(store, "0 9 * * *") {
		t.Fatal("line kept after the retry")
	}
}

func TestDeleteBot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, db, store, _ := newEngine(t)
	bot := testutil.CreateBot(t, db, "leaving", models.BotPlatformDefault, models.BotRunningTypeDefault)
	if _, err := e.Schedule(ctx, ScheduleInput{BotID: bot.ID, ScopeKind: c1.Kind, ScopeID: c1.ID, Interval: "15 * * * *"}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Subscribe(ctx, SubscribeInput{BotID: bot.ID, ScopeKind: models.ScopeProject, ScopeID: p1}); err != nil {
		t.Fatal(err)
	}

	cascade, err := e.DeleteBot(ctx, bot.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cascade.Schedules != 1 || cascade.Scopes != 1 {
		t.Fatalf("cascade = %+v", cascade)
	}
	if len(store.Comments()) != 0 {
		t.Fatalf("crontab = %q", store.Content())
	}
}

func TestInputValidation(t *testing.T) {
	t.Parallel()
	e, db, _, _ := newEngine(t)
	bot := testutil.CreateBot(t, db, "strict", models.BotPlatformDefault, models.BotRunningTypeDefault)
	ctx := context.Background()

	tests := []struct {
		name string
		in   ScheduleInput
	}{
		{"missing bot", ScheduleInput{ScopeKind: c1.Kind, ScopeID: c1.ID, Interval: "* * * * *"}},
		{"unknown scope kind", ScheduleInput{BotID: bot.ID, ScopeKind: "board", ScopeID: 1, Interval: "* * * * *"}},
		{"bad interval", ScheduleInput{BotID: bot.ID, ScopeKind: c1.Kind, ScopeID: c1.ID, Interval: "61 * * * *"}},
		{"bad running type", ScheduleInput{BotID: bot.ID, ScopeKind: c1.Kind, ScopeID: c1.ID, Interval: "* * * * *", RunningType: "forever"}},
		{"bad timezone", ScheduleInput{BotID: bot.ID, ScopeKind: c1.Kind, ScopeID: c1.ID, Interval: "* * * * *", Timezone: "Mars/Olympus"}},
	}
	for _, tt := range tests {
		if _, err := e.Schedule(ctx, tt.in); !errors.Is(err, scheduler.ErrInvalidInput) {
			t.Errorf("%s: err = %v, want ErrInvalidInput", tt.name, err)
		}
	}

	bad := "not a cron"
	if _, _, err := e.Reschedule(ctx, 1, RescheduleInput{Interval: &bad}); !errors.Is(err, scheduler.ErrInvalidInput) {
		t.Errorf("Reschedule err = %v", err)
	}
}

func TestPreview(t *testing.T) {
	t.Parallel()
	e, _, _, _ := newEngine(t)
	from := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	runs, err := e.Preview("@hourly", from, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 3 || !runs[0].Equal(from.Add(time.Hour)) || !runs[2].Equal(from.Add(3*time.Hour)) {
		t.Fatalf("runs = %v", runs)
	}
}

// A genuine card event reaches the subscribed bot exactly once and leaves a
// two-frame log.
func TestHandleEventDispatches(t *testing.T) {
	t.Parallel()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	ctx := context.Background()
	e, db, _, rec := newEngine(t)
	bot := testutil.CreateBot(t, db, "b1", models.BotPlatformN8N, models.BotRunningTypeDefault)
	if err := db.Model(bot).Update("api_url", srv.URL).Error; err != nil {
		t.Fatal(err)
	}
	if _, err := e.Subscribe(ctx, SubscribeInput{
		BotID:      bot.ID,
		ScopeKind:  c1.Kind,
		ScopeID:    c1.ID,
		Conditions: []models.TriggerCondition{models.ConditionCardCheckitemTimerStarted},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Schedule(ctx, ScheduleInput{BotID: bot.ID, ScopeKind: c1.Kind, ScopeID: c1.ID, Interval: "*/5 * * * *"}); err != nil {
		t.Fatal(err)
	}

	targets, err := e.HandleEvent(ctx, &models.Event{
		Kind:  string(models.ConditionCardCheckitemTimerStarted),
		Actor: models.Actor{Type: models.ActorUser, ID: 1},
		Scope: c1,
		Payload: models.JSON{
			"cardId":          c1.ID.ShortCode(),
			"projectColumnId": models.SnowflakeID(499).ShortCode(),
			"projectId":       p1.ShortCode(),
		},
	})
	if err != nil || len(targets) != 1 {
		t.Fatalf("HandleEvent = %v, %v", targets, err)
	}
	e.Wait()

	if got := hits.Load(); got != 1 {
		t.Fatalf("remote hits = %d, want 1", got)
	}
	logs, err := e.Logs.ListByBot(ctx, bot.ID, nil)
	if err != nil || len(logs) != 1 {
		t.Fatalf("logs = %v, %v", logs, err)
	}
	stack := logs[0].MessageStack
	if len(stack) != 2 || stack[0].Message != "started" || stack[1].LogType != models.BotLogSuccess || stack[1].Message != "ok" {
		t.Fatalf("stack = %+v", stack)
	}
	if n := len(rec.OfType(events.EventWebhook)); n != 1 {
		t.Fatalf("webhook events = %d, want 1", n)
	}
}
