package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/langboard/botengine/internal/bots/engine"
	"github.com/langboard/botengine/internal/domain/models"
	"github.com/langboard/botengine/internal/pkg/config"
	"github.com/langboard/botengine/internal/pkg/queue"
	"github.com/langboard/botengine/internal/scheduler/crontab"
	"github.com/langboard/botengine/internal/testutil"
	"gorm.io/gorm"
)

func newWorker(t *testing.T) (*Worker, *gorm.DB) {
	t.Helper()
	db := testutil.NewDB(t)
	cfg := &config.Config{
		Bots:    config.BotsConfig{RequestTimeout: 2 * time.Second},
		Crontab: config.CrontabConfig{ScriptPath: crontab.DefaultScriptPath},
		Worker:  config.WorkerConfig{Concurrency: 1, QueueSize: 4},
	}
	eng := engine.New(cfg, engine.Dependencies{DB: db, Crontab: crontab.NewMemoryStore("")})
	t.Cleanup(eng.Close)
	return &Worker{engine: eng}, db
}

func eventTask(t *testing.T, event models.Event) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(queue.BotEventPayload{Event: event})
	if err != nil {
		t.Fatal(err)
	}
	return asynq.NewTask(queue.TypeBotEvent, data)
}

func TestHandleBotEventRejectsGarbage(t *testing.T) {
	t.Parallel()
	w, _ := newWorker(t)
	err := w.handleBotEvent(context.Background(), asynq.NewTask(queue.TypeBotEvent, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("err = %v, want SkipRetry", err)
	}
}

func TestHandleBotEventUnreachableBot(t *testing.T) {
	t.Parallel()
	w, _ := newWorker(t)
	missing := models.SnowflakeID(404)

	for name, event := range map[string]models.Event{
		"no target":   {Kind: string(models.TriggerBotMentioned), Scope: models.ScopeRef{Kind: models.ScopeCard, ID: 1}},
		"unknown bot": {Kind: string(models.TriggerBotMentioned), Scope: models.ScopeRef{Kind: models.ScopeCard, ID: 1}, TargetBotID: &missing},
	} {
		if err := w.handleBotEvent(context.Background(), eventTask(t, event)); !errors.Is(err, asynq.SkipRetry) {
			t.Errorf("%s: err = %v, want SkipRetry", name, err)
		}
	}
}

func TestHandleBotEventDispatchesMention(t *testing.T) {
	t.Parallel()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w, db := newWorker(t)
	bot := testutil.CreateBot(t, db, "helper", models.BotPlatformN8N, models.BotRunningTypeDefault)
	if err := db.Model(bot).Update("api_url", srv.URL).Error; err != nil {
		t.Fatal(err)
	}

	event := models.Event{
		Kind:        string(models.TriggerBotMentioned),
		Actor:       models.Actor{Type: models.ActorUser, ID: 7},
		Scope:       models.ScopeRef{Kind: models.ScopeCard, ID: 11},
		Payload:     models.JSON{"cardId": models.SnowflakeID(11).ShortCode()},
		TargetBotID: &bot.ID,
	}
	if err := w.handleBotEvent(context.Background(), eventTask(t, event)); err != nil {
		t.Fatal(err)
	}
	w.engine.Wait()

	if got := hits.Load(); got != 1 {
		t.Fatalf("hits = %d, want 1", got)
	}
}
