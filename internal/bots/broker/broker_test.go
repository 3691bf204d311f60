package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/langboard/botengine/internal/domain/models"
	"github.com/langboard/botengine/internal/pkg/queue"
)

func TestLocalRunsEveryTask(t *testing.T) {
	t.Parallel()
	var ran atomic.Int64
	b := NewLocal(func(ctx context.Context, task Task) error {
		ran.Add(1)
		return nil
	}, 3, 2)
	defer b.Close()

	for i := 0; i < 25; i++ {
		if err := b.Submit(context.Background(), NewTask(models.SnowflakeID(i+1), models.ScopeRef{}, models.Event{Kind: "card_moved"})); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	b.Wait()
	if got := ran.Load(); got != 25 {
		t.Fatalf("ran = %d, want 25", got)
	}
}

func TestLocalRecoversPanics(t *testing.T) {
	t.Parallel()
	var ran atomic.Int64
	b := NewLocal(func(ctx context.Context, task Task) error {
		if task.BotID == 1 {
			panic("boom")
		}
		ran.Add(1)
		return nil
	}, 1, 4)
	defer b.Close()

	for _, id := range []models.SnowflakeID{1, 2, 3} {
		if err := b.Submit(context.Background(), NewTask(id, models.ScopeRef{}, models.Event{})); err != nil {
			t.Fatal(err)
		}
	}
	b.Wait()
	if got := ran.Load(); got != 2 {
		t.Fatalf("ran = %d, want 2 after a panicking task", got)
	}
}

func TestLocalClosed(t *testing.T) {
	t.Parallel()
	b := NewLocal(func(context.Context, Task) error { return nil }, 1, 1)
	b.Close()
	b.Close()
	if err := b.Submit(context.Background(), Task{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Submit after Close = %v, want ErrClosed", err)
	}
}

func TestLocalSubmitHonoursContext(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	var once sync.Once
	b := NewLocal(func(ctx context.Context, task Task) error {
		<-release
		return nil
	}, 1, 0)
	defer func() {
		once.Do(func() { close(release) })
		b.Close()
	}()

	// occupies the only worker
	if err := b.Submit(context.Background(), Task{ID: "first"}); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Submit(ctx, Task{ID: "second"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Submit with cancelled ctx = %v, want context.Canceled", err)
	}
	once.Do(func() { close(release) })
	b.Wait()
}

func TestChainOrder(t *testing.T) {
	t.Parallel()
	var order []string
	mw := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, task Task) error {
				order = append(order, name)
				return next(ctx, task)
			}
		}
	}
	h := Chain(func(context.Context, Task) error {
		order = append(order, "handler")
		return nil
	}, mw("outer"), mw("inner"))

	if err := h(context.Background(), Task{}); err != nil {
		t.Fatal(err)
	}
	want := []string{"outer", "inner", "handler"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

type fakeEnqueuer struct {
	payloads []queue.BotDispatchPayload
}

func (f *fakeEnqueuer) EnqueueBotDispatch(ctx context.Context, payload queue.BotDispatchPayload) (*asynq.TaskInfo, error) {
	f.payloads = append(f.payloads, payload)
	return &asynq.TaskInfo{ID: payload.TaskID}, nil
}

func TestQueueRoundTrip(t *testing.T) {
	t.Parallel()
	fake := &fakeEnqueuer{}
	q := &Queue{client: fake}
	scope := models.ScopeRef{Kind: models.ScopeCard, ID: 9}
	task := NewTask(3, scope, models.Event{Kind: "card_moved", Payload: models.JSON{"cardId": "a"}})

	if err := q.Submit(context.Background(), task); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(fake.payloads) != 1 || fake.payloads[0].TaskID != task.ID {
		t.Fatalf("payloads = %+v", fake.payloads)
	}

	var got Task
	handler := TaskHandler(func(ctx context.Context, task Task) error {
		got = task
		return nil
	})
	raw := asynq.NewTask(queue.TypeBotDispatch, mustJSON(t, fake.payloads[0]))
	if err := handler(context.Background(), raw); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if got.BotID != 3 || got.Scope != scope || got.Event.Kind != "card_moved" || got.ID != task.ID {
		t.Fatalf("decoded task = %+v", got)
	}
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return data
}
