package broker

import (
	"context"
	"sync"

	"github.com/langboard/botengine/internal/pkg/metrics"
	"github.com/rs/zerolog/log"
)

// Local runs tasks on a fixed pool of goroutines fed by a bounded queue.
// Submit blocks while the queue is full.
type Local struct {
	handler Handler
	queue   chan localTask

	pending sync.WaitGroup
	workers sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type localTask struct {
	ctx  context.Context
	task Task
}

func NewLocal(handler Handler, workers, queueSize int) *Local {
	if workers <= 0 {
		workers = 4
	}
	if queueSize < 0 {
		queueSize = 0
	}
	b := &Local{
		handler: Chain(handler, Recover(), Logging()),
		queue:   make(chan localTask, queueSize),
	}
	for i := 0; i < workers; i++ {
		b.workers.Add(1)
		go b.work()
	}
	return b
}

func (b *Local) work() {
	defer b.workers.Done()
	for item := range b.queue {
		if err := b.handler(item.ctx, item.task); err != nil {
			metrics.QueueTasksProcessed.WithLabelValues("bot_dispatch", "failed").Inc()
		} else {
			metrics.QueueTasksProcessed.WithLabelValues("bot_dispatch", "succeeded").Inc()
		}
		b.pending.Done()
	}
}

func (b *Local) Submit(ctx context.Context, task Task) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	b.pending.Add(1)
	// the task outlives the submitting call; keep values, drop cancellation
	item := localTask{ctx: context.WithoutCancel(ctx), task: task}
	select {
	case b.queue <- item:
		metrics.QueueTasksTotal.WithLabelValues("bot_dispatch", "local").Inc()
		return nil
	case <-ctx.Done():
		b.pending.Done()
		return ctx.Err()
	}
}

// Wait blocks until every submitted task has finished.
func (b *Local) Wait() {
	b.pending.Wait()
}

// Close stops accepting tasks, drains the queue and stops the workers.
func (b *Local) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.queue)
	b.mu.Unlock()

	b.workers.Wait()
	log.Debug().Msg("Local broker stopped")
}
