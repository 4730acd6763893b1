package queue

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kiranshivaraju/genqueue/pkg/models"
)

// notifier hands job snapshots to a StatusHook on its own goroutine, in the
// order they were pushed. push never blocks, so a slow hook cannot hold up
// the scheduler.
type notifier struct {
	hook   StatusHook
	logger *slog.Logger

	mu     sync.Mutex
	queue  []models.Job
	closed bool

	wake chan struct{}
	done chan struct{}
}

func newNotifier(hook StatusHook, logger *slog.Logger) *notifier {
	n := &notifier{
		hook:   hook,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go n.run()
	return n
}

// push queues job for delivery. Pushes after close are dropped.
func (n *notifier) push(job models.Job) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.queue = append(n.queue, job)
	n.mu.Unlock()

	n.signal()
}

// close stops accepting events. Anything already queued is still delivered.
func (n *notifier) close() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()

	n.signal()
}

// wait blocks until every queued event has been delivered or ctx ends.
func (n *notifier) wait(ctx context.Context) error {
	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *notifier) signal() {
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) run() {
	defer close(n.done)

	for {
		n.mu.Lock()
		batch := n.queue
		n.queue = nil
		closed := n.closed
		n.mu.Unlock()

		for _, job := range batch {
			n.deliver(job)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-n.wake
	}
}

func (n *notifier) deliver(job models.Job) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("panic in status hook", "error", r, "job_id", job.ID)
		}
	}()
	n.hook(job)
}
