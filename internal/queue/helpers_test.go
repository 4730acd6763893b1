package queue_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/genqueue/internal/queue"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestScheduler builds a quiet scheduler that is shut down with the test.
func newTestScheduler(t *testing.T, opts ...queue.Option) *queue.Scheduler {
	t.Helper()
	opts = append([]queue.Option{queue.WithLogger(discardLogger())}, opts...)
	s := queue.New(opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func generate(prompt string) queue.SubmitRequest {
	return queue.SubmitRequest{Payload: models.GeneratePayload{Prompt: prompt}}
}

// echoWorker completes every job with the prompt bytes as the artifact.
func echoWorker() queue.Worker {
	return queue.WorkerFunc(func(_ context.Context, job models.Job, _ queue.ProgressFunc) (models.Result, error) {
		p := job.Payload.(models.GeneratePayload)
		return models.GenerateResult{Artifact: models.Artifact{Data: []byte(p.Prompt)}}, nil
	})
}

// gatedWorker blocks every job until release is closed or the job context ends.
func gatedWorker(release <-chan struct{}) queue.Worker {
	return queue.WorkerFunc(func(ctx context.Context, _ models.Job, _ queue.ProgressFunc) (models.Result, error) {
		select {
		case <-release:
			return models.GenerateResult{Artifact: models.Artifact{Data: []byte("done")}}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

// hasStatus is a condition for require.Eventually.
func hasStatus(s *queue.Scheduler, id uuid.UUID, status models.Status) func() bool {
	return func() bool {
		job, ok := s.Get(id)
		return ok && job.Status == status
	}
}
