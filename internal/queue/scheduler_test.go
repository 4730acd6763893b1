package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/genqueue/internal/queue"
	"github.com/kiranshivaraju/genqueue/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Submit ---

func TestSubmit_ExampleScenario(t *testing.T) {
	s := newTestScheduler(t)

	id, err := s.Submit(queue.SubmitRequest{
		Payload: models.GeneratePayload{Prompt: "fox in a hat"},
		Total:   1,
	})
	require.NoError(t, err)

	job, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Equal(t, models.Progress{Current: 0, Total: 1}, job.Progress)
	assert.Nil(t, job.Result)
	assert.Empty(t, job.Error)

	s.RegisterWorker(queue.WorkerFunc(func(context.Context, models.Job, queue.ProgressFunc) (models.Result, error) {
		time.Sleep(10 * time.Millisecond)
		return models.GenerateResult{Artifact: models.Artifact{Data: []byte("ARTIFACT_X")}}, nil
	}))

	require.Eventually(t, hasStatus(s, id, models.JobStatusCompleted), 2*time.Second, 5*time.Millisecond)

	job, _ = s.Get(id)
	assert.Equal(t, models.Progress{Current: 1, Total: 1}, job.Progress)
	require.IsType(t, models.GenerateResult{}, job.Result)
	assert.Equal(t, []byte("ARTIFACT_X"), job.Result.(models.GenerateResult).Artifact.Data)
	assert.Empty(t, job.Error)
}

func TestSubmit_QueuedWhileAdmissionIsFull(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	s := newTestScheduler(t, queue.WithMaxConcurrent(1))
	s.RegisterWorker(gatedWorker(release))

	first, err := s.Submit(generate("first"))
	require.NoError(t, err)
	require.Eventually(t, hasStatus(s, first, models.JobStatusProcessing), time.Second, 5*time.Millisecond)

	second, err := s.Submit(generate("second"))
	require.NoError(t, err)

	job, ok := s.Get(second)
	require.True(t, ok)
	assert.Equal(t, models.JobStatusQueued, job.Status)
}

func TestSubmit_FirstObservedStatusIsQueued(t *testing.T) {
	var mu sync.Mutex
	var first []models.Status
	seen := map[uuid.UUID]bool{}

	s := newTestScheduler(t, queue.WithStatusHook(func(job models.Job) {
		mu.Lock()
		defer mu.Unlock()
		if !seen[job.ID] {
			seen[job.ID] = true
			first = append(first, job.Status)
		}
	}))
	s.RegisterWorker(echoWorker())

	for i := 0; i < 20; i++ {
		_, err := s.Submit(generate("p"))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(first) == 20
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, st := range first {
		assert.Equal(t, models.JobStatusQueued, st)
	}
}

func TestSubmit_DefaultsTotalFromPayload(t *testing.T) {
	s := newTestScheduler(t)

	id, err := s.Submit(queue.SubmitRequest{
		Payload: models.BatchPayload{Prompts: []string{"a", "b", "c"}},
	})
	require.NoError(t, err)

	job, _ := s.Get(id)
	assert.Equal(t, models.KindBatch, job.Kind)
	assert.Equal(t, 3, job.Progress.Total)
}

func TestSubmit_ExplicitTotal(t *testing.T) {
	s := newTestScheduler(t)

	id, err := s.Submit(queue.SubmitRequest{Payload: models.GeneratePayload{Prompt: "p"}, Total: 4, SubmitterID: "alice"})
	require.NoError(t, err)

	job, _ := s.Get(id)
	assert.Equal(t, 4, job.Progress.Total)
	assert.Equal(t, "alice", job.SubmitterID)
	assert.Equal(t, models.KindGenerate, job.Kind)
	assert.False(t, job.CreatedAt.IsZero())
	assert.Equal(t, job.CreatedAt, job.UpdatedAt)
}

func TestSubmit_InvalidPayload(t *testing.T) {
	s := newTestScheduler(t)

	_, err := s.Submit(queue.SubmitRequest{})
	assert.ErrorIs(t, err, models.ErrInvalidPayload)

	_, err = s.Submit(generate("   "))
	assert.ErrorIs(t, err, models.ErrInvalidPayload)

	_, err = s.Submit(queue.SubmitRequest{Payload: models.EditPayload{Instruction: "blue"}})
	assert.ErrorIs(t, err, models.ErrInvalidPayload)

	assert.Equal(t, queue.Stats{MaxConcurrent: queue.DefaultMaxConcurrent}, s.Stats())
}

func TestSubmit_UniqueIDs(t *testing.T) {
	s := newTestScheduler(t)

	ids := map[uuid.UUID]bool{}
	for i := 0; i < 100; i++ {
		id, err := s.Submit(generate("p"))
		require.NoError(t, err)
		assert.False(t, ids[id])
		ids[id] = true
	}
}

// --- Get / GetMany ---

func TestGet_Unknown(t *testing.T) {
	s := newTestScheduler(t)
	job, ok := s.Get(uuid.New())
	assert.False(t, ok)
	assert.Nil(t, job)
}

func TestGet_ReturnsSnapshot(t *testing.T) {
	s := newTestScheduler(t)
	id, err := s.Submit(generate("p"))
	require.NoError(t, err)

	job, _ := s.Get(id)
	job.Status = models.JobStatusFailed
	job.Error = "tampered"

	again, _ := s.Get(id)
	assert.Equal(t, models.JobStatusQueued, again.Status)
	assert.Empty(t, again.Error)
}

func TestGetMany_PreservesOrderWithNilForUnknown(t *testing.T) {
	s := newTestScheduler(t)
	a, err := s.Submit(generate("a"))
	require.NoError(t, err)
	b, err := s.Submit(generate("b"))
	require.NoError(t, err)
	missing := uuid.New()

	jobs := s.GetMany([]uuid.UUID{b, missing, a})
	require.Len(t, jobs, 3)
	assert.Equal(t, b, jobs[0].ID)
	assert.Nil(t, jobs[1])
	assert.Equal(t, a, jobs[2].ID)

	assert.Empty(t, s.GetMany(nil))
}

// --- admission control ---

func TestScheduler_SteadyStateRespectsMaxConcurrent(t *testing.T) {
	const maxConcurrent = 3
	const submitted = 8

	release := make(chan struct{})
	s := newTestScheduler(t, queue.WithMaxConcurrent(maxConcurrent))
	s.RegisterWorker(gatedWorker(release))

	for i := 0; i < submitted; i++ {
		_, err := s.Submit(generate("p"))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		st := s.Stats()
		return st.Processing == maxConcurrent && st.Queued == submitted-maxConcurrent
	}, 2*time.Second, 5*time.Millisecond)

	assert.Never(t, func() bool {
		st := s.Stats()
		return st.Processing != maxConcurrent || st.InFlight != maxConcurrent
	}, 100*time.Millisecond, 5*time.Millisecond)

	close(release)
	require.Eventually(t, func() bool {
		return s.Stats().Completed == submitted
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, s.Stats().InFlight)
}

func TestScheduler_StartsJobsInSubmissionOrder(t *testing.T) {
	s := newTestScheduler(t, queue.WithMaxConcurrent(1))

	var ids []uuid.UUID
	for i := 0; i < 6; i++ {
		id, err := s.Submit(generate("p"))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	var mu sync.Mutex
	var started []uuid.UUID
	s.RegisterWorker(queue.WorkerFunc(func(_ context.Context, job models.Job, _ queue.ProgressFunc) (models.Result, error) {
		mu.Lock()
		started = append(started, job.ID)
		mu.Unlock()
		return models.GenerateResult{Artifact: models.Artifact{Data: []byte("x")}}, nil
	}))

	require.Eventually(t, func() bool {
		return s.Stats().Completed == len(ids)
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, ids, started)
}

func TestScheduler_NoWorkerKeepsJobsQueued(t *testing.T) {
	s := newTestScheduler(t)

	id, err := s.Submit(generate("p"))
	require.NoError(t, err)

	assert.Never(t, func() bool {
		job, _ := s.Get(id)
		return job.Status != models.JobStatusQueued
	}, 100*time.Millisecond, 10*time.Millisecond)

	s.RegisterWorker(echoWorker())
	require.Eventually(t, hasStatus(s, id, models.JobStatusCompleted), time.Second, 5*time.Millisecond)
}

// --- failure handling ---

func TestScheduler_WorkerErrorFailsJob(t *testing.T) {
	s := newTestScheduler(t)
	s.RegisterWorker(queue.WorkerFunc(func(context.Context, models.Job, queue.ProgressFunc) (models.Result, error) {
		return nil, errors.New("failed to generate after retries")
	}))

	id, err := s.Submit(generate("p"))
	require.NoError(t, err)
	require.Eventually(t, hasStatus(s, id, models.JobStatusFailed), time.Second, 5*time.Millisecond)

	job, _ := s.Get(id)
	assert.Equal(t, "failed to generate after retries", job.Error)
	assert.Nil(t, job.Result)
	assert.Equal(t, 0, job.Progress.Current)
}

func TestScheduler_WorkerPanicFailsJobAndKeepsScheduling(t *testing.T) {
	s := newTestScheduler(t, queue.WithMaxConcurrent(1))
	s.RegisterWorker(queue.WorkerFunc(func(_ context.Context, job models.Job, _ queue.ProgressFunc) (models.Result, error) {
		if job.Payload.(models.GeneratePayload).Prompt == "explode" {
			panic("boom")
		}
		return models.GenerateResult{Artifact: models.Artifact{Data: []byte("ok")}}, nil
	}))

	bad, err := s.Submit(generate("explode"))
	require.NoError(t, err)
	good, err := s.Submit(generate("fine"))
	require.NoError(t, err)

	require.Eventually(t, hasStatus(s, bad, models.JobStatusFailed), time.Second, 5*time.Millisecond)
	require.Eventually(t, hasStatus(s, good, models.JobStatusCompleted), time.Second, 5*time.Millisecond)

	job, _ := s.Get(bad)
	assert.Contains(t, job.Error, "worker panicked")
	assert.Contains(t, job.Error, "boom")
	assert.Equal(t, 0, s.Stats().InFlight)
}

func TestScheduler_NilResultFailsJob(t *testing.T) {
	s := newTestScheduler(t)
	s.RegisterWorker(queue.WorkerFunc(func(context.Context, models.Job, queue.ProgressFunc) (models.Result, error) {
		return nil, nil
	}))

	id, err := s.Submit(generate("p"))
	require.NoError(t, err)
	require.Eventually(t, hasStatus(s, id, models.JobStatusFailed), time.Second, 5*time.Millisecond)

	job, _ := s.Get(id)
	assert.Equal(t, queue.ErrNoResult.Error(), job.Error)
}

// --- progress ---

func TestScheduler_ProgressIsClampedAndMonotonic(t *testing.T) {
	reported := make(chan struct{})
	release := make(chan struct{})

	s := newTestScheduler(t)
	s.RegisterWorker(queue.WorkerFunc(func(_ context.Context, _ models.Job, progress queue.ProgressFunc) (models.Result, error) {
		progress(2)
		progress(1)
		progress(-4)
		close(reported)
		<-release
		progress(99)
		return models.BatchResult{}, nil
	}))

	id, err := s.Submit(queue.SubmitRequest{Payload: models.BatchPayload{Prompts: []string{"a", "b", "c"}}})
	require.NoError(t, err)

	<-reported
	job, _ := s.Get(id)
	assert.Equal(t, models.JobStatusProcessing, job.Status)
	assert.Equal(t, models.Progress{Current: 2, Total: 3}, job.Progress)

	close(release)
	require.Eventually(t, hasStatus(s, id, models.JobStatusCompleted), time.Second, 5*time.Millisecond)
	job, _ = s.Get(id)
	assert.Equal(t, models.Progress{Current: 3, Total: 3}, job.Progress)
}

func TestScheduler_ProgressAfterSettlementIsIgnored(t *testing.T) {
	var saved queue.ProgressFunc
	s := newTestScheduler(t)
	s.RegisterWorker(queue.WorkerFunc(func(_ context.Context, _ models.Job, progress queue.ProgressFunc) (models.Result, error) {
		saved = progress
		return nil, errors.New("nope")
	}))

	id, err := s.Submit(generate("p"))
	require.NoError(t, err)
	require.Eventually(t, hasStatus(s, id, models.JobStatusFailed), time.Second, 5*time.Millisecond)

	saved(1)
	job, _ := s.Get(id)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, 0, job.Progress.Current)
}

// --- timestamps ---

func TestScheduler_UpdatedAtNeverMovesBackwards(t *testing.T) {
	clock := newFakeClock()
	s := newTestScheduler(t, queue.WithClock(clock.Now))

	id, err := s.Submit(generate("p"))
	require.NoError(t, err)
	created, _ := s.Get(id)

	clock.Advance(-time.Hour)
	s.RegisterWorker(echoWorker())
	require.Eventually(t, hasStatus(s, id, models.JobStatusCompleted), time.Second, 5*time.Millisecond)

	job, _ := s.Get(id)
	assert.False(t, job.UpdatedAt.Before(created.UpdatedAt))
}

func TestScheduler_TimestampsUseClock(t *testing.T) {
	clock := newFakeClock()
	s := newTestScheduler(t, queue.WithClock(clock.Now))

	id, err := s.Submit(generate("p"))
	require.NoError(t, err)
	clock.Advance(5 * time.Minute)
	s.RegisterWorker(echoWorker())
	require.Eventually(t, hasStatus(s, id, models.JobStatusCompleted), time.Second, 5*time.Millisecond)

	job, _ := s.Get(id)
	assert.Equal(t, clock.Now().Add(-5*time.Minute), job.CreatedAt)
	assert.Equal(t, clock.Now(), job.UpdatedAt)
}

// --- hook ---

func TestScheduler_StatusHookSequence(t *testing.T) {
	var mu sync.Mutex
	var statuses []models.Status

	s := newTestScheduler(t, queue.WithStatusHook(func(job models.Job) {
		mu.Lock()
		defer mu.Unlock()
		statuses = append(statuses, job.Status)
	}))

	id, err := s.Submit(generate("p"))
	require.NoError(t, err)
	s.RegisterWorker(echoWorker())
	require.Eventually(t, hasStatus(s, id, models.JobStatusCompleted), time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(statuses) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []models.Status{
		models.JobStatusQueued,
		models.JobStatusProcessing,
		models.JobStatusCompleted,
	}, statuses)
}

func TestScheduler_SlowStatusHookDoesNotDelaySubmit(t *testing.T) {
	delivered := make(chan models.Status, 4)
	s := newTestScheduler(t, queue.WithStatusHook(func(job models.Job) {
		time.Sleep(300 * time.Millisecond)
		delivered <- job.Status
	}))

	start := time.Now()
	_, err := s.Submit(generate("p"))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	select {
	case st := <-delivered:
		assert.Equal(t, models.JobStatusQueued, st)
	case <-time.After(2 * time.Second):
		t.Fatal("status hook never ran")
	}
}

func TestScheduler_StatusHookSeesProgressInOrder(t *testing.T) {
	const steps = 50

	var mu sync.Mutex
	var progress []int
	s := newTestScheduler(t, queue.WithStatusHook(func(job models.Job) {
		mu.Lock()
		defer mu.Unlock()
		progress = append(progress, job.Progress.Current)
	}))
	s.RegisterWorker(queue.WorkerFunc(func(_ context.Context, _ models.Job, report queue.ProgressFunc) (models.Result, error) {
		var wg sync.WaitGroup
		for i := 1; i <= steps; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				report(n)
			}(i)
		}
		wg.Wait()
		return models.GenerateResult{Artifact: models.Artifact{Data: []byte("x")}}, nil
	}))

	id, err := s.Submit(queue.SubmitRequest{Payload: models.GeneratePayload{Prompt: "p"}, Total: steps})
	require.NoError(t, err)
	require.Eventually(t, hasStatus(s, id, models.JobStatusCompleted), time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, progress)
	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i], progress[i-1], "hook event %d went backwards", i)
	}
	assert.Equal(t, steps, progress[len(progress)-1])
}

// --- shutdown ---

func TestShutdown_FlushesStatusHook(t *testing.T) {
	var mu sync.Mutex
	var last models.Status
	s := queue.New(
		queue.WithLogger(discardLogger()),
		queue.WithStatusHook(func(job models.Job) {
			time.Sleep(20 * time.Millisecond)
			mu.Lock()
			defer mu.Unlock()
			last = job.Status
		}),
	)
	s.RegisterWorker(echoWorker())

	id, err := s.Submit(generate("p"))
	require.NoError(t, err)
	require.Eventually(t, hasStatus(s, id, models.JobStatusCompleted), time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, models.JobStatusCompleted, last)
}


func TestShutdown_RejectsNewSubmissions(t *testing.T) {
	s := queue.New(queue.WithLogger(discardLogger()))
	require.NoError(t, s.Shutdown(context.Background()))

	_, err := s.Submit(generate("p"))
	assert.ErrorIs(t, err, queue.ErrShuttingDown)
}

func TestShutdown_WaitsForInFlight(t *testing.T) {
	release := make(chan struct{})
	s := queue.New(queue.WithLogger(discardLogger()))
	s.RegisterWorker(gatedWorker(release))

	id, err := s.Submit(generate("p"))
	require.NoError(t, err)
	require.Eventually(t, hasStatus(s, id, models.JobStatusProcessing), time.Second, 5*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- s.Shutdown(context.Background()) }()

	select {
	case <-done:
		t.Fatal("Shutdown returned while a job was processing")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not return after the job settled")
	}

	job, _ := s.Get(id)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
}

func TestShutdown_DeadlineCancelsWorkers(t *testing.T) {
	s := queue.New(queue.WithLogger(discardLogger()))
	s.RegisterWorker(gatedWorker(make(chan struct{})))

	id, err := s.Submit(generate("p"))
	require.NoError(t, err)
	require.Eventually(t, hasStatus(s, id, models.JobStatusProcessing), time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Shutdown(ctx), context.DeadlineExceeded)

	require.Eventually(t, hasStatus(s, id, models.JobStatusFailed), time.Second, 5*time.Millisecond)
	job, _ := s.Get(id)
	assert.Contains(t, job.Error, context.Canceled.Error())
}

func TestShutdown_QueuedJobsAreNotStarted(t *testing.T) {
	release := make(chan struct{})
	s := queue.New(queue.WithLogger(discardLogger()), queue.WithMaxConcurrent(1))
	s.RegisterWorker(gatedWorker(release))

	first, err := s.Submit(generate("first"))
	require.NoError(t, err)
	require.Eventually(t, hasStatus(s, first, models.JobStatusProcessing), time.Second, 5*time.Millisecond)
	second, err := s.Submit(generate("second"))
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	require.NoError(t, s.Shutdown(context.Background()))

	job, _ := s.Get(second)
	assert.Equal(t, models.JobStatusQueued, job.Status)
}
