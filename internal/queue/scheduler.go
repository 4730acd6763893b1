// Package queue holds the in-memory job store, the admission-controlled
// scheduler that hands queued jobs to a Worker, and the collector that
// evicts stale terminal jobs.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

// DefaultMaxConcurrent is the default number of jobs processed at once.
const DefaultMaxConcurrent = 10

var (
	ErrShuttingDown = errors.New("scheduler is shutting down")
	ErrWorkerPanic  = errors.New("worker panicked")
	ErrNoResult     = errors.New("worker returned no result")
)

// ProgressFunc reports how many steps of a job are done.
type ProgressFunc func(current int)

// Worker performs the work of a single job. It is invoked with a snapshot of
// the job in processing state and must not retain progress after returning.
type Worker interface {
	Process(ctx context.Context, job models.Job, progress ProgressFunc) (models.Result, error)
}

// WorkerFunc adapts a function to the Worker interface.
type WorkerFunc func(ctx context.Context, job models.Job, progress ProgressFunc) (models.Result, error)

func (f WorkerFunc) Process(ctx context.Context, job models.Job, progress ProgressFunc) (models.Result, error) {
	return f(ctx, job, progress)
}

// StatusHook observes every job change. It runs on a goroutine owned by the
// scheduler and sees changes in the order they were made. A slow hook delays
// later events but never a submission.
type StatusHook func(job models.Job)

// SubmitRequest describes a new job. A zero Total defaults to the payload's
// step count.
type SubmitRequest struct {
	Payload     models.Payload
	Total       int
	SubmitterID string
}

// Stats is a point-in-time view of the job store.
type Stats struct {
	Queued        int `json:"queued"`
	Processing    int `json:"processing"`
	Completed     int `json:"completed"`
	Failed        int `json:"failed"`
	InFlight      int `json:"in_flight"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Scheduler owns the job store and admits at most maxConcurrent jobs into
// processing at a time, in submission order. It is safe for concurrent use.
type Scheduler struct {
	mu            sync.Mutex
	jobs          map[uuid.UUID]*models.Job
	pending       []uuid.UUID
	inFlight      int
	maxConcurrent int
	worker        Worker
	closed        bool

	wg      sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc

	now    func() time.Time
	logger *slog.Logger
	hook   StatusHook
	notes  *notifier
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMaxConcurrent sets how many jobs may be processing at once.
func WithMaxConcurrent(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxConcurrent = n
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLogger sets the scheduler logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithStatusHook registers an observer for job changes.
func WithStatusHook(h StatusHook) Option {
	return func(s *Scheduler) { s.hook = h }
}

// New creates an empty Scheduler. No job runs until a Worker is registered.
func New(opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		jobs:          make(map[uuid.UUID]*models.Job),
		maxConcurrent: DefaultMaxConcurrent,
		baseCtx:       ctx,
		cancel:        cancel,
		now:           time.Now,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.hook != nil {
		s.notes = newNotifier(s.hook, s.logger)
	}
	return s
}

// RegisterWorker sets the Worker for all job kinds and starts anything
// already queued.
func (s *Scheduler) RegisterWorker(w Worker) {
	s.mu.Lock()
	s.worker = w
	s.mu.Unlock()

	s.schedule()
}

// Submit validates the payload and stores a queued job. It returns before the
// job can start; scheduling happens on another goroutine.
func (s *Scheduler) Submit(req SubmitRequest) (uuid.UUID, error) {
	if req.Payload == nil {
		return uuid.Nil, fmt.Errorf("%w: payload is required", models.ErrInvalidPayload)
	}
	if err := req.Payload.Validate(); err != nil {
		return uuid.Nil, err
	}

	total := req.Total
	if total <= 0 {
		total = req.Payload.Steps()
	}
	if total < 1 {
		total = 1
	}

	now := s.now().UTC()
	job := &models.Job{
		ID:          uuid.New(),
		Kind:        req.Payload.Kind(),
		Status:      models.JobStatusQueued,
		Progress:    models.Progress{Current: 0, Total: total},
		Payload:     req.Payload,
		SubmitterID: req.SubmitterID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return uuid.Nil, ErrShuttingDown
	}
	s.jobs[job.ID] = job
	s.pending = append(s.pending, job.ID)
	s.notifyLocked(*job)
	s.mu.Unlock()

	s.logger.Info("job submitted",
		"job_id", job.ID,
		"kind", job.Kind,
		"total", total,
		"submitter_id", req.SubmitterID,
	)

	go s.schedule()

	return job.ID, nil
}

// Get returns a snapshot of the job, or false if it is unknown or evicted.
func (s *Scheduler) Get(id uuid.UUID) (*models.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, false
	}
	return job.Clone(), true
}

// GetMany returns snapshots in the order of ids, with nil for unknown ids.
func (s *Scheduler) GetMany(ids []uuid.UUID) []*models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Job, len(ids))
	for i, id := range ids {
		if job, ok := s.jobs[id]; ok {
			out[i] = job.Clone()
		}
	}
	return out
}

// Stats counts jobs per status.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{InFlight: s.inFlight, MaxConcurrent: s.maxConcurrent}
	for _, job := range s.jobs {
		switch job.Status {
		case models.JobStatusQueued:
			st.Queued++
		case models.JobStatusProcessing:
			st.Processing++
		case models.JobStatusCompleted:
			st.Completed++
		case models.JobStatusFailed:
			st.Failed++
		}
	}
	return st
}

// Shutdown stops accepting submissions and waits for processing jobs to
// settle and for the status hook to catch up. If ctx expires first, running
// workers are cancelled and ctx.Err() is returned. Queued jobs are not started.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
	case <-ctx.Done():
		s.cancel()
		if s.notes != nil {
			s.notes.close()
		}
		return ctx.Err()
	}

	if s.notes == nil {
		return nil
	}
	s.notes.close()
	return s.notes.wait(ctx)
}

// schedule starts as many queued jobs as admission allows.
func (s *Scheduler) schedule() {
	s.mu.Lock()
	worker := s.worker
	started := s.admitLocked()
	s.mu.Unlock()

	for _, job := range started {
		s.logger.Info("job started", "job_id", job.ID, "kind", job.Kind)
		go s.run(worker, job)
	}
}

// admitLocked moves pending jobs to processing while capacity remains.
// The caller must hold s.mu.
func (s *Scheduler) admitLocked() []models.Job {
	if s.closed || len(s.pending) == 0 {
		return nil
	}
	if s.worker == nil {
		s.logger.Warn("no worker registered, jobs stay queued", "pending", len(s.pending))
		return nil
	}

	var started []models.Job
	for s.inFlight < s.maxConcurrent && len(s.pending) > 0 {
		id := s.pending[0]
		s.pending = s.pending[1:]

		job, ok := s.jobs[id]
		if !ok || job.Status != models.JobStatusQueued {
			continue
		}

		job.Status = models.JobStatusProcessing
		job.UpdatedAt = s.stampLocked(job)
		s.inFlight++
		s.wg.Add(1)
		s.notifyLocked(*job)
		started = append(started, *job)
	}
	return started
}

func (s *Scheduler) run(w Worker, job models.Job) {
	defer s.wg.Done()

	start := time.Now()
	result, err := s.process(w, job)
	s.finish(job.ID, result, err, time.Since(start))
	s.schedule()
}

// process invokes the worker, converting panics and missing results into errors.
func (s *Scheduler) process(w Worker, job models.Job) (result models.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in worker", "error", r, "job_id", job.ID)
			result, err = nil, fmt.Errorf("%w: %v", ErrWorkerPanic, r)
		}
	}()

	result, err = w.Process(s.baseCtx, job, func(current int) {
		s.reportProgress(job.ID, current)
	})
	if err == nil && result == nil {
		err = ErrNoResult
	}
	return result, err
}

func (s *Scheduler) finish(id uuid.UUID, result models.Result, err error, took time.Duration) {
	s.mu.Lock()
	s.inFlight--
	job, ok := s.jobs[id]
	if !ok || job.Status != models.JobStatusProcessing {
		s.mu.Unlock()
		return
	}
	if err != nil {
		job.Status = models.JobStatusFailed
		job.Error = err.Error()
	} else {
		job.Status = models.JobStatusCompleted
		job.Result = result
		job.Progress.Current = job.Progress.Total
	}
	job.UpdatedAt = s.stampLocked(job)
	snap := *job
	s.notifyLocked(snap)
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("job failed",
			"job_id", id,
			"kind", snap.Kind,
			"duration_ms", took.Milliseconds(),
			"error", err,
		)
	} else {
		s.logger.Info("job completed",
			"job_id", id,
			"kind", snap.Kind,
			"duration_ms", took.Milliseconds(),
		)
	}
}

// reportProgress records progress for a processing job. Values are clamped to
// [0, Total] and never move backwards.
func (s *Scheduler) reportProgress(id uuid.UUID, current int) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok || job.Status != models.JobStatusProcessing {
		s.mu.Unlock()
		return
	}
	if current > job.Progress.Total {
		current = job.Progress.Total
	}
	if current <= job.Progress.Current {
		s.mu.Unlock()
		return
	}
	job.Progress.Current = current
	job.UpdatedAt = s.stampLocked(job)
	s.notifyLocked(*job)
	s.mu.Unlock()
}

// evict removes every job matching match and returns snapshots of them.
func (s *Scheduler) evict(match func(job *models.Job) bool) []models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []models.Job
	for id, job := range s.jobs {
		if match(job) {
			evicted = append(evicted, *job)
			delete(s.jobs, id)
		}
	}
	if len(evicted) > 0 {
		kept := s.pending[:0]
		for _, id := range s.pending {
			if _, ok := s.jobs[id]; ok {
				kept = append(kept, id)
			}
		}
		s.pending = kept
	}
	return evicted
}

// stampLocked returns the next UpdatedAt for job, never earlier than the
// current one. The caller must hold s.mu.
func (s *Scheduler) stampLocked(job *models.Job) time.Time {
	now := s.now().UTC()
	if now.Before(job.UpdatedAt) {
		return job.UpdatedAt
	}
	return now
}

// notifyLocked queues a snapshot for the status hook. Queuing under s.mu keeps
// hook order equal to mutation order. The caller must hold s.mu.
func (s *Scheduler) notifyLocked(job models.Job) {
	if s.notes != nil {
		s.notes.push(job)
	}
}
