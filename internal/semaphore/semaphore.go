// Package semaphore provides a counting concurrency gate usable around any
// unit of work. Waiters are woken in FIFO order.
package semaphore

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Semaphore bounds the number of simultaneous holders of a resource.
// It is safe for concurrent use.
type Semaphore struct {
	capacity int
	weighted *semaphore.Weighted
	inUse    atomic.Int64
}

// New creates a Semaphore with the given fixed capacity.
// It panics if capacity is less than 1.
func New(capacity int) *Semaphore {
	if capacity < 1 {
		panic(fmt.Sprintf("semaphore: capacity must be positive, got %d", capacity))
	}
	return &Semaphore{
		capacity: capacity,
		weighted: semaphore.NewWeighted(int64(capacity)),
	}
}

// Acquire blocks until a permit is available or ctx is done. On a ctx error
// no permit is held and the caller must not call Release.
func (s *Semaphore) Acquire(ctx context.Context) error {
	if err := s.weighted.Acquire(ctx, 1); err != nil {
		return err
	}
	s.inUse.Add(1)
	return nil
}

// TryAcquire takes a permit only if one is immediately available.
func (s *Semaphore) TryAcquire() bool {
	if !s.weighted.TryAcquire(1) {
		return false
	}
	s.inUse.Add(1)
	return true
}

// Release returns a permit, waking the longest-waiting Acquire if any.
// It panics when called without a matching Acquire.
func (s *Semaphore) Release() {
	s.inUse.Add(-1)
	s.weighted.Release(1)
}

// Run acquires a permit, runs fn and releases the permit, even if fn
// returns an error or panics.
func (s *Semaphore) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := s.Acquire(ctx); err != nil {
		return err
	}
	defer s.Release()
	return fn(ctx)
}

// Capacity returns the fixed number of permits.
func (s *Semaphore) Capacity() int {
	return s.capacity
}

// InUse returns the number of permits currently held.
func (s *Semaphore) InUse() int {
	return int(s.inUse.Load())
}
