// Package retry wraps a single asynchronous operation with transient-failure
// classification and exponential backoff. It knows nothing about any specific
// provider: the caller supplies the Classifier.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultMaxRetries gives four attempts in total.
const DefaultMaxRetries = 3

// ErrRetriesExhausted matches every *ExhaustedError via errors.Is.
var ErrRetriesExhausted = errors.New("retries exhausted")

// ExhaustedError is returned when every attempt failed with a retryable error.
// It is distinct from the underlying error so callers can tell "the provider
// said no" apart from "we gave up retrying"; Unwrap still exposes the last failure.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrRetriesExhausted }

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Classifier reports whether an error is transient and worth retrying.
type Classifier func(err error) bool

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy describes how an operation is retried. A Policy is immutable after
// construction and safe for concurrent use.
type Policy struct {
	maxRetries int
	backoff    Backoff
	classify   Classifier
	sleep      SleepFunc
	logger     *slog.Logger
}

// Option configures a Policy.
type Option func(*Policy)

// WithMaxRetries sets the number of retries after the first attempt.
func WithMaxRetries(n int) Option {
	return func(p *Policy) {
		if n >= 0 {
			p.maxRetries = n
		}
	}
}

// WithBackoff replaces the default exponential-with-jitter backoff.
func WithBackoff(b Backoff) Option {
	return func(p *Policy) { p.backoff = b }
}

// WithSleep replaces the timer-based sleep, mainly for tests.
func WithSleep(fn SleepFunc) Option {
	return func(p *Policy) { p.sleep = fn }
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(p *Policy) { p.logger = l }
}

// New creates a Policy that retries errors accepted by classify.
// A nil classify treats every error as permanent.
func New(classify Classifier, opts ...Option) *Policy {
	if classify == nil {
		classify = func(error) bool { return false }
	}
	p := &Policy{
		maxRetries: DefaultMaxRetries,
		backoff:    DefaultBackoff(),
		classify:   classify,
		sleep:      sleepContext,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// MaxRetries returns the configured retry budget.
func (p *Policy) MaxRetries() int { return p.maxRetries }

// Do runs op until it succeeds, fails permanently, or the retry budget is spent.
func Do[T any](ctx context.Context, p *Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}

		// A cancelled caller is never retried, whatever the classifier says.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}

		if !p.classify(err) {
			return zero, err
		}

		if attempt >= p.maxRetries {
			return zero, &ExhaustedError{Attempts: attempt + 1, Last: err}
		}

		delay := p.backoff.Delay(attempt)
		p.logger.Warn("retryable provider error, backing off",
			"attempt", attempt+1,
			"delay_ms", delay.Milliseconds(),
			"error", err,
		)
		if err := p.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
