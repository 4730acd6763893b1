// Package generation decides how a job's request is turned into provider
// calls: conditioned generation with an unconditioned fallback, bounded
// unconditioned attempts, and edits. Every provider call goes through the
// shared semaphore and the retry policy.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/genqueue/internal/provider"
	"github.com/kiranshivaraju/genqueue/internal/retry"
	"github.com/kiranshivaraju/genqueue/internal/semaphore"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

const (
	DefaultCallTimeout           = 120 * time.Second
	DefaultUnconditionedAttempts = 2
)

var (
	ErrGenerationFailed = errors.New("failed to generate after retries")
	ErrProviderRejected = errors.New("provider rejected the request")
	ErrEditFailed       = errors.New("failed to edit artifact")
)

// Strategy wraps a Provider with admission control, retries and fallback.
// It is safe for concurrent use.
type Strategy struct {
	provider              models.Provider
	sem                   *semaphore.Semaphore
	policy                *retry.Policy
	callTimeout           time.Duration
	unconditionedAttempts int
	logger                *slog.Logger
}

// Option configures a Strategy.
type Option func(*Strategy)

// WithCallTimeout bounds each individual provider call.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Strategy) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

// WithUnconditionedAttempts sets how many independent retry-wrapped attempts
// the unconditioned path makes.
func WithUnconditionedAttempts(n int) Option {
	return func(s *Strategy) {
		if n > 0 {
			s.unconditionedAttempts = n
		}
	}
}

// WithLogger sets the logger used for fallback diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Strategy) { s.logger = l }
}

// New creates a Strategy. sem is shared by every call this Strategy makes.
func New(p models.Provider, sem *semaphore.Semaphore, policy *retry.Policy, opts ...Option) *Strategy {
	s := &Strategy{
		provider:              p,
		sem:                   sem,
		policy:                policy,
		callTimeout:           DefaultCallTimeout,
		unconditionedAttempts: DefaultUnconditionedAttempts,
		logger:                slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate produces an artifact for prompt. With a non-empty reference it
// tries conditioned generation first and falls back to unconditioned
// generation on any failure or empty result.
func (s *Strategy) Generate(ctx context.Context, prompt string, reference *models.Artifact) (models.Artifact, error) {
	if reference != nil && !reference.IsEmpty() {
		art, err := s.Conditioned(ctx, prompt, *reference)
		if err == nil {
			return art, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.Artifact{}, ctxErr
		}
		s.logger.Warn("conditioned generation failed, falling back to unconditioned",
			"provider", s.provider.Name(),
			"error", err,
		)
	}
	return s.Unconditioned(ctx, prompt)
}

// Conditioned makes one retry-wrapped conditioned call. An empty artifact is
// reported as ErrEmptyArtifact.
func (s *Strategy) Conditioned(ctx context.Context, prompt string, reference models.Artifact) (models.Artifact, error) {
	art, err := s.call(ctx, "conditioned", func(ctx context.Context) (models.Artifact, error) {
		return s.provider.GenerateConditioned(ctx, prompt, reference)
	})
	if err != nil {
		return models.Artifact{}, err
	}
	if art.IsEmpty() {
		return models.Artifact{}, provider.ErrEmptyArtifact
	}
	return art, nil
}

// Unconditioned makes up to the configured number of independent
// retry-wrapped attempts. A permanent provider error ends the loop early and
// is reported as ErrProviderRejected. Running out of attempts is reported as
// ErrGenerationFailed. Both wrap the cause.
func (s *Strategy) Unconditioned(ctx context.Context, prompt string) (models.Artifact, error) {
	var lastErr error
	for attempt := 1; attempt <= s.unconditionedAttempts; attempt++ {
		art, err := s.call(ctx, "unconditioned", func(ctx context.Context) (models.Artifact, error) {
			return s.provider.GenerateUnconditioned(ctx, prompt)
		})
		if err == nil && !art.IsEmpty() {
			return art, nil
		}
		if err == nil {
			err = provider.ErrEmptyArtifact
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.Artifact{}, ctxErr
		}
		if !errors.Is(err, retry.ErrRetriesExhausted) && !errors.Is(err, provider.ErrEmptyArtifact) {
			return models.Artifact{}, fmt.Errorf("%w: %w", ErrProviderRejected, err)
		}

		lastErr = err
		s.logger.Warn("unconditioned generation attempt failed",
			"provider", s.provider.Name(),
			"attempt", attempt,
			"max_attempts", s.unconditionedAttempts,
			"error", err,
		)
	}
	return models.Artifact{}, fmt.Errorf("%w: %w", ErrGenerationFailed, lastErr)
}

// Edit makes one retry-wrapped edit call. There is no fallback.
func (s *Strategy) Edit(ctx context.Context, source models.Artifact, instruction string) (models.Artifact, error) {
	art, err := s.call(ctx, "edit", func(ctx context.Context) (models.Artifact, error) {
		return s.provider.Edit(ctx, source, instruction)
	})
	if err == nil && art.IsEmpty() {
		err = provider.ErrEmptyArtifact
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.Artifact{}, ctxErr
		}
		return models.Artifact{}, fmt.Errorf("%w: %w", ErrEditFailed, err)
	}
	return art, nil
}

// call holds one semaphore permit across a retry-wrapped provider call.
// Each individual attempt gets its own deadline.
func (s *Strategy) call(ctx context.Context, mode string, fn func(ctx context.Context) (models.Artifact, error)) (models.Artifact, error) {
	var out models.Artifact
	err := s.sem.Run(ctx, func(ctx context.Context) error {
		art, err := retry.Do(ctx, s.policy, func(ctx context.Context) (models.Artifact, error) {
			callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
			defer cancel()

			art, err := fn(callCtx)
			if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				return models.Artifact{}, fmt.Errorf("%w: %s call exceeded %s: %w", provider.ErrCallTimeout, mode, s.callTimeout, err)
			}
			return art, err
		})
		if err != nil {
			return err
		}
		out = art
		return nil
	})
	return out, err
}
