// Package worker routes queued jobs to a per-kind handler. The Dispatcher is
// the single queue.Worker registered with the scheduler.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/genqueue/internal/generation"
	"github.com/kiranshivaraju/genqueue/internal/queue"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

var (
	ErrUnsupportedKind = errors.New("unsupported job kind")
	ErrJobCancelled    = errors.New("job cancelled")
	ErrInternal        = errors.New("internal worker error")
)

// Handler processes jobs of one kind.
type Handler interface {
	Handle(ctx context.Context, job models.Job, progress queue.ProgressFunc) (models.Result, error)
}

// Generator is the part of generation.Strategy the handlers use.
type Generator interface {
	Generate(ctx context.Context, prompt string, reference *models.Artifact) (models.Artifact, error)
	Edit(ctx context.Context, source models.Artifact, instruction string) (models.Artifact, error)
}

// Dispatcher implements queue.Worker by routing on job.Kind.
type Dispatcher struct {
	handlers map[models.Kind]Handler
	logger   *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithHandler registers h for kind, replacing any existing handler.
func WithHandler(kind models.Kind, h Handler) DispatcherOption {
	return func(d *Dispatcher) { d.handlers[kind] = h }
}

// WithLogger sets the dispatcher logger.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher creates a Dispatcher with no handlers beyond those passed in opts.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[models.Kind]Handler),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewDefaultDispatcher wires the generate, edit and batch handlers to gen.
func NewDefaultDispatcher(gen Generator, opts ...DispatcherOption) *Dispatcher {
	base := []DispatcherOption{
		WithHandler(models.KindGenerate, NewGenerateHandler(gen)),
		WithHandler(models.KindEdit, NewEditHandler(gen)),
		WithHandler(models.KindBatch, NewBatchHandler(gen)),
	}
	return NewDispatcher(append(base, opts...)...)
}

// Process runs the handler for job.Kind. Errors are logged in full and
// reduced to a stable, user-facing error.
func (d *Dispatcher) Process(ctx context.Context, job models.Job, progress queue.ProgressFunc) (models.Result, error) {
	h, ok := d.handlers[job.Kind]
	if !ok {
		d.logger.Error("no handler for job kind", "job_id", job.ID, "kind", job.Kind)
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, job.Kind)
	}

	result, err := h.Handle(ctx, job, progress)
	if err != nil {
		d.logger.Warn("job handler failed", "job_id", job.ID, "kind", job.Kind, "error", err)
		return nil, publicError(err)
	}
	return result, nil
}

// publicError hides provider and retry details from pollers.
func publicError(err error) error {
	switch {
	case errors.Is(err, generation.ErrGenerationFailed):
		return generation.ErrGenerationFailed
	case errors.Is(err, generation.ErrProviderRejected):
		return generation.ErrProviderRejected
	case errors.Is(err, generation.ErrEditFailed):
		return generation.ErrEditFailed
	case errors.Is(err, models.ErrInvalidPayload):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrJobCancelled
	default:
		return ErrInternal
	}
}

// Compile-time check that Dispatcher implements Worker.
var _ queue.Worker = (*Dispatcher)(nil)
