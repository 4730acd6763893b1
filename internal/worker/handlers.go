package worker

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/kiranshivaraju/genqueue/internal/queue"
	"github.com/kiranshivaraju/genqueue/pkg/models"
	"golang.org/x/sync/errgroup"
)

// DefaultBatchParallelism bounds how many prompts of one batch run at once.
const DefaultBatchParallelism = 4

// GenerateHandler produces one artifact, conditioned when a reference is given.
type GenerateHandler struct {
	gen Generator
}

func NewGenerateHandler(gen Generator) *GenerateHandler {
	return &GenerateHandler{gen: gen}
}

func (h *GenerateHandler) Handle(ctx context.Context, job models.Job, progress queue.ProgressFunc) (models.Result, error) {
	p, ok := job.Payload.(models.GeneratePayload)
	if !ok {
		return nil, payloadMismatch(job)
	}

	art, err := h.gen.Generate(ctx, p.Prompt, p.Reference)
	if err != nil {
		return nil, err
	}
	progress(1)
	return models.GenerateResult{Artifact: art}, nil
}

// EditHandler modifies an existing artifact.
type EditHandler struct {
	gen Generator
}

func NewEditHandler(gen Generator) *EditHandler {
	return &EditHandler{gen: gen}
}

func (h *EditHandler) Handle(ctx context.Context, job models.Job, progress queue.ProgressFunc) (models.Result, error) {
	p, ok := job.Payload.(models.EditPayload)
	if !ok {
		return nil, payloadMismatch(job)
	}

	art, err := h.gen.Edit(ctx, p.Source, p.Instruction)
	if err != nil {
		return nil, err
	}
	progress(1)
	return models.EditResult{Artifact: art}, nil
}

// BatchHandler generates one artifact per prompt with bounded parallelism.
// Progress advances as each prompt finishes; the first failure fails the job.
type BatchHandler struct {
	gen         Generator
	parallelism int
}

// BatchOption configures a BatchHandler.
type BatchOption func(*BatchHandler)

// WithParallelism sets how many prompts run at once.
func WithParallelism(n int) BatchOption {
	return func(h *BatchHandler) {
		if n > 0 {
			h.parallelism = n
		}
	}
}

func NewBatchHandler(gen Generator, opts ...BatchOption) *BatchHandler {
	h := &BatchHandler{gen: gen, parallelism: DefaultBatchParallelism}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *BatchHandler) Handle(ctx context.Context, job models.Job, progress queue.ProgressFunc) (models.Result, error) {
	p, ok := job.Payload.(models.BatchPayload)
	if !ok {
		return nil, payloadMismatch(job)
	}

	artifacts := make([]models.Artifact, len(p.Prompts))
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.parallelism)
	for i, prompt := range p.Prompts {
		g.Go(func() error {
			art, err := h.gen.Generate(gctx, prompt, p.Reference)
			if err != nil {
				return fmt.Errorf("prompt %d: %w", i, err)
			}
			artifacts[i] = art
			progress(int(done.Add(1)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return models.BatchResult{Artifacts: artifacts}, nil
}

func payloadMismatch(job models.Job) error {
	return fmt.Errorf("%w: %T does not match kind %q", models.ErrInvalidPayload, job.Payload, job.Kind)
}
