package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrNotTerminal = errors.New("only completed or failed jobs can be archived")

// Archive keeps terminal jobs after the collector evicts them from memory.
// Pollers fall back to it for ids the scheduler no longer knows.
type Archive interface {
	Ping(ctx context.Context) error
	ArchiveJobs(ctx context.Context, jobs []models.Job) (int, error)
	GetArchivedJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
}
