package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/genqueue/pkg/models"
)

const defaultMirrorTimeout = 2 * time.Second

// StatusMirror copies job status changes into the cache so that they stay
// observable after the in-memory record is evicted.
type StatusMirror struct {
	cache   Cache
	ttl     time.Duration
	timeout time.Duration
	logger  *slog.Logger
}

// NewStatusMirror creates a mirror whose entries expire after ttl.
func NewStatusMirror(c Cache, ttl time.Duration) *StatusMirror {
	return &StatusMirror{
		cache:   c,
		ttl:     ttl,
		timeout: defaultMirrorTimeout,
		logger:  slog.Default(),
	}
}

// Record writes the job's status. Failures are logged and otherwise ignored;
// the mirror is best effort.
func (m *StatusMirror) Record(job models.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	if err := m.cache.SetJobStatus(ctx, job.ID, job.Status, m.ttl); err != nil {
		m.logger.Warn("mirroring job status failed",
			"job_id", job.ID,
			"status", job.Status,
			"error", err,
		)
	}
}
