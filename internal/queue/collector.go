package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/genqueue/pkg/models"
)

const (
	DefaultSweepInterval = 5 * time.Minute
	DefaultJobTTL        = 60 * time.Minute
)

// EvictHook receives the jobs removed by a sweep, e.g. to archive them.
type EvictHook func(ctx context.Context, jobs []models.Job)

// Collector periodically evicts completed and failed jobs whose last update
// is older than the TTL so that the job store does not grow without bound.
// Queued and processing jobs are never evicted.
type Collector struct {
	s        *Scheduler
	interval time.Duration
	ttl      time.Duration
	onEvict  EvictHook
	logger   *slog.Logger
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithInterval sets how often Run sweeps.
func WithInterval(d time.Duration) CollectorOption {
	return func(c *Collector) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithTTL sets how long a terminal job is kept after its last update.
func WithTTL(d time.Duration) CollectorOption {
	return func(c *Collector) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithEvictHook registers a callback for evicted jobs.
func WithEvictHook(h EvictHook) CollectorOption {
	return func(c *Collector) { c.onEvict = h }
}

// WithCollectorLogger sets the collector logger.
func WithCollectorLogger(l *slog.Logger) CollectorOption {
	return func(c *Collector) { c.logger = l }
}

// NewCollector creates a Collector for s. Age is measured with the
// scheduler's clock.
func NewCollector(s *Scheduler, opts ...CollectorOption) *Collector {
	c := &Collector{
		s:        s,
		interval: DefaultSweepInterval,
		ttl:      DefaultJobTTL,
		logger:   s.logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Sweep evicts stale terminal jobs once and returns what it removed.
func (c *Collector) Sweep(ctx context.Context) []models.Job {
	cutoff := c.s.now().UTC().Add(-c.ttl)
	evicted := c.s.evict(func(job *models.Job) bool {
		return job.Status.Terminal() && job.UpdatedAt.Before(cutoff)
	})
	if len(evicted) == 0 {
		return nil
	}

	c.logger.Info("evicted stale jobs", "count", len(evicted), "ttl", c.ttl.String())
	if c.onEvict != nil {
		c.onEvict(ctx, evicted)
	}
	return evicted
}

// Run sweeps on every interval tick until ctx is done.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info("job collector started", "interval", c.interval.String(), "ttl", c.ttl.String())
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("job collector stopped")
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}
