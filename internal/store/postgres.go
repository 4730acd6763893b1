package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

// PostgresStore implements Archive on a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ArchiveJobs inserts the jobs in one batch. Ids already archived are skipped,
// so a retried sweep is harmless. It returns the number of rows inserted.
func (s *PostgresStore) ArchiveJobs(ctx context.Context, jobs []models.Job) (int, error) {
	if len(jobs) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, job := range jobs {
		if !job.Status.Terminal() {
			return 0, fmt.Errorf("archive job %s (%s): %w", job.ID, job.Status, ErrNotTerminal)
		}
		payload, err := encodeJSON(job.Payload)
		if err != nil {
			return 0, fmt.Errorf("encode payload of job %s: %w", job.ID, err)
		}
		result, err := encodeJSON(job.Result)
		if err != nil {
			return 0, fmt.Errorf("encode result of job %s: %w", job.ID, err)
		}
		batch.Queue(
			`INSERT INTO archived_jobs (id, kind, status, progress_cur, progress_tot, payload, result,
			    error_message, submitter_id, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10, $11)
			 ON CONFLICT (id) DO NOTHING`,
			job.ID, string(job.Kind), string(job.Status), job.Progress.Current, job.Progress.Total,
			payload, result, job.Error, job.SubmitterID, job.CreatedAt, job.UpdatedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	inserted := 0
	for range jobs {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("archive jobs: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

func (s *PostgresStore) GetArchivedJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var (
		j                 models.Job
		kind, status      string
		payload, result   []byte
		errMsg, submitter *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, kind, status, progress_cur, progress_tot, payload, result,
		        error_message, submitter_id, created_at, updated_at
		 FROM archived_jobs WHERE id = $1`, id,
	).Scan(&j.ID, &kind, &status, &j.Progress.Current, &j.Progress.Total, &payload, &result,
		&errMsg, &submitter, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get archived job: %w", err)
	}

	j.Kind = models.Kind(kind)
	j.Status = models.Status(status)
	if errMsg != nil {
		j.Error = *errMsg
	}
	if submitter != nil {
		j.SubmitterID = *submitter
	}
	if j.Payload, err = decodePayload(j.Kind, payload); err != nil {
		return nil, fmt.Errorf("decode payload of job %s: %w", j.ID, err)
	}
	if j.Result, err = decodeResult(j.Kind, result); err != nil {
		return nil, fmt.Errorf("decode result of job %s: %w", j.ID, err)
	}
	return &j, nil
}

// Compile-time check that PostgresStore implements Archive.
var _ Archive = (*PostgresStore)(nil)
