package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/genqueue/internal/api/middleware"
	"github.com/kiranshivaraju/genqueue/internal/api/response"
	"github.com/kiranshivaraju/genqueue/internal/queue"
	"github.com/kiranshivaraju/genqueue/internal/store"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

const (
	// MaxBatchPrompts caps the prompts accepted by one batch submission.
	MaxBatchPrompts = 20
	// MaxLookupIDs caps the ids accepted by one multi-job lookup.
	MaxLookupIDs = 50

	maxBodyBytes   = 32 << 20
	lookupTimeout  = 2 * time.Second
	statusNotFound = "not_found"
)

// JobQueue is the part of queue.Scheduler the handlers use.
type JobQueue interface {
	Submit(req queue.SubmitRequest) (uuid.UUID, error)
	Get(id uuid.UUID) (*models.Job, bool)
	GetMany(ids []uuid.UUID) []*models.Job
}

// ArchiveReader looks up jobs the collector has already evicted.
type ArchiveReader interface {
	GetArchivedJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

// StatusReader reads the last status mirrored for a job.
type StatusReader interface {
	GetJobStatus(ctx context.Context, id uuid.UUID) (models.Status, bool, error)
}

// Jobs serves the submit and poll endpoints.
type Jobs struct {
	queue    JobQueue
	archive  ArchiveReader
	statuses StatusReader
	logger   *slog.Logger
}

// JobsOption configures Jobs.
type JobsOption func(*Jobs)

// WithArchive enables the poll fallback for evicted jobs.
func WithArchive(a ArchiveReader) JobsOption {
	return func(j *Jobs) { j.archive = a }
}

// WithStatusReader lets polls report the final status of an evicted, unarchived job.
func WithStatusReader(s StatusReader) JobsOption {
	return func(j *Jobs) { j.statuses = s }
}

func WithLogger(l *slog.Logger) JobsOption {
	return func(j *Jobs) { j.logger = l }
}

func NewJobs(q JobQueue, opts ...JobsOption) *Jobs {
	j := &Jobs{queue: q, logger: slog.Default()}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

type submitResponse struct {
	JobID  uuid.UUID     `json:"job_id"`
	Status models.Status `json:"status"`
}

// JobView is the polling representation of a job.
type JobView struct {
	ID        uuid.UUID        `json:"id"`
	Kind      models.Kind      `json:"kind,omitempty"`
	Status    string           `json:"status"`
	Progress  *models.Progress `json:"progress,omitempty"`
	Result    models.Result    `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
	CreatedAt *time.Time       `json:"created_at,omitempty"`
	UpdatedAt *time.Time       `json:"updated_at,omitempty"`
	Archived  bool             `json:"archived,omitempty"`
}

func newJobView(job *models.Job, archived bool) JobView {
	progress := job.Progress
	created, updated := job.CreatedAt.UTC(), job.UpdatedAt.UTC()
	return JobView{
		ID:        job.ID,
		Kind:      job.Kind,
		Status:    string(job.Status),
		Progress:  &progress,
		Result:    job.Result,
		Error:     job.Error,
		CreatedAt: &created,
		UpdatedAt: &updated,
		Archived:  archived,
	}
}

// Generate handles POST /api/v1/jobs/generate.
func (j *Jobs) Generate(w http.ResponseWriter, r *http.Request) {
	var p models.GeneratePayload
	if !decodeBody(w, r, &p) {
		return
	}
	j.submit(w, r, p)
}

// Edit handles POST /api/v1/jobs/edit.
func (j *Jobs) Edit(w http.ResponseWriter, r *http.Request) {
	var p models.EditPayload
	if !decodeBody(w, r, &p) {
		return
	}
	j.submit(w, r, p)
}

// Batch handles POST /api/v1/jobs/batch.
func (j *Jobs) Batch(w http.ResponseWriter, r *http.Request) {
	var p models.BatchPayload
	if !decodeBody(w, r, &p) {
		return
	}
	if len(p.Prompts) > MaxBatchPrompts {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
			"too many prompts", map[string]int{"max": MaxBatchPrompts, "got": len(p.Prompts)})
		return
	}
	j.submit(w, r, p)
}

func (j *Jobs) submit(w http.ResponseWriter, r *http.Request, payload models.Payload) {
	submitter, _ := mw.GetSubmitterID(r)
	id, err := j.queue.Submit(queue.SubmitRequest{Payload: payload, SubmitterID: submitter})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidPayload):
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		case errors.Is(err, queue.ErrShuttingDown):
			response.Error(w, http.StatusServiceUnavailable, "SHUTTING_DOWN",
				"The server is shutting down and not accepting jobs", nil)
		default:
			j.logger.Error("submit job failed", "kind", payload.Kind(), "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
		}
		return
	}

	response.Accepted(w, submitResponse{JobID: id, Status: models.JobStatusQueued})
}

// Get handles GET /api/v1/jobs/{jobID}.
func (j *Jobs) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_JOB_ID", "jobID must be a valid UUID", nil)
		return
	}

	if job, ok := j.queue.Get(id); ok {
		response.JSON(w, newJobView(job, false))
		return
	}
	if job := j.fromArchive(r.Context(), id); job != nil {
		response.JSON(w, newJobView(job, true))
		return
	}
	if status, ok := j.mirroredStatus(r.Context(), id); ok {
		response.Error(w, http.StatusGone, "JOB_EXPIRED",
			"The job is no longer held by this server", map[string]string{"status": string(status)})
		return
	}

	response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
}

// List handles GET /api/v1/jobs?ids=a,b,c. Unknown ids are returned as
// not_found placeholders in request order.
func (j *Jobs) List(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("ids"))
	if raw == "" {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "ids is required", nil)
		return
	}

	parts := strings.Split(raw, ",")
	if len(parts) > MaxLookupIDs {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
			"too many ids", map[string]int{"max": MaxLookupIDs, "got": len(parts)})
		return
	}

	ids := make([]uuid.UUID, 0, len(parts))
	for _, part := range parts {
		id, err := uuid.Parse(strings.TrimSpace(part))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_JOB_ID",
				"every id must be a valid UUID", map[string]string{"id": part})
			return
		}
		ids = append(ids, id)
	}

	jobs := j.queue.GetMany(ids)
	views := make([]JobView, len(ids))
	found := 0
	for i, id := range ids {
		job, archived := jobs[i], false
		if job == nil {
			job, archived = j.fromArchive(r.Context(), id), true
		}
		if job == nil {
			views[i] = JobView{ID: id, Status: statusNotFound}
			continue
		}
		views[i] = newJobView(job, archived)
		found++
	}

	response.Collection(w, views, response.ListMeta{Requested: len(ids), Found: found})
}

func (j *Jobs) fromArchive(ctx context.Context, id uuid.UUID) *models.Job {
	if j.archive == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	job, err := j.archive.GetArchivedJob(ctx, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			j.logger.Warn("archive lookup failed", "job_id", id, "error", err)
		}
		return nil
	}
	return job
}

func (j *Jobs) mirroredStatus(ctx context.Context, id uuid.UUID) (models.Status, bool) {
	if j.statuses == nil {
		return "", false
	}
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	status, ok, err := j.statuses.GetJobStatus(ctx, id)
	if err != nil {
		j.logger.Warn("status mirror lookup failed", "job_id", id, "error", err)
		return "", false
	}
	return status, ok
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(w, http.StatusRequestEntityTooLarge, "REQUEST_TOO_LARGE", "Request body too large", nil)
			return false
		}
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return false
	}
	return true
}
