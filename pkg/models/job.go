package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind selects which worker handler processes a job.
type Kind string

const (
	KindGenerate Kind = "generate"
	KindEdit     Kind = "edit"
	KindBatch    Kind = "batch"
)

// Valid reports whether k is one of the known job kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindGenerate, KindEdit, KindBatch:
		return true
	}
	return false
}

// Status is the lifecycle state of a job. A job only ever moves forward:
// queued → processing → completed | failed.
type Status string

const (
	JobStatusQueued     Status = "queued"
	JobStatusProcessing Status = "processing"
	JobStatusCompleted  Status = "completed"
	JobStatusFailed     Status = "failed"
)

// Rank orders statuses along the lifecycle. Both terminal statuses share a rank.
func (s Status) Rank() int {
	switch s {
	case JobStatusQueued:
		return 0
	case JobStatusProcessing:
		return 1
	case JobStatusCompleted, JobStatusFailed:
		return 2
	}
	return -1
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

var validTransitions = map[Status][]Status{
	JobStatusQueued:     {JobStatusProcessing},
	JobStatusProcessing: {JobStatusCompleted, JobStatusFailed},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Progress is a hint for multi-step work. Single-step jobs use Total=1.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// ErrInvalidPayload is returned when a payload fails validation at submission.
var ErrInvalidPayload = errors.New("invalid job payload")

// Payload is the kind-specific, immutable input of a job.
type Payload interface {
	Kind() Kind
	// Validate checks the payload before it is accepted into the queue.
	Validate() error
	// Steps is the default progress total for this payload.
	Steps() int
}

// Result is the kind-specific output of a completed job.
type Result interface {
	Kind() Kind
}

// GeneratePayload asks for a single artifact from a prompt, optionally
// conditioned on reference data.
type GeneratePayload struct {
	Prompt    string    `json:"prompt"`
	Reference *Artifact `json:"reference,omitempty"`
}

func (GeneratePayload) Kind() Kind { return KindGenerate }
func (GeneratePayload) Steps() int { return 1 }

func (p GeneratePayload) Validate() error {
	if strings.TrimSpace(p.Prompt) == "" {
		return fmt.Errorf("%w: prompt is required", ErrInvalidPayload)
	}
	return nil
}

// EditPayload asks for a modification of an existing artifact.
type EditPayload struct {
	Source      Artifact `json:"source"`
	Instruction string   `json:"instruction"`
}

func (EditPayload) Kind() Kind { return KindEdit }
func (EditPayload) Steps() int { return 1 }

func (p EditPayload) Validate() error {
	if p.Source.IsEmpty() {
		return fmt.Errorf("%w: source artifact is required", ErrInvalidPayload)
	}
	if strings.TrimSpace(p.Instruction) == "" {
		return fmt.Errorf("%w: instruction is required", ErrInvalidPayload)
	}
	return nil
}

// BatchPayload generates one artifact per prompt, sharing an optional reference.
type BatchPayload struct {
	Prompts   []string  `json:"prompts"`
	Reference *Artifact `json:"reference,omitempty"`
}

func (BatchPayload) Kind() Kind   { return KindBatch }
func (p BatchPayload) Steps() int { return len(p.Prompts) }

func (p BatchPayload) Validate() error {
	if len(p.Prompts) == 0 {
		return fmt.Errorf("%w: at least one prompt is required", ErrInvalidPayload)
	}
	for i, prompt := range p.Prompts {
		if strings.TrimSpace(prompt) == "" {
			return fmt.Errorf("%w: prompt %d is empty", ErrInvalidPayload, i)
		}
	}
	return nil
}

// GenerateResult is the output of a generate job.
type GenerateResult struct {
	Artifact Artifact `json:"artifact"`
}

func (GenerateResult) Kind() Kind { return KindGenerate }

// EditResult is the output of an edit job.
type EditResult struct {
	Artifact Artifact `json:"artifact"`
}

func (EditResult) Kind() Kind { return KindEdit }

// BatchResult holds one artifact per prompt, in prompt order.
type BatchResult struct {
	Artifacts []Artifact `json:"artifacts"`
}

func (BatchResult) Kind() Kind { return KindBatch }

// Job tracks one unit of asynchronous provider work. The API returns a job_id on submit;
// the client polls GET /api/v1/jobs/{job_id} until status is completed or failed.
//
// Payload and Result are shared between snapshots and must be treated as read-only.
type Job struct {
	ID          uuid.UUID `json:"id"`
	Kind        Kind      `json:"kind"`
	Status      Status    `json:"status"`
	Progress    Progress  `json:"progress"`
	Payload     Payload   `json:"-"`
	Result      Result    `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
	SubmitterID string    `json:"submitter_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Clone returns a snapshot of the job that is safe to hand to pollers.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	return &c
}
