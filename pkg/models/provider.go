// Package models contains shared data models used across the genqueue codebase.
package models

import "context"

// Provider is the core interface every image-generation integration must implement.
// Workers never call a concrete provider directly; generation.Strategy owns
// retries, fallback and the provider concurrency gate.
type Provider interface {
	// GenerateConditioned produces an artifact from a prompt plus reference data.
	// An empty artifact with a nil error means the provider had nothing usable.
	GenerateConditioned(ctx context.Context, prompt string, reference Artifact) (Artifact, error)
	// GenerateUnconditioned produces an artifact from the prompt alone.
	GenerateUnconditioned(ctx context.Context, prompt string) (Artifact, error)
	// Edit applies a modification instruction to an existing artifact.
	Edit(ctx context.Context, source Artifact, instruction string) (Artifact, error)
	// Name returns the provider identifier (e.g., "http", "mock").
	Name() string
}

// Artifact is an opaque binary output of the provider, typically an encoded image.
type Artifact struct {
	Data     []byte `json:"data"`
	MIMEType string `json:"mime_type,omitempty"`
}

// IsEmpty reports whether the artifact carries no usable bytes.
func (a Artifact) IsEmpty() bool {
	return len(a.Data) == 0
}

// Clone returns a deep copy of the artifact.
func (a Artifact) Clone() Artifact {
	if a.Data == nil {
		return a
	}
	data := make([]byte, len(a.Data))
	copy(data, a.Data)
	return Artifact{Data: data, MIMEType: a.MIMEType}
}
