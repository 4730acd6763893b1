package mock

import (
	"context"
	"sync"

	"github.com/kiranshivaraju/genqueue/pkg/models"
)

// Method names reported by CallCount.
const (
	MethodConditioned   = "GenerateConditioned"
	MethodUnconditioned = "GenerateUnconditioned"
	MethodEdit          = "Edit"
)

// MockProvider satisfies models.Provider for testing and local development.
type MockProvider struct {
	Name_             string
	ConditionedFunc   func(ctx context.Context, prompt string, reference models.Artifact) (models.Artifact, error)
	UnconditionedFunc func(ctx context.Context, prompt string) (models.Artifact, error)
	EditFunc          func(ctx context.Context, source models.Artifact, instruction string) (models.Artifact, error)

	mu    sync.Mutex
	calls map[string]int
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) GenerateConditioned(ctx context.Context, prompt string, reference models.Artifact) (models.Artifact, error) {
	m.record(MethodConditioned)
	if m.ConditionedFunc != nil {
		return m.ConditionedFunc(ctx, prompt, reference)
	}
	return models.Artifact{}, nil
}

func (m *MockProvider) GenerateUnconditioned(ctx context.Context, prompt string) (models.Artifact, error) {
	m.record(MethodUnconditioned)
	if m.UnconditionedFunc != nil {
		return m.UnconditionedFunc(ctx, prompt)
	}
	return models.Artifact{}, nil
}

func (m *MockProvider) Edit(ctx context.Context, source models.Artifact, instruction string) (models.Artifact, error) {
	m.record(MethodEdit)
	if m.EditFunc != nil {
		return m.EditFunc(ctx, source, instruction)
	}
	return models.Artifact{}, nil
}

// CallCount returns how many times the named method was invoked.
func (m *MockProvider) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *MockProvider) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[method]++
}

// NewMockProvider returns a MockProvider with deterministic artifacts derived
// from its inputs.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		ConditionedFunc: func(_ context.Context, prompt string, reference models.Artifact) (models.Artifact, error) {
			data := append([]byte("conditioned:"+prompt+":"), reference.Data...)
			return models.Artifact{Data: data, MIMEType: "image/png"}, nil
		},
		UnconditionedFunc: func(_ context.Context, prompt string) (models.Artifact, error) {
			return models.Artifact{Data: []byte("unconditioned:" + prompt), MIMEType: "image/png"}, nil
		},
		EditFunc: func(_ context.Context, source models.Artifact, instruction string) (models.Artifact, error) {
			data := append([]byte("edited:"+instruction+":"), source.Data...)
			mime := source.MIMEType
			if mime == "" {
				mime = "image/png"
			}
			return models.Artifact{Data: data, MIMEType: mime}, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		ConditionedFunc: func(_ context.Context, _ string, _ models.Artifact) (models.Artifact, error) {
			return models.Artifact{}, err
		},
		UnconditionedFunc: func(_ context.Context, _ string) (models.Artifact, error) {
			return models.Artifact{}, err
		},
		EditFunc: func(_ context.Context, _ models.Artifact, _ string) (models.Artifact, error) {
			return models.Artifact{}, err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until the context is done.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		ConditionedFunc: func(ctx context.Context, _ string, _ models.Artifact) (models.Artifact, error) {
			<-ctx.Done()
			return models.Artifact{}, ctx.Err()
		},
		UnconditionedFunc: func(ctx context.Context, _ string) (models.Artifact, error) {
			<-ctx.Done()
			return models.Artifact{}, ctx.Err()
		},
		EditFunc: func(ctx context.Context, _ models.Artifact, _ string) (models.Artifact, error) {
			<-ctx.Done()
			return models.Artifact{}, ctx.Err()
		},
	}
}

// Compile-time check that MockProvider implements Provider.
var _ models.Provider = (*MockProvider)(nil)
