package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/genqueue/internal/config"
	"github.com/kiranshivaraju/genqueue/pkg/models"
	"github.com/sony/gobreaker"
)

const (
	generationsPath = "/v1/images/generations"
	editsPath       = "/v1/images/edits"

	maxErrorBody = 64 << 10
)

// HTTPClient implements models.Provider against a JSON-over-HTTP image API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewHTTPClient creates a provider client from config. A zero breaker
// threshold leaves the circuit breaker out.
func NewHTTPClient(cfg config.ProviderConfig) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.HTTPTimeout},
		logger:  slog.Default(),
	}

	if cfg.Breaker.Threshold > 0 {
		threshold := cfg.Breaker.Threshold
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "image-provider",
			MaxRequests: 1,
			Timeout:     cfg.Breaker.Cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			IsSuccessful: func(err error) bool {
				return !countsAsOutage(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				c.logger.Warn("provider circuit breaker state changed",
					"breaker", name,
					"from", from.String(),
					"to", to.String(),
				)
			},
		})
	}

	return c
}

func (c *HTTPClient) Name() string { return "http" }

func (c *HTTPClient) GenerateConditioned(ctx context.Context, prompt string, reference models.Artifact) (models.Artifact, error) {
	return c.post(ctx, generationsPath, generationRequest{
		Model:     c.model,
		Prompt:    prompt,
		Reference: &reference,
	})
}

func (c *HTTPClient) GenerateUnconditioned(ctx context.Context, prompt string) (models.Artifact, error) {
	return c.post(ctx, generationsPath, generationRequest{
		Model:  c.model,
		Prompt: prompt,
	})
}

func (c *HTTPClient) Edit(ctx context.Context, source models.Artifact, instruction string) (models.Artifact, error) {
	return c.post(ctx, editsPath, editRequest{
		Model:       c.model,
		Source:      source,
		Instruction: instruction,
	})
}

// post runs one provider request, through the circuit breaker when configured.
func (c *HTTPClient) post(ctx context.Context, path string, body any) (models.Artifact, error) {
	if c.breaker == nil {
		return c.do(ctx, path, body)
	}

	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.do(ctx, path, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return models.Artifact{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		return models.Artifact{}, err
	}
	return res.(models.Artifact), nil
}

func (c *HTTPClient) do(ctx context.Context, path string, body any) (models.Artifact, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return models.Artifact{}, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return models.Artifact{}, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return models.Artifact{}, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.Artifact{}, decodeStatusError(resp)
	}

	var out artifactResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.Artifact{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if out.Artifact == nil {
		return models.Artifact{}, nil
	}
	return *out.Artifact, nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// decodeStatusError turns a non-2xx response into a *StatusError.
func decodeStatusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	se := &StatusError{StatusCode: resp.StatusCode}
	var body errorResponse
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Message != "" {
		se.Message = body.Error.Message
		se.Status = body.Error.Status
	} else if msg := strings.TrimSpace(string(raw)); msg != "" {
		se.Message = msg
	} else {
		se.Message = http.StatusText(resp.StatusCode)
	}
	return se
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("calling provider: %w", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrCallTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrCallTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}

// countsAsOutage reports whether err should move the breaker towards open.
// Client-side rejections and caller cancellation do not.
func countsAsOutage(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	}
	return errors.Is(err, ErrCallTimeout) || errors.Is(err, ErrProviderUnavailable)
}

// --- wire types ---

type generationRequest struct {
	Model     string           `json:"model,omitempty"`
	Prompt    string           `json:"prompt"`
	Reference *models.Artifact `json:"reference,omitempty"`
}

type editRequest struct {
	Model       string          `json:"model,omitempty"`
	Source      models.Artifact `json:"source"`
	Instruction string          `json:"instruction"`
}

type artifactResponse struct {
	Artifact *models.Artifact `json:"artifact"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Compile-time check that HTTPClient implements Provider.
var _ models.Provider = (*HTTPClient)(nil)
