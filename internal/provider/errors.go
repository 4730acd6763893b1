package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrProviderUnavailable = errors.New("image provider unavailable")
	ErrCallTimeout         = errors.New("image provider call timed out")
	ErrEmptyArtifact       = errors.New("image provider returned an empty artifact")
	ErrInvalidResponse     = errors.New("image provider returned invalid response")
)

// StatusError is returned when the provider answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("provider error %d (%s): %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("provider error %d: %s", e.StatusCode, e.Message)
}

// transientMarkers are lowercase message fragments that indicate load shedding.
var transientMarkers = []string{
	"resource exhausted",
	"resource_exhausted",
	"rate limit",
	"overloaded",
	"unavailable",
}

// IsRetryable reports whether err is a transient provider failure.
// Cancellation by the caller is never retryable.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrCallTimeout) ||
		errors.Is(err, ErrProviderUnavailable) {
		return true
	}

	var se *StatusError
	if errors.As(err, &se) {
		if se.StatusCode == http.StatusTooManyRequests || se.StatusCode == http.StatusServiceUnavailable {
			return true
		}
		if hasTransientMarker(se.Status) {
			return true
		}
	}

	return hasTransientMarker(err.Error())
}

func hasTransientMarker(msg string) bool {
	msg = strings.ToLower(msg)
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
