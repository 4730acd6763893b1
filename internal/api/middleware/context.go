package middleware

import (
	"context"
	"net/http"
)

type contextKey string

const submitterIDKey contextKey = "submitter_id"

func SetSubmitterID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, submitterIDKey, id)
}

// GetSubmitterID returns the submitter set by the Submitter middleware.
func GetSubmitterID(r *http.Request) (string, bool) {
	id, ok := r.Context().Value(submitterIDKey).(string)
	return id, ok && id != ""
}
