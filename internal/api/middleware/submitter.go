package middleware

import (
	"net/http"
	"strings"
)

// SubmitterHeader names the caller for logs and rate limiting. It is not authenticated.
const SubmitterHeader = "X-Submitter-ID"

const maxSubmitterIDLen = 128

// Submitter copies the X-Submitter-ID header into the request context.
func Submitter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(SubmitterHeader))
		if len(id) > maxSubmitterIDLen {
			id = id[:maxSubmitterIDLen]
		}
		if id != "" {
			r = r.WithContext(SetSubmitterID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}
