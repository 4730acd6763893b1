package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func JobStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("genqueue:job:%s", jobID)
}

func RateLimitKey(subject string) string {
	return fmt.Sprintf("genqueue:ratelimit:%s", subject)
}
