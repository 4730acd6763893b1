package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes the delay before a retry.
type Backoff interface {
	// Delay returns how long to wait after the failure of attempt n (0-indexed).
	Delay(attempt int) time.Duration
}

// ExponentialJitter doubles a base delay per attempt and adds uniform jitter.
// Delay = Base * 2^(attempt+1) + random value in [0, Jitter).
type ExponentialJitter struct {
	Base   time.Duration
	Jitter time.Duration
	// Max caps the exponential part; zero means uncapped.
	Max time.Duration

	// rand returns a value in [0, 1); nil uses math/rand/v2.
	rand func() float64
}

// NewExponentialJitter creates an exponential backoff with additive jitter.
func NewExponentialJitter(base, jitter time.Duration) *ExponentialJitter {
	return &ExponentialJitter{Base: base, Jitter: jitter}
}

// DefaultBackoff is 2s, 4s, 8s... plus up to one second of jitter.
func DefaultBackoff() Backoff {
	return NewExponentialJitter(time.Second, time.Second)
}

// Delay returns the backoff for the given 0-indexed attempt.
func (e *ExponentialJitter) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := time.Duration(float64(e.Base) * math.Pow(2, float64(attempt+1)))
	if e.Max > 0 && d > e.Max {
		d = e.Max
	}
	if e.Jitter > 0 {
		r := e.rand
		if r == nil {
			r = rand.Float64 //nolint:gosec // jitter intentionally uses non-crypto rand
		}
		d += time.Duration(r() * float64(e.Jitter))
	}
	return d
}
