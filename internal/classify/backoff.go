package classify

import (
	"math"
	"math/rand/v2"
	"time"
)

// BaseDelays is the retry schedule indexed by attempt number. Attempts past
// the end reuse the last entry.
var BaseDelays = []time.Duration{
	30 * time.Second,
	60 * time.Second,
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
}

// Jitter bounds: the base delay is scaled by a factor in [JitterMin, JitterMax].
const (
	JitterMin = 0.7
	JitterMax = 1.3
)

// ComputeBackoff returns the jittered delay before retry number attempt.
func ComputeBackoff(attempt int) time.Duration {
	return ComputeBackoffWith(attempt, rand.Float64)
}

// ComputeBackoffWith is ComputeBackoff with an injectable source of
// uniform values in [0, 1).
func ComputeBackoffWith(attempt int, rnd func() float64) time.Duration {
	idx := attempt
	if idx < 0 {
		idx = 0
	}
	if idx >= len(BaseDelays) {
		idx = len(BaseDelays) - 1
	}
	base := BaseDelays[idx]

	r := rnd()
	if r < 0 {
		r = 0
	}
	if r > 1 {
		r = 1
	}
	factor := JitterMin + (JitterMax-JitterMin)*r
	ms := math.Round(float64(base.Milliseconds()) * factor)
	return time.Duration(ms) * time.Millisecond
}

// Retryable is implemented by every classification.
type Retryable interface {
	ShouldRetry() bool
}

func (c TranscriptionClassification) ShouldRetry() bool { return c.Retryable }
func (c APIClassification) ShouldRetry() bool           { return c.Retryable }

// ShouldRetry reports whether the classified failure may be retried.
func ShouldRetry(c Retryable) bool {
	return c.ShouldRetry()
}
