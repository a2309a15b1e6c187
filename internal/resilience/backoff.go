package resilience

import (
	"math/rand/v2"
	"time"
)

// maxBackoffShift caps growth at base * 2^16.
const maxBackoffShift = 16

// Backoff returns base doubled for every attempt after the first, spread by ±jitter (a fraction,
// 0.2 means 20%). Attempts are 1-based.
func Backoff(base time.Duration, attempt int, jitter float64) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	shift := min(max(attempt-1, 0), maxBackoffShift)
	d := base << shift
	if jitter <= 0 {
		return d
	}
	spread := (rand.Float64()*2 - 1) * jitter * float64(d)
	return d + time.Duration(spread)
}
