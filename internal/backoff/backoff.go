// Package backoff implements exponential backoff with full jitter.
package backoff

import (
	"math/rand"
	"time"
)

// Delay returns a random duration in [0, min(base<<attempt, limit)]. attempt
// is zero-based; negative values are treated as zero.
func Delay(base, limit time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= limit {
			d = limit
			break
		}
	}
	if d > limit {
		d = limit
	}
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d) + 1))
}
