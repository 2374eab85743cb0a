package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelay_Bounds(t *testing.T) {
	base := time.Second
	limit := 30 * time.Second

	for attempt := 0; attempt < 10; attempt++ {
		for i := 0; i < 100; i++ {
			d := Delay(base, limit, attempt)
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, limit)
		}
	}

	// Early attempts stay within the un-jittered envelope.
	for i := 0; i < 100; i++ {
		assert.LessOrEqual(t, Delay(base, limit, 0), base)
		assert.LessOrEqual(t, Delay(base, limit, 2), 4*time.Second)
	}
}

func TestDelay_NegativeAttempt(t *testing.T) {
	d := Delay(time.Second, 30*time.Second, -3)
	assert.GreaterOrEqual(t, d, time.Duration(0))
	assert.LessOrEqual(t, d, time.Second)
}
