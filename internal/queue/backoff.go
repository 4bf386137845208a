package queue

import (
	"math/rand"
	"time"
)

// Backoff returns the delay before the next attempt after `attempts`
// failed tries. The base doubles per failure up to the ceiling, then
// 25% jitter spreads retries so a burst of failures does not come back
// as a burst of retries.
func Backoff(base, ceiling time.Duration, attempts int) time.Duration {
	if base <= 0 {
		base = 5 * time.Second
	}
	if ceiling <= 0 {
		ceiling = 5 * time.Minute
	}
	if attempts < 1 {
		attempts = 1
	}

	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= ceiling {
			break
		}
	}
	if delay > ceiling {
		delay = ceiling
	}

	jitter := time.Duration(rand.Int63n(int64(delay)/2+1)) - delay/4
	delay += jitter
	if delay < base/2 {
		delay = base / 2
	}
	return delay
}
