package queue

import (
	"context"
	"math/rand"
	"time"
)

// maxBackoffShift keeps 1<<attempt from overflowing on long outages.
const maxBackoffShift = 30

// CalculateBackoff returns the delay before resubscription attempt number
// attempt (1-based) using exponential backoff with full jitter:
// a random duration in [0, min(maxDelay, 2^attempt * initialDelay)).
func CalculateBackoff(attempt int, initialDelay, maxDelay time.Duration) time.Duration {
	if attempt <= 0 || initialDelay <= 0 {
		return 0
	}
	shift := attempt
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}

	// Exponential: 2^attempt * initialDelay
	base := time.Duration(1<<uint(shift)) * initialDelay
	if base > maxDelay || base <= 0 {
		base = maxDelay
	}
	if base <= 0 {
		return 0
	}

	// Full jitter: random value between 0 and base
	return time.Duration(rand.Int63n(int64(base)))
}

// sleepContext waits for d or until ctx is done. It reports whether the
// full delay elapsed.
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
