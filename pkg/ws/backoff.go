package ws

import (
	"math"
	"math/rand/v2"
	"time"
)

const backoffMultiplier = 2.0

// backoffDelay returns the jittered retry delay for attempt N (1-based).
func backoffDelay(initial, maxDelay time.Duration, attempt int) time.Duration {
	if initial <= 0 {
		return 0
	}

	delay := float64(initial)
	if attempt > 1 {
		delay *= math.Pow(backoffMultiplier, float64(attempt-1))
	}

	if maxDelay > 0 && delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}

	return time.Duration(delay * (0.5 + rand.Float64()))
}
