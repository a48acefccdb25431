package connection

import "time"

// Backoff returns min(base * 2^attempt, max). A non-positive max leaves the
// delay uncapped; doubling stops before it can overflow.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if max > 0 && base >= max {
		return max
	}

	wait := base
	for i := 0; i < attempt; i++ {
		if max > 0 && wait >= max/2 {
			return max
		}
		if wait > time.Duration(1<<62) {
			return wait
		}
		wait *= 2
	}
	return wait
}
