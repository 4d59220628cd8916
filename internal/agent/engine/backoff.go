package engine

import "time"

// backoffDelay returns the wait before retry number attempt (0-based for
// the first retry), doubling from base up to cap.
func backoffDelay(attempt int, base, cap time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}
