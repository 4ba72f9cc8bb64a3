package timeutil

import "time"

// RemainingSeconds returns the whole seconds left until expiry, floored and
// never negative. A zero expiry counts as already expired.
func RemainingSeconds(expiresAt time.Time, now time.Time) int {
	if expiresAt.IsZero() {
		return 0
	}
	diff := int(expiresAt.Sub(now) / time.Second)
	if diff < 0 {
		return 0
	}
	return diff
}
