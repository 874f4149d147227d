package realtime

import (
	"math/rand"
	"time"
)

// maxBackoffShift caps the exponent used in backoff calculations so the
// shift cannot overflow time.Duration.
const maxBackoffShift = 30

// jitter returns d shifted by a uniform random offset in [-r/2, +r/2],
// floored at zero. A zero range returns d unchanged.
func jitter(rnd *rand.Rand, d, r time.Duration) time.Duration {
	if r <= 0 {
		return d
	}
	offset := time.Duration(rnd.Int63n(int64(r))) - r/2
	if d+offset < 0 {
		return 0
	}
	return d + offset
}

// errorBackoff returns min(initial * 2^(errorCount-1), max), the pure
// exponential backoff applied after a failed poll cycle. errorCount is the
// poller's lifetime error count and is at least 1 when a cycle has failed.
func errorBackoff(initial, max time.Duration, errorCount int) time.Duration {
	shift := errorCount - 1
	if shift < 0 {
		shift = 0
	}
	if shift > maxBackoffShift {
		return max
	}
	d := initial << uint(shift)
	if d > max || d <= 0 {
		return max
	}
	return d
}

// reconnectDelay returns min(base * 2^attempts + uniform(0, ceiling), max),
// the delay before the next stream reconnect attempt.
func reconnectDelay(rnd *rand.Rand, base, max, ceiling time.Duration, attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	var d time.Duration
	if attempts > maxBackoffShift {
		d = max
	} else {
		d = base << uint(attempts)
		if d > max || d <= 0 {
			d = max
		}
	}
	if ceiling > 0 {
		d += time.Duration(rnd.Int63n(int64(ceiling)))
	}
	if d > max {
		return max
	}
	return d
}
