package engine

import "time"

const (
	backoffBase = time.Second
	backoffCap  = 60 * time.Second
)

// Backoff returns the retry delay for a given retry count:
// min(1s * 2^retryCount, 60s). The shift is clamped so large counts
// cannot overflow; they are capped anyway.
func Backoff(retryCount int) time.Duration {
	shift := retryCount
	if shift < 0 {
		shift = 0
	}
	if shift > 10 {
		shift = 10
	}
	d := backoffBase << shift
	if d > backoffCap {
		d = backoffCap
	}
	return d
}
