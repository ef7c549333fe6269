package queue

import "time"

// Options configures queue delivery semantics shared by every backend.
type Options struct {
	// Lease is how long a claimed job stays invisible before it becomes
	// claimable again.
	Lease time.Duration
	// MaxAttempts is the total attempt budget before a job is dead-lettered.
	MaxAttempts int
	// RetryBase is the first retry delay; each further attempt doubles it.
	RetryBase time.Duration
}

const maxRetryDelay = 5 * time.Minute

// retryDelay returns how long a job waits before attempt n+1, given that
// attempt n just failed.
func retryDelay(base time.Duration, attempts int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return d
}
