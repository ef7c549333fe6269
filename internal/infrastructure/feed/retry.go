package feed

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy describes the reconnect delay schedule: Base doubling per
// attempt, capped at Max, giving up after MaxAttempts. It is a value object
// so the schedule can be unit tested without real timers.
type RetryPolicy struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// Schedule materializes the policy. NextBackOff returns Base*2^(k-1) for the
// k-th consecutive failure (capped at Max) and backoff.Stop once MaxAttempts
// is exceeded. Reset, called after a successful connection, zeroes the
// attempt counter.
func (p RetryPolicy) Schedule() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Base
	b.MaxInterval = p.Max
	b.Multiplier = 2.0
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	s := backoff.WithMaxRetries(b, uint64(p.MaxAttempts))
	s.Reset()
	return s
}
