package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flashcur/marketpulse/internal/domain"
)

type testQueue struct {
	domain.JobQueue
	advance func(time.Duration)
}

// queues builds each backend with a controllable clock so lease and retry
// expiry can be driven without sleeping.
func queues(t *testing.T, opts Options) map[string]testQueue {
	t.Helper()

	clockA := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mem := NewMemoryQueue(opts)
	mem.Now = func() time.Time { return clockA }

	clockB := clockA
	sq, err := NewSQLiteQueue(filepath.Join(t.TempDir(), "queue.db"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })
	sq.timeNow = func() time.Time { return clockB }

	return map[string]testQueue{
		"memory": {JobQueue: mem, advance: func(d time.Duration) { clockA = clockA.Add(d) }},
		"sqlite": {JobQueue: sq, advance: func(d time.Duration) { clockB = clockB.Add(d) }},
	}
}

func defaultOpts() Options {
	return Options{Lease: time.Minute, MaxAttempts: 3, RetryBase: 5 * time.Second}
}

func TestQueue_ClaimOnEmptyReturnsNil(t *testing.T) {
	for name, q := range queues(t, defaultOpts()) {
		t.Run(name, func(t *testing.T) {
			job, err := q.Claim(context.Background(), domain.JobNotify)
			require.NoError(t, err)
			require.Nil(t, job)
		})
	}
}

func TestQueue_FIFOPerKind(t *testing.T) {
	for name, q := range queues(t, defaultOpts()) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, q.Enqueue(ctx, domain.JobDetectSpike, []byte(`{"n":1}`)))
			require.NoError(t, q.Enqueue(ctx, domain.JobNotify, []byte(`{"n":2}`)))
			q.advance(time.Second)
			require.NoError(t, q.Enqueue(ctx, domain.JobDetectSpike, []byte(`{"n":3}`)))

			first, err := q.Claim(ctx, domain.JobDetectSpike)
			require.NoError(t, err)
			require.NotNil(t, first)
			require.Equal(t, []byte(`{"n":1}`), first.Payload)
			require.Equal(t, 1, first.Attempts)
			require.NoError(t, q.Ack(ctx, first))

			second, err := q.Claim(ctx, domain.JobDetectSpike)
			require.NoError(t, err)
			require.NotNil(t, second)
			require.Equal(t, []byte(`{"n":3}`), second.Payload)

			// The notify job is untouched by detect-spike claims.
			other, err := q.Claim(ctx, domain.JobNotify)
			require.NoError(t, err)
			require.NotNil(t, other)
			require.Equal(t, []byte(`{"n":2}`), other.Payload)
		})
	}
}

func TestQueue_AckedJobIsGone(t *testing.T) {
	for name, q := range queues(t, defaultOpts()) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, q.Enqueue(ctx, domain.JobNotify, []byte(`{}`)))

			job, err := q.Claim(ctx, domain.JobNotify)
			require.NoError(t, err)
			require.NoError(t, q.Ack(ctx, job))

			q.advance(time.Hour)
			again, err := q.Claim(ctx, domain.JobNotify)
			require.NoError(t, err)
			require.Nil(t, again)
		})
	}
}

func TestQueue_RetryBackoffDelaysRedelivery(t *testing.T) {
	for name, q := range queues(t, defaultOpts()) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, q.Enqueue(ctx, domain.JobNotify, []byte(`{}`)))

			job, err := q.Claim(ctx, domain.JobNotify)
			require.NoError(t, err)
			job.LastError = "smtp timeout"
			require.NoError(t, q.Nack(ctx, job, true))

			// Before the 5s retry delay the job is invisible.
			early, err := q.Claim(ctx, domain.JobNotify)
			require.NoError(t, err)
			require.Nil(t, early)

			q.advance(6 * time.Second)
			redelivered, err := q.Claim(ctx, domain.JobNotify)
			require.NoError(t, err)
			require.NotNil(t, redelivered)
			require.Equal(t, 2, redelivered.Attempts)
			require.Equal(t, "smtp timeout", redelivered.LastError)
		})
	}
}

func TestQueue_DeadLetterAfterAttemptBudget(t *testing.T) {
	for name, q := range queues(t, defaultOpts()) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, q.Enqueue(ctx, domain.JobNotify, []byte(`{}`)))

			for attempt := 1; attempt <= 3; attempt++ {
				job, err := q.Claim(ctx, domain.JobNotify)
				require.NoError(t, err)
				require.NotNil(t, job, "attempt %d", attempt)
				require.Equal(t, attempt, job.Attempts)
				job.LastError = "still failing"
				require.NoError(t, q.Nack(ctx, job, true))
				q.advance(10 * time.Minute)
			}

			// Budget of 3 spent: the job is dead, not redelivered.
			job, err := q.Claim(ctx, domain.JobNotify)
			require.NoError(t, err)
			require.Nil(t, job)
		})
	}
}

func TestQueue_NonRetryableDeadLettersImmediately(t *testing.T) {
	for name, q := range queues(t, defaultOpts()) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, q.Enqueue(ctx, domain.JobNotify, []byte(`not json`)))

			job, err := q.Claim(ctx, domain.JobNotify)
			require.NoError(t, err)
			job.LastError = "malformed job payload"
			require.NoError(t, q.Nack(ctx, job, false))

			q.advance(time.Hour)
			again, err := q.Claim(ctx, domain.JobNotify)
			require.NoError(t, err)
			require.Nil(t, again)
		})
	}
}

func TestQueue_LeaseExpiryMakesJobClaimableAgain(t *testing.T) {
	for name, q := range queues(t, defaultOpts()) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, q.Enqueue(ctx, domain.JobDetectSpike, []byte(`{}`)))

			job, err := q.Claim(ctx, domain.JobDetectSpike)
			require.NoError(t, err)
			require.NotNil(t, job)

			// Worker died: no ack, no nack. Within the lease the job stays
			// invisible.
			q.advance(30 * time.Second)
			hidden, err := q.Claim(ctx, domain.JobDetectSpike)
			require.NoError(t, err)
			require.Nil(t, hidden)

			q.advance(31 * time.Second)
			reclaimed, err := q.Claim(ctx, domain.JobDetectSpike)
			require.NoError(t, err)
			require.NotNil(t, reclaimed)
			require.Equal(t, job.ID, reclaimed.ID)
			require.Equal(t, 2, reclaimed.Attempts)
		})
	}
}

func TestRetryDelayDoublesAndCaps(t *testing.T) {
	base := 5 * time.Second
	require.Equal(t, 5*time.Second, retryDelay(base, 1))
	require.Equal(t, 10*time.Second, retryDelay(base, 2))
	require.Equal(t, 40*time.Second, retryDelay(base, 4))
	require.Equal(t, maxRetryDelay, retryDelay(base, 12))
}
