package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flashcur/marketpulse/internal/domain"
)

type memoryJob struct {
	job       domain.Job
	notBefore time.Time
	claimedAt time.Time
}

// MemoryQueue mirrors the sqlite queue's semantics in process memory: FIFO
// per kind, leases, retry backoff and dead-lettering. It backs tests and any
// wiring that does not need durability.
type MemoryQueue struct {
	mu   sync.Mutex
	jobs []*memoryJob
	opts Options

	// Now is the clock; swap it out to drive lease and backoff expiry in
	// tests.
	Now func() time.Time
}

func NewMemoryQueue(opts Options) *MemoryQueue {
	return &MemoryQueue{opts: opts, Now: time.Now}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, kind domain.JobKind, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.Now().UTC()
	q.jobs = append(q.jobs, &memoryJob{
		job: domain.Job{
			ID:          uuid.NewString(),
			Kind:        kind,
			Payload:     payload,
			Status:      domain.JobPending,
			MaxAttempts: q.opts.MaxAttempts,
			CreatedAt:   now,
		},
		notBefore: now,
	})
	return nil
}

func (q *MemoryQueue) Claim(ctx context.Context, kind domain.JobKind) (*domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.Now().UTC()
	for _, m := range q.jobs {
		if m.job.Kind != kind {
			continue
		}
		ready := m.job.Status == domain.JobPending && !m.notBefore.After(now)
		expired := m.job.Status == domain.JobClaimed && now.Sub(m.claimedAt) >= q.opts.Lease
		if !ready && !expired {
			continue
		}

		m.job.Status = domain.JobClaimed
		m.job.Attempts++
		m.claimedAt = now

		claimed := m.job
		return &claimed, nil
	}
	return nil, nil
}

func (q *MemoryQueue) Ack(ctx context.Context, job *domain.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if m := q.find(job.ID); m != nil {
		m.job.Status = domain.JobDone
	}
	return nil
}

func (q *MemoryQueue) Nack(ctx context.Context, job *domain.Job, retryable bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	m := q.find(job.ID)
	if m == nil {
		return nil
	}
	m.job.LastError = job.LastError

	if !retryable || m.job.Attempts >= m.job.MaxAttempts {
		m.job.Status = domain.JobDead
		return nil
	}
	m.job.Status = domain.JobPending
	m.notBefore = q.Now().UTC().Add(retryDelay(q.opts.RetryBase, m.job.Attempts))
	return nil
}

// All returns copies of every job of the kind, in enqueue order.
func (q *MemoryQueue) All(kind domain.JobKind) []domain.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []domain.Job
	for _, m := range q.jobs {
		if m.job.Kind == kind {
			out = append(out, m.job)
		}
	}
	return out
}

// ByStatus returns copies of every job of the kind in the given state.
func (q *MemoryQueue) ByStatus(kind domain.JobKind, status domain.JobStatus) []domain.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []domain.Job
	for _, m := range q.jobs {
		if m.job.Kind == kind && m.job.Status == status {
			out = append(out, m.job)
		}
	}
	return out
}

func (q *MemoryQueue) find(id string) *memoryJob {
	for _, m := range q.jobs {
		if m.job.ID == id {
			return m
		}
	}
	return nil
}
