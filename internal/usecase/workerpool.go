package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flashcur/marketpulse/internal/domain"
	"github.com/flashcur/marketpulse/internal/monitoring"
)

// Handler processes one claimed job. A nil return acks the job; a
// structural error (ErrMalformedPayload, ErrUnknownJobKind) dead-letters it
// immediately; any other error sends it back through the queue's retry
// policy.
type Handler func(ctx context.Context, job *domain.Job) error

type registration struct {
	handler     Handler
	concurrency int
}

// Pool consumes queued jobs with bounded per-kind concurrency. Workers share
// no mutable state except through the queue and the store.
type Pool struct {
	queue      domain.JobQueue
	poll       time.Duration
	jobTimeout time.Duration
	log        *zap.Logger

	handlers map[domain.JobKind]registration
	wg       sync.WaitGroup
}

func NewPool(queue domain.JobQueue, poll time.Duration, log *zap.Logger) *Pool {
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	return &Pool{
		queue:      queue,
		poll:       poll,
		jobTimeout: 30 * time.Second,
		log:        log.With(zap.String("component", "workers")),
		handlers:   make(map[domain.JobKind]registration),
	}
}

// Handle registers a handler and its worker concurrency for a job kind.
func (p *Pool) Handle(kind domain.JobKind, concurrency int, h Handler) {
	if concurrency < 1 {
		concurrency = 1
	}
	p.handlers[kind] = registration{handler: h, concurrency: concurrency}
}

// Start launches the workers. Cancelling ctx stops claiming; jobs already in
// flight finish on a detached context bounded by the job timeout.
func (p *Pool) Start(ctx context.Context) {
	for kind, reg := range p.handlers {
		for i := 0; i < reg.concurrency; i++ {
			p.wg.Add(1)
			go p.worker(ctx, kind, reg.handler)
		}
		p.log.Info("workers started",
			zap.String("kind", string(kind)),
			zap.Int("concurrency", reg.concurrency))
	}
}

// Drain waits for in-flight jobs after Start's ctx is cancelled, up to the
// given deadline.
func (p *Pool) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		p.log.Warn("drain deadline exceeded, abandoning in-flight jobs")
		return false
	}
}

func (p *Pool) worker(ctx context.Context, kind domain.JobKind, h Handler) {
	defer p.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := p.queue.Claim(ctx, kind)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Warn("claim failed", zap.String("kind", string(kind)), zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			p.sleep(ctx)
			continue
		}

		p.process(ctx, job, h)
	}
}

func (p *Pool) sleep(ctx context.Context) {
	select {
	case <-time.After(p.poll):
	case <-ctx.Done():
	}
}

func (p *Pool) process(ctx context.Context, job *domain.Job, h Handler) {
	// Shutdown must not kill a job mid-notification; give it a detached,
	// bounded context instead.
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.jobTimeout)
	defer cancel()

	err := h(jobCtx, job)
	switch {
	case err == nil:
		if ackErr := p.queue.Ack(jobCtx, job); ackErr != nil {
			p.log.Error("ack failed", zap.String("job", job.ID), zap.Error(ackErr))
			return
		}
		monitoring.JobsProcessed.WithLabelValues(string(job.Kind), "done").Inc()

	case errors.Is(err, domain.ErrMalformedPayload), errors.Is(err, domain.ErrUnknownJobKind):
		// Structural errors: retrying cannot fix them.
		job.LastError = err.Error()
		if nackErr := p.queue.Nack(jobCtx, job, false); nackErr != nil {
			p.log.Error("dead-letter failed", zap.String("job", job.ID), zap.Error(nackErr))
			return
		}
		monitoring.JobsProcessed.WithLabelValues(string(job.Kind), "dead").Inc()
		p.log.Warn("job dead-lettered",
			zap.String("job", job.ID),
			zap.String("kind", string(job.Kind)),
			zap.Error(err))

	default:
		job.LastError = err.Error()
		if nackErr := p.queue.Nack(jobCtx, job, true); nackErr != nil {
			p.log.Error("nack failed", zap.String("job", job.ID), zap.Error(nackErr))
			return
		}
		monitoring.JobsProcessed.WithLabelValues(string(job.Kind), "retry").Inc()
		p.log.Warn("job failed, queued for retry",
			zap.String("job", job.ID),
			zap.String("kind", string(job.Kind)),
			zap.Int("attempts", job.Attempts),
			zap.Error(err))
	}
}
