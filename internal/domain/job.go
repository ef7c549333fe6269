package domain

import (
	"errors"
	"time"
)

// JobKind identifies a queue work type. Each kind has its own FIFO and its
// own worker concurrency class.
type JobKind string

const (
	JobDetectSpike JobKind = "spike.detect"
	JobNotify      JobKind = "alert.notify"
)

// JobStatus is the queue-side lifecycle state of a job.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobClaimed JobStatus = "claimed"
	JobDone    JobStatus = "done"
	JobDead    JobStatus = "dead"
)

// Job is one unit of queued work. Payload is kind-specific JSON.
type Job struct {
	ID          string    `json:"id"`
	Kind        JobKind   `json:"kind"`
	Payload     []byte    `json:"payload"`
	Status      JobStatus `json:"status"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	LastError   string    `json:"last_error"`
	CreatedAt   time.Time `json:"created_at"`
}

// DetectSpikePayload is the payload of a JobDetectSpike job.
type DetectSpikePayload struct {
	Event SpikeEvent `json:"event"`
}

// NotifyPayload is the payload of a JobNotify job: deliver one alert to one
// subscriber.
type NotifyPayload struct {
	AlertID string     `json:"alert_id"`
	UserID  string     `json:"user_id"`
	Event   SpikeEvent `json:"event"`
}

var (
	// ErrUnknownJobKind marks a job whose kind has no registered handler.
	// Such jobs are dead-lettered, not retried.
	ErrUnknownJobKind = errors.New("unknown job kind")

	// ErrMalformedPayload marks a job whose payload cannot be decoded.
	// Retrying cannot fix a structural error, so these are dead-lettered.
	ErrMalformedPayload = errors.New("malformed job payload")

	// ErrReconnectExhausted is returned by the feed client once the
	// reconnection attempt cap is exceeded. Fatal by design.
	ErrReconnectExhausted = errors.New("feed reconnect attempts exhausted")
)
