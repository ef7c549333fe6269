package domain

import (
	"context"
	"time"
)

// JobQueue is a durable, at-least-once work queue. A claimed job that is not
// acked within the backend's lease timeout becomes claimable again.
type JobQueue interface {
	Enqueue(ctx context.Context, kind JobKind, payload []byte) error
	// Claim returns the next eligible job of the given kind, or nil when
	// the queue has nothing ready.
	Claim(ctx context.Context, kind JobKind) (*Job, error)
	Ack(ctx context.Context, job *Job) error
	// Nack returns a job to the queue. With retryable=false, or once the
	// attempt budget is exhausted, the job is dead-lettered instead.
	Nack(ctx context.Context, job *Job, retryable bool) error
}

// AlertStore is the persistent collaborator for tracked instruments, the
// snapshot archive, alert records and subscriber lookups.
type AlertStore interface {
	FindOrCreateInstrument(ctx context.Context, symbol string) (*Instrument, error)
	InsertSnapshots(ctx context.Context, snaps []InstrumentSnapshot) error
	CreateAlert(ctx context.Context, alert *AlertRecord) error
	MarkDelivered(ctx context.Context, alertID string) error
	SubscribersForSymbol(ctx context.Context, symbol string) ([]*Subscriber, error)
	Subscriber(ctx context.Context, userID string) (*Subscriber, error)
}

// SnapshotCache holds the latest normalized snapshot set for external
// presentation layers. Latest also returns when the set was written so
// consumers can flag staleness instead of erroring.
type SnapshotCache interface {
	SetLatest(ctx context.Context, snaps []InstrumentSnapshot) error
	Latest(ctx context.Context) ([]InstrumentSnapshot, time.Time, error)
}

// Publisher fans a payload out to a named pub/sub channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Channel is one notification transport. Send is fire-and-forget from the
// caller's perspective: the outcome is recorded, not awaited by the product.
type Channel interface {
	Name() string
	Send(ctx context.Context, sub *Subscriber, alert AlertContext) error
}
