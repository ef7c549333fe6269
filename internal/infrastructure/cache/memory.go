package cache

import (
	"context"
	"sync"
	"time"

	"github.com/flashcur/marketpulse/internal/domain"
)

// MemoryCache is an in-process SnapshotCache for tests and redis-less runs.
type MemoryCache struct {
	mu        sync.Mutex
	snaps     []domain.InstrumentSnapshot
	writtenAt time.Time

	// Now is the clock; swap it out in tests.
	Now func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{Now: time.Now}
}

func (c *MemoryCache) SetLatest(ctx context.Context, snaps []domain.InstrumentSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps = append([]domain.InstrumentSnapshot(nil), snaps...)
	c.writtenAt = c.Now().UTC()
	return nil
}

func (c *MemoryCache) Latest(ctx context.Context) ([]domain.InstrumentSnapshot, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.InstrumentSnapshot(nil), c.snaps...), c.writtenAt, nil
}

// PublishedMessage is one payload captured by the MemoryPublisher.
type PublishedMessage struct {
	Channel string
	Payload []byte
}

// MemoryPublisher records publishes instead of sending them anywhere.
type MemoryPublisher struct {
	mu       sync.Mutex
	messages []PublishedMessage
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, PublishedMessage{Channel: channel, Payload: payload})
	return nil
}

// Messages returns everything published so far.
func (p *MemoryPublisher) Messages() []PublishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PublishedMessage(nil), p.messages...)
}

// ByChannel returns publishes to one channel, in order.
func (p *MemoryPublisher) ByChannel(channel string) []PublishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []PublishedMessage
	for _, m := range p.messages {
		if m.Channel == channel {
			out = append(out, m)
		}
	}
	return out
}
