package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flashcur/marketpulse/internal/domain"
)

// RedisCache keeps the latest normalized snapshot set in a single redis key
// so presentation layers can read it without touching the engine. The value
// carries its write time; a stale read is the reader's call, not an error.
type RedisCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration

	timeNow func() time.Time // For testing
}

type cachedDocument struct {
	Snapshots []domain.InstrumentSnapshot `json:"snapshots"`
	UpdatedAt time.Time                   `json:"updated_at"`
}

func NewRedisCache(client *redis.Client, key string, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, key: key, ttl: ttl, timeNow: time.Now}
}

func (c *RedisCache) SetLatest(ctx context.Context, snaps []domain.InstrumentSnapshot) error {
	payload, err := json.Marshal(cachedDocument{
		Snapshots: snaps,
		UpdatedAt: c.timeNow().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal snapshot document: %w", err)
	}
	return c.client.Set(ctx, c.key, payload, c.ttl).Err()
}

func (c *RedisCache) Latest(ctx context.Context) ([]domain.InstrumentSnapshot, time.Time, error) {
	raw, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, err
	}

	var doc cachedDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, time.Time{}, fmt.Errorf("decode snapshot document: %w", err)
	}
	return doc.Snapshots, doc.UpdatedAt, nil
}

// RedisPublisher fans broadcast payloads out over redis pub/sub. Subscribers
// that disconnect simply stop receiving; there is no per-subscriber state to
// clean up on this side.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	return p.client.Publish(ctx, channel, payload).Err()
}
