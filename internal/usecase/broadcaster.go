package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flashcur/marketpulse/internal/domain"
	"github.com/flashcur/marketpulse/internal/monitoring"
)

// Broadcaster pushes the latest snapshot set to per-tier pub/sub channels.
// The elite tier receives every update, coalesced over a small debounce
// window; lower tiers are cadence-gated on wall-clock time per tier, not per
// subscriber. Disconnecting subscribers are handled by the pub/sub backend:
// once unsubscribed from the tier channel no further pushes reach them.
type Broadcaster struct {
	publisher domain.Publisher
	prefix    string
	tiers     []domain.TierConfig
	debounce  time.Duration
	log       *zap.Logger

	mu       sync.Mutex
	latest   []domain.InstrumentSnapshot
	dirty    bool
	lastPush map[domain.Tier]time.Time

	timeNow func() time.Time // For testing
}

type broadcastPayload struct {
	Snapshots []domain.InstrumentSnapshot `json:"snapshots"`
	Timestamp time.Time                   `json:"timestamp"`
}

func NewBroadcaster(publisher domain.Publisher, prefix string, tiers []domain.TierConfig, debounce time.Duration, log *zap.Logger) *Broadcaster {
	return &Broadcaster{
		publisher: publisher,
		prefix:    prefix,
		tiers:     tiers,
		debounce:  debounce,
		log:       log.With(zap.String("component", "broadcaster")),
		lastPush:  make(map[domain.Tier]time.Time),
		timeNow:   time.Now,
	}
}

// Offer replaces the pending snapshot set. It is called from the ingestion
// pipeline; publishing happens on the broadcast loop.
func (b *Broadcaster) Offer(snaps []domain.InstrumentSnapshot) {
	b.mu.Lock()
	b.latest = snaps
	b.dirty = true
	b.mu.Unlock()
}

// Run drives the broadcast loop until ctx is cancelled. The loop ticks at
// the debounce interval so elite pushes coalesce bursts instead of flooding
// consumers faster than they can render.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.flush(ctx, b.timeNow())
		case <-ctx.Done():
			return
		}
	}
}

// flush publishes to every tier that is due at the given instant.
func (b *Broadcaster) flush(ctx context.Context, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.latest) == 0 {
		return
	}

	for _, tier := range b.tiers {
		if tier.Cadence == 0 {
			// Push-every-update tier: only when something new arrived
			// during the coalescing window.
			if !b.dirty {
				continue
			}
		} else if now.Sub(b.lastPush[tier.Tier]) < tier.Cadence {
			continue
		}

		if err := b.publish(ctx, tier, now); err != nil {
			b.log.Warn("broadcast publish failed",
				zap.String("tier", tier.Tier.String()),
				zap.Error(err))
			continue
		}
		b.lastPush[tier.Tier] = now
	}
	b.dirty = false
}

func (b *Broadcaster) publish(ctx context.Context, tier domain.TierConfig, now time.Time) error {
	snaps := b.latest
	if tier.RowLimit > 0 && len(snaps) > tier.RowLimit {
		snaps = snaps[:tier.RowLimit]
	}

	payload, err := json.Marshal(broadcastPayload{Snapshots: snaps, Timestamp: now.UTC()})
	if err != nil {
		return fmt.Errorf("marshal broadcast payload: %w", err)
	}

	channel := fmt.Sprintf("%s:%s", b.prefix, tier.Tier)
	if err := b.publisher.Publish(ctx, channel, payload); err != nil {
		return err
	}
	monitoring.Broadcasts.WithLabelValues(tier.Tier.String()).Inc()
	return nil
}
