package usecase

import (
	"context"
	"encoding/json"
	"sort"

	"go.uber.org/zap"

	"github.com/flashcur/marketpulse/internal/domain"
	"github.com/flashcur/marketpulse/internal/monitoring"
)

// Pipeline is the single ordered flow of control behind one feed connection:
// it normalizes raw batches, maintains the rolling history and the latest
// snapshot set, evaluates spikes and enqueues detection jobs. All downstream
// work (fan-out, notification) happens through the queue, so a slow channel
// never stalls the next incoming tick.
type Pipeline struct {
	msgs        <-chan domain.FeedMessage
	normalizer  *Normalizer
	history     *History
	detector    *Detector
	queue       domain.JobQueue
	store       domain.AlertStore
	cache       domain.SnapshotCache
	broadcaster *Broadcaster
	health      *monitoring.Health
	log         *zap.Logger

	// latest is owned by the pipeline goroutine; nothing else writes it.
	latest map[string]domain.InstrumentSnapshot
}

func NewPipeline(
	msgs <-chan domain.FeedMessage,
	normalizer *Normalizer,
	history *History,
	detector *Detector,
	queue domain.JobQueue,
	store domain.AlertStore,
	cache domain.SnapshotCache,
	broadcaster *Broadcaster,
	health *monitoring.Health,
	log *zap.Logger,
) *Pipeline {
	return &Pipeline{
		msgs:        msgs,
		normalizer:  normalizer,
		history:     history,
		detector:    detector,
		queue:       queue,
		store:       store,
		cache:       cache,
		broadcaster: broadcaster,
		health:      health,
		log:         log.With(zap.String("component", "pipeline")),
		latest:      make(map[string]domain.InstrumentSnapshot),
	}
}

// Run consumes feed messages in arrival order until the channel closes or
// ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-p.msgs:
			if !ok {
				p.log.Info("feed channel closed, pipeline stopping")
				return nil
			}
			p.handle(ctx, msg)
		}
	}
}

func (p *Pipeline) handle(ctx context.Context, msg domain.FeedMessage) {
	monitoring.FeedMessages.WithLabelValues(string(msg.Kind)).Inc()
	monitoring.IngestLag.Set(float64(len(p.msgs)))

	switch msg.Kind {
	case domain.MessageTicker:
		p.handleTicker(ctx, msg.Tickers)
	case domain.MessageFunding:
		p.handleFunding(ctx, msg.MarkPrices)
	}

	p.health.Beat()
}

func (p *Pipeline) handleTicker(ctx context.Context, batch []domain.RawTicker) {
	snaps := p.normalizer.NormalizeTicker(batch)
	if len(snaps) == 0 {
		return
	}
	monitoring.SnapshotsNormalized.Add(float64(len(snaps)))

	for _, snap := range snaps {
		// Evaluate against the window recorded before this snapshot, then
		// fold the snapshot in.
		if event, ok := p.detector.Evaluate(snap); ok {
			p.enqueueSpike(ctx, event)
		}
		p.history.Record(snap)
		p.latest[snap.Symbol] = snap
	}

	if err := p.store.InsertSnapshots(ctx, snaps); err != nil {
		p.health.RecordError(err)
		p.log.Warn("snapshot archive insert failed", zap.Error(err))
	}

	p.refreshLatest(ctx)
}

func (p *Pipeline) handleFunding(ctx context.Context, batch []domain.RawMarkPrice) {
	updates := p.normalizer.NormalizeFunding(batch)

	merged := false
	for _, u := range updates {
		snap, ok := p.latest[u.Symbol]
		if !ok {
			continue
		}
		snap.FundingRate = u.FundingRate
		p.latest[u.Symbol] = snap
		merged = true
	}
	if merged {
		p.refreshLatest(ctx)
	}
}

func (p *Pipeline) enqueueSpike(ctx context.Context, event domain.SpikeEvent) {
	payload, err := json.Marshal(domain.DetectSpikePayload{Event: event})
	if err != nil {
		p.log.Error("marshal spike payload", zap.Error(err))
		return
	}
	if err := p.queue.Enqueue(ctx, domain.JobDetectSpike, payload); err != nil {
		p.health.RecordError(err)
		p.log.Error("enqueue spike job failed",
			zap.String("symbol", event.Symbol),
			zap.Error(err))
		return
	}
	monitoring.SpikesDetected.Inc()
	p.log.Info("volume spike detected",
		zap.String("symbol", event.Symbol),
		zap.Float64("multiplier", event.Multiplier),
		zap.Float64("volume", event.CurrentVolume))
}

// refreshLatest pushes the current snapshot set, sorted by quote volume
// descending, to the cache and the broadcaster.
func (p *Pipeline) refreshLatest(ctx context.Context) {
	sorted := make([]domain.InstrumentSnapshot, 0, len(p.latest))
	for _, snap := range p.latest {
		sorted = append(sorted, snap)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].QuoteVolume24h > sorted[j].QuoteVolume24h
	})

	if err := p.cache.SetLatest(ctx, sorted); err != nil {
		p.health.RecordError(err)
		p.log.Warn("latest snapshot cache write failed", zap.Error(err))
	}
	p.broadcaster.Offer(sorted)
}
