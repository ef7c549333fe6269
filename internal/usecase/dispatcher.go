package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flashcur/marketpulse/internal/domain"
	"github.com/flashcur/marketpulse/internal/monitoring"
)

// Dispatcher owns the queue-driven half of an alert's life: fanning a spike
// event out to alert records and notify jobs, then delivering one alert to
// one subscriber across that subscriber's channels.
type Dispatcher struct {
	store     domain.AlertStore
	queue     domain.JobQueue
	channels  []domain.Channel
	threshold float64
	log       *zap.Logger

	newID   func() string
	timeNow func() time.Time // For testing
}

func NewDispatcher(store domain.AlertStore, queue domain.JobQueue, channels []domain.Channel, threshold float64, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:     store,
		queue:     queue,
		channels:  channels,
		threshold: threshold,
		log:       log.With(zap.String("component", "dispatcher")),
		newID:     uuid.NewString,
		timeNow:   time.Now,
	}
}

// HandleDetectSpike creates one undelivered alert record per matching
// subscriber and enqueues a notify job for each. Re-running the job after a
// partial failure can duplicate alerts; at-least-once delivery accepts that.
func (d *Dispatcher) HandleDetectSpike(ctx context.Context, job *domain.Job) error {
	var p domain.DetectSpikePayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if p.Event.Symbol == "" {
		return fmt.Errorf("%w: spike event without symbol", domain.ErrMalformedPayload)
	}

	if _, err := d.store.FindOrCreateInstrument(ctx, p.Event.Symbol); err != nil {
		return fmt.Errorf("register instrument %s: %w", p.Event.Symbol, err)
	}

	subs, err := d.store.SubscribersForSymbol(ctx, p.Event.Symbol)
	if err != nil {
		return fmt.Errorf("load subscribers for %s: %w", p.Event.Symbol, err)
	}

	created := 0
	for _, sub := range subs {
		threshold := d.threshold
		if sub.MultiplierOverride > 0 {
			threshold = sub.MultiplierOverride
		}
		if p.Event.Multiplier < threshold {
			continue
		}

		alert := &domain.AlertRecord{
			ID:             d.newID(),
			UserID:         sub.UserID,
			Symbol:         p.Event.Symbol,
			Threshold:      threshold,
			TriggeredValue: p.Event.Multiplier,
			CreatedAt:      d.timeNow(),
		}
		if err := d.store.CreateAlert(ctx, alert); err != nil {
			return fmt.Errorf("create alert for %s: %w", sub.UserID, err)
		}

		payload, err := json.Marshal(domain.NotifyPayload{
			AlertID: alert.ID,
			UserID:  sub.UserID,
			Event:   p.Event,
		})
		if err != nil {
			return fmt.Errorf("marshal notify payload: %w", err)
		}
		if err := d.queue.Enqueue(ctx, domain.JobNotify, payload); err != nil {
			return fmt.Errorf("enqueue notify for %s: %w", sub.UserID, err)
		}
		created++
	}

	d.log.Info("spike fanned out",
		zap.String("symbol", p.Event.Symbol),
		zap.Float64("multiplier", p.Event.Multiplier),
		zap.Int("alerts", created))
	return nil
}

// HandleNotify delivers one alert to one subscriber. Channels run
// concurrently and a failing channel never blocks the others; the alert is
// marked delivered once the attempt is made, whatever the per-channel
// outcomes were.
func (d *Dispatcher) HandleNotify(ctx context.Context, job *domain.Job) error {
	var p domain.NotifyPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if p.AlertID == "" || p.UserID == "" {
		return fmt.Errorf("%w: notify payload missing alert or user id", domain.ErrMalformedPayload)
	}

	sub, err := d.store.Subscriber(ctx, p.UserID)
	if err != nil {
		return fmt.Errorf("load subscriber %s: %w", p.UserID, err)
	}
	if sub == nil {
		return fmt.Errorf("%w: unknown subscriber %s", domain.ErrMalformedPayload, p.UserID)
	}

	alert := domain.AlertContext{AlertID: p.AlertID, Event: p.Event}

	var wg sync.WaitGroup
	for _, ch := range d.channels {
		if !d.eligible(ch, sub) {
			continue
		}
		wg.Add(1)
		go func(ch domain.Channel) {
			defer wg.Done()
			if err := ch.Send(ctx, sub, alert); err != nil {
				monitoring.Notifications.WithLabelValues(ch.Name(), "error").Inc()
				d.log.Warn("channel send failed",
					zap.String("channel", ch.Name()),
					zap.String("user", sub.UserID),
					zap.String("alert", p.AlertID),
					zap.Error(err))
				return
			}
			monitoring.Notifications.WithLabelValues(ch.Name(), "ok").Inc()
		}(ch)
	}
	wg.Wait()

	if err := d.store.MarkDelivered(ctx, p.AlertID); err != nil {
		return fmt.Errorf("mark alert %s delivered: %w", p.AlertID, err)
	}
	return nil
}

// eligible gates a channel on the subscriber's preferences and tier. SMS is
// an elite entitlement, webhooks start at pro, email is open to all tiers.
func (d *Dispatcher) eligible(ch domain.Channel, sub *domain.Subscriber) bool {
	switch ch.Name() {
	case "email":
		return sub.Prefs.EmailEnabled && sub.Email != ""
	case "webhook":
		return sub.Prefs.WebhookEnabled && sub.Tier >= domain.TierPro && sub.WebhookURL != ""
	case "sms":
		return sub.Prefs.SMSEnabled && sub.Tier >= domain.TierElite && sub.Phone != ""
	default:
		return false
	}
}
