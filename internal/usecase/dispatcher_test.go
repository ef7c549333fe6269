package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/flashcur/marketpulse/internal/domain"
	"github.com/flashcur/marketpulse/internal/infrastructure/queue"
	"github.com/flashcur/marketpulse/internal/infrastructure/storage"
)

type fakeChannel struct {
	name string
	fail bool

	mu   sync.Mutex
	sent []domain.AlertContext
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Send(ctx context.Context, sub *domain.Subscriber, alert domain.AlertContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return fmt.Errorf("%s provider down", c.name)
	}
	c.sent = append(c.sent, alert)
	return nil
}

func (c *fakeChannel) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func testEvent(symbol string, multiplier float64) domain.SpikeEvent {
	return domain.SpikeEvent{
		Symbol:         symbol,
		Price:          64000,
		CurrentVolume:  multiplier * 1_000_000,
		BaselineVolume: 1_000_000,
		Multiplier:     multiplier,
		DetectedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func spikeJob(t *testing.T, event domain.SpikeEvent) *domain.Job {
	t.Helper()
	payload, err := json.Marshal(domain.DetectSpikePayload{Event: event})
	if err != nil {
		t.Fatal(err)
	}
	return &domain.Job{ID: "j-1", Kind: domain.JobDetectSpike, Payload: payload, MaxAttempts: 5}
}

func notifyJob(t *testing.T, alertID, userID string, event domain.SpikeEvent) *domain.Job {
	t.Helper()
	payload, err := json.Marshal(domain.NotifyPayload{AlertID: alertID, UserID: userID, Event: event})
	if err != nil {
		t.Fatal(err)
	}
	return &domain.Job{ID: "j-2", Kind: domain.JobNotify, Payload: payload, MaxAttempts: 5}
}

func testQueueOpts() queue.Options {
	return queue.Options{Lease: time.Minute, MaxAttempts: 5, RetryBase: time.Millisecond}
}

func TestHandleDetectSpike_FansOutToWatchingSubscribers(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	q := queue.NewMemoryQueue(testQueueOpts())

	store.UpsertSubscriber(ctx, &domain.Subscriber{UserID: "btc-watcher", Symbols: []string{"BTCUSDT"}})
	store.UpsertSubscriber(ctx, &domain.Subscriber{UserID: "watch-all"})
	store.UpsertSubscriber(ctx, &domain.Subscriber{UserID: "eth-only", Symbols: []string{"ETHUSDT"}})

	d := NewDispatcher(store, q, nil, 3.0, zap.NewNop())
	if err := d.HandleDetectSpike(ctx, spikeJob(t, testEvent("BTCUSDT", 3.4))); err != nil {
		t.Fatal(err)
	}

	alerts := store.Alerts()
	if len(alerts) != 2 {
		t.Fatalf("alerts = %d, want 2", len(alerts))
	}
	for _, alert := range alerts {
		if alert.Delivered {
			t.Fatalf("alert %s delivered before notify ran", alert.ID)
		}
		if alert.Threshold != 3.0 || alert.TriggeredValue != 3.4 {
			t.Fatalf("unexpected alert: %+v", alert)
		}
	}

	jobs := q.All(domain.JobNotify)
	if len(jobs) != 2 {
		t.Fatalf("notify jobs = %d, want 2", len(jobs))
	}
}

func TestHandleDetectSpike_MultiplierOverride(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	q := queue.NewMemoryQueue(testQueueOpts())

	// 3.4x spike: the 4.0 override filters this subscriber out, the 3.2
	// override lets the other through with their own threshold recorded.
	store.UpsertSubscriber(ctx, &domain.Subscriber{UserID: "strict", MultiplierOverride: 4.0})
	store.UpsertSubscriber(ctx, &domain.Subscriber{UserID: "loose", MultiplierOverride: 3.2})

	d := NewDispatcher(store, q, nil, 3.0, zap.NewNop())
	if err := d.HandleDetectSpike(ctx, spikeJob(t, testEvent("BTCUSDT", 3.4))); err != nil {
		t.Fatal(err)
	}

	alerts := store.Alerts()
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}
	if alerts[0].UserID != "loose" || alerts[0].Threshold != 3.2 {
		t.Fatalf("unexpected alert: %+v", alerts[0])
	}
}

func TestHandleDetectSpike_RegistersInstrument(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	q := queue.NewMemoryQueue(testQueueOpts())

	d := NewDispatcher(store, q, nil, 3.0, zap.NewNop())
	if err := d.HandleDetectSpike(ctx, spikeJob(t, testEvent("SOLUSDT", 5.0))); err != nil {
		t.Fatal(err)
	}

	inst, err := store.FindOrCreateInstrument(ctx, "SOLUSDT")
	if err != nil {
		t.Fatal(err)
	}
	if inst.ID == 0 {
		t.Fatal("instrument was not registered")
	}
}

func TestHandleDetectSpike_MalformedPayload(t *testing.T) {
	d := NewDispatcher(storage.NewMemoryStore(), queue.NewMemoryQueue(testQueueOpts()), nil, 3.0, zap.NewNop())

	job := &domain.Job{ID: "j-1", Kind: domain.JobDetectSpike, Payload: []byte("not json")}
	if err := d.HandleDetectSpike(context.Background(), job); !errors.Is(err, domain.ErrMalformedPayload) {
		t.Fatalf("err = %v, want ErrMalformedPayload", err)
	}
}

func TestHandleNotify_ChannelFailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	store.UpsertSubscriber(ctx, &domain.Subscriber{
		UserID:     "u-1",
		Email:      "u1@example.com",
		Phone:      "+15550100",
		WebhookURL: "https://hooks.example.com/u1",
		Tier:       domain.TierElite,
		Prefs:      domain.Preferences{EmailEnabled: true, SMSEnabled: true, WebhookEnabled: true},
	})
	store.CreateAlert(ctx, &domain.AlertRecord{ID: "a-1", UserID: "u-1", Symbol: "BTCUSDT"})

	email := &fakeChannel{name: "email"}
	sms := &fakeChannel{name: "sms", fail: true}
	webhook := &fakeChannel{name: "webhook"}

	d := NewDispatcher(store, queue.NewMemoryQueue(testQueueOpts()), []domain.Channel{email, sms, webhook}, 3.0, zap.NewNop())
	if err := d.HandleNotify(ctx, notifyJob(t, "a-1", "u-1", testEvent("BTCUSDT", 3.4))); err != nil {
		t.Fatal(err)
	}

	if email.sentCount() != 1 || webhook.sentCount() != 1 {
		t.Fatalf("email=%d webhook=%d, want 1 each", email.sentCount(), webhook.sentCount())
	}

	alert, _ := store.Alert(ctx, "a-1")
	if !alert.Delivered {
		t.Fatal("alert must be marked delivered after the attempt, failed channel included")
	}
}

func TestHandleNotify_TierGatesChannels(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	// Free tier with everything switched on: only email is an entitlement.
	store.UpsertSubscriber(ctx, &domain.Subscriber{
		UserID:     "u-free",
		Email:      "free@example.com",
		Phone:      "+15550100",
		WebhookURL: "https://hooks.example.com/free",
		Tier:       domain.TierFree,
		Prefs:      domain.Preferences{EmailEnabled: true, SMSEnabled: true, WebhookEnabled: true},
	})
	store.CreateAlert(ctx, &domain.AlertRecord{ID: "a-1", UserID: "u-free", Symbol: "BTCUSDT"})

	email := &fakeChannel{name: "email"}
	sms := &fakeChannel{name: "sms"}
	webhook := &fakeChannel{name: "webhook"}

	d := NewDispatcher(store, queue.NewMemoryQueue(testQueueOpts()), []domain.Channel{email, sms, webhook}, 3.0, zap.NewNop())
	if err := d.HandleNotify(ctx, notifyJob(t, "a-1", "u-free", testEvent("BTCUSDT", 3.4))); err != nil {
		t.Fatal(err)
	}

	if email.sentCount() != 1 {
		t.Fatalf("email sends = %d, want 1", email.sentCount())
	}
	if sms.sentCount() != 0 || webhook.sentCount() != 0 {
		t.Fatalf("sms=%d webhook=%d, want 0 each for free tier", sms.sentCount(), webhook.sentCount())
	}
}

func TestHandleNotify_ZeroChannelsStillDelivers(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	store.UpsertSubscriber(ctx, &domain.Subscriber{UserID: "u-quiet", Tier: domain.TierPro})
	store.CreateAlert(ctx, &domain.AlertRecord{ID: "a-1", UserID: "u-quiet", Symbol: "BTCUSDT"})

	d := NewDispatcher(store, queue.NewMemoryQueue(testQueueOpts()), nil, 3.0, zap.NewNop())
	if err := d.HandleNotify(ctx, notifyJob(t, "a-1", "u-quiet", testEvent("BTCUSDT", 3.4))); err != nil {
		t.Fatal(err)
	}

	alert, _ := store.Alert(ctx, "a-1")
	if !alert.Delivered {
		t.Fatal("no configured channels is a valid no-op delivery")
	}
}

func TestHandleNotify_UnknownSubscriberIsStructural(t *testing.T) {
	d := NewDispatcher(storage.NewMemoryStore(), queue.NewMemoryQueue(testQueueOpts()), nil, 3.0, zap.NewNop())

	err := d.HandleNotify(context.Background(), notifyJob(t, "a-1", "ghost", testEvent("BTCUSDT", 3.4)))
	if !errors.Is(err, domain.ErrMalformedPayload) {
		t.Fatalf("err = %v, want ErrMalformedPayload", err)
	}
}
