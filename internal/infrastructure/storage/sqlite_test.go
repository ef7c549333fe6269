package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flashcur/marketpulse/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestFindOrCreateInstrument_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.FindOrCreateInstrument(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Equal(t, "BTCUSDT", first.Symbol)

	second, err := store.FindOrCreateInstrument(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	other, err := store.FindOrCreateInstrument(ctx, "ETHUSDT")
	require.NoError(t, err)
	require.NotEqual(t, first.ID, other.ID)
}

func TestInsertSnapshots_Batch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err := store.InsertSnapshots(ctx, []domain.InstrumentSnapshot{
		{Symbol: "BTCUSDT", Price: 64000, QuoteVolume24h: 1_500_000, PriceChangePercent: 1.2, Timestamp: ts},
		{Symbol: "ETHUSDT", Price: 3200, QuoteVolume24h: 900_000, FundingRate: 0.0001, Timestamp: ts},
	})
	require.NoError(t, err)

	require.NoError(t, store.InsertSnapshots(ctx, nil))

	var count int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM snapshots`).Scan(&count))
	require.Equal(t, 2, count)
}

func TestAlertLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	alert := &domain.AlertRecord{
		ID:             "a-1",
		UserID:         "u-1",
		Symbol:         "BTCUSDT",
		Threshold:      3.0,
		TriggeredValue: 3.4,
		CreatedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.CreateAlert(ctx, alert))

	loaded, err := store.Alert(ctx, "a-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.False(t, loaded.Delivered)
	require.Equal(t, 3.4, loaded.TriggeredValue)

	require.NoError(t, store.MarkDelivered(ctx, "a-1"))
	loaded, err = store.Alert(ctx, "a-1")
	require.NoError(t, err)
	require.True(t, loaded.Delivered)

	missing, err := store.Alert(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestListAlerts_NewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a-1", "a-2", "a-3"} {
		require.NoError(t, store.CreateAlert(ctx, &domain.AlertRecord{
			ID: id, UserID: "u-1", Symbol: "BTCUSDT",
			Threshold: 3.0, TriggeredValue: 3.1,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	alerts, err := store.ListAlerts(ctx, "u-1", 2)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	require.Equal(t, "a-3", alerts[0].ID)
	require.Equal(t, "a-2", alerts[1].ID)
}

func TestSubscriberRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sub := &domain.Subscriber{
		UserID:             "u-1",
		Email:              "u1@example.com",
		Phone:              "+15550100",
		WebhookURL:         "https://hooks.example.com/u1",
		Tier:               domain.TierElite,
		Symbols:            []string{"BTCUSDT", "ETHUSDT"},
		MultiplierOverride: 4.5,
		Prefs:              domain.Preferences{EmailEnabled: true, SMSEnabled: true},
	}
	require.NoError(t, store.UpsertSubscriber(ctx, sub))

	loaded, err := store.Subscriber(ctx, "u-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, sub.Symbols, loaded.Symbols)
	require.Equal(t, domain.TierElite, loaded.Tier)
	require.Equal(t, 4.5, loaded.MultiplierOverride)
	require.True(t, loaded.Prefs.SMSEnabled)
	require.False(t, loaded.Prefs.WebhookEnabled)

	// Upsert replaces in place.
	sub.Tier = domain.TierPro
	sub.Symbols = nil
	require.NoError(t, store.UpsertSubscriber(ctx, sub))
	loaded, err = store.Subscriber(ctx, "u-1")
	require.NoError(t, err)
	require.Equal(t, domain.TierPro, loaded.Tier)
	require.Empty(t, loaded.Symbols)

	missing, err := store.Subscriber(ctx, "u-404")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestSubscribersForSymbol_WatchFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertSubscriber(ctx, &domain.Subscriber{
		UserID: "btc-only", Symbols: []string{"BTCUSDT"},
	}))
	require.NoError(t, store.UpsertSubscriber(ctx, &domain.Subscriber{
		UserID: "eth-only", Symbols: []string{"ETHUSDT"},
	}))
	require.NoError(t, store.UpsertSubscriber(ctx, &domain.Subscriber{
		UserID: "watch-all",
	}))

	subs, err := store.SubscribersForSymbol(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, subs, 2)
	require.Equal(t, "btc-only", subs[0].UserID)
	require.Equal(t, "watch-all", subs[1].UserID)
}
