package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flashcur/marketpulse/internal/domain"
)

func testAlert() domain.AlertContext {
	return domain.AlertContext{
		AlertID: "a-1",
		Event: domain.SpikeEvent{
			Symbol:         "BTCUSDT",
			Price:          64123.5,
			CurrentVolume:  3_200_000,
			BaselineVolume: 1_000_000,
			Multiplier:     3.2,
			DetectedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
	}
}

func TestWebhookChannel_PostsAlertJSON(t *testing.T) {
	var got webhookBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(5*time.Second, zap.NewNop())
	sub := &domain.Subscriber{UserID: "u-1", WebhookURL: srv.URL}

	require.NoError(t, ch.Send(context.Background(), sub, testAlert()))
	require.Equal(t, "a-1", got.AlertID)
	require.Equal(t, "BTCUSDT", got.Symbol)
	require.Equal(t, 3.2, got.Multiplier)
}

func TestWebhookChannel_NonSuccessStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(5*time.Second, zap.NewNop())
	sub := &domain.Subscriber{UserID: "u-1", WebhookURL: srv.URL}

	err := ch.Send(context.Background(), sub, testAlert())
	require.Error(t, err)
	require.Contains(t, err.Error(), "status=502")
}

func TestWebhookChannel_MissingURL(t *testing.T) {
	ch := NewWebhookChannel(5*time.Second, zap.NewNop())
	err := ch.Send(context.Background(), &domain.Subscriber{UserID: "u-1"}, testAlert())
	require.Error(t, err)
}

func TestEmailChannel_SendsThroughProvider(t *testing.T) {
	var payload map[string]string
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ch := NewEmailChannel(srv.URL, "key-123", "alerts@flashcur.io", zap.NewNop())
	sub := &domain.Subscriber{UserID: "u-1", Email: "u1@example.com"}

	require.NoError(t, ch.Send(context.Background(), sub, testAlert()))
	require.Equal(t, "Bearer key-123", auth)
	require.Equal(t, "alerts@flashcur.io", payload["from"])
	require.Equal(t, "u1@example.com", payload["to"])
	require.Contains(t, payload["subject"], "BTCUSDT")
	require.Contains(t, payload["text"], "3.20x")
}

func TestSMSChannel_SendsTwilioForm(t *testing.T) {
	var form url.Values
	var user, pass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ = r.BasicAuth()
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	ch := NewSMSChannel("AC123", "secret", "+15550000", srv.URL, zap.NewNop())
	sub := &domain.Subscriber{UserID: "u-1", Phone: "+15550100"}

	require.NoError(t, ch.Send(context.Background(), sub, testAlert()))
	require.Equal(t, "AC123", user)
	require.Equal(t, "secret", pass)
	require.Equal(t, []string{"+15550100"}, form["To"])
	require.Contains(t, form["Body"][0], "BTCUSDT")
}

func TestSMSChannel_MissingCredentials(t *testing.T) {
	ch := NewSMSChannel("", "", "+15550000", "", zap.NewNop())
	err := ch.Send(context.Background(), &domain.Subscriber{UserID: "u-1", Phone: "+15550100"}, testAlert())
	require.Error(t, err)
}
