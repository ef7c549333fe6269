package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/flashcur/marketpulse/internal/domain"
)

// webhookBody is the document POSTed to a subscriber's webhook URL.
type webhookBody struct {
	AlertID        string    `json:"alert_id"`
	Symbol         string    `json:"symbol"`
	Price          float64   `json:"price"`
	CurrentVolume  float64   `json:"current_volume"`
	BaselineVolume float64   `json:"baseline_volume"`
	Multiplier     float64   `json:"multiplier"`
	DetectedAt     time.Time `json:"detected_at"`
}

// WebhookChannel delivers alerts to each subscriber's own HTTP endpoint.
type WebhookChannel struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewWebhookChannel(timeout time.Duration, log *zap.Logger) *WebhookChannel {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookChannel{
		client:  &http.Client{Timeout: timeout},
		breaker: newBreaker("webhook", log),
	}
}

func (c *WebhookChannel) Name() string { return "webhook" }

func (c *WebhookChannel) Send(ctx context.Context, sub *domain.Subscriber, alert domain.AlertContext) error {
	if sub.WebhookURL == "" {
		return fmt.Errorf("subscriber %s has no webhook url", sub.UserID)
	}

	body, err := json.Marshal(webhookBody{
		AlertID:        alert.AlertID,
		Symbol:         alert.Event.Symbol,
		Price:          alert.Event.Price,
		CurrentVolume:  alert.Event.CurrentVolume,
		BaselineVolume: alert.Event.BaselineVolume,
		Multiplier:     alert.Event.Multiplier,
		DetectedAt:     alert.Event.DetectedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	_, err = c.breaker.Execute(func() (interface{}, error) {
		return nil, c.post(ctx, sub.WebhookURL, body)
	})
	return err
}

func (c *WebhookChannel) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook send failed status=%d body=%s", resp.StatusCode, string(raw))
	}
	return nil
}

var _ domain.Channel = (*WebhookChannel)(nil)
