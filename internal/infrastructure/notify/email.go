package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/flashcur/marketpulse/internal/domain"
)

// EmailChannel delivers alerts through an HTTP mail provider.
type EmailChannel struct {
	endpoint string
	apiKey   string
	from     string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
}

func NewEmailChannel(endpoint, apiKey, from string, log *zap.Logger) *EmailChannel {
	return &EmailChannel{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		from:     from,
		client:   &http.Client{Timeout: 10 * time.Second},
		breaker:  newBreaker("email", log),
	}
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Send(ctx context.Context, sub *domain.Subscriber, alert domain.AlertContext) error {
	if c.endpoint == "" {
		return fmt.Errorf("email endpoint not configured")
	}
	if sub.Email == "" {
		return fmt.Errorf("subscriber %s has no email address", sub.UserID)
	}

	payload := map[string]string{
		"from":    c.from,
		"to":      sub.Email,
		"subject": fmt.Sprintf("Volume spike: %s at %.1fx baseline", alert.Event.Symbol, alert.Event.Multiplier),
		"text":    renderEmailBody(alert),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email payload: %w", err)
	}

	_, err = c.breaker.Execute(func() (interface{}, error) {
		return nil, c.post(ctx, body)
	})
	return err
}

func (c *EmailChannel) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send email request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("email send failed status=%d body=%s", resp.StatusCode, string(raw))
	}
	return nil
}

func renderEmailBody(alert domain.AlertContext) string {
	e := alert.Event
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("%s volume spike detected\n\n", e.Symbol))
	builder.WriteString(fmt.Sprintf("Price: %.8g\n", e.Price))
	builder.WriteString(fmt.Sprintf("24h quote volume: %.0f\n", e.CurrentVolume))
	builder.WriteString(fmt.Sprintf("Rolling baseline: %.0f\n", e.BaselineVolume))
	builder.WriteString(fmt.Sprintf("Multiplier: %.2fx\n", e.Multiplier))
	builder.WriteString(fmt.Sprintf("Detected: %s\n", e.DetectedAt.UTC().Format(time.RFC3339)))
	return builder.String()
}

var _ domain.Channel = (*EmailChannel)(nil)
