package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/flashcur/marketpulse/internal/domain"
)

// SMSChannel delivers alerts as text messages through the Twilio REST API.
type SMSChannel struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker
}

func NewSMSChannel(accountSID, authToken, from, baseURL string, log *zap.Logger) *SMSChannel {
	if baseURL == "" {
		baseURL = "https://api.twilio.com"
	}
	return &SMSChannel{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: 10 * time.Second},
		breaker:    newBreaker("sms", log),
	}
}

func (c *SMSChannel) Name() string { return "sms" }

func (c *SMSChannel) Send(ctx context.Context, sub *domain.Subscriber, alert domain.AlertContext) error {
	if c.accountSID == "" || c.authToken == "" {
		return fmt.Errorf("sms credentials missing")
	}
	if sub.Phone == "" {
		return fmt.Errorf("subscriber %s has no phone number", sub.UserID)
	}

	e := alert.Event
	form := url.Values{}
	form.Set("From", c.from)
	form.Set("To", sub.Phone)
	form.Set("Body", fmt.Sprintf("%s volume spike: %.2fx baseline, 24h volume %.0f",
		e.Symbol, e.Multiplier, e.CurrentVolume))

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.post(ctx, form)
	})
	return err
}

func (c *SMSChannel) post(ctx context.Context, form url.Values) error {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, c.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send sms request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sms send failed status=%d body=%s", resp.StatusCode, string(raw))
	}
	return nil
}

var _ domain.Channel = (*SMSChannel)(nil)
