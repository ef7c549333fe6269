package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/flashcur/marketpulse/internal/domain"
)

const (
	handshakeTimeout = 10 * time.Second
	pingWriteWait    = 5 * time.Second
)

// streamEnvelope is the combined-stream wrapper: every message names the
// stream it came from and carries the stream payload verbatim.
type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// Client maintains one multiplexed subscription to the exchange's combined
// ticker/mark-price stream and delivers decoded messages on a bounded
// channel, in arrival order. It owns reconnection and liveness.
type Client struct {
	url       string
	heartbeat time.Duration
	policy    RetryPolicy
	dialer    *websocket.Dialer
	msgs      chan domain.FeedMessage
	log       *zap.Logger
}

func NewClient(url string, heartbeat time.Duration, policy RetryPolicy, buffer int, log *zap.Logger) *Client {
	if buffer <= 0 {
		buffer = 256
	}
	return &Client{
		url:       url,
		heartbeat: heartbeat,
		policy:    policy,
		dialer:    &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		msgs:      make(chan domain.FeedMessage, buffer),
		log:       log.With(zap.String("component", "feed")),
	}
}

// Messages is the ordered stream of decoded feed messages. It is closed when
// Run returns.
func (c *Client) Messages() <-chan domain.FeedMessage {
	return c.msgs
}

// Run dials, reads and reconnects until ctx is cancelled or the reconnect
// budget is spent. Exceeding the budget is fatal and reported to the caller;
// it is never silently retried forever.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.msgs)

	sched := c.policy.Schedule()
	var lastErr error

	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			lastErr = err
			delay := sched.NextBackOff()
			if delay == backoff.Stop {
				return fmt.Errorf("%w after %d attempts: %v", domain.ErrReconnectExhausted, c.policy.MaxAttempts, lastErr)
			}
			c.log.Warn("feed dial failed, retrying",
				zap.Error(err),
				zap.Duration("delay", delay))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		// Successful connection resets the attempt counter.
		sched.Reset()
		c.log.Info("feed connected", zap.String("url", c.url))

		err = c.readLoop(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		lastErr = err
		c.log.Warn("feed connection lost", zap.Error(err))
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)

	go c.heartbeatLoop(conn, done)

	// Unblock ReadMessage on shutdown.
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		msg, err := decodeMessage(raw)
		if err != nil {
			// Parse failures are logged and skipped; they never abort
			// the connection.
			c.log.Debug("skipping unparseable feed message", zap.Error(err))
			continue
		}
		if msg == nil {
			continue
		}

		select {
		case c.msgs <- *msg:
		case <-ctx.Done():
			return nil
		}
	}
}

// heartbeatLoop sends a ping probe while connected. A failed probe is only a
// hint; the read loop surfaces the actual error/close event.
func (c *Client) heartbeatLoop(conn *websocket.Conn, done <-chan struct{}) {
	if c.heartbeat <= 0 {
		return
	}
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pingWriteWait)); err != nil {
				c.log.Warn("heartbeat ping failed", zap.Error(err))
				return
			}
		case <-done:
			return
		}
	}
}

// decodeMessage unwraps the combined-stream envelope and decodes the payload
// for the streams we subscribe to. Unknown streams yield (nil, nil).
func decodeMessage(raw []byte) (*domain.FeedMessage, error) {
	var env streamEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch {
	case strings.Contains(env.Stream, "ticker"):
		var tickers []domain.RawTicker
		if err := json.Unmarshal(env.Data, &tickers); err != nil {
			return nil, fmt.Errorf("decode ticker batch: %w", err)
		}
		return &domain.FeedMessage{Kind: domain.MessageTicker, Tickers: tickers}, nil
	case strings.Contains(env.Stream, "markPrice"):
		var marks []domain.RawMarkPrice
		if err := json.Unmarshal(env.Data, &marks); err != nil {
			return nil, fmt.Errorf("decode mark-price batch: %w", err)
		}
		return &domain.FeedMessage{Kind: domain.MessageFunding, MarkPrices: marks}, nil
	default:
		return nil, nil
	}
}
