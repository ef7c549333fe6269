package domain

import "time"

// InstrumentSnapshot is one normalized market-data record for a single
// instrument. Snapshots are immutable once created; Symbol is the natural key.
type InstrumentSnapshot struct {
	Symbol             string    `json:"symbol"`
	Price              float64   `json:"price"`
	QuoteVolume24h     float64   `json:"quote_volume_24h"`
	PriceChangePercent float64   `json:"price_change_percent"`
	FundingRate        float64   `json:"funding_rate"`
	Timestamp          time.Time `json:"timestamp"`
}

// FundingUpdate carries a funding-rate refresh for a symbol. Funding updates
// are merged into the latest snapshot but never feed the volume baseline.
type FundingUpdate struct {
	Symbol      string    `json:"symbol"`
	FundingRate float64   `json:"funding_rate"`
	Timestamp   time.Time `json:"timestamp"`
}

// SpikeEvent is raised when an instrument's quote volume crosses the
// configured multiple of its rolling baseline.
type SpikeEvent struct {
	Symbol         string    `json:"symbol"`
	Price          float64   `json:"price"`
	CurrentVolume  float64   `json:"current_volume"`
	BaselineVolume float64   `json:"baseline_volume"`
	Multiplier     float64   `json:"multiplier"`
	DetectedAt     time.Time `json:"detected_at"`
}

// Instrument is a tracked-instrument registry entry in the persistent store.
type Instrument struct {
	ID        int64     `json:"id"`
	Symbol    string    `json:"symbol"`
	CreatedAt time.Time `json:"created_at"`
}

// AlertRecord is the persisted form of one triggered alert for one
// subscriber. Delivered flips to true exactly once, after the notify fan-out
// has been attempted.
type AlertRecord struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Symbol         string    `json:"symbol"`
	Threshold      float64   `json:"threshold"`
	TriggeredValue float64   `json:"triggered_value"`
	Delivered      bool      `json:"delivered"`
	CreatedAt      time.Time `json:"created_at"`
}

// Preferences are a subscriber's notification channel toggles.
type Preferences struct {
	EmailEnabled   bool `json:"email_enabled"`
	SMSEnabled     bool `json:"sms_enabled"`
	WebhookEnabled bool `json:"webhook_enabled"`
}

// Subscriber is a user watching instruments for volume spikes.
// Symbols empty means "watch everything". MultiplierOverride, when > 0,
// replaces the global spike threshold for this subscriber's alerts.
type Subscriber struct {
	UserID             string      `json:"user_id"`
	Email              string      `json:"email"`
	Phone              string      `json:"phone"`
	WebhookURL         string      `json:"webhook_url"`
	Tier               Tier        `json:"tier"`
	Symbols            []string    `json:"symbols"`
	MultiplierOverride float64     `json:"multiplier_override"`
	Prefs              Preferences `json:"prefs"`
}

// Watches reports whether the subscriber's watch configuration matches the
// given symbol.
func (s *Subscriber) Watches(symbol string) bool {
	if len(s.Symbols) == 0 {
		return true
	}
	for _, w := range s.Symbols {
		if w == symbol {
			return true
		}
	}
	return false
}

// AlertContext is everything a notification channel needs to render one alert.
type AlertContext struct {
	AlertID string     `json:"alert_id"`
	Event   SpikeEvent `json:"event"`
}
