package usecase

import (
	"strconv"
	"strings"
	"time"

	"github.com/flashcur/marketpulse/internal/domain"
)

// Normalizer converts raw feed batches into canonical snapshots. It is a
// pure transformation: no I/O, deterministic output for a given input.
type Normalizer struct {
	quoteSuffix    string
	minQuoteVolume float64
}

func NewNormalizer(quoteSuffix string, minQuoteVolume float64) *Normalizer {
	return &Normalizer{
		quoteSuffix:    quoteSuffix,
		minQuoteVolume: minQuoteVolume,
	}
}

// NormalizeTicker filters the batch down to the tracked instrument universe:
// symbols with the configured quote suffix and at least the minimum-liquidity
// quote volume. A bad numeric field falls back to zero, never to an error.
func (n *Normalizer) NormalizeTicker(batch []domain.RawTicker) []domain.InstrumentSnapshot {
	snaps := make([]domain.InstrumentSnapshot, 0, len(batch))
	for _, raw := range batch {
		if !strings.HasSuffix(raw.Symbol, n.quoteSuffix) {
			continue
		}

		quoteVolume := parseFloat(raw.QuoteVolume)
		if quoteVolume < n.minQuoteVolume {
			continue
		}

		price := parseFloat(raw.LastPrice)
		changePct := parseFloat(raw.PriceChangePercent)
		if raw.PriceChangePercent == "" {
			// Some feeds omit the derived field; compute it from open/close.
			if open := parseFloat(raw.OpenPrice); open > 0 {
				changePct = (price - open) / open * 100
			}
		}

		snaps = append(snaps, domain.InstrumentSnapshot{
			Symbol:             raw.Symbol,
			Price:              price,
			QuoteVolume24h:     quoteVolume,
			PriceChangePercent: changePct,
			Timestamp:          eventTime(raw.EventTime),
		})
	}
	return snaps
}

// NormalizeFunding extracts funding-rate updates for tracked symbols. Funding
// updates merge into the latest snapshot downstream; they never trigger spike
// evaluation on their own.
func (n *Normalizer) NormalizeFunding(batch []domain.RawMarkPrice) []domain.FundingUpdate {
	updates := make([]domain.FundingUpdate, 0, len(batch))
	for _, raw := range batch {
		if !strings.HasSuffix(raw.Symbol, n.quoteSuffix) {
			continue
		}
		updates = append(updates, domain.FundingUpdate{
			Symbol:      raw.Symbol,
			FundingRate: parseFloat(raw.FundingRate),
			Timestamp:   eventTime(raw.EventTime),
		})
	}
	return updates
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func eventTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(ms).UTC()
}
