package usecase

import (
	"time"

	"github.com/flashcur/marketpulse/internal/domain"
)

// Detector raises a SpikeEvent when an instrument's quote volume crosses the
// configured multiple of its rolling baseline. Evaluation is push-driven:
// once per normalized snapshot, against the window recorded before it.
type Detector struct {
	history   *History
	threshold float64
	minVolume float64

	timeNow func() time.Time // For testing
}

func NewDetector(history *History, threshold, minVolume float64) *Detector {
	return &Detector{
		history:   history,
		threshold: threshold,
		minVolume: minVolume,
		timeNow:   time.Now,
	}
}

// Evaluate computes the volume multiplier for the snapshot. It reports a
// spike only with at least two baseline samples, a multiplier at or above the
// threshold, and current volume at or above the liquidity floor. It mutates
// nothing, so re-evaluating the same snapshot yields the same verdict.
func (d *Detector) Evaluate(snap domain.InstrumentSnapshot) (domain.SpikeEvent, bool) {
	baseline := d.history.Baseline(snap.Symbol)
	if baseline.SampleCount < 2 || baseline.AvgVolume <= 0 {
		return domain.SpikeEvent{}, false
	}
	if snap.QuoteVolume24h < d.minVolume {
		return domain.SpikeEvent{}, false
	}

	multiplier := snap.QuoteVolume24h / baseline.AvgVolume
	if multiplier < d.threshold {
		return domain.SpikeEvent{}, false
	}

	return domain.SpikeEvent{
		Symbol:         snap.Symbol,
		Price:          snap.Price,
		CurrentVolume:  snap.QuoteVolume24h,
		BaselineVolume: baseline.AvgVolume,
		Multiplier:     multiplier,
		DetectedAt:     d.timeNow().UTC(),
	}, true
}
