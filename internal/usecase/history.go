package usecase

import (
	"sync"
	"time"

	"github.com/flashcur/marketpulse/internal/domain"
)

// Baseline is the rolling average quote volume for one symbol. SampleCount
// below two means "not yet eligible for detection" and is not an error.
type Baseline struct {
	AvgVolume   float64
	SampleCount int
}

// History is the short-horizon per-symbol series of snapshots used as the
// statistical baseline. It is owned by the ingestion pipeline: a single
// writer appends, eviction is FIFO once a symbol's window exceeds the cap,
// and entries older than the retention horizon are pruned so baselines do
// not go stale during low-traffic periods.
type History struct {
	windowSize int
	retention  time.Duration

	mu      sync.Mutex
	windows map[string][]domain.InstrumentSnapshot

	timeNow func() time.Time // For testing
}

func NewHistory(windowSize int, retention time.Duration) *History {
	return &History{
		windowSize: windowSize,
		retention:  retention,
		windows:    make(map[string][]domain.InstrumentSnapshot),
		timeNow:    time.Now,
	}
}

// Record appends the snapshot to the symbol's window.
func (h *History) Record(snap domain.InstrumentSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	window := append(h.windows[snap.Symbol], snap)

	// Prune entries past the retention horizon.
	cutoff := h.timeNow().Add(-h.retention)
	valid := window[:0]
	for _, s := range window {
		if s.Timestamp.After(cutoff) {
			valid = append(valid, s)
		}
	}
	window = valid

	// FIFO eviction beyond the window cap.
	if len(window) > h.windowSize {
		window = window[len(window)-h.windowSize:]
	}

	h.windows[snap.Symbol] = window
}

// Baseline returns the arithmetic mean quote volume over the symbol's
// current window.
func (h *History) Baseline(symbol string) Baseline {
	h.mu.Lock()
	defer h.mu.Unlock()

	window := h.windows[symbol]
	if len(window) == 0 {
		return Baseline{}
	}

	var total float64
	for _, s := range window {
		total += s.QuoteVolume24h
	}
	return Baseline{
		AvgVolume:   total / float64(len(window)),
		SampleCount: len(window),
	}
}

// Len reports the current window length for a symbol.
func (h *History) Len(symbol string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.windows[symbol])
}
