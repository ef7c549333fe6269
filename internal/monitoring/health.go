package monitoring

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"time"
)

// Health tracks the engine heartbeat and last error for external monitoring.
// Both are side-channel writes; they are not part of the data flow.
type Health struct {
	mu        sync.Mutex
	startedAt time.Time
	heartbeat time.Time
	lastError string

	timeNow func() time.Time // For testing
}

func NewHealth() *Health {
	h := &Health{timeNow: time.Now}
	h.startedAt = h.timeNow()
	return h
}

// Beat records that the pipeline made progress.
func (h *Health) Beat() {
	h.mu.Lock()
	h.heartbeat = h.timeNow()
	h.mu.Unlock()
}

// RecordError keeps the most recent error string for the health surface.
func (h *Health) RecordError(err error) {
	if err == nil {
		return
	}
	h.mu.Lock()
	h.lastError = err.Error()
	h.mu.Unlock()
}

type healthStatus struct {
	Status     string    `json:"status"`
	Uptime     string    `json:"uptime"`
	Heartbeat  time.Time `json:"heartbeat"`
	LastError  string    `json:"last_error,omitempty"`
	Goroutines int       `json:"goroutines"`
}

// Handler serves the health document. Status degrades when the heartbeat is
// older than the given threshold.
func (h *Health) Handler(staleAfter time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		status := healthStatus{
			Status:     "ok",
			Uptime:     h.timeNow().Sub(h.startedAt).String(),
			Heartbeat:  h.heartbeat,
			LastError:  h.lastError,
			Goroutines: runtime.NumGoroutine(),
		}
		if h.heartbeat.IsZero() || h.timeNow().Sub(h.heartbeat) > staleAfter {
			status.Status = "stale"
		}
		h.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	}
}
