package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FeedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketpulse_feed_messages_total",
		Help: "Feed messages consumed by the ingestion pipeline, by kind",
	}, []string{"kind"})

	SnapshotsNormalized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketpulse_snapshots_normalized_total",
		Help: "Snapshots that passed the tracked-instrument filter",
	})

	SpikesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketpulse_spikes_detected_total",
		Help: "Volume spike events raised by the detector",
	})

	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketpulse_jobs_processed_total",
		Help: "Queue jobs finished by the worker pool, by kind and outcome",
	}, []string{"kind", "outcome"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketpulse_notifications_total",
		Help: "Notification channel attempts, by channel and outcome",
	}, []string{"channel", "outcome"})

	Broadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketpulse_broadcasts_total",
		Help: "Snapshot set publishes, by tier",
	}, []string{"tier"})

	IngestLag = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketpulse_feed_buffer_depth",
		Help: "Messages waiting in the feed channel",
	})
)
