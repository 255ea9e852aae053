package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glone_sync_outcomes_total",
			Help: "Total number of provider synchronizations by outcome",
		},
		[]string{"provider", "outcome"},
	)

	SyncFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glone_sync_failed_total",
			Help: "Total number of failed provider synchronizations by error kind",
		},
		[]string{"provider", "kind"},
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "glone_sync_duration_seconds",
			Help:    "Provider synchronization duration in seconds",
			Buckets: []float64{0.1, 0.2, 0.5, 1, 1.5, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"provider"},
	)

	LastSyncStart = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "glone_last_sync_start_timestamp",
			Help: "Unix timestamp of when the last synchronization started",
		},
		[]string{"provider"},
	)

	LastSyncEnd = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "glone_last_sync_end_timestamp",
			Help: "Unix timestamp of when the last synchronization ended",
		},
		[]string{"provider"},
	)

	FetchedObjects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glone_fetched_objects_total",
			Help: "Total number of objects received from remotes",
		},
		[]string{"provider"},
	)

	FetchedBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glone_fetched_bytes_total",
			Help: "Total number of pack bytes written by fetches and clones",
		},
		[]string{"provider"},
	)
)

func SyncStarted(provider string, start time.Time) {
	LastSyncStart.WithLabelValues(provider).Set(float64(start.Unix()))
}

// SyncFinished records an outcome. kind is empty unless the synchronization
// failed.
func SyncFinished(provider, outcome, kind string, start time.Time) {
	SyncOutcomes.WithLabelValues(provider, outcome).Inc()
	if kind != "" {
		SyncFailed.WithLabelValues(provider, kind).Inc()
	}
	SyncDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	LastSyncEnd.WithLabelValues(provider).Set(float64(time.Now().Unix()))
}

func Transferred(provider string, objects, bytes int64) {
	if objects > 0 {
		FetchedObjects.WithLabelValues(provider).Add(float64(objects))
	}
	if bytes > 0 {
		FetchedBytes.WithLabelValues(provider).Add(float64(bytes))
	}
}
