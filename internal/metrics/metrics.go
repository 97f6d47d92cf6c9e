package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counters
	JobsSubmittedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "panelcast_jobs_submitted_total",
			Help: "Total number of story jobs accepted",
		},
	)

	JobsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panelcast_jobs_finished_total",
			Help: "Total number of story jobs that reached a terminal status",
		},
		[]string{"status"}, // completed, completed_with_errors, failed
	)

	JobsAbandonedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "panelcast_jobs_abandoned_total",
			Help: "Total number of jobs abandoned before all panels resolved",
		},
	)

	PanelsResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panelcast_panels_resolved_total",
			Help: "Total number of panels resolved by the asset pipeline",
		},
		[]string{"status"}, // ready, degraded
	)

	RetrySignalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panelcast_retry_signals_total",
			Help: "Attempt-level outcomes emitted by the retry engine",
		},
		[]string{"operation", "signal"}, // signal: retrying, rate_limited, fallback_engaged, degraded
	)

	EventsAppendedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panelcast_events_appended_total",
			Help: "Total number of progress events appended",
		},
		[]string{"type"},
	)

	// Gauges
	PanelsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "panelcast_panels_in_flight",
			Help: "Panels currently admitted by the concurrency limiter",
		},
	)

	Subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "panelcast_subscribers",
			Help: "Open room subscriptions",
		},
	)

	// Histograms
	// Buckets: 250ms doubling up to ~68 minutes
	PanelDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "panelcast_panel_duration_seconds",
			Help:    "Wall time from admission to resolution of one panel",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 15),
		},
		[]string{"status"},
	)

	ScriptDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "panelcast_script_duration_seconds",
			Help:    "Wall time of the script generation stage",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
		},
	)
)
