// Package metrics exposes Prometheus collectors for the pipeline service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Intake metrics
	EventsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crowlight_pipeline_events_processed_total",
			Help: "Total raw events consumed from the bus",
		},
	)

	EventsParsedOK = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crowlight_pipeline_events_parsed_ok_total",
			Help: "Events canonicalized by a format detector",
		},
	)

	ParseFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crowlight_pipeline_parse_fallbacks_total",
			Help: "Events stored raw because no detector matched",
		},
	)

	// Error-category counters; labels match DLQ error categories.
	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crowlight_pipeline_errors_total",
			Help: "Errors by category",
		},
		[]string{"category"},
	)

	DLQSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crowlight_pipeline_dlq_sent_total",
			Help: "Entries routed to the dead-letter topic",
		},
	)

	// Detection metrics
	DetectorMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crowlight_pipeline_detector_matches_total",
			Help: "Matches by detector",
		},
		[]string{"parser"},
	)

	CanonicalizeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crowlight_pipeline_canonicalize_duration_seconds",
			Help:    "Duration of event canonicalization in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Writer metrics
	BatchFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crowlight_pipeline_batch_flushes_total",
			Help: "Batch flushes by trigger (size, age, shutdown)",
		},
		[]string{"trigger"},
	)

	BatchFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crowlight_pipeline_batch_flush_duration_seconds",
			Help:    "Duration of batch flushes in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	PendingEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crowlight_pipeline_pending_events",
			Help: "Events accumulated in open batches",
		},
	)

	// Control-plane cache metrics
	ConfigRefreshFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crowlight_pipeline_config_refresh_failures_total",
			Help: "Snapshot refresh failures by table; stale data stays active",
		},
		[]string{"table"},
	)
)
