// Package metrics defines Prometheus collectors for the detect service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CyclesTotal counts completed evaluation cycles.
	CyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "detect_cycles_total",
		Help: "Total completed rule evaluation cycles",
	})

	// RulesSkipped counts evaluations skipped because the previous cycle
	// for the same rule was still running.
	RulesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "detect_rules_skipped_total",
		Help: "Rule evaluations skipped due to an in-flight cycle",
	})

	// RuleErrors counts failed rule evaluations by stage.
	RuleErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "detect_rule_errors_total",
		Help: "Failed rule evaluations by stage",
	}, []string{"stage"})

	// AlertsEmitted counts alerts published to the bus.
	AlertsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "detect_alerts_emitted_total",
		Help: "Alerts emitted on threshold breach",
	})

	// CounterResets counts reset-query matches that cleared group state.
	CounterResets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "detect_counter_resets_total",
		Help: "Group counters cleared by reset queries",
	})

	// EvalDuration observes per-rule evaluation latency.
	EvalDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "detect_rule_eval_duration_seconds",
		Help:    "Per-rule evaluation duration",
		Buckets: prometheus.DefBuckets,
	})
)
