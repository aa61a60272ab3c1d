// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	evaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "timegate_evaluations_total",
		Help: "Total number of restriction evaluations by outcome and reason",
	}, []string{"outcome", "reason"})

	evaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "timegate_evaluation_duration_seconds",
		Help:    "Latency of a single restriction evaluation",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
	})

	usageFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "timegate_usage_failures_total",
		Help: "Usage lookups that failed open, by kind (error, timeout, panic, skipped)",
	}, []string{"kind"})
)

// RecordEvaluation records one evaluation outcome and its latency.
func RecordEvaluation(blocked bool, reason string, d time.Duration) {
	outcome := "allowed"
	if blocked {
		outcome = "blocked"
	}
	evaluationsTotal.WithLabelValues(outcome, normalizeReasonLabel(reason)).Inc()
	evaluationDuration.Observe(d.Seconds())
}

// IncUsageFailure counts a usage provider call that was treated as zero usage.
func IncUsageFailure(kind string) {
	usageFailuresTotal.WithLabelValues(normalizeUsageFailureLabel(kind)).Inc()
}

func normalizeReasonLabel(reason string) string {
	switch r := strings.ToLower(strings.TrimSpace(reason)); r {
	case "subject_unknown", "subject_disabled", "no_active_rule", "within_budget",
		"time_budget_exceeded", "count_budget_exceeded", "evaluation_failed":
		return r
	default:
		return "unknown"
	}
}

func normalizeUsageFailureLabel(kind string) string {
	switch k := strings.ToLower(strings.TrimSpace(kind)); k {
	case "error", "timeout", "panic", "skipped":
		return k
	default:
		return "unknown"
	}
}
