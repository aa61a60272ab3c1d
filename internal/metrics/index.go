// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	indexRebuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "timegate_index_rebuilds_total",
		Help: "Rule index rebuilds by result (success, failed)",
	}, []string{"result"})

	indexRebuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "timegate_index_rebuild_duration_seconds",
		Help:    "Duration of rule index rebuilds including store reads",
		Buckets: prometheus.DefBuckets,
	})

	indexSubjects = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "timegate_index_subjects",
		Help: "Subjects in the live rule index snapshot",
	})

	indexRules = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "timegate_index_rules",
		Help: "Rules in the live rule index snapshot",
	})

	indexSnapshotVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "timegate_index_snapshot_version",
		Help: "Version of the live rule index snapshot",
	})
)

// RecordRebuildSuccess records an installed snapshot.
func RecordRebuildSuccess(d time.Duration, version uint64, subjects, rules int) {
	indexRebuildsTotal.WithLabelValues("success").Inc()
	indexRebuildDuration.Observe(d.Seconds())
	indexSubjects.Set(float64(subjects))
	indexRules.Set(float64(rules))
	indexSnapshotVersion.Set(float64(version))
}

// RecordRebuildFailure records a rebuild that left the previous snapshot live.
func RecordRebuildFailure(d time.Duration) {
	indexRebuildsTotal.WithLabelValues("failed").Inc()
	indexRebuildDuration.Observe(d.Seconds())
}
