// Package telemetry holds the Prometheus collectors shared by the rollup,
// BOM dedup, dependency resolution and sweep jobs.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RollupTotal counts rollup runs by protocol and outcome
	RollupTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pdvd_rollup_total",
		Help: "Total release metrics rollups by protocol and outcome",
	}, []string{"protocol", "outcome"})

	// RollupDuration tracks rollup latency
	RollupDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pdvd_rollup_duration_seconds",
		Help:    "Release metrics rollup duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
	}, []string{"protocol"})

	// SkippedTotal counts inputs dropped from a rollup or gather
	SkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pdvd_rollup_skipped_total",
		Help: "Artifacts, parents, deliverables and source entries skipped during rollup",
	}, []string{"kind"})

	// BomDedupTotal counts BOM ingestions by dedup result
	BomDedupTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pdvd_bom_dedup_total",
		Help: "Total processed BOMs by dedup result",
	}, []string{"result"})

	// PatternErrorsTotal counts dependency patterns that failed to compile
	PatternErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pdvd_dependency_pattern_errors_total",
		Help: "Total invalid dependency patterns skipped during resolution",
	})

	// SweepTotal counts periodic job ticks by job and outcome
	SweepTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pdvd_sweep_total",
		Help: "Total periodic job ticks by job and outcome",
	}, []string{"job", "outcome"})
)

// ObserveRollup records one rollup run.
func ObserveRollup(protocol, outcome string, started time.Time) {
	RollupTotal.WithLabelValues(protocol, outcome).Inc()
	RollupDuration.WithLabelValues(protocol).Observe(time.Since(started).Seconds())
}

// Skipped records an input excluded from a rollup.
func Skipped(kind string) {
	SkippedTotal.WithLabelValues(kind).Inc()
}
