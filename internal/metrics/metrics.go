// Package metrics provides Prometheus collectors for the render pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Labels are bounded: outcomes, stage names and cleanup results only.
// No user or content item ids.

var (
	// RenderJobsTotal counts finished render jobs by outcome (done, failed, persist_error).
	RenderJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reels_render_jobs_total",
		Help: "Total number of render jobs finished, by outcome.",
	}, []string{"outcome"})

	// RenderStageDuration observes wall time spent in each orchestrator stage.
	RenderStageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reels_render_stage_duration_seconds",
		Help:    "Time spent in each render stage.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"stage"})

	// RenderDegradationsTotal counts soft failures replaced by a default.
	RenderDegradationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reels_render_degradations_total",
		Help: "Total number of soft failures degraded to a default, by stage.",
	}, []string{"stage"})

	// SourceCleanupTotal counts rush deletion passes by result (cleared, retained).
	SourceCleanupTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reels_source_cleanup_total",
		Help: "Total number of source clip cleanup passes, by result.",
	}, []string{"result"})

	// QueueDepth reports the render queue length sampled by the worker.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reels_render_queue_depth",
		Help: "Number of render jobs waiting in the queue.",
	})
)
