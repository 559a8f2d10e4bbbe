package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"novel-engine/shared/models"
)

const (
	outcomeSuccess   = "success"
	outcomeFallback  = "fallback"
	outcomeCancelled = "cancelled"
)

var (
	stageTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novel_pipeline_stage_total",
			Help: "Total number of pipeline stage runs, partitioned by outcome.",
		},
		[]string{"stage", "outcome"}, // outcome: success, fallback, cancelled
	)

	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "novel_pipeline_stage_duration_seconds",
			Help:    "Duration of pipeline stages including the provider call and parsing.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
		[]string{"stage"},
	)
)

func observeStage(stage models.StageKind, outcome string, started time.Time) {
	stageTotal.WithLabelValues(string(stage), outcome).Inc()
	stageDuration.WithLabelValues(string(stage)).Observe(time.Since(started).Seconds())
}
