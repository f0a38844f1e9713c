// Package metrics exposes prometheus instrumentation for the annotation
// pipeline. Metrics are served by the ops server on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "annotation_jobs_completed_total",
			Help: "Annotation jobs run to completion, by annotation type.",
		},
		[]string{"annotation_type"},
	)

	JobRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "annotation_job_retries_total",
			Help: "Dispatch retries, by annotation type and cause.",
		},
		[]string{"annotation_type", "cause"},
	)

	ValidationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "annotation_validation_failures_total",
			Help: "Malformed prediction service responses, by annotation type.",
		},
		[]string{"annotation_type"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "annotation_job_duration_seconds",
			Help:    "End-to-end annotation job duration.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"annotation_type"},
	)
)
