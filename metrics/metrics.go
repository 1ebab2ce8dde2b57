// Package metrics provides Prometheus collectors for the transcription service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "transcriber"

// TasksSubmitted counts accepted submissions.
var TasksSubmitted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "tasks_submitted_total",
	Help:      "Total transcription tasks accepted.",
})

// TasksRejected counts submissions refused at admission, by reason.
var TasksRejected = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "tasks_rejected_total",
	Help:      "Total submissions rejected at admission.",
}, []string{"reason"})

// TasksCompleted counts tasks that produced a transcript.
var TasksCompleted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "tasks_completed_total",
	Help:      "Total tasks completed successfully.",
})

// TasksFailed counts failed tasks by failure kind.
var TasksFailed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "tasks_failed_total",
	Help:      "Total failed tasks.",
}, []string{"kind"})

// TasksEvicted counts records removed from the registry, by cause.
var TasksEvicted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "tasks_evicted_total",
	Help:      "Total task records removed from memory.",
}, []string{"cause"})

// TasksInFlight tracks pending plus processing tasks.
var TasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "tasks_in_flight",
	Help:      "Number of pending or processing tasks.",
})

// StageDuration tracks how long each pipeline stage takes.
var StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "stage_duration_seconds",
	Help:      "Pipeline stage duration in seconds.",
	Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
}, []string{"stage", "outcome"})

// ModelLoaded is 1 while the shared recognition model is loaded.
var ModelLoaded = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "model_loaded",
	Help:      "Whether the speech recognition model is loaded (1) or not (0).",
})
