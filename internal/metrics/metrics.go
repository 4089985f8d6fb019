// Package metrics exposes the worker's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values shared by the collectors.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"

	OutcomeOutput  = "output"
	OutcomeError   = "error"
	OutcomeStopPod = "stop_pod"
)

var (
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worker_jobs_total",
		Help: "Jobs executed by the worker, by result variant",
	}, []string{"outcome"})

	JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "worker_job_duration_seconds",
		Help:    "Wall-clock handler execution time",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	})

	OversizedResults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worker_oversized_results_total",
		Help: "Results exceeding the soft response size limit",
	})

	ResultSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worker_result_submissions_total",
		Help: "Result deliveries to the control plane",
	}, []string{"status"})

	Heartbeats = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worker_heartbeats_total",
		Help: "Heartbeat pings sent",
	}, []string{"status"})

	Downloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worker_downloads_total",
		Help: "Artifact downloads",
	}, []string{"status"})
)

// StatusLabel maps an error to the success/failure label value.
func StatusLabel(err error) string {
	if err != nil {
		return StatusFailure
	}
	return StatusSuccess
}
