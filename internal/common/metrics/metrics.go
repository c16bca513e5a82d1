// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)
)

var (
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfq_dispatch_total",
			Help: "Dispatch attempts by outcome (ok or error code)",
		},
		[]string{"outcome"},
	)

	EndpointRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfq_endpoint_requests_total",
			Help: "RFQ posts to vendor endpoints by category and outcome",
		},
		[]string{"service", "outcome"},
	)

	EndpointDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rfq_endpoint_duration_seconds",
			Help:    "Latency of RFQ posts to vendor endpoints",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2, 5},
		},
		[]string{"service"},
	)

	BidsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfq_bids_total",
			Help: "Bid submissions by category and outcome (accepted or error code)",
		},
		[]string{"service", "outcome"},
	)

	SessionsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rfq_sessions_completed_total",
			Help: "Sessions that received a bid for every dispatched category",
		},
	)
)
