// Copyright 2025 Veralex
// SPDX-License-Identifier: BUSL-1.1

package job

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for the job orchestrator
var (
	promJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veralex_jobs_total",
			Help: "Total jobs by terminal status",
		},
		[]string{"status"},
	)
	promStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "veralex_stage_duration_seconds",
			Help:    "Stage execution duration in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage_type"},
	)
	promInsufficientFunds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "veralex_job_rejections_insufficient_funds_total",
			Help: "Job submissions rejected for insufficient funds",
		},
	)
	promLimitBreaches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "veralex_job_usage_limit_breaches_total",
			Help: "Jobs stopped by the usage hard limit",
		},
	)
	promResumes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "veralex_job_resumes_total",
			Help: "Resume operations accepted",
		},
	)
)

func init() {
	prometheus.MustRegister(promJobsTotal)
	prometheus.MustRegister(promStageDuration)
	prometheus.MustRegister(promInsufficientFunds)
	prometheus.MustRegister(promLimitBreaches)
	prometheus.MustRegister(promResumes)
}
