package imagejobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fiction_image_jobs_finished_total",
			Help: "Total number of image jobs that reached a terminal status.",
		},
		[]string{"mode", "status"},
	)
	jobAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fiction_image_job_attempts_total",
			Help: "Total number of generation attempts, partitioned by outcome.",
		},
		[]string{"mode", "outcome"}, // "success", "error", "timeout"
	)
	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fiction_image_job_duration_seconds",
		Help:    "Time from request to terminal status.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
	}, []string{"mode"})
	activeJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fiction_image_jobs_active",
		Help: "Number of image jobs not yet finished.",
	})
)

// Metrics снимок состояния реестра задач.
type Metrics struct {
	ActiveJobs         int            `json:"active_jobs"`
	CompletedJobs      int            `json:"completed_jobs"`
	StatusDistribution map[Status]int `json:"status_distribution"`
}
