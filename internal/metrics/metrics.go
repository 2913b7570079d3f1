package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ArchivesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimrodsync_archives_fetched_total",
			Help: "Archives downloaded from the remote source",
		},
		[]string{"status"},
	)

	FetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nimrodsync_fetch_duration_seconds",
			Help:    "Time to download one archive, including retries",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	RemoteRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimrodsync_remote_retries_total",
			Help: "Retried remote operations",
		},
		[]string{"operation"},
	)

	Reconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nimrodsync_reconnects_total",
			Help: "Forced reconnects of the shared remote session",
		},
	)

	JobsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nimrodsync_jobs_pending",
			Help: "Archive jobs queued or running",
		},
	)

	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimrodsync_jobs_total",
			Help: "Archive jobs finished, by terminal state",
		},
		[]string{"state"},
	)

	JobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nimrodsync_job_duration_seconds",
			Help:    "Archive job latency from submission to completion",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
	)

	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimrodsync_frames_total",
			Help: "Composite files processed inside archives",
		},
		[]string{"status"},
	)
)
