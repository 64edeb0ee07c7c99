package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outfit360_frames_processed_total",
		Help: "Total number of frames processed, by outcome (ok, degraded, failed)",
	}, []string{"outcome"})

	FrameIssuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outfit360_frame_issues_total",
		Help: "Frame issues by error kind",
	}, []string{"kind"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "outfit360_stage_duration_seconds",
		Help:    "Duration of a single pipeline stage on one frame",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"stage"})

	DetectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outfit360_detections_total",
		Help: "Regions detected, by kind (face, body)",
	}, []string{"kind"})

	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "outfit360_batch_duration_seconds",
		Help:    "Duration of a full ProcessFrames batch",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "outfit360_active_workers",
		Help: "Number of frames currently being processed",
	})

	FFmpegDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "outfit360_ffmpeg_duration_seconds",
		Help:    "Duration of ffmpeg invocations, by operation",
		Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120},
	}, []string{"op"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outfit360_http_requests_total",
		Help: "HTTP requests by method, route and status code",
	}, []string{"method", "route", "status"})
)
