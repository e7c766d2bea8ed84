// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// MP42PNG - 视频抽帧与打包工具

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mp42png_jobs_total",
		Help: "Total number of finished jobs, by kind and state",
	}, []string{"kind", "state"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mp42png_job_duration_seconds",
		Help:    "Duration of conversion and export jobs",
		Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"kind"})

	ActiveJobs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mp42png_active_jobs",
		Help: "Number of jobs currently running",
	}, []string{"kind"})

	FramesExtractedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mp42png_frames_extracted_total",
		Help: "Total number of frames listed by successful conversions",
	})

	ArchivedBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mp42png_archived_bytes_total",
		Help: "Total number of uncompressed bytes written into archives",
	})

	ProgressEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mp42png_progress_events_total",
		Help: "Total number of progress events published, by stream",
	}, []string{"stream"})

	ProgressEventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mp42png_progress_events_dropped_total",
		Help: "Total number of progress deliveries skipped for slow subscribers",
	}, []string{"stream"})
)

// JobStarted marks a job of kind as running
func JobStarted(kind string) {
	ActiveJobs.WithLabelValues(kind).Inc()
}

// JobFinished records the end of a job started with JobStarted
func JobFinished(kind, state string, frames int, bytes int64, d time.Duration) {
	ActiveJobs.WithLabelValues(kind).Dec()
	JobsTotal.WithLabelValues(kind, state).Inc()
	JobDuration.WithLabelValues(kind).Observe(d.Seconds())
	if frames > 0 && kind == "convert" {
		FramesExtractedTotal.Add(float64(frames))
	}
	if bytes > 0 {
		ArchivedBytesTotal.Add(float64(bytes))
	}
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
