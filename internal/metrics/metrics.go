// Package metrics exposes run counters and stage timings on a private
// prometheus registry that can be written out for the node_exporter textfile
// collector.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "spectramerge"

// Recorder collects metrics for one process. A nil *Recorder discards
// observations.
type Recorder struct {
	registry *prometheus.Registry
	emitted  prometheus.Counter
	bytes    prometheus.Counter
	excluded *prometheus.CounterVec
	stages   *prometheus.HistogramVec
	runs     *prometheus.CounterVec
}

// New constructs a Recorder with its own registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		emitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_emitted_total",
			Help:      "Per-transcript tables written.",
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "Bytes of CSV written to the output sink.",
		}),
		excluded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_excluded_total",
			Help:      "Samples left out of the join, by reason.",
		}, []string{"reason"}),
		stages: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of run stages.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"stage", "result"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed runs, by status.",
		}, []string{"status"}),
	}
	r.registry.MustRegister(r.emitted, r.bytes, r.excluded, r.stages, r.runs)
	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Observe records the duration of one stage.
func (r *Recorder) Observe(stage string, success bool, d time.Duration) {
	if r == nil {
		return
	}
	result := "success"
	if !success {
		result = "error"
	}
	r.stages.WithLabelValues(stage, result).Observe(d.Seconds())
}

// Emitted counts one written table of size bytes.
func (r *Recorder) Emitted(size int64) {
	if r == nil {
		return
	}
	r.emitted.Inc()
	if size > 0 {
		r.bytes.Add(float64(size))
	}
}

// Excluded adds n samples excluded for reason.
func (r *Recorder) Excluded(reason string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.excluded.WithLabelValues(reason).Add(float64(n))
}

// RunFinished counts a completed run.
func (r *Recorder) RunFinished(status string) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(status).Inc()
}

// WriteTextfile writes the registry to path in the text exposition format.
// The file is replaced atomically.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
