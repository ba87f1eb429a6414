// Package metrics exposes Prometheus collectors for strips, captures and saves.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the booth's collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	composites        *prometheus.CounterVec
	compositeDuration *prometheus.HistogramVec
	frames            *prometheus.CounterVec
	saves             *prometheus.CounterVec
	jobs              *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		composites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "photobooth",
			Name:      "composites_total",
			Help:      "Composites generated, by layout, filter and result.",
		}, []string{"layout", "filter", "result"}),
		compositeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "photobooth",
			Name:      "composite_duration_seconds",
			Help:      "Time to decode, draw and encode one composite.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}, []string{"layout"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "photobooth",
			Name:      "capture_frames_total",
			Help:      "Frame grabs during capture, by result.",
		}, []string{"result"}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "photobooth",
			Name:      "gallery_saves_total",
			Help:      "Gallery saves, by result.",
		}, []string{"result"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "photobooth",
			Name:      "jobs_total",
			Help:      "Batch jobs processed, by type and result.",
		}, []string{"type", "result"}),
	}
	m.Registry.MustRegister(m.composites, m.compositeDuration, m.frames, m.saves, m.jobs)
	return m
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveComposite records one generate call.
func (m *Metrics) ObserveComposite(layout, filter string, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.composites.WithLabelValues(layout, filter, result(err)).Inc()
	if err == nil {
		m.compositeDuration.WithLabelValues(layout).Observe(took.Seconds())
	}
}

// ObserveFrame records a frame grab; ready is false when the source had nothing.
func (m *Metrics) ObserveFrame(ready bool) {
	if m == nil {
		return
	}
	label := "captured"
	if !ready {
		label = "not_ready"
	}
	m.frames.WithLabelValues(label).Inc()
}

// ObserveSave records a gallery save outcome.
func (m *Metrics) ObserveSave(err error) {
	if m == nil {
		return
	}
	m.saves.WithLabelValues(result(err)).Inc()
}

// ObserveJob records a batch job outcome.
func (m *Metrics) ObserveJob(jobType string, err error) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(jobType, result(err)).Inc()
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.Registry)
}
