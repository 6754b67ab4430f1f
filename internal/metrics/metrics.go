package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vehiclestats/internal/model"
)

// Metrics holds all application metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	runs            *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	activeRuns      prometheus.Gauge
	framesProcessed prometheus.Counter
	detections      *prometheus.CounterVec
	storeErrors     *prometheus.CounterVec
	progressClients prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance backed by a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vehiclestats_runs_total",
			Help: "Detection runs by media kind and outcome",
		}, []string{"kind", "outcome"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vehiclestats_run_duration_seconds",
			Help:    "Wall time of one detection run",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"kind"}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vehiclestats_active_runs",
			Help: "Runs currently holding a pipeline",
		}),
		framesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vehiclestats_frames_processed_total",
			Help: "Frames detected, annotated and written",
		}),
		detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vehiclestats_detections_total",
			Help: "Vehicle detections per category",
		}, []string{"category"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vehiclestats_store_errors_total",
			Help: "Statistics store failures by operation",
		}, []string{"operation"}),
		progressClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vehiclestats_progress_clients",
			Help: "Connected progress websocket clients",
		}),
	}

	m.registry.MustRegister(
		m.runs,
		m.runDuration,
		m.activeRuns,
		m.framesProcessed,
		m.detections,
		m.storeErrors,
		m.progressClients,
	)
	return m
}

// RunStarted marks a run as holding a pipeline and returns the function that
// records its end.
func (m *Metrics) RunStarted(kind string) func(outcome string) {
	if m == nil {
		return func(string) {}
	}
	start := time.Now()
	m.activeRuns.Inc()
	return func(outcome string) {
		m.activeRuns.Dec()
		m.runs.WithLabelValues(kind, outcome).Inc()
		m.runDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}
}

// FrameProcessed records one written frame and its per-category counts.
func (m *Metrics) FrameProcessed(counts model.Counts) {
	if m == nil {
		return
	}
	m.framesProcessed.Inc()
	for _, category := range model.Categories() {
		if n := counts.Get(category); n > 0 {
			m.detections.WithLabelValues(category.String()).Add(float64(n))
		}
	}
}

func (m *Metrics) StoreError(operation string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(operation).Inc()
}

func (m *Metrics) SetProgressClients(n int) {
	if m == nil {
		return
	}
	m.progressClients.Set(float64(n))
}

// Registry exposes the private registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
