// Package metrics exposes Prometheus collectors for the camera workers.
// All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hotelcctv/internal/pipeline"
)

// Metrics holds all application collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	framesRead      *prometheus.CounterVec
	framesProcessed *prometheus.CounterVec
	readErrors      *prometheus.CounterVec
	reconnects      *prometheus.CounterVec
	detections      *prometheus.CounterVec
	events          *prometheus.CounterVec
	suppressed      *prometheus.CounterVec
	validations     *prometheus.CounterVec
	clipFailures    *prometheus.CounterVec
	processLatency  *prometheus.HistogramVec
	workerStatus    *prometheus.GaugeVec
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.framesRead = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hotelcctv_frames_read_total",
		Help: "Frames read from the camera stream",
	}, []string{"camera"})
	m.framesProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hotelcctv_frames_processed_total",
		Help: "Frames run through the detection engine",
	}, []string{"camera"})
	m.readErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hotelcctv_read_errors_total",
		Help: "Failed stream reads",
	}, []string{"camera"})
	m.reconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hotelcctv_reconnects_total",
		Help: "Stream reconnect attempts",
	}, []string{"camera"})
	m.detections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hotelcctv_detections_total",
		Help: "Confirmed detections before cooldown and validation",
	}, []string{"camera", "type"})
	m.events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hotelcctv_events_total",
		Help: "Persisted events",
	}, []string{"camera", "type"})
	m.suppressed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hotelcctv_events_suppressed_total",
		Help: "Detections dropped by cooldown, validation or clip policy",
	}, []string{"camera", "type", "reason"})
	m.validations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hotelcctv_validations_total",
		Help: "Secondary validation outcomes",
	}, []string{"type", "outcome"})
	m.clipFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hotelcctv_clip_failures_total",
		Help: "Clip transcode failures",
	}, []string{"camera"})
	m.processLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hotelcctv_process_seconds",
		Help:    "Detection engine latency per processed frame",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"camera"})
	m.workerStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hotelcctv_worker_status",
		Help: "1 for the current worker status, 0 otherwise",
	}, []string{"camera", "status"})

	m.registry.MustRegister(
		m.framesRead, m.framesProcessed, m.readErrors, m.reconnects,
		m.detections, m.events, m.suppressed, m.validations, m.clipFailures,
		m.processLatency, m.workerStatus,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RegisterGaugeFunc exposes a value computed on scrape
func (m *Metrics) RegisterGaugeFunc(name, help string, fn func() float64) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn))
}

func (m *Metrics) FrameRead(camera string) {
	if m != nil {
		m.framesRead.WithLabelValues(camera).Inc()
	}
}

func (m *Metrics) ReadError(camera string) {
	if m != nil {
		m.readErrors.WithLabelValues(camera).Inc()
	}
}

func (m *Metrics) Reconnect(camera string) {
	if m != nil {
		m.reconnects.WithLabelValues(camera).Inc()
	}
}

// FrameProcessed records one engine pass and its latency
func (m *Metrics) FrameProcessed(camera string, d time.Duration) {
	if m != nil {
		m.framesProcessed.WithLabelValues(camera).Inc()
		m.processLatency.WithLabelValues(camera).Observe(d.Seconds())
	}
}

func (m *Metrics) Detection(camera string, t pipeline.EventType) {
	if m != nil {
		m.detections.WithLabelValues(camera, string(t)).Inc()
	}
}

func (m *Metrics) Event(camera string, t pipeline.EventType) {
	if m != nil {
		m.events.WithLabelValues(camera, string(t)).Inc()
	}
}

// Suppressed counts a detection that did not become an event
func (m *Metrics) Suppressed(camera string, t pipeline.EventType, reason string) {
	if m != nil {
		m.suppressed.WithLabelValues(camera, string(t), reason).Inc()
	}
}

// Validation records accepted, rejected or error outcomes
func (m *Metrics) Validation(t pipeline.EventType, outcome string) {
	if m != nil {
		m.validations.WithLabelValues(string(t), outcome).Inc()
	}
}

func (m *Metrics) ClipFailure(camera string) {
	if m != nil {
		m.clipFailures.WithLabelValues(camera).Inc()
	}
}

var allStatuses = []pipeline.WorkerStatus{
	pipeline.StatusStarting, pipeline.StatusConnecting, pipeline.StatusRunning,
	pipeline.StatusReconnecting, pipeline.StatusStopped, pipeline.StatusError,
}

// WorkerStatus sets the one-hot status gauge for a camera
func (m *Metrics) WorkerStatus(camera string, status pipeline.WorkerStatus) {
	if m == nil {
		return
	}
	for _, s := range allStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		m.workerStatus.WithLabelValues(camera, string(s)).Set(v)
	}
}
