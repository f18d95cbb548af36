// Package metrics exposes worker counters in Prometheus format.
package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ppe-safety-worker/internal/models"
)

// Metrics holds the capture and alerting counters
type Metrics struct {
	// Frame processing counters
	FramesProcessed  atomic.Uint64
	ProcessLatencyMs atomic.Uint64 // last frame, in ms

	// Session state, 1 while RUNNING
	CaptureRunning atomic.Uint64

	framesSkipped   *prometheus.CounterVec
	detectorErrors  *prometheus.CounterVec
	sessionChanges  *prometheus.CounterVec
	alertsQueued    *prometheus.CounterVec
	alertsDropped   *prometheus.CounterVec
	alertDeliveries *prometheus.CounterVec
	frameDuration   prometheus.Histogram
	overallStatus   *prometheus.GaugeVec

	registry *prometheus.Registry
}

// New creates a Metrics instance backed by its own registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "ppe_frames_processed_total",
			Help: "Total frames that completed the detection pipeline",
		},
		func() float64 { return float64(m.FramesProcessed.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "ppe_process_latency_ms",
			Help: "Processing time of the last frame in milliseconds",
		},
		func() float64 { return float64(m.ProcessLatencyMs.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "ppe_capture_running",
			Help: "Capture session running (0=no, 1=yes)",
		},
		func() float64 { return float64(m.CaptureRunning.Load()) },
	))

	m.frameDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ppe_frame_duration_seconds",
		Help:    "Time spent processing one frame",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	m.framesSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ppe_frames_skipped_total",
		Help: "Frames abandoned before publishing, by reason",
	}, []string{"reason"})

	m.detectorErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ppe_detector_errors_total",
		Help: "Detector calls that failed or returned malformed output",
	}, []string{"detector", "kind"})

	m.sessionChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ppe_session_transitions_total",
		Help: "Capture session state transitions",
	}, []string{"state"})

	m.alertsQueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ppe_alerts_queued_total",
		Help: "Events accepted by the alert dispatcher",
	}, []string{"kind"})

	m.alertsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ppe_alerts_dropped_total",
		Help: "Events dropped because the delivery queue was full",
	}, []string{"kind"})

	m.alertDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ppe_alert_deliveries_total",
		Help: "Delivery attempts per transport and outcome",
	}, []string{"kind", "transport", "result"})

	m.overallStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ppe_overall_status",
		Help: "1 for the current overall compliance status, 0 otherwise",
	}, []string{"status"})

	m.registry.MustRegister(
		m.frameDuration,
		m.framesSkipped,
		m.detectorErrors,
		m.sessionChanges,
		m.alertsQueued,
		m.alertsDropped,
		m.alertDeliveries,
		m.overallStatus,
	)
}

// FrameProcessed records a completed frame
func (m *Metrics) FrameProcessed(d time.Duration) {
	m.FramesProcessed.Add(1)
	m.ProcessLatencyMs.Store(uint64(d.Milliseconds()))
	m.frameDuration.Observe(d.Seconds())
}

// FrameSkipped records a frame abandoned mid pipeline
func (m *Metrics) FrameSkipped(reason string) {
	m.framesSkipped.WithLabelValues(reason).Inc()
}

// DetectorError records a failed detector call
func (m *Metrics) DetectorError(detector string, err error) {
	kind := "failure"
	if errors.Is(err, models.ErrInvalidDetectionFormat) {
		kind = "invalid_format"
	}
	m.detectorErrors.WithLabelValues(detector, kind).Inc()
}

// SessionChanged records a capture session transition
func (m *Metrics) SessionChanged(state models.SessionState) {
	if state == models.SessionRunning {
		m.CaptureRunning.Store(1)
	} else {
		m.CaptureRunning.Store(0)
	}
	m.sessionChanges.WithLabelValues(state.String()).Inc()
}

// StatusChanged sets the overall status gauge
func (m *Metrics) StatusChanged(status models.OverallStatus) {
	for _, s := range []models.OverallStatus{models.OverallUnknown, models.OverallSafe, models.OverallUnsafe, models.OverallNoPerson} {
		v := 0.0
		if s == status {
			v = 1
		}
		m.overallStatus.WithLabelValues(string(s)).Set(v)
	}
}

// AlertQueued records an event accepted for delivery
func (m *Metrics) AlertQueued(kind models.EventKind) {
	m.alertsQueued.WithLabelValues(string(kind)).Inc()
}

// AlertDropped records an event lost to a full queue
func (m *Metrics) AlertDropped(kind models.EventKind) {
	m.alertsDropped.WithLabelValues(string(kind)).Inc()
}

// AlertDelivered records one transport attempt
func (m *Metrics) AlertDelivered(kind models.EventKind, transport string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.alertDeliveries.WithLabelValues(string(kind), transport, result).Inc()
}

// RegisterGaugeFunc exposes an externally owned value, such as the number
// of stream subscribers
func (m *Metrics) RegisterGaugeFunc(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn))
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
