package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the proximity audio service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry prometheus.Gatherer

	// Session metrics
	SessionsStarted  *prometheus.CounterVec
	SessionsRejected *prometheus.CounterVec
	SessionOutcomes  *prometheus.CounterVec
	SessionDuration  *prometheus.HistogramVec
	ActiveSessions   prometheus.Gauge

	// Transmit metrics
	FramesEmitted    prometheus.Counter
	PlaybackDuration prometheus.Histogram

	// Receive metrics
	BlocksProcessed prometheus.Counter
	SymbolsDetected prometheus.Counter
	FramesDecoded   prometheus.Counter
	DecodeErrors    *prometheus.CounterVec
	BuffersDropped  prometheus.Counter
	FramesStalled   prometheus.Counter

	// Device metrics
	DeviceErrors *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics on a fresh registry that also carries the
// Go runtime and process collectors
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewMetricsWith(reg)
}

// NewMetricsWith creates and registers all metrics on reg
func NewMetricsWith(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// Session metrics
		SessionsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "proximity_sessions_started_total",
			Help: "Total number of sessions started",
		}, []string{"role"}),
		SessionsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "proximity_sessions_rejected_total",
			Help: "Total number of session requests rejected because another session was active",
		}, []string{"role"}),
		SessionOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "proximity_session_outcomes_total",
			Help: "Total number of finished sessions by outcome",
		}, []string{"role", "outcome"}),
		SessionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "proximity_session_duration_seconds",
			Help:    "Duration of sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		}, []string{"role"}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "proximity_active_sessions",
			Help: "Number of active sessions (0 or 1)",
		}),

		// Transmit metrics
		FramesEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "proximity_frames_emitted_total",
			Help: "Total number of frames played to completion",
		}),
		PlaybackDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "proximity_playback_duration_seconds",
			Help:    "Time spent playing frames",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to 32s
		}),

		// Receive metrics
		BlocksProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "proximity_blocks_processed_total",
			Help: "Total number of detection blocks processed",
		}),
		SymbolsDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "proximity_symbols_detected_total",
			Help: "Total number of symbols detected",
		}),
		FramesDecoded: factory.NewCounter(prometheus.CounterOpts{
			Name: "proximity_frames_decoded_total",
			Help: "Total number of frames decoded with a valid checksum",
		}),
		DecodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "proximity_decode_errors_total",
			Help: "Total number of failed frame attempts by kind",
		}, []string{"kind"}),
		BuffersDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "proximity_buffers_dropped_total",
			Help: "Total number of capture buffers dropped by the input device",
		}),
		FramesStalled: factory.NewCounter(prometheus.CounterOpts{
			Name: "proximity_frames_stalled_total",
			Help: "Total number of partial frames discarded after a stall",
		}),

		// Device metrics
		DeviceErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "proximity_device_errors_total",
			Help: "Total number of audio device errors",
		}, []string{"op"}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "proximity_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "proximity_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "proximity_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// Handler returns the /metrics handler for this registry
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSessionStarted increments the sessions started counter
func (m *Metrics) RecordSessionStarted(role string) {
	if m == nil {
		return
	}
	m.SessionsStarted.WithLabelValues(role).Inc()
	m.ActiveSessions.Inc()
}

// RecordSessionRejected counts a request refused while busy
func (m *Metrics) RecordSessionRejected(role string) {
	if m == nil {
		return
	}
	m.SessionsRejected.WithLabelValues(role).Inc()
}

// RecordSessionFinished records the outcome and duration of a session
func (m *Metrics) RecordSessionFinished(role, outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SessionOutcomes.WithLabelValues(role, outcome).Inc()
	m.SessionDuration.WithLabelValues(role).Observe(durationSeconds)
	m.ActiveSessions.Dec()
}

// RecordFrameEmitted records a completed playback
func (m *Metrics) RecordFrameEmitted(durationSeconds float64) {
	if m == nil {
		return
	}
	m.FramesEmitted.Inc()
	m.PlaybackDuration.Observe(durationSeconds)
}

// RecordBlock increments the blocks processed counter
func (m *Metrics) RecordBlock() {
	if m == nil {
		return
	}
	m.BlocksProcessed.Inc()
}

// RecordSymbol increments the symbols detected counter
func (m *Metrics) RecordSymbol() {
	if m == nil {
		return
	}
	m.SymbolsDetected.Inc()
}

// RecordFrameDecoded increments the frames decoded counter
func (m *Metrics) RecordFrameDecoded() {
	if m == nil {
		return
	}
	m.FramesDecoded.Inc()
}

// RecordDecodeError records a failed frame attempt
func (m *Metrics) RecordDecodeError(kind string) {
	if m == nil {
		return
	}
	m.DecodeErrors.WithLabelValues(kind).Inc()
}

// RecordBufferDropped increments the dropped buffers counter
func (m *Metrics) RecordBufferDropped() {
	if m == nil {
		return
	}
	m.BuffersDropped.Inc()
}

// RecordFrameStalled increments the stalled frames counter
func (m *Metrics) RecordFrameStalled() {
	if m == nil {
		return
	}
	m.FramesStalled.Inc()
}

// RecordDeviceError records an audio device error
func (m *Metrics) RecordDeviceError(op string) {
	if m == nil {
		return
	}
	m.DeviceErrors.WithLabelValues(op).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
