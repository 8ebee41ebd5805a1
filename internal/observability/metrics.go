package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Backend call metrics
	backendRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tts_gateway_backend_requests_total",
		Help: "Total number of synthesis backend calls",
	}, []string{"mode", "status"})

	backendLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tts_gateway_backend_latency_seconds",
		Help:    "Time from request start to the last audio byte",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	}, []string{"mode"})

	firstChunkLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tts_gateway_first_chunk_latency_seconds",
		Help:    "Time from request start to the first audio chunk",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	audioBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tts_gateway_audio_bytes_total",
		Help: "Total audio bytes received from the backend",
	}, []string{"mode"})

	longTextAdvisories = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tts_gateway_long_text_advisories_total",
		Help: "Requests whose text exceeded the advisory length",
	})

	// Streaming metrics
	segmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tts_gateway_segments_total",
		Help: "Text segments processed by the streaming pipeline",
	}, []string{"status"})

	activeStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tts_gateway_active_streams",
		Help: "Number of segmented streams in progress",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tts_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tts_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tts_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// CallMetrics tracks one backend call. It is not shared between calls.
type CallMetrics struct {
	mode       string
	startTime  time.Time
	firstChunk bool
	bytes      int64
}

// NewCallMetrics starts tracking a backend call in the given mode ("batch" or "stream")
func NewCallMetrics(mode string) *CallMetrics {
	return &CallMetrics{
		mode:      mode,
		startTime: time.Now(),
	}
}

// RecordChunk records one received chunk
func (m *CallMetrics) RecordChunk(n int) {
	if !m.firstChunk {
		m.firstChunk = true
		firstChunkLatency.Observe(time.Since(m.startTime).Seconds())
	}
	m.bytes += int64(n)
}

// RecordEnd records the end of the call
func (m *CallMetrics) RecordEnd(status string) {
	backendLatency.WithLabelValues(m.mode).Observe(time.Since(m.startTime).Seconds())
	backendRequests.WithLabelValues(m.mode, status).Inc()
	audioBytes.WithLabelValues(m.mode).Add(float64(m.bytes))
}

// RecordLongTextAdvisory counts a request over the advisory text length
func RecordLongTextAdvisory() {
	longTextAdvisories.Inc()
}

// RecordSegment records a processed segment ("ok" or "error")
func RecordSegment(status string) {
	segmentsTotal.WithLabelValues(status).Inc()
}

// StreamStarted increments the active stream gauge
func StreamStarted() {
	activeStreams.Inc()
}

// StreamFinished decrements the active stream gauge
func StreamFinished() {
	activeStreams.Dec()
}

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
