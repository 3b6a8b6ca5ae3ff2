package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcription service
type Metrics struct {
	// Session metrics
	SessionsStarted prometheus.Counter
	SessionsFailed  *prometheus.CounterVec
	SessionsStopped prometheus.Counter
	ActiveSessions  prometheus.Gauge
	SessionDuration prometheus.Histogram
	ConnectDuration prometheus.Histogram
	ConnectAttempts prometheus.Counter

	// Audio metrics
	FramesCaptured prometheus.Counter
	ChunksSent     prometheus.Counter
	BytesSent      prometheus.Counter
	ChunkSize      prometheus.Histogram
	BytesDiscarded prometheus.Counter

	// Transcript metrics
	TranscriptEvents *prometheus.CounterVec
	BackendErrors    prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
	ObserverClients     prometheus.Gauge
}

// New creates all metrics and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_sessions_started_total",
			Help: "Total number of transcription sessions that reached streaming",
		}),
		SessionsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_sessions_failed_total",
			Help: "Total number of sessions that ended in error, by error kind",
		}, []string{"kind"}),
		SessionsStopped: f.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_sessions_stopped_total",
			Help: "Total number of sessions stopped cleanly",
		}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "transcriber_active_sessions",
			Help: "Current number of streaming sessions",
		}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcriber_session_duration_seconds",
			Help:    "Duration of streaming sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),
		ConnectDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcriber_connect_duration_seconds",
			Help:    "Time spent on the backend websocket handshake",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		}),
		ConnectAttempts: f.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_connect_attempts_total",
			Help: "Total number of session start attempts made by the retry helper",
		}),

		FramesCaptured: f.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_frames_captured_total",
			Help: "Total number of audio frames received from capture",
		}),
		ChunksSent: f.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_chunks_sent_total",
			Help: "Total number of aggregated chunks sent to the backend",
		}),
		BytesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_audio_bytes_sent_total",
			Help: "Total number of PCM bytes sent to the backend",
		}),
		ChunkSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcriber_chunk_size_bytes",
			Help:    "Size of chunks sent to the backend",
			Buckets: prometheus.ExponentialBuckets(512, 2, 12), // 512B to ~1MB
		}),
		BytesDiscarded: f.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_audio_bytes_discarded_total",
			Help: "PCM bytes discarded when a session failed",
		}),

		TranscriptEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_transcript_events_total",
			Help: "Transcript events received from the backend, by kind",
		}, []string{"kind"}),
		BackendErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_backend_errors_total",
			Help: "Error notices received from the backend",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "transcriber_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
		ObserverClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "transcriber_observer_clients",
			Help: "Current number of websocket status observers",
		}),
	}
}

// RecordSessionStarted marks a session as streaming
func (m *Metrics) RecordSessionStarted(connectSeconds float64) {
	m.SessionsStarted.Inc()
	m.ActiveSessions.Inc()
	m.ConnectDuration.Observe(connectSeconds)
}

// RecordSessionEnded records the end of a streaming session.
// An empty kind means a clean stop.
func (m *Metrics) RecordSessionEnded(kind string, durationSeconds float64) {
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(durationSeconds)
	if kind == "" {
		m.SessionsStopped.Inc()
		return
	}
	m.SessionsFailed.WithLabelValues(kind).Inc()
}

// RecordStartFailed records a session that failed before streaming
func (m *Metrics) RecordStartFailed(kind string) {
	m.SessionsFailed.WithLabelValues(kind).Inc()
}

// RecordConnectAttempt increments the retry helper's attempt counter
func (m *Metrics) RecordConnectAttempt() {
	m.ConnectAttempts.Inc()
}

// RecordFrame increments the captured frames counter
func (m *Metrics) RecordFrame() {
	m.FramesCaptured.Inc()
}

// RecordChunkSent records a chunk written to the backend
func (m *Metrics) RecordChunkSent(sizeBytes int) {
	m.ChunksSent.Inc()
	m.BytesSent.Add(float64(sizeBytes))
	m.ChunkSize.Observe(float64(sizeBytes))
}

// RecordDiscarded records audio dropped on failure
func (m *Metrics) RecordDiscarded(sizeBytes int) {
	m.BytesDiscarded.Add(float64(sizeBytes))
}

// RecordTranscriptEvent records a decoded backend event
func (m *Metrics) RecordTranscriptEvent(kind string) {
	m.TranscriptEvents.WithLabelValues(kind).Inc()
	if kind == "error" {
		m.BackendErrors.Inc()
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}

// SetObserverClients sets the number of connected observers
func (m *Metrics) SetObserverClients(n int) {
	m.ObserverClients.Set(float64(n))
}
