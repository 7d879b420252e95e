// Package metrics provides Prometheus metrics for the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "speechgate"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Connection metrics
	ConnectionsActive prometheus.Gauge

	// Session metrics
	SessionsTotal    *prometheus.CounterVec
	SessionsActive   prometheus.Gauge
	SessionsFinished *prometheus.CounterVec
	SessionDuration  prometheus.Histogram

	// Transcript metrics
	TranscriptsEmitted   *prometheus.CounterVec
	DuplicatesSuppressed prometheus.Counter

	// Audio metrics
	AudioBytesReceived prometheus.Counter
	AudioChunksQueued  prometheus.Counter

	// Provider metrics
	ProviderErrors *prometheus.CounterVec
	ProxyRequests  *prometheus.CounterVec
	ProxyLatency   *prometheus.HistogramVec
	SessionsReaped prometheus.Counter
	UploadsSwept   prometheus.Counter

	// Kafka publish metrics
	KafkaPublishTotal  *prometheus.CounterVec
	KafkaPublishErrors *prometheus.CounterVec
}

// Default is registered with the global Prometheus registry and served on /metrics.
var Default = New(prometheus.DefaultRegisterer)

// New creates all metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of open websocket connections",
		}),

		SessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of streaming sessions started",
		}, []string{"provider"}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of streaming sessions currently live",
		}),
		SessionsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finished_total",
			Help:      "Total number of streaming sessions finished by outcome",
		}, []string{"provider", "status"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of streaming sessions in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		}),

		TranscriptsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_emitted_total",
			Help:      "Total number of transcription events sent to clients",
		}, []string{"provider", "kind"}),
		DuplicatesSuppressed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_suppressed_total",
			Help:      "Total number of final fragments dropped as duplicates",
		}),

		AudioBytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes received from clients",
		}),
		AudioChunksQueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_queued_total",
			Help:      "Total audio chunks received while the provider was still connecting",
		}),

		ProviderErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Total number of failed sessions by provider and error kind",
		}, []string{"provider", "kind"}),
		ProxyRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_requests_total",
			Help:      "Total number of batch requests forwarded to providers",
		}, []string{"provider", "code"}),
		ProxyLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "proxy_latency_seconds",
			Help:      "Latency of batch requests forwarded to providers",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"provider"}),
		SessionsReaped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_reaped_total",
			Help:      "Total number of idle sessions closed by the janitor",
		}),
		UploadsSwept: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_swept_total",
			Help:      "Total number of stale upload files removed by the janitor",
		}),

		KafkaPublishTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic"}),
		KafkaPublishErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic"}),
	}
}

// RecordSessionStart records a new session starting.
func (m *Metrics) RecordSessionStart(provider string) {
	m.SessionsTotal.WithLabelValues(provider).Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session leaving the live states.
func (m *Metrics) RecordSessionEnd(provider, status string, durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionsFinished.WithLabelValues(provider, status).Inc()
	m.SessionDuration.Observe(durationSeconds)
}

func (m *Metrics) RecordTranscript(provider string, final bool) {
	kind := "interim"
	if final {
		kind = "final"
	}
	m.TranscriptsEmitted.WithLabelValues(provider, kind).Inc()
}

func (m *Metrics) RecordDuplicate() {
	m.DuplicatesSuppressed.Inc()
}

func (m *Metrics) RecordAudio(bytes int, queued bool) {
	m.AudioBytesReceived.Add(float64(bytes))
	if queued {
		m.AudioChunksQueued.Inc()
	}
}

func (m *Metrics) RecordProviderError(provider, kind string) {
	m.ProviderErrors.WithLabelValues(provider, kind).Inc()
}

func (m *Metrics) RecordProxyRequest(provider, code string, latencySeconds float64) {
	m.ProxyRequests.WithLabelValues(provider, code).Inc()
	m.ProxyLatency.WithLabelValues(provider).Observe(latencySeconds)
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic string, err error) {
	m.KafkaPublishTotal.WithLabelValues(topic).Inc()
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic).Inc()
	}
}

func (m *Metrics) RecordConnectionOpened() { m.ConnectionsActive.Inc() }

func (m *Metrics) RecordConnectionClosed() { m.ConnectionsActive.Dec() }
