// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "care_relay"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal    prometheus.Counter
	SessionsActive   prometheus.Gauge
	SessionsEnded    *prometheus.CounterVec
	SessionDuration  prometheus.Histogram
	ConfigRejections *prometheus.CounterVec

	// Audio metrics
	AudioBytesForwarded  prometheus.Counter
	AudioFramesForwarded prometheus.Counter
	AudioFramesRejected  *prometheus.CounterVec

	// Transcript metrics
	TranscriptsPartial prometheus.Counter
	TranscriptsFinal   prometheus.Counter

	// Upstream metrics
	UpstreamSessions *prometheus.CounterVec
	UpstreamErrors   *prometheus.CounterVec
	UpstreamFinish   *prometheus.HistogramVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
	TranscriptsDropped  *prometheus.CounterVec

	// Classifier metrics
	SentencesClassified *prometheus.CounterVec
	ClassifyLatency     prometheus.Histogram

	// Storage metrics
	StoreErrors *prometheus.CounterVec

	// gRPC metrics
	GRPCCalls *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of relay sessions opened",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently open relay sessions",
		}),
		SessionsEnded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Total number of relay sessions ended, by terminal state",
		}, []string{"state"}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of relay sessions in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		ConfigRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_rejections_total",
			Help:      "Total number of rejected session configuration messages",
		}, []string{"reason"}),

		AudioBytesForwarded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_forwarded_total",
			Help:      "Total audio bytes forwarded upstream",
		}),
		AudioFramesForwarded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_forwarded_total",
			Help:      "Total audio frames forwarded upstream",
		}),
		AudioFramesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_rejected_total",
			Help:      "Total audio frames rejected by the relay",
		}, []string{"reason"}),

		TranscriptsPartial: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_partial_total",
			Help:      "Total number of interim transcripts relayed",
		}),
		TranscriptsFinal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Total number of final transcripts relayed",
		}),

		UpstreamSessions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_sessions_total",
			Help:      "Total number of upstream recognizer sessions opened",
		}, []string{"provider", "profile"}),
		UpstreamErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Total number of upstream recognizer errors",
		}, []string{"provider", "error_type"}),
		UpstreamFinish: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_finish_seconds",
			Help:      "Time spent waiting for the upstream finish acknowledgment",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"provider"}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
		TranscriptsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_events_dropped_total",
			Help:      "Transcript events dropped because the session publish queue was full",
		}, []string{"event_type"}),

		SentencesClassified: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sentences_classified_total",
			Help:      "Total number of classified sentences, by category",
		}, []string{"category"}),
		ClassifyLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "classify_latency_seconds",
			Help:      "Time to classify one transcript",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}),

		StoreErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Total number of transcript store errors",
		}, []string{"operation"}),

		GRPCCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_calls_total",
			Help:      "Total number of gRPC calls handled",
		}, []string{"method", "code"}),
	}
}

// RecordSessionStart records a new relay session.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a relay session reaching a terminal state.
func (m *Metrics) RecordSessionEnd(state string, durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
	m.SessionsEnded.WithLabelValues(state).Inc()
}

// RecordConfigRejected records a rejected configuration message.
func (m *Metrics) RecordConfigRejected(reason string) {
	m.ConfigRejections.WithLabelValues(reason).Inc()
}

// RecordAudioForwarded records one frame forwarded upstream.
func (m *Metrics) RecordAudioForwarded(bytes int) {
	m.AudioBytesForwarded.Add(float64(bytes))
	m.AudioFramesForwarded.Inc()
}

// RecordAudioRejected records a frame the relay refused to forward.
func (m *Metrics) RecordAudioRejected(reason string) {
	m.AudioFramesRejected.WithLabelValues(reason).Inc()
}

// RecordPartialTranscript records an interim transcript relayed to a client.
func (m *Metrics) RecordPartialTranscript() {
	m.TranscriptsPartial.Inc()
}

// RecordFinalTranscript records a final transcript relayed to a client.
func (m *Metrics) RecordFinalTranscript() {
	m.TranscriptsFinal.Inc()
}

// RecordUpstreamOpened records an upstream session being opened.
func (m *Metrics) RecordUpstreamOpened(provider, profile string) {
	m.UpstreamSessions.WithLabelValues(provider, profile).Inc()
}

// RecordUpstreamError records an upstream error.
func (m *Metrics) RecordUpstreamError(provider, errorType string) {
	m.UpstreamErrors.WithLabelValues(provider, errorType).Inc()
}

// RecordUpstreamFinish records how long the upstream took to acknowledge finish.
func (m *Metrics) RecordUpstreamFinish(provider string, seconds float64) {
	m.UpstreamFinish.WithLabelValues(provider).Observe(seconds)
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordTranscriptEventDropped records a transcript event that was never handed to the publisher.
func (m *Metrics) RecordTranscriptEventDropped(eventType string) {
	m.TranscriptsDropped.WithLabelValues(eventType).Inc()
}

// RecordClassification records one classified transcript.
func (m *Metrics) RecordClassification(categories []string, seconds float64) {
	m.ClassifyLatency.Observe(seconds)
	for _, c := range categories {
		m.SentencesClassified.WithLabelValues(c).Inc()
	}
}

// RecordStoreError records a failed store operation.
func (m *Metrics) RecordStoreError(operation string) {
	m.StoreErrors.WithLabelValues(operation).Inc()
}

// RecordGRPCCall records a handled gRPC call.
func (m *Metrics) RecordGRPCCall(method, code string) {
	m.GRPCCalls.WithLabelValues(method, code).Inc()
}
