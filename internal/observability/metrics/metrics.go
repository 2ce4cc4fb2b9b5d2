// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "recaptcha_solver"

// Metrics holds all Prometheus metrics for the solver.
type Metrics struct {
	// Session metrics
	SolvesTotal   prometheus.Counter
	SolvesActive  prometheus.Gauge
	SolveOutcomes *prometheus.CounterVec
	SolveDuration prometheus.Histogram
	AttemptsTotal prometheus.Counter
	GateTimeouts  *prometheus.CounterVec
	AnswersEmpty  prometheus.Counter
	Verifications *prometheus.CounterVec
	AudioPayloads prometheus.Counter
	AudioBytes    prometheus.Counter

	// Pipeline metrics
	TranscodeLatency     prometheus.Histogram
	TranscodeErrors      prometheus.Counter
	TranscriptionLatency *prometheus.HistogramVec
	TranscriptionErrors  *prometheus.CounterVec
	Utterances           prometheus.Counter

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// gRPC metrics
	GRPCCalls *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SolvesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "solves_total",
			Help:      "Total number of solve sessions started",
		}),
		SolvesActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "solves_active",
			Help:      "Number of solve sessions in progress",
		}),
		SolveOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "solve_outcomes_total",
			Help:      "Solve sessions by terminal outcome",
		}, []string{"outcome"}),
		SolveDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "solve_duration_seconds",
			Help:      "Duration of solve sessions in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		AttemptsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Total number of answer submissions",
		}),
		GateTimeouts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_timeouts_total",
			Help:      "Gate waits abandoned because of a timeout",
		}, []string{"gate"}),
		AnswersEmpty: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_empty_total",
			Help:      "Attempts where no answer text could be produced",
		}),
		Verifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Verification responses by result",
		}, []string{"result"}),
		AudioPayloads: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_payloads_total",
			Help:      "Challenge audio payloads intercepted",
		}),
		AudioBytes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Compressed challenge audio bytes intercepted",
		}),

		TranscodeLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcode_latency_seconds",
			Help:      "Audio normalization latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
		TranscodeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcode_errors_total",
			Help:      "Audio normalization failures",
		}),
		TranscriptionLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_latency_seconds",
			Help:      "Speech-to-text latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"provider"}),
		TranscriptionErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_errors_total",
			Help:      "Speech-to-text failures",
		}, []string{"provider", "error_type"}),
		Utterances: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_total",
			Help:      "Utterance boundaries signalled by recognizers",
		}),

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

		GRPCCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_calls_total",
			Help:      "gRPC calls by method and status code",
		}, []string{"method", "code"}),
	}
}

// RecordSolveStart records a new solve session starting.
func (m *Metrics) RecordSolveStart() {
	m.SolvesTotal.Inc()
	m.SolvesActive.Inc()
}

// RecordSolveEnd records a solve session ending with the given outcome label.
func (m *Metrics) RecordSolveEnd(outcome string, durationSeconds float64) {
	m.SolvesActive.Dec()
	m.SolveDuration.Observe(durationSeconds)
	m.SolveOutcomes.WithLabelValues(outcome).Inc()
}

// RecordAttempt records an answer submission.
func (m *Metrics) RecordAttempt() {
	m.AttemptsTotal.Inc()
}

// RecordGateTimeout records an abandoned gate wait.
func (m *Metrics) RecordGateTimeout(gate string) {
	m.GateTimeouts.WithLabelValues(gate).Inc()
}

// RecordEmptyAnswer records an attempt with no usable answer.
func (m *Metrics) RecordEmptyAnswer() {
	m.AnswersEmpty.Inc()
}

// RecordVerification records a verification response.
func (m *Metrics) RecordVerification(result string) {
	m.Verifications.WithLabelValues(result).Inc()
}

// RecordAudioPayload records an intercepted audio payload.
func (m *Metrics) RecordAudioPayload(bytes int) {
	m.AudioPayloads.Inc()
	m.AudioBytes.Add(float64(bytes))
}

// RecordTranscode records a normalization run.
func (m *Metrics) RecordTranscode(err error, latencySeconds float64) {
	m.TranscodeLatency.Observe(latencySeconds)
	if err != nil {
		m.TranscodeErrors.Inc()
	}
}

// RecordTranscription records a recognition run.
func (m *Metrics) RecordTranscription(provider string, latencySeconds float64) {
	m.TranscriptionLatency.WithLabelValues(provider).Observe(latencySeconds)
}

// RecordTranscriptionError records a recognition failure.
func (m *Metrics) RecordTranscriptionError(provider, errorType string) {
	m.TranscriptionErrors.WithLabelValues(provider, errorType).Inc()
}

// RecordUtterance records an utterance boundary detection.
func (m *Metrics) RecordUtterance() {
	m.Utterances.Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordGRPCCall records a completed gRPC call.
func (m *Metrics) RecordGRPCCall(method, code string) {
	m.GRPCCalls.WithLabelValues(method, code).Inc()
}
