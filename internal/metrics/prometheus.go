package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the speech translation service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Capture metrics
	ChunksCaptured prometheus.Counter
	ChunksSkipped  *prometheus.CounterVec
	QueueDepth     prometheus.Gauge
	Running        prometheus.Gauge

	// Stage metrics
	StageDuration *prometheus.HistogramVec
	StageFailures *prometheus.CounterVec

	// Utterance metrics
	UtterancesCompleted prometheus.Counter
	UtteranceLatency    prometheus.Histogram
	OutputSamples       prometheus.Histogram

	// Model bundle metrics
	ModelLoads        *prometheus.CounterVec
	ModelLoadDuration prometheus.Histogram

	// Transcription server client metrics
	TranscriptionRetries prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
	RateLimited         prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ChunksCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "sts_chunks_captured_total",
			Help: "Total number of audio chunks read from the input source",
		}),
		ChunksSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sts_chunks_skipped_total",
			Help: "Total number of chunks that produced no output",
		}, []string{"reason"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sts_realtime_queue_depth",
			Help: "Current number of chunks waiting in the realtime queue",
		}),
		Running: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sts_realtime_running",
			Help: "1 while the realtime controller is running",
		}),

		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sts_stage_duration_seconds",
			Help:    "Duration of individual pipeline stages",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}, []string{"stage"}),
		StageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sts_stage_failures_total",
			Help: "Total number of failed stage invocations",
		}, []string{"stage", "cause"}),

		UtterancesCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "sts_utterances_completed_total",
			Help: "Total number of utterances that produced translated audio",
		}),
		UtteranceLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sts_utterance_latency_seconds",
			Help:    "End-to-end processing time of one utterance",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		}),
		OutputSamples: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sts_output_samples",
			Help:    "Number of synthesized samples per utterance",
			Buckets: prometheus.ExponentialBuckets(2205, 2, 10), // 0.1s to ~50s at 22050 Hz
		}),

		ModelLoads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sts_model_loads_total",
			Help: "Total number of model bundle load attempts",
		}, []string{"result"}),
		ModelLoadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sts_model_load_duration_seconds",
			Help:    "Duration of model bundle loads",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),

		TranscriptionRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "sts_transcription_retries_total",
			Help: "Total number of transcription server request retries",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sts_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sts_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sts_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "sts_http_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		}),
	}
}

// RecordChunkCaptured increments the captured chunks counter
func (m *Metrics) RecordChunkCaptured() {
	if m == nil {
		return
	}
	m.ChunksCaptured.Inc()
}

// RecordChunkSkipped records a chunk that produced no output and why
func (m *Metrics) RecordChunkSkipped(reason string) {
	if m == nil {
		return
	}
	m.ChunksSkipped.WithLabelValues(reason).Inc()
}

// SetQueueDepth sets the current realtime queue depth
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
}

// SetRunning records the realtime controller state
func (m *Metrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.Running.Set(1)
	} else {
		m.Running.Set(0)
	}
}

// RecordStage records one stage invocation. cause is empty on success.
func (m *Metrics) RecordStage(stage, cause string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(durationSeconds)
	if cause != "" {
		m.StageFailures.WithLabelValues(stage, cause).Inc()
	}
}

// RecordUtterance records a completed utterance
func (m *Metrics) RecordUtterance(latencySeconds float64, samples int) {
	if m == nil {
		return
	}
	m.UtterancesCompleted.Inc()
	m.UtteranceLatency.Observe(latencySeconds)
	m.OutputSamples.Observe(float64(samples))
}

// RecordModelLoad records a model bundle load attempt
func (m *Metrics) RecordModelLoad(ok bool, durationSeconds float64) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.ModelLoads.WithLabelValues(result).Inc()
	m.ModelLoadDuration.Observe(durationSeconds)
}

// RecordTranscriptionRetry increments the retry counter
func (m *Metrics) RecordTranscriptionRetry() {
	if m == nil {
		return
	}
	m.TranscriptionRetries.Inc()
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

// RecordRateLimited increments the rate limited counter
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}
