// Package metrics exposes Prometheus collectors for the call bridge,
// following the teacher's internal/metrics package shape.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CallsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "callbridge_calls_active",
		Help: "Currently active media-stream sessions",
	})

	CallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callbridge_calls_total",
		Help: "Total calls by mode",
	}, []string{"mode"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "callbridge_stage_duration_seconds",
		Help:    "Per-stage latency (transcription, classify, tts, upload)",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0},
	}, []string{"stage"})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callbridge_errors_total",
		Help: "Error counts by stage and error type",
	}, []string{"stage", "error_type"})

	WebhookDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callbridge_webhook_dispatched_total",
		Help: "Webhook dispatches by event kind and outcome",
	}, []string{"kind", "outcome"})

	VADSpeechSegments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callbridge_vad_speech_segments_total",
		Help: "Speaker segments emitted by the VAD segmenter",
	}, []string{"speaker"})

	DetectionCacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "callbridge_detection_cache_entries",
		Help: "Entries currently held in the detection cache",
	})
)
