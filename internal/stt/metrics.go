package stt

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gaugeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stt_sessions_active",
		Help: "Active STT WebSocket sessions",
	})

	metricAudioChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stt_audio_chunks_total",
		Help: "Total audio chunks forwarded to the recognizer",
	})

	metricAudioDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stt_audio_dropped_total",
		Help: "Audio chunks received with no open recognizer stream",
	})

	metricRecognizerErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stt_recognizer_errors_total",
		Help: "Error events emitted by the recognizer stream",
	})

	metricTTFPMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stt_time_to_first_partial_ms",
		Help:    "Time from session start to first partial result (ms)",
		Buckets: prometheus.ExponentialBuckets(50, 1.6, 10),
	})

	metricTTFinalMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stt_time_to_final_ms",
		Help:    "Time from session start to final result (ms)",
		Buckets: prometheus.ExponentialBuckets(100, 1.6, 10),
	})
)
