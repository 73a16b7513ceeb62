package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricPointsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "monitor_points_recorded_total",
		Help: "Total metric points accepted by the ingestion buffer",
	})

	metricPointsFlushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "monitor_points_flushed_total",
		Help: "Total metric points written to the store",
	})

	metricPointsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "monitor_points_dropped_total",
		Help: "Total metric points dropped on flush failure",
	})

	metricFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_flushes_total",
		Help: "Buffer flushes by result",
	}, []string{"result"})

	gaugeBufferDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "monitor_buffer_depth",
		Help: "Points currently queued in the ingestion buffer",
	})

	metricDetectorRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_detector_runs_total",
		Help: "Anomaly detection runs by result",
	}, []string{"result"})

	metricAnomalies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_anomalies_total",
		Help: "Anomalies emitted by severity",
	}, []string{"severity"})

	metricBaselineComputes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "monitor_baseline_computations_total",
		Help: "Baselines computed from history (cache misses)",
	})
)
