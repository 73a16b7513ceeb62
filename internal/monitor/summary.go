package monitor

import (
	"context"
	"time"

	"helios/monitor/internal/store"
)

// wellKnownMetrics are the names covered by the performance summary
// and the background detection sweep.
var wellKnownMetrics = []string{
	MetricAPILatency,
	MetricAPIErrors,
	MetricExternalAPI,
	MetricDBQueryTime,
	MetricWSConnections,
	MetricWSErrors,
}

// WellKnownMetrics returns the metric names swept by default.
func WellKnownMetrics() []string {
	out := make([]string, len(wellKnownMetrics))
	copy(out, wellKnownMetrics)
	return out
}

type MetricSummary struct {
	Count int     `json:"count"`
	Avg   float64 `json:"avg"`
	Max   float64 `json:"max"`
	Min   float64 `json:"min"`
}

type PerformanceSummary struct {
	TimeRange       string                   `json:"time_range"`
	Metrics         map[string]MetricSummary `json:"metrics"`
	ActiveAnomalies int                      `json:"active_anomalies"`
	GeneratedAt     time.Time                `json:"generated_at"`
}

// PerformanceSummary aggregates the well-known metrics over timeRange
// (default "1 hour") plus the count of anomalies in the same window.
func (d *Detector) PerformanceSummary(ctx context.Context, timeRange string) (PerformanceSummary, error) {
	rng := store.NormalizeRange(timeRange, "1 hour")
	out := PerformanceSummary{
		TimeRange:   rng,
		Metrics:     make(map[string]MetricSummary, len(wellKnownMetrics)),
		GeneratedAt: time.Now().UTC(),
	}

	for _, name := range wellKnownMetrics {
		points, err := d.store.QueryMetrics(ctx, name, store.QueryOpts{TimeRange: rng})
		if err != nil {
			return PerformanceSummary{}, err
		}
		if len(points) == 0 {
			continue
		}
		values := make([]float64, len(points))
		for i, p := range points {
			values[i] = p.Value
		}
		s := computeStats(values)
		out.Metrics[name] = MetricSummary{Count: s.Count, Avg: s.Avg, Max: s.Max, Min: s.Min}
	}

	anomalies, err := d.store.QueryAnomalies(ctx, store.AnomalyQuery{
		TimeRange:   rng,
		MinSeverity: store.SeverityLow,
	})
	if err != nil {
		return PerformanceSummary{}, err
	}
	out.ActiveAnomalies = len(anomalies)

	return out, nil
}
