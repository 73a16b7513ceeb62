package monitor

import (
	"context"
	"log"
	"time"

	"helios/monitor/internal/store"
)

// BaselineCalculator builds and caches per-metric rolling baselines.
// A baseline is only considered trustworthy from MinSamples historical
// points; below that GetBaseline reports "unavailable" rather than
// fabricating low-confidence statistics.
type BaselineCalculator struct {
	store      store.Store
	window     string
	validity   time.Duration
	minSamples int
}

func NewBaselineCalculator(st store.Store, window string, validity time.Duration, minSamples int) *BaselineCalculator {
	if window == "" {
		window = "7 days"
	}
	if validity <= 0 {
		validity = 24 * time.Hour
	}
	if minSamples <= 0 {
		minSamples = 100
	}
	return &BaselineCalculator{store: st, window: window, validity: validity, minSamples: minSamples}
}

// GetBaseline returns the valid cached baseline for name, computing
// one from the trailing history window on a cache miss. (nil, nil)
// means no baseline is available; callers must treat that as "cannot
// judge", not as an anomaly-free verdict.
func (c *BaselineCalculator) GetBaseline(ctx context.Context, name string) (*store.Baseline, error) {
	cached, err := c.store.GetValidBaseline(ctx, name)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return cached, nil
	}

	points, err := c.store.QueryMetrics(ctx, name, store.QueryOpts{TimeRange: c.window})
	if err != nil {
		return nil, err
	}
	if len(points) < c.minSamples {
		return nil, nil
	}

	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}
	stats := computeStats(values)
	sorted := sortedCopy(values)

	now := time.Now().UTC()
	b := &store.Baseline{
		MetricName:   name,
		Avg:          stats.Avg,
		P50:          percentile(sorted, 50),
		P95:          percentile(sorted, 95),
		P99:          percentile(sorted, 99),
		Min:          stats.Min,
		Max:          stats.Max,
		StdDev:       stats.StdDev,
		SampleSize:   stats.Count,
		CalculatedAt: now,
		ValidUntil:   now.Add(c.validity),
	}
	metricBaselineComputes.Inc()

	// Cache failure is not fatal: the computed baseline is still good
	// for this call, the next call just rescans history.
	if err := c.store.UpsertBaseline(ctx, *b); err != nil {
		log.Printf("[baseline] upsert %s failed: %v", name, err)
	}
	return b, nil
}
