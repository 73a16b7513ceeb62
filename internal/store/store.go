package store

import "context"

// Store is the persistence boundary for the monitoring core. Metric
// queries return points ordered newest-first; anomaly queries return
// rows ordered severity-desc then detected_at-desc.
type Store interface {
	InsertBatch(ctx context.Context, points []MetricPoint) error
	QueryMetrics(ctx context.Context, name string, opts QueryOpts) ([]MetricPoint, error)
	UpsertBaseline(ctx context.Context, b Baseline) error
	GetValidBaseline(ctx context.Context, name string) (*Baseline, error)
	InsertAnomaly(ctx context.Context, a Anomaly) error
	QueryAnomalies(ctx context.Context, q AnomalyQuery) ([]Anomaly, error)
}
