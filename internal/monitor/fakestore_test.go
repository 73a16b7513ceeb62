package monitor

import (
	"context"
	"sync"

	"helios/monitor/internal/store"
)

// fakeStore implements store.Store in memory for tests. Query results
// are canned per metric name, newest-first, the way the real store
// returns them.
type fakeStore struct {
	mu sync.Mutex

	batches   [][]store.MetricPoint
	canned    map[string][]store.MetricPoint
	baselines map[string]*store.Baseline
	upserts   []store.Baseline
	anomalies []store.Anomaly

	insertErr   error
	queryErr    error
	historyScan int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		canned:    make(map[string][]store.MetricPoint),
		baselines: make(map[string]*store.Baseline),
	}
}

func (f *fakeStore) InsertBatch(_ context.Context, points []store.MetricPoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	batch := make([]store.MetricPoint, len(points))
	copy(batch, points)
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeStore) QueryMetrics(_ context.Context, name string, opts store.QueryOpts) ([]store.MetricPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	f.historyScan++
	var out []store.MetricPoint
	for _, p := range f.canned[name] {
		if !tagsMatch(p.Tags, opts.Tags) {
			continue
		}
		out = append(out, p)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) UpsertBaseline(_ context.Context, b store.Baseline) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.upserts = append(f.upserts, b)
	return nil
}

func (f *fakeStore) GetValidBaseline(_ context.Context, name string) (*store.Baseline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.baselines[name], nil
}

func (f *fakeStore) InsertAnomaly(_ context.Context, a store.Anomaly) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.anomalies = append(f.anomalies, a)
	return nil
}

func (f *fakeStore) QueryAnomalies(_ context.Context, q store.AnomalyQuery) ([]store.Anomaly, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Anomaly
	for _, a := range f.anomalies {
		if a.Severity.AtLeast(q.MinSeverity) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *fakeStore) allPoints() []store.MetricPoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.MetricPoint
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

func (f *fakeStore) scanCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.historyScan
}

func tagsMatch(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}
