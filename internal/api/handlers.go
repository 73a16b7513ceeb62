package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"helios/monitor/internal/monitor"
	"helios/monitor/internal/store"
)

// Detector is the slice of the anomaly detector the HTTP surface needs.
type Detector interface {
	DetectAnomalies(ctx context.Context, name, timeRange string) monitor.Report
	DetectWebSocketAnomalies(ctx context.Context, endpoint, timeRange string) monitor.Report
	ActiveAnomalies(ctx context.Context, timeRange string, minSeverity store.Severity) ([]store.Anomaly, error)
	PerformanceSummary(ctx context.Context, timeRange string) (monitor.PerformanceSummary, error)
}

type Handlers struct {
	store    store.Store
	detector Detector
}

func NewHandlers(st store.Store, det Detector) *Handlers {
	return &Handlers{store: st, detector: det}
}

func (h *Handlers) HandleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.detector.PerformanceSummary(r.Context(), r.URL.Query().Get("range"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, summary)
}

func (h *Handlers) HandleQueryMetrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name := q.Get("name")
	if name == "" {
		http.Error(w, "missing name", http.StatusBadRequest)
		return
	}
	opts := store.QueryOpts{TimeRange: store.NormalizeRange(q.Get("range"), "1 hour")}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		opts.Limit = limit
	}
	points, err := h.store.QueryMetrics(r.Context(), name, opts)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"name":   name,
		"range":  opts.TimeRange,
		"points": points,
	})
}

type detectRequest struct {
	MetricName string `json:"metric_name"`
	TimeRange  string `json:"time_range"`
}

// HandleDetect runs detection on demand. With a metric name it checks
// that one metric; without, it sweeps the well-known set plus the
// WebSocket endpoints.
func (h *Handlers) HandleDetect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	var reports []monitor.Report
	if req.MetricName != "" {
		reports = append(reports, h.detector.DetectAnomalies(ctx, req.MetricName, req.TimeRange))
	} else {
		for _, name := range monitor.WellKnownMetrics() {
			reports = append(reports, h.detector.DetectAnomalies(ctx, name, req.TimeRange))
		}
		reports = append(reports, h.detector.DetectWebSocketAnomalies(ctx, "", req.TimeRange))
	}

	anomalous := 0
	for _, rep := range reports {
		if rep.HasAnomaly {
			anomalous++
		}
	}
	log.Printf("[api] detection run: %d reports, %d anomalous", len(reports), anomalous)
	writeJSON(w, map[string]any{"reports": reports, "anomalous": anomalous})
}

func (h *Handlers) HandleListAnomalies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	anomalies, err := h.detector.ActiveAnomalies(r.Context(),
		q.Get("range"), store.Severity(q.Get("min_severity")))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if anomalies == nil {
		anomalies = []store.Anomaly{}
	}
	writeJSON(w, map[string]any{"anomalies": anomalies, "count": len(anomalies)})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
