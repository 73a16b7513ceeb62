package monitor

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

func TestRecordBelowThresholdDoesNotFlush(t *testing.T) {
	st := newFakeStore()
	b := NewBuffer(st, 100, time.Hour)
	defer b.Close()

	for i := 0; i < 99; i++ {
		b.Record("test_metric", float64(i), "ms", nil, nil)
	}

	if got := st.batchCount(); got != 0 {
		t.Fatalf("expected no flush below threshold, got %d batches", got)
	}
	if got := b.Pending(); got != 99 {
		t.Fatalf("expected 99 pending points, got %d", got)
	}

	// The queue holds exactly the recorded points in insertion order.
	b.Flush()
	pts := st.allPoints()
	if len(pts) != 99 {
		t.Fatalf("expected 99 flushed points, got %d", len(pts))
	}
	for i, p := range pts {
		if p.Value != float64(i) {
			t.Fatalf("point %d out of order: value=%v", i, p.Value)
		}
	}
}

func TestSizeTriggeredFlushThenRemainder(t *testing.T) {
	st := newFakeStore()
	b := NewBuffer(st, 100, time.Hour)
	defer b.Close()

	for i := 0; i < 150; i++ {
		b.Record("api_latency", float64(i), "ms",
			map[string]string{"route": "/x", "method": "GET", "status": "200"}, nil)
	}

	// Crossing the threshold flushes asynchronously without the timer.
	waitFor(t, func() bool { return st.batchCount() >= 1 })
	if got := b.Pending(); got != 50 {
		t.Fatalf("expected 50 points left after auto-flush, got %d", got)
	}

	// The remainder goes out on the next tick; stand in for it here.
	b.Flush()

	pts := st.allPoints()
	if len(pts) != 150 {
		t.Fatalf("expected 150 total points, got %d", len(pts))
	}
	seen := make(map[float64]bool, len(pts))
	for _, p := range pts {
		if seen[p.Value] {
			t.Fatalf("duplicate point value %v", p.Value)
		}
		seen[p.Value] = true
	}
}

func TestPeriodicFlush(t *testing.T) {
	st := newFakeStore()
	b := NewBuffer(st, 1000, 20*time.Millisecond)
	defer b.Close()

	for i := 0; i < 5; i++ {
		b.Record("test_metric", float64(i), "ms", nil, nil)
	}
	waitFor(t, func() bool { return st.batchCount() >= 1 })

	if got := len(st.allPoints()); got != 5 {
		t.Fatalf("expected 5 points flushed by timer, got %d", got)
	}
}

func TestFlushFailureDropsBatch(t *testing.T) {
	st := newFakeStore()
	st.insertErr = fmt.Errorf("store unavailable")
	b := NewBuffer(st, 100, time.Hour)
	defer b.Close()

	for i := 0; i < 10; i++ {
		b.Record("test_metric", float64(i), "ms", nil, nil)
	}
	b.Flush()

	if got := b.Pending(); got != 0 {
		t.Fatalf("expected empty buffer after failed flush, got %d pending", got)
	}
	if got := st.batchCount(); got != 0 {
		t.Fatalf("expected no stored batches, got %d", got)
	}

	// The buffer keeps working once the store recovers.
	st.insertErr = nil
	b.Record("test_metric", 42, "ms", nil, nil)
	b.Flush()
	if got := len(st.allPoints()); got != 1 {
		t.Fatalf("expected 1 point after recovery, got %d", got)
	}
}

func TestCloseFlushesRemainder(t *testing.T) {
	st := newFakeStore()
	b := NewBuffer(st, 100, time.Hour)

	b.Record("test_metric", 1, "ms", nil, nil)
	b.Record("test_metric", 2, "ms", nil, nil)
	b.Close()

	if got := len(st.allPoints()); got != 2 {
		t.Fatalf("expected 2 points flushed on close, got %d", got)
	}
}

func TestRecordAPILatencyErrorMetric(t *testing.T) {
	st := newFakeStore()
	b := NewBuffer(st, 1000, time.Hour)
	defer b.Close()

	b.RecordAPILatency("/api/items", "GET", 200, 12.5)
	b.RecordAPILatency("/api/items", "GET", 500, 80)
	b.Flush()

	pts := st.allPoints()
	var latencies, errors int
	for _, p := range pts {
		switch p.Name {
		case MetricAPILatency:
			latencies++
		case MetricAPIErrors:
			errors++
			if p.Tags["status"] != "500" {
				t.Fatalf("error metric should carry the failing status, got %q", p.Tags["status"])
			}
		}
	}
	if latencies != 2 || errors != 1 {
		t.Fatalf("expected 2 latency + 1 error points, got %d/%d", latencies, errors)
	}
}

func TestRecordWebSocketErrorTruncatesMessage(t *testing.T) {
	st := newFakeStore()
	b := NewBuffer(st, 1000, time.Hour)
	defer b.Close()

	long := strings.Repeat("x", 400)
	b.RecordWebSocketError("/ws/stt", "stream_error", long)
	b.Flush()

	pts := st.allPoints()
	if len(pts) != 1 {
		t.Fatalf("expected 1 point, got %d", len(pts))
	}
	if got := len(pts[0].Tags["message"]); got != 100 {
		t.Fatalf("expected message truncated to 100 chars, got %d", got)
	}
}

func TestRecordWebSocketConnectionFailure(t *testing.T) {
	st := newFakeStore()
	b := NewBuffer(st, 1000, time.Hour)
	defer b.Close()

	b.RecordWebSocketConnection("/ws/stt", true, "")
	b.RecordWebSocketConnection("/ws/stt", false, "no_token")
	b.Flush()

	var conns, errs int
	for _, p := range st.allPoints() {
		switch p.Name {
		case MetricWSConnections:
			conns++
		case MetricWSConnErrors:
			errs++
			if p.Tags["reason"] != "no_token" {
				t.Fatalf("expected failure reason tag, got %q", p.Tags["reason"])
			}
		}
	}
	if conns != 2 || errs != 1 {
		t.Fatalf("expected 2 connection + 1 error points, got %d/%d", conns, errs)
	}
}

func TestRecordExternalAPICallFailure(t *testing.T) {
	st := newFakeStore()
	b := NewBuffer(st, 1000, time.Hour)
	defer b.Close()

	b.RecordExternalAPICall("recognizer", "/v1/stream", true, 220)
	b.RecordExternalAPICall("recognizer", "/v1/stream", false, 950)
	b.Flush()

	var calls, errs int
	for _, p := range st.allPoints() {
		switch p.Name {
		case MetricExternalAPI:
			calls++
		case MetricExternalErrors:
			errs++
			if p.Tags["success"] != "false" {
				t.Fatalf("error metric should carry success=false, got %q", p.Tags["success"])
			}
		}
	}
	if calls != 2 || errs != 1 {
		t.Fatalf("expected 2 call + 1 error points, got %d/%d", calls, errs)
	}
}

func TestRecordDBQueryTimeTags(t *testing.T) {
	st := newFakeStore()
	b := NewBuffer(st, 1000, time.Hour)
	defer b.Close()

	b.RecordDBQueryTime("select", "metric_points", 3.2)
	b.Flush()

	pts := st.allPoints()
	if len(pts) != 1 || pts[0].Name != MetricDBQueryTime {
		t.Fatalf("expected one db query point, got %+v", pts)
	}
	if pts[0].Tags["operation"] != "select" || pts[0].Tags["table"] != "metric_points" {
		t.Fatalf("unexpected tags: %+v", pts[0].Tags)
	}
}
