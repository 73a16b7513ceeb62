package monitor

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"helios/monitor/internal/store"
)

// Well-known metric names produced by the convenience recorders.
const (
	MetricAPILatency     = "api_latency"
	MetricAPIErrors      = "api_errors"
	MetricExternalAPI    = "external_api_latency"
	MetricExternalErrors = "external_api_errors"
	MetricDBQueryTime    = "db_query_time"
	MetricWSConnections  = "websocket_connections"
	MetricWSConnErrors   = "websocket_connection_errors"
	MetricWSErrors       = "websocket_errors"
	MetricWSSessions     = "websocket_session_duration"
)

// Error messages are truncated before they become tag values, to bound
// tag cardinality and row width.
const maxErrorTagLen = 100

const flushTimeout = 10 * time.Second

// Buffer is the in-memory metric ingestion queue. Record never blocks
// and never surfaces an error: monitoring must not be able to break
// the request path that feeds it. Points are flushed to the store in
// batches, either when the queue reaches the flush size or on a
// periodic tick, whichever comes first. A failed flush drops its batch
// rather than retrying, trading telemetry loss for bounded memory.
type Buffer struct {
	store     store.Store
	flushSize int

	mu           sync.Mutex
	queue        []store.MetricPoint
	flushPending bool
	closed       bool

	ticker *time.Ticker
	done   chan struct{}
	wg     sync.WaitGroup
}

func NewBuffer(st store.Store, flushSize int, interval time.Duration) *Buffer {
	if flushSize <= 0 {
		flushSize = 100
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	b := &Buffer{
		store:     st,
		flushSize: flushSize,
		ticker:    time.NewTicker(interval),
		done:      make(chan struct{}),
	}
	b.wg.Add(1)
	go b.run()
	return b
}

func (b *Buffer) run() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case <-b.ticker.C:
			b.Flush()
		}
	}
}

// Record appends one observation to the queue. Tags and metadata are
// copied so the caller may reuse its maps.
func (b *Buffer) Record(name string, value float64, unit string, tags map[string]string, metadata map[string]any) {
	if name == "" {
		return
	}
	pt := store.MetricPoint{
		Name:      name,
		Value:     value,
		Unit:      unit,
		Tags:      copyTags(tags),
		Metadata:  copyMeta(metadata),
		Timestamp: time.Now().UTC(),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.queue = append(b.queue, pt)
	depth := len(b.queue)
	trigger := depth >= b.flushSize && !b.flushPending
	if trigger {
		b.flushPending = true
	}
	b.mu.Unlock()

	metricPointsRecorded.Inc()
	gaugeBufferDepth.Set(float64(depth))

	if trigger {
		// Flush off the caller's goroutine so a burst crossing the
		// threshold never stalls the producer.
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.Flush()
		}()
	}
}

// Flush drains the current queue into one batch insert. The swap of
// the live queue happens under the lock before any I/O, so overlapping
// flush triggers each write a disjoint snapshot exactly once. On store
// failure the batch is dropped.
func (b *Buffer) Flush() {
	b.mu.Lock()
	batch := b.queue
	b.queue = nil
	b.flushPending = false
	b.mu.Unlock()

	gaugeBufferDepth.Set(0)
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := b.store.InsertBatch(ctx, batch); err != nil {
		log.Printf("[monitor] flush failed, dropping %d points: %v", len(batch), err)
		metricFlushes.WithLabelValues("error").Inc()
		metricPointsDropped.Add(float64(len(batch)))
		return
	}
	metricFlushes.WithLabelValues("ok").Inc()
	metricPointsFlushed.Add(float64(len(batch)))
}

// Close stops the periodic flusher, waits for in-flight flushes, and
// writes whatever remains in the queue.
func (b *Buffer) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.ticker.Stop()
	close(b.done)
	b.wg.Wait()
	b.Flush()
}

// Pending returns how many points are queued. Test hook.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// RecordAPILatency records the latency of one handled request and, for
// statuses >= 400, an additional error count.
func (b *Buffer) RecordAPILatency(route, method string, statusCode int, latencyMs float64) {
	tags := map[string]string{
		"route":  route,
		"method": method,
		"status": strconv.Itoa(statusCode),
	}
	b.Record(MetricAPILatency, latencyMs, "ms", tags, nil)
	if statusCode >= 400 {
		b.Record(MetricAPIErrors, 1, "count", tags, nil)
	}
}

// RecordExternalAPICall records the latency of an upstream call and an
// error count when it failed.
func (b *Buffer) RecordExternalAPICall(apiName, endpoint string, success bool, latencyMs float64) {
	tags := map[string]string{
		"api":      apiName,
		"endpoint": endpoint,
		"success":  strconv.FormatBool(success),
	}
	b.Record(MetricExternalAPI, latencyMs, "ms", tags, nil)
	if !success {
		b.Record(MetricExternalErrors, 1, "count", tags, nil)
	}
}

func (b *Buffer) RecordDBQueryTime(operation, table string, durationMs float64) {
	b.Record(MetricDBQueryTime, durationMs, "ms", map[string]string{
		"operation": operation,
		"table":     table,
	}, nil)
}

// RecordWebSocketConnection records every connection attempt and an
// additional error count for rejected ones.
func (b *Buffer) RecordWebSocketConnection(endpoint string, success bool, errorReason string) {
	tags := map[string]string{
		"endpoint": endpoint,
		"success":  strconv.FormatBool(success),
	}
	b.Record(MetricWSConnections, 1, "count", tags, nil)
	if !success {
		errTags := map[string]string{"endpoint": endpoint, "reason": errorReason}
		b.Record(MetricWSConnErrors, 1, "count", errTags, nil)
	}
}

func (b *Buffer) RecordWebSocketError(endpoint, errorType, errorMessage string) {
	if len(errorMessage) > maxErrorTagLen {
		errorMessage = errorMessage[:maxErrorTagLen]
	}
	b.Record(MetricWSErrors, 1, "count", map[string]string{
		"endpoint":   endpoint,
		"error_type": errorType,
		"message":    errorMessage,
	}, nil)
}

func (b *Buffer) RecordWebSocketSession(endpoint string, durationMs float64, messagesExchanged int) {
	b.Record(MetricWSSessions, durationMs, "ms", map[string]string{
		"endpoint": endpoint,
		"messages": strconv.Itoa(messagesExchanged),
	}, nil)
}

func copyTags(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyMeta(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
