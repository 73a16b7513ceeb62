package monitor

import (
	"context"
	"fmt"
	"log"
	"time"

	"helios/monitor/internal/store"
)

// Detection rule thresholds. These are fixed by contract with the
// historical data already recorded against them; changing one
// invalidates severity comparisons across time.
const (
	zScoreCritical    = 3.0
	zScoreHigh        = 2.0
	spikeP99Factor    = 1.5
	sustainedFactor   = 1.3
	trendFactor       = 1.2
	trendMinSamples   = 10
	varianceFactor    = 1.5
	recentFetchLimit  = 100
	defaultWSRange    = "15 minutes"
	expectedFailurePct = 5.0

	wsFailureCriticalPct = 20.0
	wsFailureHighPct     = 10.0
	wsFailureMediumPct   = 5.0
	streamErrorsCritical = 50
	streamErrorsHigh     = 10
)

// Endpoints swept by DetectWebSocketAnomalies when none is requested.
var defaultWSEndpoints = []string{"/ws/stt", "/ws/telemetry", "/ws/voice"}

// Report is the outcome of one detection run. Reason distinguishes
// "cannot evaluate" (no baseline, no data) from "no anomaly found";
// Error carries an internal failure that was converted into a safe
// result instead of propagating.
type Report struct {
	MetricName  string          `json:"metric_name,omitempty"`
	HasAnomaly  bool            `json:"has_anomaly"`
	Anomalies   []store.Anomaly `json:"anomalies,omitempty"`
	RecentStats *SampleStats    `json:"recent_stats,omitempty"`
	Baseline    *store.Baseline `json:"baseline,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Detector compares recent metric samples against baselines and
// records anomalies. Detection failures never propagate: every public
// method converts internal errors into a Report carrying the message.
type Detector struct {
	store     store.Store
	baselines *BaselineCalculator
}

func NewDetector(st store.Store, baselines *BaselineCalculator) *Detector {
	return &Detector{store: st, baselines: baselines}
}

// DetectAnomalies runs the baseline-relative rule set for one metric
// name over timeRange (default "1 hour").
func (d *Detector) DetectAnomalies(ctx context.Context, name, timeRange string) Report {
	rep, err := d.detect(ctx, name, timeRange)
	if err != nil {
		log.Printf("[detector] %s: %v", name, err)
		metricDetectorRuns.WithLabelValues("error").Inc()
		return Report{MetricName: name, Error: err.Error()}
	}
	metricDetectorRuns.WithLabelValues("ok").Inc()
	return rep
}

func (d *Detector) detect(ctx context.Context, name, timeRange string) (Report, error) {
	baseline, err := d.baselines.GetBaseline(ctx, name)
	if err != nil {
		return Report{}, err
	}
	if baseline == nil {
		return Report{MetricName: name, Reason: "No baseline available"}, nil
	}

	points, err := d.store.QueryMetrics(ctx, name, store.QueryOpts{
		TimeRange: store.NormalizeRange(timeRange, "1 hour"),
		Limit:     recentFetchLimit,
	})
	if err != nil {
		return Report{}, err
	}
	if len(points) == 0 {
		return Report{MetricName: name, Baseline: baseline, Reason: "No recent data"}, nil
	}

	// Points arrive newest-first; keep an ascending-by-time copy so
	// "first half" below means chronologically earliest.
	values := make([]float64, len(points))
	ascending := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
		ascending[len(points)-1-i] = p.Value
	}
	stats := computeStats(values)

	now := time.Now().UTC()
	tags := map[string]string{"time_range": store.NormalizeRange(timeRange, "1 hour")}
	var anomalies []store.Anomaly

	// Statistical outlier on the window max; the stronger severity
	// wins, never both.
	z := 0.0
	if baseline.StdDev > 0 {
		z = (stats.Max - baseline.Avg) / baseline.StdDev
	}
	if z > zScoreCritical {
		anomalies = append(anomalies, store.Anomaly{
			MetricName:    name,
			Type:          store.AnomalyStatisticalOutlier,
			Severity:      store.SeverityCritical,
			BaselineValue: baseline.Avg,
			AnomalyValue:  stats.Max,
			DeviationPct:  deviationPct(stats.Max, baseline.Avg),
			Description:   fmt.Sprintf("Recent max %.2f is %.2f standard deviations above the baseline mean %.2f", stats.Max, z, baseline.Avg),
			Tags:          tags,
			DetectedAt:    now,
			Status:        store.StatusActive,
		})
	} else if z > zScoreHigh {
		anomalies = append(anomalies, store.Anomaly{
			MetricName:    name,
			Type:          store.AnomalyStatisticalOutlier,
			Severity:      store.SeverityHigh,
			BaselineValue: baseline.Avg,
			AnomalyValue:  stats.Max,
			DeviationPct:  deviationPct(stats.Max, baseline.Avg),
			Description:   fmt.Sprintf("Recent max %.2f is %.2f standard deviations above the baseline mean %.2f", stats.Max, z, baseline.Avg),
			Tags:          tags,
			DetectedAt:    now,
			Status:        store.StatusActive,
		})
	}

	// Spike above p99; fires independently of the outlier rule.
	if stats.Max > baseline.P99*spikeP99Factor {
		anomalies = append(anomalies, store.Anomaly{
			MetricName:    name,
			Type:          store.AnomalySpike,
			Severity:      store.SeverityHigh,
			BaselineValue: baseline.P99,
			AnomalyValue:  stats.Max,
			DeviationPct:  deviationPct(stats.Max, baseline.P99),
			Description:   fmt.Sprintf("Recent max %.2f exceeds 1.5x the baseline p99 %.2f", stats.Max, baseline.P99),
			Tags:          tags,
			DetectedAt:    now,
			Status:        store.StatusActive,
		})
	}

	if stats.Avg > baseline.Avg*sustainedFactor {
		anomalies = append(anomalies, store.Anomaly{
			MetricName:    name,
			Type:          store.AnomalySustainedIncrease,
			Severity:      store.SeverityMedium,
			BaselineValue: baseline.Avg,
			AnomalyValue:  stats.Avg,
			DeviationPct:  deviationPct(stats.Avg, baseline.Avg),
			Description:   fmt.Sprintf("Recent mean %.2f exceeds 1.3x the baseline mean %.2f", stats.Avg, baseline.Avg),
			Tags:          tags,
			DetectedAt:    now,
			Status:        store.StatusActive,
		})
	}

	if len(ascending) >= trendMinSamples {
		mid := len(ascending) / 2
		firstAvg := mean(ascending[:mid])
		secondAvg := mean(ascending[mid:])
		if secondAvg > firstAvg*trendFactor {
			anomalies = append(anomalies, store.Anomaly{
				MetricName:    name,
				Type:          store.AnomalyUpwardTrend,
				Severity:      store.SeverityLow,
				BaselineValue: firstAvg,
				AnomalyValue:  secondAvg,
				DeviationPct:  deviationPct(secondAvg, firstAvg),
				Description:   fmt.Sprintf("Newer half of the window averages %.2f vs %.2f for the older half", secondAvg, firstAvg),
				Tags:          tags,
				DetectedAt:    now,
				Status:        store.StatusActive,
			})
		}
	}

	if baseline.StdDev > 0 && stats.StdDev > baseline.StdDev*varianceFactor {
		anomalies = append(anomalies, store.Anomaly{
			MetricName:    name,
			Type:          store.AnomalyIncreasedVariance,
			Severity:      store.SeverityLow,
			BaselineValue: baseline.StdDev,
			AnomalyValue:  stats.StdDev,
			DeviationPct:  deviationPct(stats.StdDev, baseline.StdDev),
			Description:   fmt.Sprintf("Recent stddev %.2f exceeds 1.5x the baseline stddev %.2f", stats.StdDev, baseline.StdDev),
			Tags:          tags,
			DetectedAt:    now,
			Status:        store.StatusActive,
		})
	}

	d.recordAnomalies(ctx, anomalies)

	return Report{
		MetricName:  name,
		HasAnomaly:  len(anomalies) > 0,
		Anomalies:   anomalies,
		RecentStats: &stats,
		Baseline:    baseline,
	}, nil
}

// DetectWebSocketAnomalies classifies per-endpoint connection failure
// rates and stream error volume over timeRange (default 15 minutes).
// Unlike DetectAnomalies it needs no baseline: thresholds are absolute,
// with a fixed 5% expected failure rate as the deviation reference.
func (d *Detector) DetectWebSocketAnomalies(ctx context.Context, endpoint, timeRange string) Report {
	rep, err := d.detectWebSocket(ctx, endpoint, timeRange)
	if err != nil {
		log.Printf("[detector] websocket sweep: %v", err)
		metricDetectorRuns.WithLabelValues("error").Inc()
		return Report{Error: err.Error()}
	}
	metricDetectorRuns.WithLabelValues("ok").Inc()
	return rep
}

func (d *Detector) detectWebSocket(ctx context.Context, endpoint, timeRange string) (Report, error) {
	rng := store.NormalizeRange(timeRange, defaultWSRange)
	endpoints := defaultWSEndpoints
	if endpoint != "" {
		endpoints = []string{endpoint}
	}

	now := time.Now().UTC()
	var anomalies []store.Anomaly

	for _, ep := range endpoints {
		conns, err := d.store.QueryMetrics(ctx, MetricWSConnections, store.QueryOpts{
			TimeRange: rng,
			Tags:      map[string]string{"endpoint": ep},
		})
		if err != nil {
			return Report{}, err
		}
		var failed, succeeded int
		for _, c := range conns {
			if c.Tags["success"] == "true" {
				succeeded++
			} else {
				failed++
			}
		}
		if total := failed + succeeded; total > 0 {
			ratePct := float64(failed) / float64(total) * 100

			var typ store.AnomalyType
			var sev store.Severity
			switch {
			case ratePct > wsFailureCriticalPct:
				typ, sev = store.AnomalyHighErrorRate, store.SeverityCritical
			case ratePct > wsFailureHighPct:
				typ, sev = store.AnomalyElevatedErrorRate, store.SeverityHigh
			case ratePct > wsFailureMediumPct:
				typ, sev = store.AnomalyModerateErrorRate, store.SeverityMedium
			}
			if typ != "" {
				anomalies = append(anomalies, store.Anomaly{
					MetricName:    MetricWSConnections,
					Type:          typ,
					Severity:      sev,
					BaselineValue: expectedFailurePct,
					AnomalyValue:  ratePct,
					DeviationPct:  deviationPct(ratePct, expectedFailurePct),
					Description:   fmt.Sprintf("%s: %d of %d connections failed (%.1f%%) in the last %s", ep, failed, total, ratePct, rng),
					Tags:          map[string]string{"endpoint": ep},
					DetectedAt:    now,
					Status:        store.StatusActive,
				})
			}
		}

		errEvents, err := d.store.QueryMetrics(ctx, MetricWSErrors, store.QueryOpts{
			TimeRange: rng,
			Tags:      map[string]string{"endpoint": ep},
		})
		if err != nil {
			return Report{}, err
		}
		byType := map[string]int{}
		for _, e := range errEvents {
			byType[e.Tags["error_type"]]++
		}
		if total := len(errEvents); total > streamErrorsHigh {
			sev := store.SeverityHigh
			if total > streamErrorsCritical {
				sev = store.SeverityCritical
			}
			anomalies = append(anomalies, store.Anomaly{
				MetricName:    MetricWSErrors,
				Type:          store.AnomalyHighStreamErrors,
				Severity:      sev,
				BaselineValue: 0,
				AnomalyValue:  float64(total),
				DeviationPct:  0,
				Description:   fmt.Sprintf("%s: %d stream errors across %d error types in the last %s", ep, total, len(byType), rng),
				Tags:          map[string]string{"endpoint": ep},
				DetectedAt:    now,
				Status:        store.StatusActive,
			})
		}
	}

	d.recordAnomalies(ctx, anomalies)

	return Report{HasAnomaly: len(anomalies) > 0, Anomalies: anomalies}, nil
}

// recordAnomalies persists fired anomalies. Persistence failures are
// logged and swallowed so a flaky store cannot turn detection into an
// outage of its own.
func (d *Detector) recordAnomalies(ctx context.Context, anomalies []store.Anomaly) {
	for _, a := range anomalies {
		metricAnomalies.WithLabelValues(string(a.Severity)).Inc()
		if err := d.store.InsertAnomaly(ctx, a); err != nil {
			log.Printf("[detector] record anomaly %s/%s: %v", a.MetricName, a.Type, err)
		}
	}
}

// ActiveAnomalies returns recorded anomalies at or above minSeverity
// within timeRange, strongest and newest first.
func (d *Detector) ActiveAnomalies(ctx context.Context, timeRange string, minSeverity store.Severity) ([]store.Anomaly, error) {
	return d.store.QueryAnomalies(ctx, store.AnomalyQuery{
		TimeRange:   store.NormalizeRange(timeRange, "24 hours"),
		MinSeverity: minSeverity,
	})
}
