package store

import "time"

// MetricPoint is a single observation. Points are written once and
// never updated.
type MetricPoint struct {
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Unit      string            `json:"unit"`
	Tags      map[string]string `json:"tags,omitempty"`
	Metadata  map[string]any    `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Baseline holds rolling statistics for one metric name. At most one
// valid baseline exists per name at any instant; stale rows are
// superseded by upsert, not deleted.
type Baseline struct {
	MetricName   string    `json:"metric_name" db:"metric_name"`
	Avg          float64   `json:"avg" db:"avg"`
	P50          float64   `json:"p50" db:"p50"`
	P95          float64   `json:"p95" db:"p95"`
	P99          float64   `json:"p99" db:"p99"`
	Min          float64   `json:"min" db:"min"`
	Max          float64   `json:"max" db:"max"`
	StdDev       float64   `json:"stddev" db:"stddev"`
	SampleSize   int       `json:"sample_size" db:"sample_size"`
	CalculatedAt time.Time `json:"calculated_at" db:"calculated_at"`
	ValidUntil   time.Time `json:"valid_until" db:"valid_until"`
}

// AnomalyType identifies which detection rule fired.
type AnomalyType string

const (
	AnomalyStatisticalOutlier AnomalyType = "statistical_outlier"
	AnomalySpike              AnomalyType = "spike"
	AnomalySustainedIncrease  AnomalyType = "sustained_increase"
	AnomalyUpwardTrend        AnomalyType = "upward_trend"
	AnomalyIncreasedVariance  AnomalyType = "increased_variance"
	AnomalyHighErrorRate      AnomalyType = "high_error_rate"
	AnomalyElevatedErrorRate  AnomalyType = "elevated_error_rate"
	AnomalyModerateErrorRate  AnomalyType = "moderate_error_rate"
	AnomalyHighStreamErrors   AnomalyType = "high_stream_errors"
)

// Severity is totally ordered: low < medium < high < critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the position of s in the severity order. Unknown
// severities rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// AtLeast reports whether s is min or stronger.
func (s Severity) AtLeast(min Severity) bool { return s.Rank() >= min.Rank() }

// Anomaly status values. Transitions to resolved happen outside the
// detection path.
const (
	StatusActive   = "active"
	StatusResolved = "resolved"
)

// Anomaly is one detection event. The detector never mutates a
// recorded anomaly.
type Anomaly struct {
	MetricName    string            `json:"metric_name"`
	Type          AnomalyType       `json:"anomaly_type"`
	Severity      Severity          `json:"severity"`
	BaselineValue float64           `json:"baseline_value"`
	AnomalyValue  float64           `json:"anomaly_value"`
	DeviationPct  float64           `json:"deviation_percentage"`
	Description   string            `json:"description"`
	Tags          map[string]string `json:"tags,omitempty"`
	DetectedAt    time.Time         `json:"detected_at"`
	Status        string            `json:"status"`
}

// QueryOpts narrows a metric query. TimeRange is a free-form interval
// expression ("15 minutes", "7 days") interpreted by the store.
// Limit <= 0 means no limit.
type QueryOpts struct {
	TimeRange string
	Tags      map[string]string
	Limit     int
}

// AnomalyQuery narrows an anomaly query.
type AnomalyQuery struct {
	TimeRange   string
	MinSeverity Severity
	Limit       int
}
