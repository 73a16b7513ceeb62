package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const defaultTimeRange = "1 hour"

// Postgres implements Store on top of PostgreSQL via sqlx.
type Postgres struct {
	db *sqlx.DB
}

func NewPostgres(db *sqlx.DB) *Postgres { return &Postgres{db: db} }

// Open connects and pings the database.
func Open(url string) (*Postgres, error) {
	db, err := sqlx.Connect("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewPostgres(db), nil
}

func (p *Postgres) Close() error { return p.db.Close() }

// Ping reports whether the database is reachable.
func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// EnsureSchema creates the monitoring tables if they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS metric_points (
    id        BIGSERIAL PRIMARY KEY,
    name      TEXT NOT NULL,
    value     DOUBLE PRECISION NOT NULL,
    unit      TEXT NOT NULL DEFAULT '',
    tags      JSONB NOT NULL DEFAULT '{}',
    metadata  JSONB NOT NULL DEFAULT '{}',
    ts        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_metric_points_name_ts ON metric_points (name, ts DESC);
CREATE INDEX IF NOT EXISTS idx_metric_points_tags ON metric_points USING GIN (tags);

CREATE TABLE IF NOT EXISTS metric_baselines (
    metric_name   TEXT PRIMARY KEY,
    avg           DOUBLE PRECISION NOT NULL,
    p50           DOUBLE PRECISION NOT NULL,
    p95           DOUBLE PRECISION NOT NULL,
    p99           DOUBLE PRECISION NOT NULL,
    min           DOUBLE PRECISION NOT NULL,
    max           DOUBLE PRECISION NOT NULL,
    stddev        DOUBLE PRECISION NOT NULL,
    sample_size   INTEGER NOT NULL,
    calculated_at TIMESTAMPTZ NOT NULL,
    valid_until   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS anomalies (
    id                   BIGSERIAL PRIMARY KEY,
    metric_name          TEXT NOT NULL,
    anomaly_type         TEXT NOT NULL,
    severity             TEXT NOT NULL,
    baseline_value       DOUBLE PRECISION NOT NULL,
    anomaly_value        DOUBLE PRECISION NOT NULL,
    deviation_percentage DOUBLE PRECISION NOT NULL,
    description          TEXT NOT NULL DEFAULT '',
    tags                 JSONB NOT NULL DEFAULT '{}',
    detected_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
    status               TEXT NOT NULL DEFAULT 'active'
);
CREATE INDEX IF NOT EXISTS idx_anomalies_detected_at ON anomalies (detected_at DESC);
`
	_, err := p.db.ExecContext(ctx, schema)
	return err
}

type pointRow struct {
	Name     string    `db:"name"`
	Value    float64   `db:"value"`
	Unit     string    `db:"unit"`
	Tags     []byte    `db:"tags"`
	Metadata []byte    `db:"metadata"`
	Ts       time.Time `db:"ts"`
}

func (p *Postgres) InsertBatch(ctx context.Context, points []MetricPoint) error {
	if len(points) == 0 {
		return nil
	}
	rows := make([]pointRow, 0, len(points))
	for _, pt := range points {
		tags, err := json.Marshal(orEmptyTags(pt.Tags))
		if err != nil {
			return fmt.Errorf("marshal tags: %w", err)
		}
		meta, err := json.Marshal(orEmptyMeta(pt.Metadata))
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		rows = append(rows, pointRow{
			Name: pt.Name, Value: pt.Value, Unit: pt.Unit,
			Tags: tags, Metadata: meta, Ts: pt.Timestamp,
		})
	}
	_, err := p.db.NamedExecContext(ctx,
		`INSERT INTO metric_points (name, value, unit, tags, metadata, ts)
		 VALUES (:name, :value, :unit, :tags, :metadata, :ts)`, rows)
	return err
}

func (p *Postgres) QueryMetrics(ctx context.Context, name string, opts QueryOpts) ([]MetricPoint, error) {
	rng := opts.TimeRange
	if rng == "" {
		rng = defaultTimeRange
	}
	query := `SELECT name, value, unit, tags, metadata, ts FROM metric_points
	          WHERE name = $1 AND ts > now() - $2::interval`
	args := []any{name, rng}
	if len(opts.Tags) > 0 {
		filter, err := json.Marshal(opts.Tags)
		if err != nil {
			return nil, fmt.Errorf("marshal tag filter: %w", err)
		}
		args = append(args, filter)
		query += fmt.Sprintf(" AND tags @> $%d::jsonb", len(args))
	}
	query += " ORDER BY ts DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MetricPoint
	for rows.Next() {
		var r pointRow
		if err := rows.StructScan(&r); err != nil {
			return nil, err
		}
		pt := MetricPoint{Name: r.Name, Value: r.Value, Unit: r.Unit, Timestamp: r.Ts}
		if len(r.Tags) > 0 {
			if err := json.Unmarshal(r.Tags, &pt.Tags); err != nil {
				return nil, fmt.Errorf("unmarshal tags: %w", err)
			}
		}
		if len(r.Metadata) > 0 {
			if err := json.Unmarshal(r.Metadata, &pt.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		out = append(out, pt)
	}
	return out, rows.Err()
}

func (p *Postgres) UpsertBaseline(ctx context.Context, b Baseline) error {
	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO metric_baselines
		    (metric_name, avg, p50, p95, p99, min, max, stddev, sample_size, calculated_at, valid_until)
		VALUES
		    (:metric_name, :avg, :p50, :p95, :p99, :min, :max, :stddev, :sample_size, :calculated_at, :valid_until)
		ON CONFLICT (metric_name) DO UPDATE SET
		    avg = EXCLUDED.avg, p50 = EXCLUDED.p50, p95 = EXCLUDED.p95, p99 = EXCLUDED.p99,
		    min = EXCLUDED.min, max = EXCLUDED.max, stddev = EXCLUDED.stddev,
		    sample_size = EXCLUDED.sample_size,
		    calculated_at = EXCLUDED.calculated_at, valid_until = EXCLUDED.valid_until`, b)
	return err
}

func (p *Postgres) GetValidBaseline(ctx context.Context, name string) (*Baseline, error) {
	var b Baseline
	err := p.db.GetContext(ctx, &b, `
		SELECT metric_name, avg, p50, p95, p99, min, max, stddev, sample_size, calculated_at,
		       COALESCE(valid_until, 'infinity'::timestamptz) AS valid_until
		FROM metric_baselines
		WHERE metric_name = $1 AND (valid_until IS NULL OR valid_until > now())`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (p *Postgres) InsertAnomaly(ctx context.Context, a Anomaly) error {
	tags, err := json.Marshal(orEmptyTags(a.Tags))
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	status := a.Status
	if status == "" {
		status = StatusActive
	}
	detectedAt := a.DetectedAt
	if detectedAt.IsZero() {
		detectedAt = time.Now().UTC()
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO anomalies
		    (metric_name, anomaly_type, severity, baseline_value, anomaly_value,
		     deviation_percentage, description, tags, detected_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.MetricName, string(a.Type), string(a.Severity), a.BaselineValue, a.AnomalyValue,
		a.DeviationPct, a.Description, tags, detectedAt, status)
	return err
}

func (p *Postgres) QueryAnomalies(ctx context.Context, q AnomalyQuery) ([]Anomaly, error) {
	rng := q.TimeRange
	if rng == "" {
		rng = "24 hours"
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	minRank := q.MinSeverity.Rank()

	rows, err := p.db.QueryxContext(ctx, `
		SELECT metric_name, anomaly_type, severity, baseline_value, anomaly_value,
		       deviation_percentage, description, tags, detected_at, status
		FROM anomalies
		WHERE detected_at > now() - $1::interval
		  AND (CASE severity
		           WHEN 'critical' THEN 4 WHEN 'high' THEN 3
		           WHEN 'medium' THEN 2 WHEN 'low' THEN 1 ELSE 0 END) >= $2
		ORDER BY (CASE severity
		              WHEN 'critical' THEN 4 WHEN 'high' THEN 3
		              WHEN 'medium' THEN 2 WHEN 'low' THEN 1 ELSE 0 END) DESC,
		         detected_at DESC
		LIMIT $3`, rng, minRank, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Anomaly
	for rows.Next() {
		var (
			a    Anomaly
			typ  string
			sev  string
			tags []byte
		)
		if err := rows.Scan(&a.MetricName, &typ, &sev, &a.BaselineValue, &a.AnomalyValue,
			&a.DeviationPct, &a.Description, &tags, &a.DetectedAt, &a.Status); err != nil {
			return nil, err
		}
		a.Type = AnomalyType(typ)
		a.Severity = Severity(sev)
		if len(tags) > 0 {
			if err := json.Unmarshal(tags, &a.Tags); err != nil {
				return nil, fmt.Errorf("unmarshal tags: %w", err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func orEmptyTags(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func orEmptyMeta(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// NormalizeRange trims a user-supplied interval expression and falls
// back to def when empty. Values are always bound as parameters, never
// interpolated, so this is a convenience, not an injection guard.
func NormalizeRange(expr, def string) string {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return def
	}
	return expr
}
