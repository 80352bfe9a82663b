// Package postgres implements store.AlertStore against PostgreSQL via pgx,
// the "relational database" external collaborator named in spec.md §1. The
// pool setup, transaction-wrapped upsert, and paginated query shape are
// grounded on leanlp-BTC-coinjoin/internal/db/postgres.go.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/netwatch/telemetry/alert"
	"github.com/netwatch/telemetry/store"
)

var _ store.AlertStore = (*Store)(nil)

// Store is a pgx-pool-backed store.AlertStore.
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a pool against dsn and verifies connectivity with Ping, the
// same two-step connect-then-ping the teacher's coinjoin postgres adapter
// uses.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connecting: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping failed: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Check verifies the pool still has a reachable connection, satisfying
// oraclehttp.ServiceChecker for GET /health.
func (s *Store) Check(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// schema matches the Alerts table and Threat Intelligence table named in
// spec.md §6. InitSchema is idempotent (CREATE TABLE IF NOT EXISTS).
const schema = `
CREATE TABLE IF NOT EXISTS alerts (
	id                 TEXT PRIMARY KEY,
	source             TEXT NOT NULL,
	alert_type         TEXT NOT NULL,
	severity           TEXT NOT NULL,
	title              TEXT,
	description        TEXT,
	original_timestamp TIMESTAMPTZ NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL,
	processed_at       TIMESTAMPTZ,
	threat_score       DOUBLE PRECISION,
	risk_level         TEXT,
	raw_data           JSONB,
	network_context    JSONB,
	indicators         JSONB,
	correlations       JSONB
);
CREATE INDEX IF NOT EXISTS idx_alerts_ts_severity ON alerts (original_timestamp, severity);
CREATE INDEX IF NOT EXISTS idx_alerts_source_type ON alerts (source, alert_type);
CREATE INDEX IF NOT EXISTS idx_alerts_score ON alerts (threat_score);
CREATE INDEX IF NOT EXISTS idx_alerts_ts_desc ON alerts (original_timestamp DESC);

CREATE TABLE IF NOT EXISTS threat_intelligence (
	threat_id        TEXT PRIMARY KEY,
	threat_type      TEXT NOT NULL,
	severity         TEXT NOT NULL,
	confidence_score DOUBLE PRECISION NOT NULL,
	name             TEXT,
	description      TEXT,
	indicators       JSONB,
	tactics          JSONB,
	techniques       JSONB,
	first_seen       TIMESTAMPTZ,
	last_seen        TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	alert_id         TEXT REFERENCES alerts(id)
);
`

// InitSchema creates the alerts and threat_intelligence tables if absent.
func (s *Store) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("postgres: applying schema: %w", err)
	}
	return nil
}

// Insert upserts an Alert inside a transaction (ON CONFLICT DO NOTHING: an
// Alert's identifying fields are immutable once stored per spec.md §3).
func (s *Store) Insert(ctx context.Context, a alert.Alert) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin insert tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rawData, err := marshalOrNil(a.RawData)
	if err != nil {
		return err
	}
	netCtx, err := marshalOrNil(a.NetworkContext)
	if err != nil {
		return err
	}
	indicators, err := marshalOrNil(a.Indicators)
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO alerts (id, source, alert_type, severity, title, description,
			original_timestamp, created_at, raw_data, network_context, indicators)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = tx.Exec(ctx, q, a.ID, a.Source, string(a.Type), string(a.Severity), a.Title, a.Description,
		a.OriginalTimestamp, a.CreatedAt, rawData, netCtx, indicators)
	if err != nil {
		return fmt.Errorf("postgres: inserting alert: %w", err)
	}
	return tx.Commit(ctx)
}

// UpdateScoring applies the Background Scorer's row-level update.
func (s *Store) UpdateScoring(ctx context.Context, id string, score float64, riskLevel string, correlations []alert.Correlation) error {
	corrJSON, err := marshalOrNil(correlations)
	if err != nil {
		return err
	}
	const q = `
		UPDATE alerts SET threat_score = $1, risk_level = $2, correlations = $3, processed_at = now()
		WHERE id = $4
	`
	_, err = s.pool.Exec(ctx, q, score, riskLevel, corrJSON, id)
	if err != nil {
		return fmt.Errorf("postgres: updating scoring for %s: %w", id, err)
	}
	return nil
}

// Get loads one Alert by id.
func (s *Store) Get(ctx context.Context, id string) (alert.Alert, bool, error) {
	const q = `
		SELECT id, source, alert_type, severity, title, description,
			original_timestamp, created_at, processed_at, threat_score, risk_level,
			raw_data, network_context, indicators, correlations
		FROM alerts WHERE id = $1
	`
	row := s.pool.QueryRow(ctx, q, id)
	a, err := scanAlert(row)
	if err != nil {
		return alert.Alert{}, false, nil
	}
	return a, true, nil
}

// Query runs a filtered read, newest first, mirroring the teacher-adjacent
// coinjoin GetMixers query shape. A zero Limit returns every matching row
// (LIMIT NULL); a Limit above 5000 is reduced to 500.
func (s *Store) Query(ctx context.Context, f store.QueryFilter) ([]alert.Alert, error) {
	var limit any
	if f.Limit > 0 {
		limit = f.Limit
		if f.Limit > 5000 {
			limit = 500
		}
	}
	q := `
		SELECT id, source, alert_type, severity, title, description,
			original_timestamp, created_at, processed_at, threat_score, risk_level,
			raw_data, network_context, indicators, correlations
		FROM alerts
		WHERE ($1::timestamptz IS NULL OR original_timestamp >= $1)
		  AND ($2::timestamptz IS NULL OR original_timestamp <= $2)
		  AND ($3 = '' OR alert_type = $3)
		  AND ($4 = '' OR severity = $4)
		  AND ($5 = '' OR source = $5)
		ORDER BY original_timestamp DESC
		LIMIT $6
	`
	var since, until *time.Time
	if !f.Since.IsZero() {
		since = &f.Since
	}
	if !f.Until.IsZero() {
		until = &f.Until
	}
	rows, err := s.pool.Query(ctx, q, since, until, string(f.Type), string(f.Severity), f.Source, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: querying alerts: %w", err)
	}
	defer rows.Close()

	var out []alert.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scanning alert row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanAlert(row scannable) (alert.Alert, error) {
	var a alert.Alert
	var typ, sev string
	var rawData, netCtx, indicators, correlations []byte
	err := row.Scan(&a.ID, &a.Source, &typ, &sev, &a.Title, &a.Description,
		&a.OriginalTimestamp, &a.CreatedAt, &a.ProcessedAt, &a.Score, &a.RiskLevel,
		&rawData, &netCtx, &indicators, &correlations)
	if err != nil {
		return alert.Alert{}, err
	}
	a.Type = alert.Type(typ)
	a.Severity = alert.Severity(sev)
	if len(rawData) > 0 {
		_ = json.Unmarshal(rawData, &a.RawData)
	}
	if len(netCtx) > 0 {
		_ = json.Unmarshal(netCtx, &a.NetworkContext)
	}
	if len(indicators) > 0 {
		_ = json.Unmarshal(indicators, &a.Indicators)
	}
	if len(correlations) > 0 {
		_ = json.Unmarshal(correlations, &a.Correlations)
	}
	return a, nil
}

func marshalOrNil(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("postgres: marshaling jsonb column: %w", err)
	}
	return b, nil
}
