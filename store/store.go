// Package store defines the two storage interfaces the center depends on:
// KVStore (dedupe/rate-limit state) and AlertStore (durable Alert
// persistence with query support for scoring, correlation, and analytics).
// Concrete backends live in store/memory (default, and the only backend
// exercised in tests), store/postgres (the "relational database" named in
// spec.md §1), and store/clickhouse (the System Metrics sink).
package store

import (
	"context"
	"time"

	"github.com/netwatch/telemetry/alert"
)

// KVStore holds the dedupe content-hash (TTL window) and the per-minute
// throttle counter the center's ingestion path checks-and-sets atomically
// (spec.md §4.7). CheckAndAdmit is the single atomic operation: it performs
// steps 1-5 of §4.7 against whatever transaction primitive the backend
// offers (a Lua script / MULTI against Redis, a row lock against Postgres,
// a mutex for the in-memory backend) and reports whether the request should
// be persisted.
type KVStore interface {
	// CheckAndAdmit reports whether a request keyed by dedupeKey should be
	// admitted: false if dedupeKey already exists (duplicate within the
	// dedupe window) or the throttleKey's per-minute counter would exceed
	// rateLimitCeiling; true otherwise, after setting dedupeKey with TTL
	// dedupeTTL and incrementing throttleKey (TTL 60s).
	CheckAndAdmit(ctx context.Context, dedupeKey string, dedupeTTL time.Duration, throttleKey string, rateLimitCeiling int) (admitted bool, err error)
}

// QueryFilter narrows an AlertStore.Query call. A zero value matches
// everything.
type QueryFilter struct {
	Since    time.Time
	Until    time.Time
	Type     alert.Type
	Severity alert.Severity
	Source   string
	Limit    int
}

// AlertStore is durable Alert storage with indexes the way spec.md §6
// describes: (timestamp, severity), (source, alert_type), (threat_score),
// timestamp desc.
type AlertStore interface {
	// Insert persists a is new Alert, assigning CreatedAt if unset.
	Insert(ctx context.Context, a alert.Alert) error
	// UpdateScoring is the Background Scorer's row-level update: it is the
	// only path that sets Score, RiskLevel, ProcessedAt, and Correlations
	// once an alert is stored (spec.md §3 invariant).
	UpdateScoring(ctx context.Context, id string, score float64, riskLevel string, correlations []alert.Correlation) error
	Get(ctx context.Context, id string) (alert.Alert, bool, error)
	Query(ctx context.Context, f QueryFilter) ([]alert.Alert, error)
}
