// Package ingest implements the center's §4.7 ingestion contract: accept one
// Alert, dedupe + rate-limit it against store.KVStore under a single atomic
// check-and-set, persist it, and schedule Background Scoring — without ever
// blocking the caller on scoring. The md5 content-hash dedupe key reuses the
// teacher's util.FixedString hashing idiom; the throttle key is the plain
// UTC wall-clock minute.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/netwatch/telemetry/alert"
	"github.com/netwatch/telemetry/store"
	"github.com/netwatch/telemetry/util"
)

// Status mirrors the two outcomes §4.7 and §6 name for POST /api/alerts.
type Status string

const (
	StatusReceived           Status = "received"
	StatusFilteredOrThrottled Status = "filtered_or_throttled"
)

// Result is the ingest endpoint's response body.
type Result struct {
	AlertID          string  `json:"alert_id"`
	Status           Status  `json:"status"`
	ThreatScore      *float64 `json:"threat_score"`
	Correlations     []alert.Correlation `json:"correlations"`
	ProcessingTimeMs int64   `json:"processing_time_ms"`
}

// Scorer is the background-scoring dependency ingest schedules after every
// accepted Alert. It is satisfied by scorer.Scorer; kept as an interface
// here so ingest has no import-time dependency on the scorer package.
type Scorer interface {
	Schedule(id string)
}

// Config controls the dedupe window and per-minute rate ceiling (§4.7).
type Config struct {
	DedupeTTL       time.Duration
	RateLimitPerMin int
}

// Ingest is the center's ingestion path.
type Ingest struct {
	cfg   Config
	kv    store.KVStore
	store store.AlertStore
	scorer Scorer
	log   zerolog.Logger
}

// New constructs an Ingest. scorer may be nil (scoring is then skipped,
// useful for tests exercising only the dedupe/rate-limit path).
func New(cfg Config, kv store.KVStore, alertStore store.AlertStore, scorer Scorer, log zerolog.Logger) *Ingest {
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = 60 * time.Second
	}
	if cfg.RateLimitPerMin <= 0 {
		cfg.RateLimitPerMin = 50
	}
	return &Ingest{cfg: cfg, kv: kv, store: alertStore, scorer: scorer, log: log}
}

// Accept runs the full §4.7 algorithm for one incoming Alert.
func (in *Ingest) Accept(ctx context.Context, a alert.Alert) (Result, error) {
	start := time.Now()

	if a.ID == "" {
		a.ID = alert.NewID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if a.OriginalTimestamp.IsZero() {
		a.OriginalTimestamp = a.CreatedAt
	}

	dedupeKey, err := dedupeKey(a)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: computing dedupe key: %w", err)
	}
	throttleKey := throttleBucket(time.Now())

	admitted, err := in.kv.CheckAndAdmit(ctx, dedupeKey, in.cfg.DedupeTTL, throttleKey, in.cfg.RateLimitPerMin)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: check-and-admit: %w", err)
	}
	if !admitted {
		return Result{
			Status:           StatusFilteredOrThrottled,
			Correlations:     []alert.Correlation{},
			ProcessingTimeMs: time.Since(start).Milliseconds(),
		}, nil
	}

	if err := in.store.Insert(ctx, a); err != nil {
		return Result{}, fmt.Errorf("ingest: persisting alert: %w", err)
	}

	if in.scorer != nil {
		in.scorer.Schedule(a.ID)
	}

	return Result{
		AlertID:          a.ID,
		Status:           StatusReceived,
		Correlations:     []alert.Correlation{},
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// dedupeKey hashes source || alert-type || description with the shared
// keyed hash (util.NewFixedStringHash), per §4.7 step 1.
func dedupeKey(a alert.Alert) (string, error) {
	h, err := util.NewFixedStringHash(a.Source, string(a.Type), a.Description)
	if err != nil {
		return "", err
	}
	return "dedupe:" + h.Hex(), nil
}

// throttleBucket keys the per-minute counter by wall-clock minute, giving it
// a natural 60s rollover without needing an explicit expiry sweep beyond
// what the KVStore backend already performs.
func throttleBucket(t time.Time) string {
	return "throttle:" + t.UTC().Format("200601021504")
}
