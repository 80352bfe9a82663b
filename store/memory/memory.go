// Package memory implements store.KVStore and store.AlertStore entirely
// in-process, guarded by a mutex so the dedupe/rate-limit check-and-set
// stays atomic (spec.md §4.7) without a real key-value backend. It is the
// default Oracle backend (config.OracleConfig.Store.Backend == "memory")
// and the backend every ingest/scorer/centercorrelator/analytics test in
// this module exercises.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/netwatch/telemetry/alert"
	"github.com/netwatch/telemetry/store"
)

var (
	_ store.KVStore    = (*KVStore)(nil)
	_ store.AlertStore = (*AlertStore)(nil)
)

// KVStore is an in-memory, mutex-guarded store.KVStore.
type KVStore struct {
	mu        sync.Mutex
	dedupe    map[string]time.Time // key -> expiry
	throttle  map[string]int       // minute-bucket key -> count
	throttleExp map[string]time.Time
}

// New constructs an empty in-memory KVStore.
func New() *KVStore {
	return &KVStore{
		dedupe:      make(map[string]time.Time),
		throttle:    make(map[string]int),
		throttleExp: make(map[string]time.Time),
	}
}

func (k *KVStore) evictExpiredLocked(now time.Time) {
	for key, exp := range k.dedupe {
		if now.After(exp) {
			delete(k.dedupe, key)
		}
	}
	for key, exp := range k.throttleExp {
		if now.After(exp) {
			delete(k.throttle, key)
			delete(k.throttleExp, key)
		}
	}
}

// CheckAndAdmit implements store.KVStore under a single critical section,
// mirroring the atomic pipelined transaction spec.md §4.7 requires.
func (k *KVStore) CheckAndAdmit(_ context.Context, dedupeKey string, dedupeTTL time.Duration, throttleKey string, rateLimitCeiling int) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := time.Now()
	k.evictExpiredLocked(now)

	if _, exists := k.dedupe[dedupeKey]; exists {
		return false, nil
	}

	nextCount := k.throttle[throttleKey] + 1
	if nextCount > rateLimitCeiling {
		return false, nil
	}
	k.throttle[throttleKey] = nextCount
	k.throttleExp[throttleKey] = now.Add(60 * time.Second)

	k.dedupe[dedupeKey] = now.Add(dedupeTTL)
	return true, nil
}

// AlertStore is an in-memory, mutex-guarded store.AlertStore.
type AlertStore struct {
	mu     sync.RWMutex
	alerts map[string]alert.Alert
	order  []string
}

// New constructs an empty in-memory AlertStore.
func NewAlertStore() *AlertStore {
	return &AlertStore{alerts: make(map[string]alert.Alert)}
}

func (s *AlertStore) Insert(_ context.Context, a alert.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	s.alerts[a.ID] = a
	s.order = append(s.order, a.ID)
	return nil
}

func (s *AlertStore) UpdateScoring(_ context.Context, id string, score float64, riskLevel string, correlations []alert.Correlation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil
	}
	now := time.Now()
	a.Score = &score
	a.RiskLevel = riskLevel
	a.Correlations = correlations
	a.ProcessedAt = &now
	s.alerts[id] = a
	return nil
}

func (s *AlertStore) Get(_ context.Context, id string) (alert.Alert, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	return a, ok, nil
}

func (s *AlertStore) Query(_ context.Context, f store.QueryFilter) ([]alert.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]alert.Alert, 0, len(s.alerts))
	for _, id := range s.order {
		a, ok := s.alerts[id]
		if !ok {
			continue
		}
		if !f.Since.IsZero() && a.OriginalTimestamp.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && a.OriginalTimestamp.After(f.Until) {
			continue
		}
		if f.Type != "" && a.Type != f.Type {
			continue
		}
		if f.Severity != "" && a.Severity != f.Severity {
			continue
		}
		if f.Source != "" && a.Source != f.Source {
			continue
		}
		out = append(out, a)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].OriginalTimestamp.Before(out[j].OriginalTimestamp)
	})

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}
