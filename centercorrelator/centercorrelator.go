// Package centercorrelator implements the center's §4.9 Alert Correlator:
// given a target Alert, discover related Alerts across three independent
// channels (temporal, network, behavioral) and return the union as
// Correlation records, one per channel a pair of alerts matched on.
package centercorrelator

import (
	"context"
	"fmt"
	"time"

	"github.com/netwatch/telemetry/alert"
	"github.com/netwatch/telemetry/store"
)

// Config controls the temporal channel's window.
type Config struct {
	TemporalWindow time.Duration
}

// Correlator discovers related alerts for a target Alert.
type Correlator struct {
	cfg   Config
	store store.AlertStore
}

// New constructs a Correlator. A zero TemporalWindow defaults to the 30
// minute window named in §4.9.
func New(cfg Config, alertStore store.AlertStore) *Correlator {
	if cfg.TemporalWindow <= 0 {
		cfg.TemporalWindow = 30 * time.Minute
	}
	return &Correlator{cfg: cfg, store: alertStore}
}

// Correlate runs all three channels against target and returns the union of
// matches, each tagged with the channel that found it.
func (c *Correlator) Correlate(ctx context.Context, target alert.Alert) ([]alert.Correlation, error) {
	since := target.OriginalTimestamp.Add(-c.cfg.TemporalWindow)
	until := target.OriginalTimestamp.Add(c.cfg.TemporalWindow)

	temporalCandidates, err := c.store.Query(ctx, store.QueryFilter{Since: since, Until: until})
	if err != nil {
		return nil, fmt.Errorf("centercorrelator: loading temporal candidates: %w", err)
	}

	// Only the Temporal channel is time-bounded (spec.md §4.9); the Network
	// and Behavioral channels match on shared address / (type, source) with
	// no time restriction, so each widens its own candidate pool with an
	// unbounded-time query.
	networkCandidates, err := c.store.Query(ctx, store.QueryFilter{})
	if err != nil {
		return nil, fmt.Errorf("centercorrelator: loading network candidates: %w", err)
	}
	behavioralCandidates, err := c.store.Query(ctx, store.QueryFilter{Type: target.Type})
	if err != nil {
		return nil, fmt.Errorf("centercorrelator: loading behavioral candidates: %w", err)
	}

	var out []alert.Correlation
	out = append(out, temporalMatches(target, temporalCandidates)...)
	out = append(out, networkMatches(target, networkCandidates)...)
	out = append(out, behavioralMatches(target, behavioralCandidates)...)
	return out, nil
}

// temporalMatches scores candidates by how close their timestamp is to the
// target's, keeping pairs with score > 0.5 (Δt < 900s within the 1800s
// window).
func temporalMatches(target alert.Alert, candidates []alert.Alert) []alert.Correlation {
	var out []alert.Correlation
	windowSeconds := 1800.0
	for _, c := range candidates {
		if c.ID == target.ID {
			continue
		}
		dt := target.OriginalTimestamp.Sub(c.OriginalTimestamp).Seconds()
		if dt < 0 {
			dt = -dt
		}
		score := 1 - dt/windowSeconds
		if score < 0 {
			score = 0
		}
		if score > 0.5 {
			out = append(out, alert.Correlation{Channel: "temporal", AlertID: c.ID, Score: score})
		}
	}
	return out
}

// networkMatches connects alerts whose network context shares a src or dst
// address with the target's; flat 0.8 score.
func networkMatches(target alert.Alert, candidates []alert.Alert) []alert.Correlation {
	var out []alert.Correlation
	tgtAddrs := addrSet(target)
	if len(tgtAddrs) == 0 {
		return out
	}
	for _, c := range candidates {
		if c.ID == target.ID {
			continue
		}
		for addr := range addrSet(c) {
			if tgtAddrs[addr] {
				out = append(out, alert.Correlation{Channel: "network", AlertID: c.ID, Score: 0.8})
				break
			}
		}
	}
	return out
}

func addrSet(a alert.Alert) map[string]bool {
	set := make(map[string]bool, 2)
	if a.NetworkContext.SrcIP != "" {
		set[a.NetworkContext.SrcIP] = true
	}
	if a.NetworkContext.DstIP != "" {
		set[a.NetworkContext.DstIP] = true
	}
	return set
}

// behavioralMatches connects alerts sharing (alert-type, source); 0.6 base,
// +0.2 if severity also matches.
func behavioralMatches(target alert.Alert, candidates []alert.Alert) []alert.Correlation {
	var out []alert.Correlation
	for _, c := range candidates {
		if c.ID == target.ID {
			continue
		}
		if c.Type != target.Type || c.Source != target.Source {
			continue
		}
		score := 0.6
		if c.Severity == target.Severity {
			score += 0.2
		}
		out = append(out, alert.Correlation{Channel: "behavioral", AlertID: c.ID, Score: score})
	}
	return out
}
