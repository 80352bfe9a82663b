// Package analytics implements the center's §4.10 aggregation contract:
// group matching alerts into ThreatGroups, compute a risk score, and
// produce deterministic recommendations plus an adaptive-threshold
// suggestion.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/netwatch/telemetry/alert"
	"github.com/netwatch/telemetry/store"
)

// Filter narrows the aggregation window.
type Filter struct {
	Since    time.Time
	Until    time.Time
	Type     alert.Type
	Severity alert.Severity
}

// ThresholdRecommendation is the adaptive-threshold feedback signal.
type ThresholdRecommendation struct {
	Action           string  `json:"action"` // LOWER | RAISE | MAINTAIN
	RecommendedValue float64 `json:"recommended_value"`
	Reason           string  `json:"reason"`
}

// Report is the analytics contract's full response shape.
type Report struct {
	Threats                 []alert.ThreatGroup     `json:"threats"`
	RiskScore               float64                 `json:"risk_score"`
	Recommendations         []string                `json:"recommendations"`
	Correlations            int                     `json:"correlations"`
	ThresholdRecommendation ThresholdRecommendation `json:"threshold_recommendation"`
	TotalAlerts             int                     `json:"total_alerts"`
	AlertsBySeverity        map[string]int          `json:"alerts_by_severity"`
	AlertsByType            map[string]int          `json:"alerts_by_type"`
	GeneratedAt             time.Time               `json:"generated_at"`
}

// Config holds the current adaptive threshold so recommendations can be
// framed relative to it.
type Config struct {
	CurrentThreshold float64
}

// Analytics computes Reports over a store.AlertStore.
type Analytics struct {
	cfg   Config
	store store.AlertStore
}

// New constructs an Analytics. A zero CurrentThreshold defaults to 0.95.
func New(cfg Config, alertStore store.AlertStore) *Analytics {
	if cfg.CurrentThreshold <= 0 {
		cfg.CurrentThreshold = 0.95
	}
	return &Analytics{cfg: cfg, store: alertStore}
}

// Generate runs the full §4.10 aggregation.
func (a *Analytics) Generate(ctx context.Context, f Filter) (Report, error) {
	alerts, err := a.store.Query(ctx, store.QueryFilter{Since: f.Since, Until: f.Until, Type: f.Type, Severity: f.Severity})
	if err != nil {
		return Report{}, fmt.Errorf("analytics: querying alerts: %w", err)
	}

	groups := groupThreats(alerts)
	riskScore := riskScoreFor(groups)
	recs := recommendationsFor(groups)
	correlationCount := 0
	for _, al := range alerts {
		correlationCount += len(al.Correlations)
	}

	bySeverity := map[string]int{}
	byType := map[string]int{}
	for _, al := range alerts {
		bySeverity[string(al.Severity)]++
		byType[string(al.Type)]++
	}

	return Report{
		Threats:                 groups,
		RiskScore:               riskScore,
		Recommendations:         recs,
		Correlations:            correlationCount,
		ThresholdRecommendation: a.thresholdRecommendation(f, alerts),
		TotalAlerts:             len(alerts),
		AlertsBySeverity:        bySeverity,
		AlertsByType:            byType,
		GeneratedAt:             time.Now(),
	}, nil
}

// groupThreats groups alerts by (alert-type, source) into ThreatGroups
// (spec.md §3/§4.10).
func groupThreats(alerts []alert.Alert) []alert.ThreatGroup {
	type key struct {
		typ    alert.Type
		source string
	}
	members := map[key][]alert.Alert{}
	order := []key{}
	for _, al := range alerts {
		k := key{al.Type, al.Source}
		if _, seen := members[k]; !seen {
			order = append(order, k)
		}
		members[k] = append(members[k], al)
	}

	groups := make([]alert.ThreatGroup, 0, len(order))
	for _, k := range order {
		ms := members[k]
		group := alert.ThreatGroup{
			ID:          fmt.Sprintf("%s:%s", k.typ, k.source),
			Type:        k.typ,
			Source:      k.source,
			MemberCount: len(ms),
			FirstSeen:   ms[0].OriginalTimestamp,
			LastSeen:    ms[0].OriginalTimestamp,
		}
		indicatorSeen := map[string]bool{}
		assetSeen := map[string]bool{}
		for _, m := range ms {
			if alert.MoreSevere(m.Severity, group.Severity) || group.Severity == "" {
				group.Severity = m.Severity
			}
			if m.OriginalTimestamp.Before(group.FirstSeen) {
				group.FirstSeen = m.OriginalTimestamp
			}
			if m.OriginalTimestamp.After(group.LastSeen) {
				group.LastSeen = m.OriginalTimestamp
			}
			for _, ind := range m.Indicators {
				if !indicatorSeen[ind] {
					indicatorSeen[ind] = true
					group.Indicators = append(group.Indicators, ind)
				}
			}
			for _, asset := range []string{m.NetworkContext.SrcIP, m.NetworkContext.DstIP} {
				if asset != "" && !assetSeen[asset] {
					assetSeen[asset] = true
					group.AffectedAssets = append(group.AffectedAssets, asset)
				}
			}
		}
		group.Confidence = alert.Confidence(group.MemberCount)
		groups = append(groups, group)
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i].LastSeen.After(groups[j].LastSeen) })
	return groups
}

// riskScoreFor computes (Σ severity_weight·confidence) / (1 + 0.1·|groups|),
// clamped to [0,1].
func riskScoreFor(groups []alert.ThreatGroup) float64 {
	if len(groups) == 0 {
		return 0
	}
	var sum float64
	for _, g := range groups {
		sum += alert.SeverityWeight[g.Severity] * g.Confidence
	}
	score := sum / (1 + 0.1*float64(len(groups)))
	return clamp01(score)
}

// recommendationLookup is the closed table of per-threat-type
// recommendations named in §4.10.
var recommendationLookup = map[alert.Type]string{
	alert.TypeMalwareDetection:   "Isolate affected hosts and initiate malware remediation workflow.",
	alert.TypeDataExfiltration:   "Block outbound transfer and audit affected data stores.",
	alert.TypeIntrusionDetection: "Review perimeter rules and rotate credentials on targeted systems.",
	alert.TypeUnauthorizedAccess: "Force credential rotation and review access logs.",
	alert.TypeSuspiciousBehavior: "Increase monitoring on affected hosts.",
	alert.TypeNetworkAnomaly:     "Validate baseline traffic profile against recent changes.",
}

// recommendationsFor combines the closed per-type lookup with the two
// count-based rules (>5 groups, >2 high+critical groups).
func recommendationsFor(groups []alert.ThreatGroup) []string {
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	highOrCritical := 0
	for _, g := range groups {
		if rec, ok := recommendationLookup[g.Type]; ok {
			add(rec)
		}
		if g.Severity == alert.SeverityHigh || g.Severity == alert.SeverityCritical {
			highOrCritical++
		}
	}

	if len(groups) > 5 {
		add("High volume of distinct threat clusters; consider a dedicated incident review.")
	}
	if highOrCritical > 2 {
		add("Multiple high or critical threat clusters active; escalate to on-call security.")
	}
	if len(out) == 0 {
		add("No significant threat activity detected.")
	}
	return out
}

// thresholdRecommendation applies the alerts/hour + high-severity-ratio
// rule from §4.10.
func (a *Analytics) thresholdRecommendation(f Filter, alerts []alert.Alert) ThresholdRecommendation {
	windowHours := f.Until.Sub(f.Since).Hours()
	if windowHours <= 0 {
		windowHours = 1
	}
	rate := float64(len(alerts)) / windowHours

	highCount := 0
	for _, al := range alerts {
		if al.Severity == alert.SeverityHigh || al.Severity == alert.SeverityCritical {
			highCount++
		}
	}
	ratio := 0.0
	if len(alerts) > 0 {
		ratio = float64(highCount) / float64(len(alerts))
	}

	switch {
	case rate < 1 && ratio > 0.5:
		return ThresholdRecommendation{Action: "LOWER", RecommendedValue: 0.93, Reason: "low alert volume with a high proportion of severe alerts"}
	case rate > 20 && ratio < 0.1:
		return ThresholdRecommendation{Action: "RAISE", RecommendedValue: 0.97, Reason: "high alert volume dominated by low-severity noise"}
	default:
		return ThresholdRecommendation{Action: "MAINTAIN", RecommendedValue: 0.95, Reason: "alert volume and severity mix within expected range"}
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
