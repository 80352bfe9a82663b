package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netwatch/telemetry/alert"
	"github.com/netwatch/telemetry/store/memory"
)

func insertAll(t *testing.T, as *memory.AlertStore, alerts ...alert.Alert) {
	t.Helper()
	for _, a := range alerts {
		require.NoError(t, as.Insert(context.Background(), a))
	}
}

func TestGenerateGroupsByTypeAndSource(t *testing.T) {
	as := memory.NewAlertStore()
	now := time.Now()
	insertAll(t, as,
		alert.Alert{ID: "1", Type: alert.TypeMalwareDetection, Source: "kitnet", Severity: alert.SeverityHigh, OriginalTimestamp: now},
		alert.Alert{ID: "2", Type: alert.TypeMalwareDetection, Source: "kitnet", Severity: alert.SeverityCritical, OriginalTimestamp: now.Add(time.Minute)},
		alert.Alert{ID: "3", Type: alert.TypeNetworkAnomaly, Source: "bridge", Severity: alert.SeverityLow, OriginalTimestamp: now},
	)

	an := New(Config{}, as)
	report, err := an.Generate(context.Background(), Filter{Since: now.Add(-time.Hour), Until: now.Add(time.Hour)})
	require.NoError(t, err)

	require.Len(t, report.Threats, 2)
	var malwareGroup alert.ThreatGroup
	for _, g := range report.Threats {
		if g.Type == alert.TypeMalwareDetection {
			malwareGroup = g
		}
	}
	assert.Equal(t, 2, malwareGroup.MemberCount)
	assert.Equal(t, alert.SeverityCritical, malwareGroup.Severity)
	assert.InDelta(t, alert.Confidence(2), malwareGroup.Confidence, 1e-9)
}

func TestRiskScoreFormula(t *testing.T) {
	groups := []alert.ThreatGroup{
		{Severity: alert.SeverityHigh, Confidence: 0.5},
		{Severity: alert.SeverityCritical, Confidence: 0.4},
	}
	got := riskScoreFor(groups)
	want := (0.8*0.5 + 1.0*0.4) / (1 + 0.1*2)
	assert.InDelta(t, want, got, 1e-9)
}

func TestThresholdRecommendationLowVolumeHighSeverity(t *testing.T) {
	as := memory.NewAlertStore()
	now := time.Now()
	insertAll(t, as, alert.Alert{ID: "1", Severity: alert.SeverityCritical, OriginalTimestamp: now})

	an := New(Config{}, as)
	report, err := an.Generate(context.Background(), Filter{Since: now.Add(-2 * time.Hour), Until: now})
	require.NoError(t, err)
	assert.Equal(t, "LOWER", report.ThresholdRecommendation.Action)
	assert.InDelta(t, 0.93, report.ThresholdRecommendation.RecommendedValue, 1e-9)
}

func TestThresholdRecommendationHighVolumeLowSeverity(t *testing.T) {
	as := memory.NewAlertStore()
	now := time.Now()
	for i := 0; i < 50; i++ {
		insertAll(t, as, alert.Alert{ID: idx(i), Severity: alert.SeverityLow, OriginalTimestamp: now})
	}

	an := New(Config{}, as)
	report, err := an.Generate(context.Background(), Filter{Since: now.Add(-time.Hour), Until: now})
	require.NoError(t, err)
	assert.Equal(t, "RAISE", report.ThresholdRecommendation.Action)
}

func idx(i int) string {
	return "bulk-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
}

func TestRecommendationsDedupedAndCountRules(t *testing.T) {
	as := memory.NewAlertStore()
	now := time.Now()
	types := []alert.Type{
		alert.TypeMalwareDetection, alert.TypeDataExfiltration, alert.TypeIntrusionDetection,
		alert.TypeUnauthorizedAccess, alert.TypeSuspiciousBehavior, alert.TypeNetworkAnomaly,
	}
	for i, ty := range types {
		insertAll(t, as, alert.Alert{ID: idx(i), Type: ty, Source: "src", Severity: alert.SeverityCritical, OriginalTimestamp: now})
	}

	an := New(Config{}, as)
	report, err := an.Generate(context.Background(), Filter{Since: now.Add(-time.Hour), Until: now.Add(time.Hour)})
	require.NoError(t, err)
	assert.Contains(t, report.Recommendations, "High volume of distinct threat clusters; consider a dedicated incident review.")
	assert.Contains(t, report.Recommendations, "Multiple high or critical threat clusters active; escalate to on-call security.")
}
