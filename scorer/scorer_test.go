package scorer

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netwatch/telemetry/alert"
	"github.com/netwatch/telemetry/store/memory"
)

// TestDeterministicScoringS5 reproduces the worked example's inputs; the
// expected total is 0.52 (0.3*0.9 + 0.3*0.7 + 0.2*0.2 + 0.2*0.0), matching
// the original Python implementation's identical weighting.
func TestDeterministicScoringS5(t *testing.T) {
	as := memory.NewAlertStore()
	s := New(Config{}, as, nil, zerolog.Nop())

	a := alert.Alert{
		ID:       "a1",
		Severity: alert.SeverityHigh,
		Type:     alert.TypeDataExfiltration,
		RawData: map[string]any{
			"bytes_transferred": float64(5_000_000),
			"failed_auth":       float64(0),
		},
		NetworkContext: alert.NetworkContext{
			DstPort:            443,
			ExternalConnection: true,
			ConnectionCount:    150,
		},
		Indicators:        []string{"45.33.32.156"},
		OriginalTimestamp: time.Now(),
	}

	got := s.Deterministic(context.Background(), a)
	assert.InDelta(t, 0.52, got, 1e-9)
}

func TestContextRuleSensitivePort(t *testing.T) {
	s := New(Config{}, memory.NewAlertStore(), nil, zerolog.Nop())
	a := alert.Alert{NetworkContext: alert.NetworkContext{DstPort: 3389}}
	assert.InDelta(t, 0.2, s.contextScore(a), 1e-9)
}

func TestIndicatorKnownBadIP(t *testing.T) {
	s := New(Config{KnownBadIPs: []string{"1.2.3.4"}}, memory.NewAlertStore(), nil, zerolog.Nop())
	a := alert.Alert{Indicators: []string{"1.2.3.4"}}
	assert.InDelta(t, 0.4, s.indicator(a), 1e-9)
}

func TestIndicatorSuspiciousPattern(t *testing.T) {
	s := New(Config{}, memory.NewAlertStore(), nil, zerolog.Nop())
	a := alert.Alert{Indicators: []string{"http://evil.example/shell.php"}}
	assert.InDelta(t, 0.2, s.indicator(a), 1e-9)
}

func TestHistoricalBuckets(t *testing.T) {
	as := memory.NewAlertStore()
	s := New(Config{}, as, nil, zerolog.Nop())
	ctx := context.Background()
	now := time.Now()

	target := alert.Alert{ID: "target", Type: alert.TypeMalwareDetection, OriginalTimestamp: now}
	require.NoError(t, as.Insert(ctx, target))

	for i := 0; i < 5; i++ {
		require.NoError(t, as.Insert(ctx, alert.Alert{
			ID: idFor(i), Type: alert.TypeMalwareDetection, OriginalTimestamp: now.Add(-time.Hour),
		}))
	}

	assert.InDelta(t, 0.6, s.historical(ctx, target), 1e-9)
}

func idFor(i int) string {
	return "hist-" + string(rune('a'+i))
}

type fakeReasoning struct {
	score, confidence float64
	err               error
}

func (f fakeReasoning) Score(_ context.Context, _ alert.Alert, _ int) (float64, float64, error) {
	return f.score, f.confidence, f.err
}

func TestScoreOneUsesReasoningWhenConfigured(t *testing.T) {
	as := memory.NewAlertStore()
	ctx := context.Background()
	require.NoError(t, as.Insert(ctx, alert.Alert{ID: "a1", Severity: alert.SeverityLow, Type: alert.TypeNetworkAnomaly, OriginalTimestamp: time.Now()}))

	s := New(Config{UseReasoningService: true}, as, fakeReasoning{score: 0.9, confidence: 0.5}, zerolog.Nop())
	require.NoError(t, s.ScoreNow(ctx, "a1"))

	got, ok, err := as.Get(ctx, "a1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, got.Score)
	assert.InDelta(t, 0.45, *got.Score, 1e-9)
}

func TestScoreOneFallsBackOnReasoningError(t *testing.T) {
	as := memory.NewAlertStore()
	ctx := context.Background()
	require.NoError(t, as.Insert(ctx, alert.Alert{
		ID: "a1", Severity: alert.SeverityHigh, Type: alert.TypeDataExfiltration, OriginalTimestamp: time.Now(),
	}))

	s := New(Config{UseReasoningService: true}, as, fakeReasoning{err: assertErr{}}, zerolog.Nop())
	require.NoError(t, s.ScoreNow(ctx, "a1"))

	got, ok, err := as.Get(ctx, "a1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, got.Score)
	assert.InDelta(t, s.Deterministic(ctx, got), *got.Score, 1e-6)
}

type assertErr struct{}

func (assertErr) Error() string { return "reasoning unavailable" }
