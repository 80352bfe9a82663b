package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netwatch/telemetry/alert"
	"github.com/netwatch/telemetry/store"
)

func TestDedupeWithinWindow(t *testing.T) {
	kv := New()
	ctx := context.Background()

	admitted, err := kv.CheckAndAdmit(ctx, "k1", 60*time.Second, "bucket1", 50)
	require.NoError(t, err)
	assert.True(t, admitted)

	admitted, err = kv.CheckAndAdmit(ctx, "k1", 60*time.Second, "bucket1", 50)
	require.NoError(t, err)
	assert.False(t, admitted, "duplicate within dedupe window must be filtered")
}

func TestDedupeElapsedWindowReadmits(t *testing.T) {
	kv := New()
	ctx := context.Background()

	admitted, err := kv.CheckAndAdmit(ctx, "k1", 10*time.Millisecond, "bucket1", 50)
	require.NoError(t, err)
	assert.True(t, admitted)

	time.Sleep(20 * time.Millisecond)

	admitted, err = kv.CheckAndAdmit(ctx, "k1", 10*time.Millisecond, "bucket1", 50)
	require.NoError(t, err)
	assert.True(t, admitted, "dedupe window elapsed, second identical alert should be admitted")
}

func TestRateLimitCeiling(t *testing.T) {
	kv := New()
	ctx := context.Background()
	admitted := 0
	for i := 0; i < 60; i++ {
		ok, err := kv.CheckAndAdmit(ctx, uniqueKey(i), 60*time.Second, "minute1", 50)
		require.NoError(t, err)
		if ok {
			admitted++
		}
	}
	assert.Equal(t, 50, admitted)
}

func uniqueKey(i int) string {
	return fmt.Sprintf("key-%d", i)
}

func TestAlertStoreInsertGetQuery(t *testing.T) {
	s := NewAlertStore()
	ctx := context.Background()
	now := time.Now()

	a := alert.Alert{ID: "a1", Type: alert.TypeNetworkAnomaly, Severity: alert.SeverityHigh, OriginalTimestamp: now, Source: "kitnet"}
	require.NoError(t, s.Insert(ctx, a))

	got, ok, err := s.Get(ctx, "a1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, alert.SeverityHigh, got.Severity)

	results, err := s.Query(ctx, store.QueryFilter{Type: alert.TypeNetworkAnomaly})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a1", results[0].ID)
}

func TestAlertStoreUpdateScoringIsScorerOnly(t *testing.T) {
	s := NewAlertStore()
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, alert.Alert{ID: "a1", OriginalTimestamp: time.Now()}))

	require.NoError(t, s.UpdateScoring(ctx, "a1", 0.54, "medium", []alert.Correlation{{Channel: "temporal", AlertID: "a2", Score: 0.7}}))

	got, ok, err := s.Get(ctx, "a1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, got.Score)
	assert.InDelta(t, 0.54, *got.Score, 1e-9)
	assert.Equal(t, "medium", got.RiskLevel)
	assert.NotNil(t, got.ProcessedAt)
	assert.Len(t, got.Correlations, 1)
}
