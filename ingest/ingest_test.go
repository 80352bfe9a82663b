package ingest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netwatch/telemetry/alert"
	"github.com/netwatch/telemetry/store/memory"
)

type fakeScorer struct{ scheduled []string }

func (f *fakeScorer) Schedule(id string) { f.scheduled = append(f.scheduled, id) }

func newTestIngest(cfg Config) (*Ingest, *fakeScorer) {
	kv := memory.New()
	as := memory.NewAlertStore()
	fs := &fakeScorer{}
	return New(cfg, kv, as, fs, zerolog.Nop()), fs
}

func sampleAlert(desc string) alert.Alert {
	return alert.Alert{
		Source:      "bridge",
		Type:        alert.TypeNetworkAnomaly,
		Severity:    alert.SeverityHigh,
		Description: desc,
	}
}

func TestAcceptFirstAlertReceived(t *testing.T) {
	in, sc := newTestIngest(Config{})
	res, err := in.Accept(context.Background(), sampleAlert("X"))
	require.NoError(t, err)
	assert.Equal(t, StatusReceived, res.Status)
	assert.NotEmpty(t, res.AlertID)
	assert.Len(t, sc.scheduled, 1)
}

// S3 — Dedupe within window.
func TestAcceptDedupeWithinWindow(t *testing.T) {
	in, _ := newTestIngest(Config{DedupeTTL: 60 * time.Second})
	ctx := context.Background()

	first, err := in.Accept(ctx, sampleAlert("X"))
	require.NoError(t, err)
	assert.Equal(t, StatusReceived, first.Status)

	second, err := in.Accept(ctx, sampleAlert("X"))
	require.NoError(t, err)
	assert.Equal(t, StatusFilteredOrThrottled, second.Status)
}

// S4 — Rate-limit ceiling.
func TestAcceptRateLimitCeiling(t *testing.T) {
	in, _ := newTestIngest(Config{RateLimitPerMin: 50})
	ctx := context.Background()

	received := 0
	for i := 0; i < 60; i++ {
		res, err := in.Accept(ctx, sampleAlert(alertDesc(i)))
		require.NoError(t, err)
		if res.Status == StatusReceived {
			received++
		}
	}
	assert.Equal(t, 50, received)
}

func alertDesc(i int) string {
	return fmt.Sprintf("distinct-%d", i)
}

func TestAcceptNeverFailsWithoutScorer(t *testing.T) {
	kv := memory.New()
	as := memory.NewAlertStore()
	in := New(Config{}, kv, as, nil, zerolog.Nop())
	res, err := in.Accept(context.Background(), sampleAlert("no-scorer"))
	require.NoError(t, err)
	assert.Equal(t, StatusReceived, res.Status)
}
