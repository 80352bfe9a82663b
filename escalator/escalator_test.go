package escalator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netwatch/telemetry/alert"
)

func TestSeverityStepFunction(t *testing.T) {
	assert.Equal(t, alert.SeverityCritical, severityForScore(0.96))
	assert.Equal(t, alert.SeverityCritical, severityForScore(0.95))
	assert.Equal(t, alert.SeverityHigh, severityForScore(0.85))
	assert.Equal(t, alert.SeverityMedium, severityForScore(0.65))
	assert.Equal(t, alert.SeverityLow, severityForScore(0.1))
}

func TestFromSuricataMapsSeverityAndMITRE(t *testing.T) {
	ev := SuricataEvent{
		Alert: SuricataAlertInfo{Signature: "ET TROJAN X", Category: "A Network Trojan was detected", Severity: 1},
		Network: SuricataNetwork{SrcIP: "10.0.0.5", DestIP: "45.33.32.156", DestPort: 443, Protocol: "tcp"},
	}
	a, mitre := FromSuricata(ev)
	assert.Equal(t, alert.SeverityCritical, a.Severity)
	assert.Equal(t, "T1071 - Application Layer Protocol", mitre)
	assert.Contains(t, a.Description, "10.0.0.5 -> 45.33.32.156:443 (tcp)")
	assert.True(t, IsAutoEscalate(a))
}

func TestSuricataStatsLast20Unique(t *testing.T) {
	stats := NewSuricataStats()
	for i := 0; i < 25; i++ {
		ev := SuricataEvent{Alert: SuricataAlertInfo{Signature: "SIG", Category: "Misc Attack", Severity: 3}}
		stats.Record(ev, alert.SeverityMedium, "")
	}
	snap := stats.Snapshot()
	assert.Equal(t, 25, snap["total"])
	last20 := snap["last_20_signatures"].([]string)
	assert.Len(t, last20, 1, "repeated signature should only appear once")
}

func TestQueueBoundDropsOldestOnOverflow(t *testing.T) {
	e := New(Config{OracleURL: "http://example.invalid", QueueCapacity: 3})
	for i := 0; i < 5; i++ {
		e.Enqueue(alert.Alert{ID: alert.NewID()})
	}
	assert.Equal(t, 3, e.QueueLen())
	assert.Equal(t, 2, e.Dropped())
}

func TestSendFallsBackToQueueOnFailure(t *testing.T) {
	e := New(Config{OracleURL: "http://127.0.0.1:0", QueueCapacity: 10, POSTTimeout: 200 * time.Millisecond})
	e.Send(context.Background(), alert.Alert{ID: alert.NewID()})
	assert.Equal(t, 1, e.QueueLen())
}

func TestRunDrainsQueueOnSuccessfulRetry(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	e := New(Config{OracleURL: srv.URL, QueueCapacity: 10, RetryInterval: 20 * time.Millisecond})
	e.Enqueue(alert.Alert{ID: alert.NewID()})
	e.Enqueue(alert.Alert{ID: alert.NewID()})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	e.Run(ctx)

	require.Equal(t, 0, e.QueueLen())
	assert.GreaterOrEqual(t, int(atomic.LoadInt32(&hits)), 2)
}
