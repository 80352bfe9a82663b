package noticemon

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netwatch/telemetry/alert"
	"github.com/netwatch/telemetry/logreader"
	"github.com/netwatch/telemetry/zeektypes"
)

func TestScenarioS1NoticeFastPath(t *testing.T) {
	n := &zeektypes.Notice{
		Note: "Scan::Port_Scan",
		Msg:  "192.168.1.50 scanned 20 ports",
		Src:  "192.168.1.50",
		Dst:  "10.0.0.1",
	}
	a := ToAlert(n, 0)

	assert.Equal(t, "zeek_notice", a.Source)
	assert.Equal(t, alert.SeverityHigh, a.Severity)
	assert.Equal(t, alert.TypeZeekScan, a.Type)
	assert.Equal(t, 0.9, a.Confidence)
	assert.Contains(t, a.Indicators, "IP:192.168.1.50")
	assert.Contains(t, a.Indicators, "MITRE:T1046 - Network Service Scanning")
	assert.True(t, IsAutoEscalate(a))
}

func TestSeverityDefaultsLow(t *testing.T) {
	assert.Equal(t, alert.SeverityLow, Severity("Something::Unmapped"))
}

func TestSeverityTableClosed(t *testing.T) {
	cases := map[string]alert.Severity{
		"Intel::Notice":                 alert.SeverityCritical,
		"HTTP::SQL_Injection_Attacker":   alert.SeverityCritical,
		"SSH::Password_Guessing":        alert.SeverityHigh,
		"Notice::Interesting_Hostname":  alert.SeverityMedium,
	}
	for note, want := range cases {
		assert.Equal(t, want, Severity(note), note)
	}
}

func TestMonitorConsumeFiltersNonNotice(t *testing.T) {
	m := New(nil)
	out := make(chan alert.Alert, 1)
	rec := logreader.Record{Type: zeektypes.LogTypeConn, Data: &zeektypes.Conn{}}
	require.NoError(t, m.Consume(context.Background(), rec, out))
	assert.Len(t, out, 0)
}

func TestMonitorConsumeEmitsAndForwards(t *testing.T) {
	var forwarded *zeektypes.Notice
	m := New(func(n *zeektypes.Notice) { forwarded = n })
	out := make(chan alert.Alert, 1)
	n := &zeektypes.Notice{Note: "Scan::Port_Scan", Src: "1.2.3.4", UIDField: "U1"}
	rec := logreader.Record{Type: zeektypes.LogTypeNotice, Data: n}
	require.NoError(t, m.Consume(context.Background(), rec, out))
	require.Len(t, out, 1)
	assert.Same(t, n, forwarded)
}
