// Package noticemon independently tails the Zeek notice log and converts
// each entry directly into a high-confidence Alert (spec.md §4.6), without
// waiting for the Correlator to join it against a conn record. It shares the
// logreader.Reader tailing primitive but runs as its own task, exactly the
// "one owning task per component" shape DESIGN.md describes for the
// detector and the Suricata-stats map.
package noticemon

import (
	"context"
	"fmt"

	"github.com/netwatch/telemetry/alert"
	"github.com/netwatch/telemetry/logreader"
	"github.com/netwatch/telemetry/zeektypes"
)

// severityTable is the closed notice-type -> severity mapping (spec.md
// §4.6). Anything absent defaults to low.
var severityTable = map[string]alert.Severity{
	"Intel::Notice":                             alert.SeverityCritical,
	"Signatures::Sensitive_Signature":            alert.SeverityCritical,
	"HTTP::SQL_Injection_Attacker":               alert.SeverityCritical,
	"TeamCymruMalwareHashRegistry::Match":        alert.SeverityCritical,

	"Scan::Port_Scan":            alert.SeverityHigh,
	"Scan::Address_Scan":         alert.SeverityHigh,
	"SSH::Password_Guessing":     alert.SeverityHigh,
	"FTP::Bruteforcing":          alert.SeverityHigh,
	"SSL::Invalid_Server_Cert":   alert.SeverityHigh,
	"Weird::Activity":            alert.SeverityHigh,
	"Tracker::Hit":               alert.SeverityHigh,

	"Notice::Interesting_Hostname":       alert.SeverityMedium,
	"SSL::Certificate_Expired":           alert.SeverityMedium,
	"Software::Vulnerable_Version":       alert.SeverityMedium,
	"Capture::Packet_Drops":              alert.SeverityMedium,
}

// mitreTable is the closed notice-type -> MITRE technique mapping
// (Glossary). A notice type absent here has no MITRE tag.
var mitreTable = map[string]string{
	"Scan::Port_Scan":                      "T1046 - Network Service Scanning",
	"Scan::Address_Scan":                   "T1046 - Network Service Scanning",
	"SSH::Password_Guessing":               "T1110 - Brute Force",
	"FTP::Bruteforcing":                    "T1110 - Brute Force",
	"HTTP::SQL_Injection_Attacker":         "T1190 - Exploit Public-Facing Application",
	"SSL::Invalid_Server_Cert":             "T1557 - Adversary-in-the-Middle",
	"Weird::Activity":                      "T1205 - Traffic Signaling",
	"TeamCymruMalwareHashRegistry::Match":  "T1204 - User Execution",
	"Software::Vulnerable_Version":         "T1203 - Exploitation for Client Execution",
}

// typeTable maps a notice type to its closed Alert.Type. Notices without a
// more specific bucket fall into zeek_notice.
var typeTable = map[string]alert.Type{
	"Scan::Port_Scan":    alert.TypeZeekScan,
	"Scan::Address_Scan": alert.TypeZeekScan,
	"Intel::Notice":      alert.TypeZeekIntel,
	"Weird::Activity":    alert.TypeZeekWeird,
}

const confidence = 0.9

// Severity returns the closed-table severity for a Zeek notice type,
// defaulting to low.
func Severity(noticeType string) alert.Severity {
	if s, ok := severityTable[noticeType]; ok {
		return s
	}
	return alert.SeverityLow
}

// MITRE returns the MITRE ATT&CK technique tag for a notice type, or "" if
// none is mapped.
func MITRE(noticeType string) string {
	return mitreTable[noticeType]
}

func alertType(noticeType string) alert.Type {
	if t, ok := typeTable[noticeType]; ok {
		return t
	}
	return alert.TypeZeekNotice
}

// ToAlert converts one Zeek notice record into a canonical Alert. It always
// carries confidence 0.9 (notices are pre-filtered by the collector).
func ToAlert(n *zeektypes.Notice, ts float64) alert.Alert {
	sev := Severity(n.Note)
	indicators := []string{}
	if n.Src != "" {
		indicators = append(indicators, "IP:"+n.Src)
	}
	if n.Dst != "" && n.Dst != n.Src {
		indicators = append(indicators, "IP:"+n.Dst)
	}
	if tag := MITRE(n.Note); tag != "" {
		indicators = append(indicators, "MITRE:"+tag)
	}

	return alert.Alert{
		ID:          alert.NewID(),
		Source:      "zeek_notice",
		Type:        alertType(n.Note),
		Severity:    sev,
		Title:       n.Note,
		Description: n.Msg,
		Confidence:  confidence,
		RawData: map[string]any{
			"note": n.Note,
			"sub":  n.Sub,
			"src":  n.Src,
			"dst":  n.Dst,
			"p":    n.P,
		},
		NetworkContext: alert.NetworkContext{
			SrcIP:   n.Src,
			DstIP:   n.Dst,
			DstPort: int(n.P),
		},
		Indicators: indicators,
	}
}

// IsAutoEscalate reports whether the alert's severity should be pushed to
// the center without waiting for batching (spec.md §4.6: auto-escalate
// high/critical).
func IsAutoEscalate(a alert.Alert) bool {
	return a.Severity == alert.SeverityHigh || a.Severity == alert.SeverityCritical
}

// Monitor picks notice records out of the shared Log Reader record stream
// and emits Alerts on out. It also
// forwards every parsed Notice to onNotice (the Correlator's HandleNotice)
// so the notice is still folded into any later conn-record join, per
// spec.md §4.2's "emit an independent high-priority alert AND append to the
// FlowContext" protocol.
type Monitor struct {
	reader   *logreader.Reader
	onNotice func(*zeektypes.Notice)
}

// New constructs a Monitor. It opens no files of its own: one Reader
// instance is shared, and Consume filters its record stream for notice
// records.
func New(onNotice func(*zeektypes.Notice)) *Monitor {
	return &Monitor{onNotice: onNotice}
}

// Consume processes one logreader.Record from the shared record stream,
// emitting an Alert on out if the record is a notice.
func (m *Monitor) Consume(ctx context.Context, rec logreader.Record, out chan<- alert.Alert) error {
	if rec.Type != zeektypes.LogTypeNotice {
		return nil
	}
	n, ok := rec.Data.(*zeektypes.Notice)
	if !ok {
		return fmt.Errorf("noticemon: unexpected record payload type %T for notice record", rec.Data)
	}
	if m.onNotice != nil {
		m.onNotice(n)
	}
	a := ToAlert(n, n.Seconds())
	a.OriginalTimestamp = rec.Timestamp
	a.CreatedAt = rec.Timestamp
	select {
	case out <- a:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
