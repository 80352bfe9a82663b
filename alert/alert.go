// Package alert defines the canonical wire and storage shape shared by both
// tiers: the Alert itself, the ThreatGroup materialized by analytics, and the
// DedupeKey/RateCounter types the center's ingestion path keys its
// check-and-set against. Field names follow spec.md §3 exactly; the shape
// was cross-checked against the icmp-mon Alert struct in the pack for
// Go idiom (evolving record with a closed severity/type enum) but spec.md's
// own field list takes precedence where the two differ.
package alert

import (
	"time"

	"github.com/google/uuid"
)

// Type is the closed alert-type enumeration named in spec.md §3.
type Type string

const (
	TypeNetworkAnomaly     Type = "network_anomaly"
	TypeIDSAlert           Type = "ids_alert"
	TypeIntrusionDetection Type = "intrusion_detection"
	TypeMalwareDetection   Type = "malware_detection"
	TypeDataExfiltration   Type = "data_exfiltration"
	TypeUnauthorizedAccess Type = "unauthorized_access"
	TypeSuspiciousBehavior Type = "suspicious_behavior"
	TypeZeekScan           Type = "zeek_scan"
	TypeZeekRecon          Type = "zeek_recon"
	TypeZeekAttack         Type = "zeek_attack"
	TypeZeekExploit        Type = "zeek_exploit"
	TypeZeekPolicy         Type = "zeek_policy"
	TypeZeekIntel          Type = "zeek_intel"
	TypeZeekWeird          Type = "zeek_weird"
	TypeZeekNotice         Type = "zeek_notice"
)

// Severity is the closed severity enumeration.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityWeight is the fixed table used by the Background Scorer (§4.8) and
// Analytics (§4.10).
var SeverityWeight = map[Severity]float64{
	SeverityLow:      0.2,
	SeverityMedium:   0.5,
	SeverityHigh:     0.8,
	SeverityCritical: 1.0,
}

// TypeWeight is the fixed alert-type weight table from the Glossary.
var TypeWeight = map[Type]float64{
	TypeNetworkAnomaly:     0.6,
	TypeIntrusionDetection: 0.9,
	TypeMalwareDetection:   1.0,
	TypeSuspiciousBehavior: 0.7,
	TypeDataExfiltration:   1.0,
	TypeUnauthorizedAccess: 0.9,
}

// severityRank orders severities for "most severe member" comparisons
// (ThreatGroup.Severity, §3).
var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// MoreSevere reports whether a outranks b.
func MoreSevere(a, b Severity) bool {
	return severityRank[a] > severityRank[b]
}

// NetworkContext is the connection-level metadata attached to an Alert, used
// by the Background Scorer's context score and the Alert Correlator's
// network channel.
type NetworkContext struct {
	SrcIP              string `json:"src_ip,omitempty"`
	DstIP              string `json:"dst_ip,omitempty"`
	SrcPort            int    `json:"src_port,omitempty"`
	DstPort            int    `json:"dst_port,omitempty"`
	Protocol           string `json:"protocol,omitempty"`
	ConnectionCount    int    `json:"connection_count,omitempty"`
	ExternalConnection bool   `json:"external_connection,omitempty"`
}

// Correlation is one annotation the center's Alert Correlator (§4.9) attaches
// to an Alert: which channel found the relation, the related alert's id, and
// the channel's score.
type Correlation struct {
	Channel    string  `json:"channel"` // "temporal" | "network" | "behavioral"
	AlertID    string  `json:"alert_id"`
	Score      float64 `json:"score"`
}

// Alert is the canonical unit of inter-tier communication and center-side
// persistence (spec.md §3). Once stored, only Score, RiskLevel, ProcessedAt,
// and Correlations are mutated, and only by the Background Scorer.
type Alert struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"` // "kitnet" | "suricata" | "zeek_notice" | "bridge" | ...
	Type        Type      `json:"alert_type"`
	Severity    Severity  `json:"severity"`
	Title       string    `json:"title"`
	Description string    `json:"description"`

	OriginalTimestamp time.Time  `json:"original_timestamp"`
	CreatedAt         time.Time  `json:"created_at"`
	ProcessedAt       *time.Time `json:"processed_at,omitempty"`

	Score     *float64 `json:"score,omitempty"`
	RiskLevel string   `json:"risk_level,omitempty"`

	RawData        map[string]any  `json:"raw_data,omitempty"`
	NetworkContext NetworkContext  `json:"network_context"`
	Indicators     []string        `json:"indicators,omitempty"`
	Correlations   []Correlation   `json:"correlations,omitempty"`

	// Confidence is the source's own confidence in the alert (e.g. 0.9 for a
	// Zeek notice, set by noticemon); distinct from Score, which the
	// Background Scorer computes after ingestion.
	Confidence float64 `json:"confidence,omitempty"`
}

// NewID returns a fresh random alert id (google/uuid, per the teacher's
// id-generation convention).
func NewID() string {
	return uuid.NewString()
}

// ThreatGroup is an analytics-time aggregation over alerts sharing
// (Type, Source); it is materialized per query and never persisted.
type ThreatGroup struct {
	ID             string    `json:"id"`
	Type           Type      `json:"alert_type"`
	Source         string    `json:"source"`
	Severity       Severity  `json:"severity"`
	Confidence     float64   `json:"confidence"`
	FirstSeen      time.Time `json:"first_seen"`
	LastSeen       time.Time `json:"last_seen"`
	Indicators     []string  `json:"indicators"`
	AffectedAssets []string  `json:"affected_assets"`
	MemberCount    int       `json:"member_count"`
}

// Confidence computes min(1, 0.1*members + 0.3) per spec.md §3.
func Confidence(members int) float64 {
	c := 0.1*float64(members) + 0.3
	if c > 1 {
		return 1
	}
	return c
}
