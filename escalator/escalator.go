// Package escalator turns detector scores and sibling-engine alerts into
// canonical Alerts and pushes them to the center (spec.md §4.5). The bounded
// retry queue and background flush loop generalize the teacher's
// database.BulkWriter worker-pool/rate-limited-flush shape from batch DB
// writes to HTTP POST-with-retry.
package escalator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/netwatch/telemetry/alert"
	"github.com/netwatch/telemetry/logger"
)

// severityForScore is the fixed step function mapping a normalized detector
// score to an Alert severity (spec.md §4.5).
func severityForScore(score float64) alert.Severity {
	switch {
	case score >= 0.95:
		return alert.SeverityCritical
	case score >= 0.80:
		return alert.SeverityHigh
	case score >= 0.60:
		return alert.SeverityMedium
	default:
		return alert.SeverityLow
	}
}

// FromDetectorScore builds a canonical Alert from a DETECT-phase score that
// crossed the configured threshold. rawPayload is typically a JSON-ish copy
// of the correlator.EnrichedEvent; srcIP/dstIP seed the indicator list.
func FromDetectorScore(score float64, srcIP, dstIP string, rawPayload map[string]any) alert.Alert {
	indicators := []string{}
	if srcIP != "" {
		indicators = append(indicators, "IP:"+srcIP)
	}
	if dstIP != "" && dstIP != srcIP {
		indicators = append(indicators, "IP:"+dstIP)
	}
	now := time.Now()
	return alert.Alert{
		ID:                alert.NewID(),
		Source:            "kitnet",
		Type:              alert.TypeNetworkAnomaly,
		Severity:          severityForScore(score),
		Title:             "network anomaly detected",
		Description:       fmt.Sprintf("streaming autoencoder ensemble score %.4f", score),
		OriginalTimestamp: now,
		CreatedAt:         now,
		Score:             &score,
		RawData:           rawPayload,
		NetworkContext:    alert.NetworkContext{SrcIP: srcIP, DstIP: dstIP},
		Indicators:        indicators,
	}
}

// SuricataNetwork is the network{} section of a signature-engine event.
type SuricataNetwork struct {
	SrcIP    string `json:"src_ip"`
	DestIP   string `json:"dest_ip"`
	SrcPort  int    `json:"src_port"`
	DestPort int    `json:"dest_port"`
	Protocol string `json:"protocol"`
}

// SuricataAlertInfo is the alert{} section of a signature-engine event.
type SuricataAlertInfo struct {
	Signature   string `json:"signature"`
	Category    string `json:"category"`
	Severity    int    `json:"severity"`
	SignatureID int    `json:"signature_id"`
}

// SuricataEvent is the wire shape POSTed to /api/v1/alerts/suricata.
type SuricataEvent struct {
	Alert   SuricataAlertInfo `json:"alert"`
	Network SuricataNetwork   `json:"network"`
	FlowID  string            `json:"flow_id"`
}

// suricataMITRE is the closed category -> MITRE technique mapping table.
var suricataMITRE = map[string]string{
	"Attempted Administrator Privilege Gain": "T1068 - Exploitation for Privilege Escalation",
	"Web Application Attack":                 "T1190 - Exploit Public-Facing Application",
	"A Network Trojan was detected":          "T1071 - Application Layer Protocol",
	"Attempted Denial of Service":            "T1498 - Network Denial of Service",
	"Potentially Bad Traffic":                "T1204 - User Execution",
	"Misc Attack":                             "T1071 - Application Layer Protocol",
	"Detection of a Denial of Service Attack": "T1498 - Network Denial of Service",
}

func severityForSuricata(n int) alert.Severity {
	switch n {
	case 1:
		return alert.SeverityCritical
	case 2:
		return alert.SeverityHigh
	case 3:
		return alert.SeverityMedium
	default:
		return alert.SeverityLow
	}
}

// FromSuricata maps a signature-engine event to a canonical Alert and
// returns the resolved MITRE tag (empty if none mapped).
func FromSuricata(ev SuricataEvent) (alert.Alert, string) {
	mitre := suricataMITRE[ev.Alert.Category]
	desc := fmt.Sprintf("%s -> %s:%d (%s)", ev.Network.SrcIP, ev.Network.DestIP, ev.Network.DestPort, ev.Network.Protocol)
	if mitre != "" {
		desc = fmt.Sprintf("%s [MITRE:%s]", desc, mitre)
	}
	now := time.Now()
	indicators := []string{}
	if ev.Network.SrcIP != "" {
		indicators = append(indicators, "IP:"+ev.Network.SrcIP)
	}
	if ev.Network.DestIP != "" && ev.Network.DestIP != ev.Network.SrcIP {
		indicators = append(indicators, "IP:"+ev.Network.DestIP)
	}
	a := alert.Alert{
		ID:                alert.NewID(),
		Source:            "suricata",
		Type:              alert.TypeIDSAlert,
		Severity:          severityForSuricata(ev.Alert.Severity),
		Title:             ev.Alert.Signature,
		Description:       desc,
		OriginalTimestamp: now,
		CreatedAt:         now,
		RawData: map[string]any{
			"signature_id": ev.Alert.SignatureID,
			"category":     ev.Alert.Category,
			"flow_id":      ev.FlowID,
		},
		NetworkContext: alert.NetworkContext{
			SrcIP:    ev.Network.SrcIP,
			DstIP:    ev.Network.DestIP,
			SrcPort:  ev.Network.SrcPort,
			DstPort:  ev.Network.DestPort,
			Protocol: ev.Network.Protocol,
		},
		Indicators: indicators,
	}
	return a, mitre
}

// IsAutoEscalate reports whether a Suricata-derived alert's severity merits
// immediate escalation without local batching (spec.md §4.5: auto-escalate
// high/critical).
func IsAutoEscalate(a alert.Alert) bool {
	return a.Severity == alert.SeverityHigh || a.Severity == alert.SeverityCritical
}

// SuricataStats tracks the local counters named in spec.md §4.5 and
// SPEC_FULL.md §E.2: total, by-severity, by-category, by-MITRE, and the last
// 20 unique signatures seen.
type SuricataStats struct {
	mu          sync.Mutex
	Total       int
	BySeverity  map[string]int
	ByCategory  map[string]int
	ByMITRE     map[string]int
	last20      []string
	last20Seen  map[string]bool
}

// NewSuricataStats constructs an empty counter set.
func NewSuricataStats() *SuricataStats {
	return &SuricataStats{
		BySeverity: make(map[string]int),
		ByCategory: make(map[string]int),
		ByMITRE:    make(map[string]int),
		last20Seen: make(map[string]bool),
	}
}

// Record folds one Suricata event into the counters.
func (s *SuricataStats) Record(ev SuricataEvent, sev alert.Severity, mitre string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Total++
	s.BySeverity[string(sev)]++
	s.ByCategory[ev.Alert.Category]++
	if mitre != "" {
		s.ByMITRE[mitre]++
	}
	if !s.last20Seen[ev.Alert.Signature] {
		s.last20Seen[ev.Alert.Signature] = true
		s.last20 = append(s.last20, ev.Alert.Signature)
		if len(s.last20) > 20 {
			dropped := s.last20[0]
			s.last20 = s.last20[1:]
			delete(s.last20Seen, dropped)
		}
	}
}

// Snapshot returns a point-in-time copy of the counters for JSON responses.
func (s *SuricataStats) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	last20 := make([]string, len(s.last20))
	copy(last20, s.last20)
	return map[string]any{
		"total":           s.Total,
		"by_severity":     copyIntMap(s.BySeverity),
		"by_category":     copyIntMap(s.ByCategory),
		"by_mitre":        copyIntMap(s.ByMITRE),
		"last_20_signatures": last20,
	}
}

func copyIntMap(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Config governs the Escalator's target, timeouts, and queue bound.
type Config struct {
	OracleURL     string
	QueueCapacity int           // default 100
	POSTTimeout   time.Duration // default 10s
	RetryInterval time.Duration // default 30s
}

// Escalator holds the bounded in-memory retry queue and POSTs Alerts to the
// center. Queue semantics: FIFO on success; on a transient POST failure the
// item is put back at the head (retried first); on overflow, the oldest
// queued alert is dropped with a counter increment (spec.md §5).
type Escalator struct {
	cfg    Config
	client *http.Client

	mu          sync.Mutex
	queue       []alert.Alert
	droppedCtr  int
	sentCtr     int
	failedCtr   int
}

// New constructs an Escalator.
func New(cfg Config) *Escalator {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 100
	}
	if cfg.POSTTimeout <= 0 {
		cfg.POSTTimeout = 10 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 30 * time.Second
	}
	return &Escalator{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.POSTTimeout},
	}
}

// Enqueue appends an Alert to the tail of the retry queue. If the queue is
// at capacity, the oldest entry is dropped (counter incremented) to make
// room, per the Escalator queue bound Testable Property.
func (e *Escalator) Enqueue(a alert.Alert) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) >= e.cfg.QueueCapacity {
		e.queue = e.queue[1:]
		e.droppedCtr++
	}
	e.queue = append(e.queue, a)
}

// QueueLen reports the current retry queue depth (Testable Property 10:
// never exceeds cfg.QueueCapacity).
func (e *Escalator) QueueLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Dropped reports the count of alerts dropped for queue overflow.
func (e *Escalator) Dropped() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.droppedCtr
}

func (e *Escalator) popFront() (alert.Alert, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return alert.Alert{}, false
	}
	a := e.queue[0]
	e.queue = e.queue[1:]
	return a, true
}

func (e *Escalator) pushFront(a alert.Alert) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue = append([]alert.Alert{a}, e.queue...)
	if len(e.queue) > e.cfg.QueueCapacity {
		e.queue = e.queue[len(e.queue)-e.cfg.QueueCapacity:]
		e.droppedCtr++
	}
}

func (e *Escalator) post(ctx context.Context, a alert.Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("escalator: marshaling alert: %w", err)
	}
	reqCtx, cancel := context.WithTimeout(ctx, e.cfg.POSTTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.cfg.OracleURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("escalator: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("escalator: POST %s: %w", e.cfg.OracleURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("escalator: center returned %d", resp.StatusCode)
	}
	return nil
}

// Send attempts an immediate POST; on failure it enqueues the alert for
// background retry rather than blocking or erroring the caller (spec.md
// §4.5/§7: escalation is fire-and-forget with retry).
func (e *Escalator) Send(ctx context.Context, a alert.Alert) {
	log := logger.Get()
	if err := e.post(ctx, a); err != nil {
		log.Warn().Err(err).Str("alert_id", a.ID).Msg("escalator: immediate POST failed, queued for retry")
		e.Enqueue(a)
		return
	}
	e.mu.Lock()
	e.sentCtr++
	e.mu.Unlock()
}

// Run drains the retry queue in the background every cfg.RetryInterval until
// ctx is cancelled. A failing POST is put back at the head of the queue
// (retried first next cycle) rather than re-appended at the tail.
func (e *Escalator) Run(ctx context.Context) {
	log := logger.Get()
	ticker := time.NewTicker(e.cfg.RetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.drainOnce(ctx, log)
		}
	}
}

func (e *Escalator) drainOnce(ctx context.Context, log zerolog.Logger) {
	for {
		a, ok := e.popFront()
		if !ok {
			return
		}
		if err := e.post(ctx, a); err != nil {
			log.Warn().Err(err).Str("alert_id", a.ID).Msg("escalator: retry POST failed, requeued")
			e.pushFront(a)
			return
		}
		e.mu.Lock()
		e.sentCtr++
		e.mu.Unlock()
	}
}
