// Package correlator joins auxiliary Zeek log records (dns, http, tls,
// notice, files) onto conn records by connection UID, maintaining a
// size-bounded per-UID FlowContext the way the teacher's importer joins
// conn.log against dns.log/http.log/ssl.log post hoc, except live and
// streaming instead of a post-import database join.
package correlator

import (
	"sync"
	"time"

	"github.com/netwatch/telemetry/logreader"
	"github.com/netwatch/telemetry/zeektypes"
)

// boundedDNS/HTTP/Notice/Files caps keep a single noisy UID from growing a
// FlowContext without limit; oldest entries are dropped first.
const (
	maxDNSPerFlow    = 50
	maxHTTPPerFlow   = 50
	maxNoticePerFlow = 20
	maxFilesPerFlow  = 50
)

// FlowContext accumulates auxiliary records for one connection UID until a
// conn record arrives (or it is evicted first).
type FlowContext struct {
	UID       string
	DNS       []*zeektypes.DNS
	HTTP      []*zeektypes.HTTP
	TLS       *zeektypes.TLS
	Notices   []*zeektypes.Notice
	Files     []*zeektypes.Files
	insertIdx uint64
}

func newFlowContext(uid string, insertIdx uint64) *FlowContext {
	return &FlowContext{UID: uid, insertIdx: insertIdx}
}

// DurationCategory buckets a connection duration in seconds.
type DurationCategory string

const (
	DurationShort    DurationCategory = "short"
	DurationMedium   DurationCategory = "medium"
	DurationLong     DurationCategory = "long"
	DurationVeryLong DurationCategory = "very_long"
)

func categorizeDuration(seconds float64) DurationCategory {
	switch {
	case seconds < 1:
		return DurationShort
	case seconds < 60:
		return DurationMedium
	case seconds < 300:
		return DurationLong
	default:
		return DurationVeryLong
	}
}

// sentinelRatio is substituted for a ratio whose denominator is zero, so
// EnrichedEvent numeric fields are never NaN or +Inf.
const sentinelRatio = 1e9

// EnrichedEvent is the Correlator's output for a conn record.
type EnrichedEvent struct {
	Timestamp time.Time
	UID       string

	SrcIP, DstIP     string
	SrcPort, DstPort uint16
	Proto, Service   string
	Duration         float64
	OrigBytes        uint64
	RespBytes        uint64
	OrigPkts         uint64
	RespPkts         uint64
	ConnState        string
	History          string

	BytesRatio       float64
	PacketRatio      float64
	TotalBytes       uint64
	DurationCategory DurationCategory

	Flow *FlowContext

	HasDNS     bool
	HasHTTP    bool
	HasSSL     bool
	HasNotices bool
}

// Correlator owns the UID -> FlowContext map.
type Correlator struct {
	mu      sync.Mutex
	flows   map[string]*FlowContext
	maxCap  int
	counter uint64
}

// New constructs a Correlator with a bounded FlowContext population; when
// the map exceeds maxCap, the oldest 20% (by insertion order) are evicted.
func New(maxCap int) *Correlator {
	return &Correlator{
		flows:  make(map[string]*FlowContext),
		maxCap: maxCap,
	}
}

// HandleNotice is the independent notification path the Notice Monitor uses
// to append a notice record to its UID's FlowContext, in addition to (not
// instead of) emitting its own high-priority alert.
func (c *Correlator) HandleNotice(n *zeektypes.Notice) {
	if n.UID() == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fc := c.getOrCreateLocked(n.UID())
	fc.Notices = appendBounded(fc.Notices, n, maxNoticePerFlow)
}

// Handle processes one logreader.Record and returns an EnrichedEvent for
// conn records (nil otherwise).
func (c *Correlator) Handle(rec logreader.Record) *EnrichedEvent {
	switch rec.Type {
	case zeektypes.LogTypeConn:
		conn, ok := rec.Data.(*zeektypes.Conn)
		if !ok {
			return nil
		}
		return c.handleConn(conn, rec.Timestamp)
	case zeektypes.LogTypeDNS:
		if rec.UID == "" {
			return nil
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		fc := c.getOrCreateLocked(rec.UID)
		if d, ok := rec.Data.(*zeektypes.DNS); ok {
			fc.DNS = appendBounded(fc.DNS, d, maxDNSPerFlow)
		}
		return nil
	case zeektypes.LogTypeHTTP:
		if rec.UID == "" {
			return nil
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		fc := c.getOrCreateLocked(rec.UID)
		if h, ok := rec.Data.(*zeektypes.HTTP); ok {
			fc.HTTP = appendBounded(fc.HTTP, h, maxHTTPPerFlow)
		}
		return nil
	case zeektypes.LogTypeTLS:
		if rec.UID == "" {
			return nil
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		fc := c.getOrCreateLocked(rec.UID)
		if s, ok := rec.Data.(*zeektypes.TLS); ok {
			fc.TLS = s
		}
		return nil
	case zeektypes.LogTypeFiles:
		if rec.UID == "" {
			return nil
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		fc := c.getOrCreateLocked(rec.UID)
		if f, ok := rec.Data.(*zeektypes.Files); ok {
			fc.Files = appendBounded(fc.Files, f, maxFilesPerFlow)
		}
		return nil
	case zeektypes.LogTypeNotice:
		if n, ok := rec.Data.(*zeektypes.Notice); ok {
			c.HandleNotice(n)
		}
		return nil
	default:
		return nil
	}
}

func (c *Correlator) handleConn(conn *zeektypes.Conn, ts time.Time) *EnrichedEvent {
	var flow *FlowContext
	if conn.UID() != "" {
		c.mu.Lock()
		flow = c.getOrCreateLocked(conn.UID())
		c.mu.Unlock()
	} else {
		flow = newFlowContext("", 0)
	}

	event := &EnrichedEvent{
		Timestamp: ts,
		UID:       conn.UID(),
		SrcIP:     conn.OrigH,
		DstIP:     conn.RespH,
		SrcPort:   conn.OrigP,
		DstPort:   conn.RespP,
		Proto:     conn.Proto,
		Service:   conn.Service,
		Duration:  conn.Duration,
		OrigBytes: conn.OrigBytes,
		RespBytes: conn.RespBytes,
		OrigPkts:  conn.OrigPkts,
		RespPkts:  conn.RespPkts,
		ConnState: conn.ConnState,
		History:   conn.History,
		Flow:      flow,
	}
	event.TotalBytes = conn.OrigBytes + conn.RespBytes
	event.DurationCategory = categorizeDuration(conn.Duration)
	if conn.RespBytes == 0 {
		event.BytesRatio = sentinelRatio
	} else {
		event.BytesRatio = float64(conn.OrigBytes) / float64(conn.RespBytes)
	}
	if conn.RespPkts == 0 {
		event.PacketRatio = sentinelRatio
	} else {
		event.PacketRatio = float64(conn.OrigPkts) / float64(conn.RespPkts)
	}
	event.HasDNS = len(flow.DNS) > 0
	event.HasHTTP = len(flow.HTTP) > 0
	event.HasSSL = flow.TLS != nil
	event.HasNotices = len(flow.Notices) > 0

	return event
}

func (c *Correlator) getOrCreateLocked(uid string) *FlowContext {
	if fc, ok := c.flows[uid]; ok {
		return fc
	}
	fc := newFlowContext(uid, c.counter)
	c.counter++
	c.flows[uid] = fc
	if len(c.flows) > c.maxCap {
		c.evictOldestLocked()
	}
	return fc
}

// evictOldestLocked drops the oldest 20% of flows by insertion order.
func (c *Correlator) evictOldestLocked() {
	n := len(c.flows) / 5
	if n < 1 {
		n = 1
	}
	type idxUID struct {
		idx uint64
		uid string
	}
	victims := make([]idxUID, 0, len(c.flows))
	for uid, fc := range c.flows {
		victims = append(victims, idxUID{fc.insertIdx, uid})
	}
	// partial selection sort for the n smallest insertIdx values; the flow
	// population here is bounded by maxCap so this stays cheap.
	for i := 0; i < n && i < len(victims); i++ {
		min := i
		for j := i + 1; j < len(victims); j++ {
			if victims[j].idx < victims[min].idx {
				min = j
			}
		}
		victims[i], victims[min] = victims[min], victims[i]
		delete(c.flows, victims[i].uid)
	}
}

// Len reports the current FlowContext population (test/metrics use).
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.flows)
}

func appendBounded[T any](slice []T, item T, cap int) []T {
	slice = append(slice, item)
	if len(slice) > cap {
		slice = slice[len(slice)-cap:]
	}
	return slice
}
