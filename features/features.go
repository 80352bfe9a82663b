// Package features converts a correlator.EnrichedEvent into the fixed-
// dimension numeric vector the detector trains and scores on, and keeps a
// running per-feature standardizer. The streaming mean/variance update
// follows the teacher's analysis/beacons.go running-statistics idiom.
package features

import (
	"math"

	"github.com/netwatch/telemetry/correlator"
	"github.com/netwatch/telemetry/util"
)

// Dimension is the fixed feature count this extractor produces (D in the
// design: dimension is established once by the first event and held fixed
// for the life of a detector instance).
const Dimension = 17

// connStateCode is the fixed lookup table for feature 14.
var connStateCode = map[string]float64{
	"S0":     0.1,
	"S1":     0.2,
	"SF":     0.3,
	"REJ":    0.4,
	"S2":     0.5,
	"S3":     0.6,
	"RSTO":   0.7,
	"RSTR":   0.8,
	"RSTOS0": 0.9,
	"RSTRH":  1.0,
}

func protocolCode(proto string) float64 {
	switch proto {
	case "tcp", "TCP":
		return 6
	case "udp", "UDP":
		return 17
	case "icmp", "ICMP":
		return 1
	default:
		return 0
	}
}

// Extract builds the fixed-order 17-feature vector from an EnrichedEvent.
// Non-IPv4 addresses map to 0 (features 6, 7); a malformed/unset timestamp
// maps the time-of-day features (11-13) to 0.
func Extract(e *correlator.EnrichedEvent) []float64 {
	v := make([]float64, Dimension)

	v[0] = float64(e.OrigBytes)
	v[1] = float64(e.RespBytes)
	v[2] = e.Duration
	v[3] = float64(e.SrcPort)
	v[4] = float64(e.DstPort)
	v[5] = float64(util.IPv4ToUint32(e.SrcIP))
	v[6] = float64(util.IPv4ToUint32(e.DstIP))
	v[7] = protocolCode(e.Proto)
	v[8] = float64(e.OrigPkts)
	v[9] = float64(e.RespPkts)

	if e.Timestamp.IsZero() {
		v[10], v[11], v[12] = 0, 0, 0
	} else {
		t := e.Timestamp.UTC()
		v[10] = float64(t.Hour()) / 24
		v[11] = float64(int(t.Weekday())) / 6
		v[12] = float64(t.Second()) / 59
	}

	v[13] = connStateCode[e.ConnState]

	svcLen := float64(len(e.Service)) / 20
	if svcLen > 1 {
		svcLen = 1
	}
	if svcLen == 0 {
		svcLen = 1
	}
	v[14] = svcLen

	v[15] = math.Min(e.Duration/3600, 1)
	v[16] = math.Min(float64(e.OrigBytes+e.RespBytes)/1e6, 1)

	return v
}

// Standardizer is a running per-feature z-score normalizer (Welford's
// online algorithm), partial-fit from the first event onward per spec.md
// §4.4 (there is no batch calibration window to bootstrap from: CALIBRATE
// is a single first-event step).
type Standardizer struct {
	n     int64
	mean  []float64
	m2    []float64
	ready bool
}

// NewStandardizer constructs a zeroed standardizer for dim features.
func NewStandardizer(dim int) *Standardizer {
	return &Standardizer{mean: make([]float64, dim), m2: make([]float64, dim)}
}

// Update folds one feature vector into the running mean/variance.
func (s *Standardizer) Update(v []float64) {
	s.n++
	for i, x := range v {
		delta := x - s.mean[i]
		s.mean[i] += delta / float64(s.n)
		delta2 := x - s.mean[i]
		s.m2[i] += delta * delta2
	}
	s.ready = true
}

// Variance returns the running per-feature variance (population variance
// via Welford's M2/n).
func (s *Standardizer) Variance() []float64 {
	out := make([]float64, len(s.m2))
	if s.n < 2 {
		return out
	}
	for i, m2 := range s.m2 {
		out[i] = m2 / float64(s.n)
	}
	return out
}

// Standardize z-scores v against the running mean/variance, returning a new
// slice and leaving v unchanged. Zero-variance features are left at the raw
// centered value (divide-by-zero protection), never NaN.
func (s *Standardizer) Standardize(v []float64) []float64 {
	out := make([]float64, len(v))
	variance := s.Variance()
	for i, x := range v {
		centered := x - s.mean[i]
		stddev := math.Sqrt(variance[i])
		if stddev < 1e-9 {
			out[i] = centered
			continue
		}
		out[i] = centered / stddev
	}
	return out
}

// Ready reports whether at least one sample has been folded in.
func (s *Standardizer) Ready() bool { return s.ready }

// MeanSnapshot, M2Snapshot, and NSnapshot expose the running-statistics
// internals for model persistence (detector.modelBlob).
func (s *Standardizer) MeanSnapshot() []float64 {
	out := make([]float64, len(s.mean))
	copy(out, s.mean)
	return out
}

func (s *Standardizer) M2Snapshot() []float64 {
	out := make([]float64, len(s.m2))
	copy(out, s.m2)
	return out
}

func (s *Standardizer) NSnapshot() int64 { return s.n }

// Restore reloads a previously persisted running-statistics snapshot.
func (s *Standardizer) Restore(mean, m2 []float64, n int64) {
	s.mean = mean
	s.m2 = m2
	s.n = n
	s.ready = n > 0
}
