package features

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/netwatch/telemetry/correlator"
)

func sampleEvent() *correlator.EnrichedEvent {
	return &correlator.EnrichedEvent{
		Timestamp: time.Date(2026, 1, 15, 13, 45, 30, 0, time.UTC),
		SrcIP:     "10.0.0.5",
		DstIP:     "45.33.32.156",
		SrcPort:   51234,
		DstPort:   443,
		Proto:     "tcp",
		Service:   "ssl",
		Duration:  2.0,
		OrigBytes: 5_000_000,
		RespBytes: 1000,
		OrigPkts:  40,
		RespPkts:  20,
		ConnState: "SF",
	}
}

func TestExtractDimensionIsSeventeen(t *testing.T) {
	v := Extract(sampleEvent())
	require.Len(t, v, Dimension)
}

func TestExtractKnownFields(t *testing.T) {
	v := Extract(sampleEvent())
	require.Equal(t, float64(5_000_000), v[0])
	require.Equal(t, float64(1000), v[1])
	require.Equal(t, 2.0, v[2])
	require.Equal(t, float64(51234), v[3])
	require.Equal(t, float64(443), v[4])
	require.Equal(t, float64(6), v[7]) // tcp
	require.Equal(t, 0.3, v[13])       // SF
}

func TestExtractNonIPv4MapsToZero(t *testing.T) {
	e := sampleEvent()
	e.SrcIP = "2001:db8::1"
	e.DstIP = "not-an-ip"
	v := Extract(e)
	require.Equal(t, float64(0), v[5])
	require.Equal(t, float64(0), v[6])
}

func TestExtractZeroTimestampMapsTimeFeaturesToZero(t *testing.T) {
	e := sampleEvent()
	e.Timestamp = time.Time{}
	v := Extract(e)
	require.Equal(t, float64(0), v[10])
	require.Equal(t, float64(0), v[11])
	require.Equal(t, float64(0), v[12])
}

func TestExtractAllFeaturesAreFinite(t *testing.T) {
	e := sampleEvent()
	e.RespBytes = 0
	e.Duration = 1e12
	v := Extract(e)
	for i, f := range v {
		require.False(t, math.IsNaN(f), "feature %d is NaN", i)
		require.False(t, math.IsInf(f, 0), "feature %d is Inf", i)
	}
}

func TestExtractClampedFeatures(t *testing.T) {
	e := sampleEvent()
	e.Service = "a-very-long-service-name-exceeding-twenty-chars"
	e.Duration = 10_000
	e.OrigBytes = 10_000_000
	e.RespBytes = 10_000_000
	v := Extract(e)
	require.Equal(t, 1.0, v[14])
	require.Equal(t, 1.0, v[15])
	require.Equal(t, 1.0, v[16])
}

func TestExtractUnknownProtocolAndConnState(t *testing.T) {
	e := sampleEvent()
	e.Proto = "sctp"
	e.ConnState = "UNKNOWN"
	v := Extract(e)
	require.Equal(t, float64(0), v[7])
	require.Equal(t, float64(0), v[13])
}

func TestStandardizerZeroVarianceDoesNotDivideByZero(t *testing.T) {
	s := NewStandardizer(3)
	for i := 0; i < 10; i++ {
		s.Update([]float64{1, 1, 1})
	}
	out := s.Standardize([]float64{1, 1, 1})
	for _, f := range out {
		require.False(t, math.IsNaN(f))
		require.Equal(t, 0.0, f)
	}
}

func TestStandardizerReadyAfterFirstUpdate(t *testing.T) {
	s := NewStandardizer(2)
	require.False(t, s.Ready())
	s.Update([]float64{0, 10})
	require.True(t, s.Ready())
	s.Update([]float64{2, 20})
	s.Update([]float64{4, 30})
	out := s.Standardize([]float64{2, 20})
	require.Len(t, out, 2)
}
