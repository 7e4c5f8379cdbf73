package tdoa

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tdoageoloc/pkg/correlate"
)

func gaussianPulse(n, center int, width float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		d := float64(i-center) / width
		out[i] = math.Exp(-0.5 * d * d)
	}
	return out
}

func newTestExtractor(t *testing.T) *Extractor {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Correlation.Window = correlate.WindowNone
	cfg.Correlation.SampleRate = 1.0
	cfg.SegmentSize = 256
	cfg.OverlapFactor = 0
	e := New(cfg, nil)
	require.NoError(t, e.AddSource(Source{ID: "ref", X: 0, Y: 0}))
	require.NoError(t, e.AddSource(Source{ID: "peer", X: 100, Y: 0}))
	return e
}

func TestAddSourceFirstBecomesReference(t *testing.T) {
	e := New(DefaultConfig(), nil)
	require.NoError(t, e.AddSource(Source{ID: "a"}))
	assert.Equal(t, "a", e.ReferenceSource())
}

func TestAddSourceRejectsEmptyID(t *testing.T) {
	e := New(DefaultConfig(), nil)
	assert.Error(t, e.AddSource(Source{}))
}

func TestProcessSignalsMissingReferenceReturnsEmpty(t *testing.T) {
	e := newTestExtractor(t)
	signals := map[string][]float64{"peer": gaussianPulse(256, 128, 6)}
	set := e.ProcessSignals(signals, 0)
	assert.Empty(t, set.Measurements)
}

func TestProcessSignalsProducesMeasurement(t *testing.T) {
	e := newTestExtractor(t)
	ref := gaussianPulse(256, 128, 6)
	peer := gaussianPulse(256, 128, 6)
	set := e.ProcessSignals(map[string][]float64{"ref": ref, "peer": peer}, 1)
	require.Len(t, set.Measurements, 1)
	assert.Equal(t, "ref", set.Measurements[0].ReferenceID)
	assert.Equal(t, "peer", set.Measurements[0].PeerID)
}

func TestSetReferenceSourceFlushesHistory(t *testing.T) {
	e := newTestExtractor(t)
	ref := gaussianPulse(256, 128, 6)
	e.ProcessSignals(map[string][]float64{"ref": ref, "peer": ref}, 1)
	require.NoError(t, e.SetReferenceSource("peer"))
	assert.Equal(t, "peer", e.ReferenceSource())
	assert.Empty(t, e.history["ref"])
}

func TestApplyClockCorrectionOffsetOnly(t *testing.T) {
	src := Source{CableDelayS: 1e-6, AntennaDelayS: 2e-6, ClockOffsetS: 3e-6, ClockDriftS: 1e-9}
	got := applyClockCorrection(10e-6, src, 0, ClockOffset)
	assert.InDelta(t, 4e-6, got, 1e-12)
}

func TestApplyClockCorrectionLinearAddsDrift(t *testing.T) {
	src := Source{ClockDriftS: 1e-9}
	got := applyClockCorrection(0, src, int64(2e9), ClockLinear)
	assert.InDelta(t, -2e-9, got, 1e-15)
}

func TestValidateMeasurementFlagsOutlier(t *testing.T) {
	// Prior history has mean 100us with a std of ~25.5us; a candidate 100us
	// off the mean sits at z~3.92, which this threshold pair straddles.
	mk := func(v float64) Measurement { return Measurement{TimeDiffS: v} }
	history := []Measurement{mk(70e-6), mk(80e-6), mk(120e-6), mk(130e-6)}
	candidate := mk(200e-6)
	assert.False(t, validateMeasurement(candidate, history, 3.0))
	assert.True(t, validateMeasurement(candidate, history, 10.0))
}
