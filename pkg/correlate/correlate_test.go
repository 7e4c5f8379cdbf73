package correlate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gaussianPulse(n, center int, width float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		d := float64(i-center) / width
		out[i] = math.Exp(-0.5 * d * d)
	}
	return out
}

func TestWindowGenerateEndpoints(t *testing.T) {
	// At i == 0 a cosine-sum window equals the alternating sum of its
	// coefficients: exactly zero for Hanning and Blackman, 6e-5 for
	// Blackman-Harris and about -4.21e-4 for flat-top.
	endpoints := map[Window]float64{
		WindowHanning:        0.0,
		WindowBlackman:       0.0,
		WindowBlackmanHarris: 0.00006,
		WindowFlatTop:        -0.000421051,
	}
	for _, w := range []Window{WindowHamming, WindowHanning, WindowBlackman, WindowBlackmanHarris, WindowFlatTop} {
		coeffs := Generate(16, w)
		assert.Len(t, coeffs, 16)
		if w != WindowHamming {
			assert.InDelta(t, endpoints[w], coeffs[0], 1e-6)
		}
	}
}

func TestWindowNoneIsIdentity(t *testing.T) {
	signal := []float64{1, 2, 3, 4}
	assert.Equal(t, signal, ApplyWindow(signal, WindowNone))
}

func TestNormalizeScalesToUnitMax(t *testing.T) {
	r := Normalize([]float64{1, -4, 2})
	assert.InDelta(t, 1.0, r[1], 1e-9)
}

func TestCrossCorrelatePeakAtExpectedLag(t *testing.T) {
	n := 300
	x := gaussianPulse(n, 150, 8)
	lag := 20
	y := make([]float64, n)
	copy(y[lag:], x[:n-lag])

	cfg := DefaultConfig()
	cfg.Window = WindowNone
	result, err := CrossCorrelate(x, y, cfg)
	require.NoError(t, err)
	require.NotEmpty(t, result.Peaks)

	// The direct formula sums x[n]*y[k-n+len(y)-1]; for a pulse centred at
	// n/2 and y[i] = x[i-lag], its peak lands at k == lag+1.
	best := result.Peaks[0]
	assert.InDelta(t, float64(lag+1), best.Delay, 1.0)
	assert.Greater(t, best.Confidence, 0.0)
}

func TestCrossCorrelateRejectsEmptyInput(t *testing.T) {
	_, err := CrossCorrelate(nil, []float64{1}, DefaultConfig())
	assert.Error(t, err)
}

func TestCrossCorrelateComplexOutputLength(t *testing.T) {
	x := []complex128{1, 0, 0}
	y := []complex128{0, 1i, 0}
	cfg := DefaultConfig()
	cfg.Window = WindowNone
	cfg.NormalizeOutput = false
	result, err := CrossCorrelateComplex(x, y, cfg)
	require.NoError(t, err)
	assert.Len(t, result.Correlation, 5)
}

func TestPeaksAreSortedByDescendingConfidence(t *testing.T) {
	r := make([]float64, 200)
	for i := range r {
		r[i] = 0.1 * math.Sin(float64(i))
	}
	r[50] = 1.0
	r[150] = 0.6
	peaks := FindPeaks(r, 0.1, 5, InterpParabolic)
	for i := 1; i < len(peaks); i++ {
		assert.GreaterOrEqual(t, peaks[i-1].Confidence, peaks[i].Confidence)
	}
}

func TestInterpolatePeakEdgeReturnsIntegerDelay(t *testing.T) {
	r := []float64{0, 1, 0.5}
	peak := InterpolatePeak(r, 0, InterpParabolic)
	assert.Equal(t, 0.0, peak.Delay)
	assert.Equal(t, 1.0, peak.Confidence)
}

func TestInterpolatePeakCubicFallsBackNearEdge(t *testing.T) {
	r := []float64{0.2, 0.9, 1.0, 0.9, 0.2}
	peak := InterpolatePeak(r, 1, InterpCubic)
	assert.InDelta(t, 1.0, peak.Delay, 1.5)
}

func TestInterpolatePeakSincFallsBackNearEdge(t *testing.T) {
	r := []float64{0.1, 0.4, 0.9, 1.0, 0.9, 0.4}
	peak := InterpolatePeak(r, 2, InterpSinc)
	assert.InDelta(t, 2.0, peak.Delay, 1.5)
}

func TestSegmentedCorrelatorRejectsBadConfig(t *testing.T) {
	_, err := NewSegmentedCorrelator(DefaultConfig(), 0, 0.5)
	assert.Error(t, err)
	_, err = NewSegmentedCorrelator(DefaultConfig(), 64, 1.0)
	assert.Error(t, err)
}

func TestSegmentedCorrelatorCombinesOverlap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Window = WindowNone
	sc, err := NewSegmentedCorrelator(cfg, 64, 0.5)
	require.NoError(t, err)

	seg1 := gaussianPulse(64, 32, 5)
	seg2 := gaussianPulse(64, 32, 5)

	var calls int
	sc.SetResultCallback(func(Result) { calls++ })

	_, err = sc.ProcessSegment(seg1, seg2)
	require.NoError(t, err)
	second, err := sc.ProcessSegment(seg1, seg2)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	// Second call correlates [prev | current[32:]] on each side: 96 samples each.
	assert.Len(t, second.Correlation, 2*96-1)

	sc.Reset()
	assert.Nil(t, sc.prevReal)
}
