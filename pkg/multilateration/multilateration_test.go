package multilateration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tdoageoloc/pkg/tdoa"
)

func squareSources() map[string]SourcePosition {
	return map[string]SourcePosition{
		"a": {X: -100, Y: -100},
		"b": {X: 100, Y: -100},
		"c": {X: 100, Y: 100},
		"d": {X: -100, Y: 100},
	}
}

func timeDiffTo(target, peer, ref SourcePosition) float64 {
	d1 := distance(target.X, target.Y, peer.X, peer.Y)
	d2 := distance(target.X, target.Y, ref.X, ref.Y)
	return (d1 - d2) / SpeedOfLight
}

func measurementsFor(target SourcePosition, sources map[string]SourcePosition, refID string) []tdoa.Measurement {
	ref := sources[refID]
	var out []tdoa.Measurement
	for id, src := range sources {
		if id == refID {
			continue
		}
		out = append(out, tdoa.Measurement{
			ReferenceID: refID,
			PeerID:      id,
			TimeDiffS:   timeDiffTo(target, src, ref),
		})
	}
	return out
}

func TestSolveRejectsInsufficientInput(t *testing.T) {
	s := New(DefaultConfig())
	result := s.Solve(nil, map[string]SourcePosition{"a": {}})
	assert.False(t, result.Valid)
	assert.Equal(t, 1000.0, result.Position.UncertaintyX)
}

func TestSolveTaylorSeriesConverges(t *testing.T) {
	sources := squareSources()
	target := SourcePosition{X: 10, Y: -5}
	measurements := measurementsFor(target, sources, "a")

	cfg := DefaultConfig()
	cfg.Method = MethodTaylorSeries
	s := New(cfg)
	result := s.Solve(measurements, sources)

	require.True(t, result.Valid)
	assert.InDelta(t, target.X, result.Position.X, 1.0)
	assert.InDelta(t, target.Y, result.Position.Y, 1.0)
}

func TestSolveLeastSquaresApproximatesPosition(t *testing.T) {
	sources := squareSources()
	target := SourcePosition{X: -20, Y: 30}
	measurements := measurementsFor(target, sources, "a")

	cfg := DefaultConfig()
	cfg.Method = MethodLeastSquares
	s := New(cfg)
	result := s.Solve(measurements, sources)

	require.True(t, result.Valid)
	assert.InDelta(t, target.X, result.Position.X, 5.0)
	assert.InDelta(t, target.Y, result.Position.Y, 5.0)
}

func TestSolveInvokesCallback(t *testing.T) {
	sources := squareSources()
	target := SourcePosition{X: 0, Y: 0}
	measurements := measurementsFor(target, sources, "a")

	s := New(DefaultConfig())
	var got Result
	s.SetPositionCallback(func(r Result) { got = r })
	s.Solve(measurements, sources)
	assert.True(t, got.Valid)
}

func TestCalculateGDOPGoodGeometry(t *testing.T) {
	sources := squareSources()
	info := CalculateGDOP(sources, Position{X: 0, Y: 0})
	assert.Greater(t, info.GDOP, 0.0)
	assert.Less(t, info.GDOP, 10.0)
	assert.Equal(t, 0.0, info.VDOP)
}

func TestCalculateConfidenceEllipseOrdersAxes(t *testing.T) {
	pos := Position{X: 1, Y: 2, UncertaintyX: 10, UncertaintyY: 2}
	ellipse := CalculateConfidenceEllipse(pos, 0.95)
	assert.GreaterOrEqual(t, ellipse.SemiMajorAxis, ellipse.SemiMinorAxis)
	assert.InDelta(t, 1.0, ellipse.CenterX, 1e-9)
}

func TestCalculateConfidenceEllipseUnknownLevelFallsBackTo95(t *testing.T) {
	pos := Position{UncertaintyX: 1, UncertaintyY: 1}
	a := CalculateConfidenceEllipse(pos, 0.42)
	b := CalculateConfidenceEllipse(pos, 0.95)
	assert.InDelta(t, b.SemiMajorAxis, a.SemiMajorAxis, 1e-9)
}
