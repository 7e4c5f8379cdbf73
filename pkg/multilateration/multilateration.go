// Package multilateration implements the 2-D TDOA position solver (C7):
// least-squares and Taylor-series linearization, geometric dilution of
// precision, and a confidence ellipse.
//
// Grounded on original_source/src/tdoa/multilateration/
// multilateration_solver.h/.cpp, re-expressed over internal/matutil's
// column-major routines (the original uses Eigen) and with the original's
// unimplemented Bayesian/gradient-descent stubs dropped — spec.md names only
// least-squares and Taylor-series.
package multilateration

import "tdoageoloc/pkg/tdoa"

// SpeedOfLight is c in m/s.
const SpeedOfLight = 299792458.0

// Method selects the linearization strategy.
type Method int

const (
	MethodLeastSquares Method = iota
	MethodTaylorSeries
)

// SourcePosition is a receiver's 2-D position, keyed by source id in the
// maps Solve accepts.
type SourcePosition struct {
	X, Y float64
}

// Position is an estimated fix with per-axis uncertainty (§4.7).
type Position struct {
	X, Y                     float64
	UncertaintyX, UncertaintyY float64
	Confidence               float64
	TimestampNS              int64
}

// ConfidenceEllipse describes the position uncertainty as an ellipse.
type ConfidenceEllipse struct {
	CenterX, CenterY float64
	SemiMajorAxis    float64
	SemiMinorAxis    float64
	RotationRad      float64
	ConfidenceLevel  float64
}

// GDOPInfo is geometric dilution of precision for the current geometry.
type GDOPInfo struct {
	GDOP, PDOP, HDOP, VDOP, TDOP float64
}

// Config configures the solver (§4.7, original's MultilaterationConfig).
type Config struct {
	Method               Method
	SpeedOfLight         float64
	ConvergenceThreshold float64
	MaxIterations        int
	ConfidenceLevel      float64
	MinRequiredSources   int
	MinRequiredTimeDiffs int
	ConstrainToRegion    bool
	RegionMinX, RegionMaxX float64
	RegionMinY, RegionMaxY float64
}

// DefaultConfig mirrors the original's documented defaults; Taylor-series is
// the default method per spec.md §4.7.
func DefaultConfig() Config {
	return Config{
		Method:               MethodTaylorSeries,
		SpeedOfLight:         SpeedOfLight,
		ConvergenceThreshold: 1e-6,
		MaxIterations:        20,
		ConfidenceLevel:      0.95,
		MinRequiredSources:   3,
		MinRequiredTimeDiffs: 2,
		RegionMinX:           -1000,
		RegionMaxX:           1000,
		RegionMinY:           -1000,
		RegionMaxY:           1000,
	}
}

// Result is a full solve's output (§4.7).
type Result struct {
	Position    Position
	Confidence  ConfidenceEllipse
	GDOP        GDOPInfo
	Iterations  int
	ResidualError float64
	Valid       bool
	Diagnostic  string
}

// Solver is the C7 component. Construct it with New, which uses the given
// Config as is; pass DefaultConfig() for the documented defaults.
type Solver struct {
	cfg      Config
	callback func(Result)
}

// New constructs a Solver.
func New(cfg Config) *Solver { return &Solver{cfg: cfg} }

// SetPositionCallback installs a callback fired with every Solve result.
func (s *Solver) SetPositionCallback(cb func(Result)) { s.callback = cb }

// Config returns the solver's current configuration.
func (s *Solver) Config() Config { return s.cfg }

// SetConfig replaces the solver's configuration.
func (s *Solver) SetConfig(cfg Config) { s.cfg = cfg }

// Solve computes a position fix from a time-difference set and the known
// positions of every contributing source. Fewer than MinRequiredSources
// positions or MinRequiredTimeDiffs measurements produces an invalid result
// with 1000 m uncertainty and a diagnostic message (§4.7).
func (s *Solver) Solve(measurements []tdoa.Measurement, sources map[string]SourcePosition) Result {
	if len(sources) < s.cfg.MinRequiredSources || len(measurements) < s.cfg.MinRequiredTimeDiffs {
		return invalidResult("not enough sources or time differences for calculation")
	}

	var position Position
	var iterations int
	switch s.cfg.Method {
	case MethodLeastSquares:
		position = s.solveLeastSquares(measurements, sources)
	default:
		position, iterations = s.solveTaylorSeries(measurements, sources)
	}

	result := Result{
		Position:   position,
		GDOP:       CalculateGDOP(sources, position),
		Confidence: CalculateConfidenceEllipse(position, s.cfg.ConfidenceLevel),
		Iterations: iterations,
		Valid:      true,
	}
	if s.callback != nil {
		s.callback(result)
	}
	return result
}

func invalidResult(message string) Result {
	return Result{
		Position:   Position{UncertaintyX: 1000, UncertaintyY: 1000},
		Diagnostic: message,
		Valid:      false,
	}
}
