package timebase

import (
	"sort"

	"tdoageoloc/internal/matutil"
)

// CompensationMode selects how TemperatureCompensation maps a temperature
// reading to a frequency-offset correction in ppb.
type CompensationMode int

const (
	CompensationNone CompensationMode = iota
	CompensationLinear
	CompensationQuadratic
	CompensationCubic
	CompensationSpline
)

// defaultLinearCoefficientPPBPerC is the default linear temperature
// coefficient, approximately -0.2 ppb/°C for a typical OCXO.
const defaultLinearCoefficientPPBPerC = -0.2

// TemperatureCompensation maps an oscillator's temperature to a ppb
// frequency-offset correction, grounded on the original C++
// TemperatureCompensation (time_sync/temperature_compensation.h): a
// reference-temperature-relative polynomial fit by least squares for
// linear/quadratic/cubic modes, or a piecewise-linear spline through
// calibration points with constant extrapolation at the ends.
type TemperatureCompensation struct {
	mode             CompensationMode
	coefficient      float64
	referenceTempC   float64
	calibration      map[float64]float64
	polyCoefficients []float64
}

// NewTemperatureCompensation constructs a compensation model. coefficient is
// only meaningful for CompensationLinear; pass
// defaultLinearCoefficientPPBPerC for the teacher's default.
func NewTemperatureCompensation(mode CompensationMode, coefficient float64) *TemperatureCompensation {
	return &TemperatureCompensation{
		mode:        mode,
		coefficient: coefficient,
		calibration: make(map[float64]float64),
	}
}

// SetReferenceTemperature sets the temperature (°C) the polynomial fit is
// centered on.
func (t *TemperatureCompensation) SetReferenceTemperature(tempC float64) {
	t.referenceTempC = tempC
	t.computePolynomial()
}

// AddCalibrationPoint records a (temperature, frequency-offset ppb) sample
// and refits the polynomial (for non-spline modes).
func (t *TemperatureCompensation) AddCalibrationPoint(tempC, freqOffsetPPB float64) {
	t.calibration[tempC] = freqOffsetPPB
	if t.mode != CompensationSpline {
		t.computePolynomial()
	}
}

// OptimalMode returns the mode best supported by the current calibration
// data: fewer than 3 points falls back to linear; 3 supports quadratic; 4-7
// supports cubic; 8+ supports the spline.
func (t *TemperatureCompensation) OptimalMode() CompensationMode {
	switch n := len(t.calibration); {
	case n < 3:
		return CompensationLinear
	case n < 4:
		return CompensationQuadratic
	case n < 8:
		return CompensationCubic
	default:
		return CompensationSpline
	}
}

// Compensation returns the frequency-offset correction in ppb for the given
// temperature (°C).
func (t *TemperatureCompensation) Compensation(tempC float64) float64 {
	switch t.mode {
	case CompensationNone:
		return 0
	case CompensationLinear:
		if len(t.polyCoefficients) == 0 {
			return t.coefficient * (tempC - t.referenceTempC)
		}
		return t.evaluatePolynomial(tempC - t.referenceTempC)
	case CompensationQuadratic, CompensationCubic:
		return t.evaluatePolynomial(tempC - t.referenceTempC)
	case CompensationSpline:
		return t.interpolateSpline(tempC)
	default:
		return 0
	}
}

func (t *TemperatureCompensation) order() int {
	switch t.mode {
	case CompensationLinear:
		return 1
	case CompensationQuadratic:
		return 2
	case CompensationCubic:
		return 3
	default:
		return 1
	}
}

func (t *TemperatureCompensation) computePolynomial() {
	if len(t.calibration) < 2 {
		return
	}
	order := t.order()
	if order >= len(t.calibration) {
		order = len(t.calibration) - 1
	}
	m := order + 1

	temps := make([]float64, 0, len(t.calibration))
	for temp := range t.calibration {
		temps = append(temps, temp)
	}
	sort.Float64s(temps)

	n := len(temps)
	// Vandermonde design matrix, transposed (m x n) for matutil's LSQ
	// convention: A[row+col*m] with row=coefficient index, col=sample index.
	A := matutil.Mat(m, n)
	y := matutil.Mat(n, 1)
	for col, temp := range temps {
		x := temp - t.referenceTempC
		xPow := 1.0
		for row := 0; row < m; row++ {
			A[row+col*m] = xPow
			xPow *= x
		}
		y[col] = t.calibration[temp]
	}

	x := matutil.Mat(m, 1)
	Q := matutil.Mat(m, m)
	if matutil.LSQ(A, y, m, n, x, Q) {
		t.polyCoefficients = x
	} else if matutil.Det2(Q, m) < 1e-10 {
		x, _ = matutil.SolveSVD(A, y, m, n)
		t.polyCoefficients = x
	}
}

func (t *TemperatureCompensation) evaluatePolynomial(xRel float64) float64 {
	result := 0.0
	xPow := 1.0
	for _, c := range t.polyCoefficients {
		result += c * xPow
		xPow *= xRel
	}
	return result
}

// interpolateSpline is the piecewise-linear interpolant between the two
// calibration points bracketing temperature, with constant extrapolation
// beyond either end.
func (t *TemperatureCompensation) interpolateSpline(tempC float64) float64 {
	if len(t.calibration) == 0 {
		return 0
	}
	temps := make([]float64, 0, len(t.calibration))
	for temp := range t.calibration {
		temps = append(temps, temp)
	}
	sort.Float64s(temps)
	if len(temps) == 1 {
		return t.calibration[temps[0]]
	}
	if tempC <= temps[0] {
		return t.calibration[temps[0]]
	}
	last := temps[len(temps)-1]
	if tempC >= last {
		return t.calibration[last]
	}
	idx := sort.SearchFloat64s(temps, tempC)
	t1, t2 := temps[idx-1], temps[idx]
	f1, f2 := t.calibration[t1], t.calibration[t2]
	frac := (tempC - t1) / (t2 - t1)
	return f1 + frac*(f2-f1)
}
