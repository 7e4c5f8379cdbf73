// Package correlate implements the windowed cross-correlation component
// (C5): window functions, direct real/complex correlation, sub-sample peak
// interpolation, and the segmented streaming variant. Grounded on the
// original C++ tdoa::correlation package (cross_correlation.h/.cpp,
// window_functions.cpp, correlation_peak.cpp).
package correlate

import "math"

// Window selects the pre-processing window applied before correlation.
type Window int

const (
	WindowNone Window = iota
	WindowHamming
	WindowHanning
	WindowBlackman
	WindowBlackmanHarris
	WindowFlatTop
)

// Interpolation selects the sub-sample peak interpolation method.
type Interpolation int

const (
	InterpNone Interpolation = iota
	InterpParabolic
	InterpCubic
	InterpGaussian
	InterpSinc
)

// Generate returns the length-n window coefficients over [0, n-1], using the
// standard cosine-sum coefficients (window_functions.cpp's generateWindow).
func Generate(n int, w Window) []float64 {
	coeffs := make([]float64, n)
	if n <= 0 {
		return coeffs
	}
	if n == 1 {
		coeffs[0] = 1
		return coeffs
	}
	switch w {
	case WindowNone:
		for i := range coeffs {
			coeffs[i] = 1
		}
	case WindowHamming:
		for i := 0; i < n; i++ {
			coeffs[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
		}
	case WindowHanning:
		for i := 0; i < n; i++ {
			coeffs[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
		}
	case WindowBlackman:
		for i := 0; i < n; i++ {
			x := 2 * math.Pi * float64(i) / float64(n-1)
			coeffs[i] = 0.42 - 0.5*math.Cos(x) + 0.08*math.Cos(2*x)
		}
	case WindowBlackmanHarris:
		for i := 0; i < n; i++ {
			x := 2 * math.Pi * float64(i) / float64(n-1)
			coeffs[i] = 0.35875 - 0.48829*math.Cos(x) + 0.14128*math.Cos(2*x) - 0.01168*math.Cos(3*x)
		}
	case WindowFlatTop:
		for i := 0; i < n; i++ {
			x := 2 * math.Pi * float64(i) / float64(n-1)
			coeffs[i] = 0.21557895 - 0.41663158*math.Cos(x) + 0.277263158*math.Cos(2*x) -
				0.083578947*math.Cos(3*x) + 0.006947368*math.Cos(4*x)
		}
	}
	return coeffs
}

// ApplyWindow multiplies signal element-wise by the window's coefficients.
// WindowNone returns the input unchanged (no copy).
func ApplyWindow(signal []float64, w Window) []float64 {
	if w == WindowNone {
		return signal
	}
	coeffs := Generate(len(signal), w)
	out := make([]float64, len(signal))
	for i, v := range signal {
		out[i] = v * coeffs[i]
	}
	return out
}

// ApplyWindowComplex is ApplyWindow's complex128 counterpart.
func ApplyWindowComplex(signal []complex128, w Window) []complex128 {
	if w == WindowNone {
		return signal
	}
	coeffs := Generate(len(signal), w)
	out := make([]complex128, len(signal))
	for i, v := range signal {
		out[i] = v * complex(coeffs[i], 0)
	}
	return out
}

// Normalize divides every element by max|r|, leaving r unchanged when that
// maximum is effectively zero.
func Normalize(r []float64) []float64 {
	if len(r) == 0 {
		return r
	}
	maxAbs := 0.0
	for _, v := range r {
		if a := math.Abs(v); a > maxAbs {
			maxAbs = a
		}
	}
	if maxAbs < 1e-10 {
		return r
	}
	out := make([]float64, len(r))
	for i, v := range r {
		out[i] = v / maxAbs
	}
	return out
}

// SamplesToTime converts a delay in samples to seconds at sampleRate.
func SamplesToTime(delaySamples, sampleRate float64) float64 { return delaySamples / sampleRate }

// TimeToSamples converts a delay in seconds to samples at sampleRate.
func TimeToSamples(delaySeconds, sampleRate float64) float64 { return delaySeconds * sampleRate }
