package correlate

import (
	"math/cmplx"

	"tdoageoloc/internal/errs"
)

// Config configures a correlation call (cross_correlation.h's
// CorrelationConfig), with the teacher's documented defaults.
type Config struct {
	Window          Window
	Interpolation   Interpolation
	PeakThreshold   float64
	MaxPeaks        int
	NormalizeOutput bool
	SampleRate      float64
	MinSNR          float64
}

// DefaultConfig mirrors CorrelationConfig's C++ constructor defaults.
func DefaultConfig() Config {
	return Config{
		Window:          WindowHamming,
		Interpolation:   InterpParabolic,
		PeakThreshold:   0.5,
		MaxPeaks:        3,
		NormalizeOutput: true,
		SampleRate:      1.0,
		MinSNR:          3.0,
	}
}

// Result is a full correlation call's output (§4.5's "correlation result").
type Result struct {
	Correlation       []float64
	Peaks             []Peak
	SampleRate        float64
	MaxPeakConfidence float64
}

// CrossCorrelate windows, correlates and peak-detects two real signals of
// length N_x and N_y, producing a sequence of length N_x+N_y-1.
func CrossCorrelate(x, y []float64, cfg Config) (Result, error) {
	if len(x) == 0 || len(y) == 0 {
		return Result{}, errs.New(errs.Precondition, "correlate.CrossCorrelate", "input signals must not be empty")
	}
	wx := ApplyWindow(x, cfg.Window)
	wy := ApplyWindow(y, cfg.Window)
	r := directCrossCorrelation(wx, wy)
	return finishResult(r, cfg), nil
}

// CrossCorrelateComplex is CrossCorrelate's complex128 counterpart: r[k] =
// Re(sum x[n] * conj(y[k-n+Ny-1])).
func CrossCorrelateComplex(x, y []complex128, cfg Config) (Result, error) {
	if len(x) == 0 || len(y) == 0 {
		return Result{}, errs.New(errs.Precondition, "correlate.CrossCorrelateComplex", "input signals must not be empty")
	}
	wx := ApplyWindowComplex(x, cfg.Window)
	wy := ApplyWindowComplex(y, cfg.Window)
	r := directCrossCorrelationComplex(wx, wy)
	return finishResult(r, cfg), nil
}

func finishResult(r []float64, cfg Config) Result {
	if cfg.NormalizeOutput {
		r = Normalize(r)
	}
	peaks := FindPeaks(r, cfg.PeakThreshold, cfg.MaxPeaks, cfg.Interpolation)
	maxConf := 0.0
	for _, p := range peaks {
		if p.Confidence > maxConf {
			maxConf = p.Confidence
		}
	}
	return Result{Correlation: r, Peaks: peaks, SampleRate: cfg.SampleRate, MaxPeakConfidence: maxConf}
}

// directCrossCorrelation is the O(N^2) reference implementation:
// r[k] = sum_n x[n] * y[k-n+len(y)-1].
func directCrossCorrelation(x, y []float64) []float64 {
	n1, n2 := len(x), len(y)
	result := make([]float64, n1+n2-1)
	for k := range result {
		for n := 0; n < n1; n++ {
			idx := k - n + n2 - 1
			if idx >= 0 && idx < n2 {
				result[k] += x[n] * y[idx]
			}
		}
	}
	return result
}

func directCrossCorrelationComplex(x, y []complex128) []float64 {
	n1, n2 := len(x), len(y)
	result := make([]float64, n1+n2-1)
	for k := range result {
		for n := 0; n < n1; n++ {
			idx := k - n + n2 - 1
			if idx >= 0 && idx < n2 {
				product := x[n] * cmplx.Conj(y[idx])
				result[k] += real(product)
			}
		}
	}
	return result
}
