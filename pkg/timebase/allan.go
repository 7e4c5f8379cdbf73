package timebase

import "math"

// NoiseType classifies the dominant noise process from the log-log slope of
// Allan deviation over an averaging-time window.
type NoiseType int

const (
	NoiseUnknown NoiseType = iota
	NoiseWhitePhase
	NoiseFlickerPhase
	NoiseWhiteFrequency
	NoiseFlickerFrequency
	NoiseRandomWalkFrequency
)

func (n NoiseType) String() string {
	switch n {
	case NoiseWhitePhase:
		return "white-phase"
	case NoiseFlickerPhase:
		return "flicker-phase"
	case NoiseWhiteFrequency:
		return "white-frequency"
	case NoiseFlickerFrequency:
		return "flicker-frequency"
	case NoiseRandomWalkFrequency:
		return "random-walk-frequency"
	default:
		return "unknown"
	}
}

const allanMaxSamples = 1024

// allanVariance maintains a ring of (timestamp, offset) samples and computes
// the overlapping-pair Allan deviation estimator for arbitrary averaging
// times, caching results per tau until the next sample invalidates them.
// Grounded on the original C++ AllanVariance (time_sync/allan_variance.h).
type allanVariance struct {
	times  []int64
	values []float64
	cache  map[float64]float64
}

func newAllanVariance() *allanVariance {
	return &allanVariance{cache: make(map[float64]float64)}
}

func (a *allanVariance) addSample(timestampNS int64, value float64) {
	a.times = append(a.times, timestampNS)
	a.values = append(a.values, value)
	if len(a.times) > allanMaxSamples {
		a.times = a.times[1:]
		a.values = a.values[1:]
	}
	a.cache = make(map[float64]float64)
}

func (a *allanVariance) reset() {
	a.times = nil
	a.values = nil
	a.cache = make(map[float64]float64)
}

func (a *allanVariance) sampleCount() int { return len(a.times) }

// variance computes sigma_y^2(tau) via the overlapping-pair estimator:
// choose m ~= tau / mean-sampling-interval, average every pair of adjacent
// m-sample blocks (the pair slides one sample at a time), and set
// sigma^2 = 0.5 * mean((y2-y1)^2) over those pairs.
func (a *allanVariance) variance(tau float64) float64 {
	if len(a.times) < 3 {
		return 0
	}
	if v, ok := a.cache[tau]; ok {
		return v
	}
	tauNS := int64(tau * 1e9)
	m := a.bestAveragingFactor(tauNS)
	if m == 0 {
		return 0
	}
	sum := 0.0
	n := 0
	for i := 0; i+2*m <= len(a.values); i++ {
		y1, y2 := 0.0, 0.0
		for j := 0; j < m; j++ {
			y1 += a.values[i+j]
			y2 += a.values[i+m+j]
		}
		y1 /= float64(m)
		y2 /= float64(m)
		diff := y2 - y1
		sum += diff * diff
		n++
	}
	variance := 0.0
	if n > 0 {
		variance = 0.5 * sum / float64(n)
	}
	a.cache[tau] = variance
	return variance
}

func (a *allanVariance) deviation(tau float64) float64 {
	return math.Sqrt(a.variance(tau))
}

// multiTau computes deviation at `points` log-spaced tau values in
// [minTau, maxTau].
func (a *allanVariance) multiTau(minTau, maxTau float64, points int) map[float64]float64 {
	result := make(map[float64]float64)
	if minTau <= 0 || maxTau <= minTau || points == 0 {
		return result
	}
	logMin := math.Log10(minTau)
	logMax := math.Log10(maxTau)
	step := (logMax - logMin) / float64(points-1)
	for i := 0; i < points; i++ {
		logTau := logMin + float64(i)*step
		tau := math.Pow(10, logTau)
		result[tau] = a.deviation(tau)
	}
	return result
}

// classifyNoise fits a line to log10(tau) vs log10(deviation) over
// [minTau, maxTau] and buckets the slope into one of the five canonical
// noise processes.
func (a *allanVariance) classifyNoise(minTau, maxTau float64) (NoiseType, float64) {
	deviations := a.multiTau(minTau, maxTau, 10)
	var logTau, logDev []float64
	for tau, dev := range deviations {
		if dev > 0 {
			logTau = append(logTau, math.Log10(tau))
			logDev = append(logDev, math.Log10(dev))
		}
	}
	if len(logTau) < 2 {
		return NoiseUnknown, 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i := range logTau {
		sumX += logTau[i]
		sumY += logDev[i]
		sumXY += logTau[i] * logDev[i]
		sumXX += logTau[i] * logTau[i]
	}
	n := float64(len(logTau))
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return NoiseUnknown, 0
	}
	slope := (n*sumXY - sumX*sumY) / denom

	switch {
	case slope < -0.9:
		return NoiseWhitePhase, slope
	case slope < -0.4:
		return NoiseFlickerPhase, slope
	case slope < 0.1:
		return NoiseWhiteFrequency, slope
	case slope < 0.6:
		return NoiseFlickerFrequency, slope
	default:
		return NoiseRandomWalkFrequency, slope
	}
}

func (a *allanVariance) bestAveragingFactor(tauNS int64) int {
	if len(a.times) < 2 {
		return 0
	}
	totalTime := a.times[len(a.times)-1] - a.times[0]
	avgInterval := float64(totalTime) / float64(len(a.times)-1)
	if avgInterval <= 0 {
		return 0
	}
	m := int(math.Round(float64(tauNS) / avgInterval))
	if m*3 > len(a.times) {
		m = len(a.times) / 3
	}
	if m <= 0 {
		return 1
	}
	return m
}
