package tdoa

import (
	"math"
	"sort"

	"tdoageoloc/pkg/correlate"
)

// ProcessSignals correlates every peer's segment in signals against the
// reference source's segment, applies clock correction and statistical
// outlier validation, and returns the validated time-difference Set
// (§4.6). Unknown source ids and segments missing the reference are
// skipped without error, matching the original's tolerant behavior.
func (e *Extractor) ProcessSignals(signals map[string][]float64, timestampNS int64) Set {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.referenceID == "" {
		return Set{}
	}
	refSignal, ok := signals[e.referenceID]
	if !ok {
		return Set{}
	}

	result := Set{TimestampNS: timestampNS, ReferenceID: e.referenceID}

	peerIDs := make([]string, 0, len(signals))
	for id := range signals {
		if id != e.referenceID {
			peerIDs = append(peerIDs, id)
		}
	}
	sort.Strings(peerIDs)

	for _, peerID := range peerIDs {
		signal := signals[peerID]
		source, known := e.sources[peerID]
		if !known {
			continue
		}
		sc, ok := e.correlators[peerID]
		if !ok {
			var err error
			sc, err = correlate.NewSegmentedCorrelator(e.cfg.Correlation, e.cfg.SegmentSize, e.cfg.OverlapFactor)
			if err != nil {
				continue
			}
			e.correlators[peerID] = sc
			e.history[peerID] = nil
		}

		corrResult, err := sc.ProcessSegment(refSignal, signal)
		if err != nil || len(corrResult.Peaks) == 0 {
			continue
		}

		best := corrResult.Peaks[0]
		for _, p := range corrResult.Peaks[1:] {
			if p.Confidence > best.Confidence {
				best = p
			}
		}
		if best.Confidence < e.cfg.DetectionThreshold {
			continue
		}

		timeDiff := best.Delay / e.cfg.Correlation.SampleRate
		timeDiff -= float64(len(refSignal)+len(signal)-1) / 2.0 / e.cfg.Correlation.SampleRate

		if e.cfg.ClockCorrection != ClockNone {
			timeDiff = applyClockCorrection(timeDiff, source, timestampNS, e.cfg.ClockCorrection)
		}

		uncertainty := (1.0 - best.Confidence) * 1.0e-6

		measurement := Measurement{
			ReferenceID:  e.referenceID,
			PeerID:       peerID,
			TimeDiffS:    timeDiff,
			UncertaintyS: uncertainty,
			Confidence:   best.Confidence,
			TimestampNS:  timestampNS,
		}

		priorHistory := e.history[peerID]
		if e.cfg.EnableStatisticalValidation && len(priorHistory) >= 3 {
			if !validateMeasurement(measurement, priorHistory, e.cfg.OutlierThreshold) {
				continue
			}
		}

		history := append(priorHistory, measurement)
		if len(history) > e.cfg.HistorySize {
			history = history[len(history)-e.cfg.HistorySize:]
		}
		e.history[peerID] = history

		result.Measurements = append(result.Measurements, measurement)
	}

	if len(result.Measurements) > 0 && e.callback != nil {
		e.callback(result)
	}
	return result
}

// applyClockCorrection subtracts the source's cable/antenna delay and clock
// offset, plus the drift*elapsed term for Linear/Kalman modes (§4.6's
// correction table; Kalman's own discipline runs upstream in pkg/timebase,
// so this extractor treats Kalman identically to Linear per the spec).
func applyClockCorrection(timeDiff float64, source Source, timestampNS int64, mode ClockCorrection) float64 {
	corrected := timeDiff
	corrected -= source.CableDelayS + source.AntennaDelayS
	corrected -= source.ClockOffsetS
	if mode == ClockLinear || mode == ClockKalman {
		elapsedSec := float64(timestampNS) * 1e-9
		corrected -= source.ClockDriftS * elapsedSec
	}
	return corrected
}

// validateMeasurement rejects diff as an outlier when its z-score against
// the mean/stddev of the last ≤5 history entries exceeds outlierThreshold.
// Sigma is floored at 1ns to avoid false rejection on near-static signals.
func validateMeasurement(diff Measurement, history []Measurement, outlierThreshold float64) bool {
	n := len(history)
	if n < 3 {
		return true
	}
	window := 5
	if n < window {
		window = n
	}
	recent := history[n-window:]

	mean := 0.0
	for _, m := range recent {
		mean += m.TimeDiffS
	}
	mean /= float64(len(recent))

	sumSq := 0.0
	for _, m := range recent {
		d := m.TimeDiffS - mean
		sumSq += d * d
	}
	stdDev := math.Sqrt(sumSq / float64(len(recent)))
	if stdDev < 1e-9 {
		stdDev = 1e-9
	}

	zScore := math.Abs(diff.TimeDiffS-mean) / stdDev
	return zScore <= outlierThreshold
}
