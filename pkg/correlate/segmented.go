package correlate

import "tdoageoloc/internal/errs"

// SegmentedCorrelator is the streaming variant (§4.5 "Segmented variant"):
// it retains the previous pair of segments and, on each call, concatenates
// [previous | current-minus-overlap] on each side before correlating.
// Grounded on cross_correlation.h/.cpp's SegmentedCorrelator; single-
// threaded by construction, matching §5's concurrency note for C5.
type SegmentedCorrelator struct {
	cfg           Config
	segmentSize   int
	overlapFactor float64

	callback func(Result)

	prevReal    []float64
	prevReal2   []float64
	prevComplex []complex128
	prevComplex2 []complex128
}

// NewSegmentedCorrelator constructs a correlator. overlapFactor must be in
// [0, 1) and segmentSize must be positive.
func NewSegmentedCorrelator(cfg Config, segmentSize int, overlapFactor float64) (*SegmentedCorrelator, error) {
	if segmentSize <= 0 {
		return nil, errs.New(errs.Configuration, "correlate.NewSegmentedCorrelator", "segment size must be positive")
	}
	if overlapFactor < 0 || overlapFactor >= 1 {
		return nil, errs.New(errs.Configuration, "correlate.NewSegmentedCorrelator", "overlap factor must be in [0, 1)")
	}
	return &SegmentedCorrelator{cfg: cfg, segmentSize: segmentSize, overlapFactor: overlapFactor}, nil
}

// SetResultCallback installs a callback fired with every new Result.
func (s *SegmentedCorrelator) SetResultCallback(cb func(Result)) { s.callback = cb }

// Config returns the correlator's current configuration.
func (s *SegmentedCorrelator) Config() Config { return s.cfg }

// SetConfig replaces the correlator's configuration.
func (s *SegmentedCorrelator) SetConfig(cfg Config) { s.cfg = cfg }

// Reset clears retained segments for both the real and complex paths.
func (s *SegmentedCorrelator) Reset() {
	s.prevReal = nil
	s.prevReal2 = nil
	s.prevComplex = nil
	s.prevComplex2 = nil
}

// ProcessSegment correlates segment1/segment2, combining with the previously
// retained pair (if any) across the configured overlap.
func (s *SegmentedCorrelator) ProcessSegment(segment1, segment2 []float64) (Result, error) {
	if len(s.prevReal) == 0 || len(s.prevReal2) == 0 {
		s.prevReal = append([]float64(nil), segment1...)
		s.prevReal2 = append([]float64(nil), segment2...)
		return s.correlateAndEmit(segment1, segment2)
	}

	overlap := int(float64(s.segmentSize) * s.overlapFactor)
	combined1 := combine(s.prevReal, segment1, s.segmentSize, overlap)
	combined2 := combine(s.prevReal2, segment2, s.segmentSize, overlap)

	s.prevReal = append([]float64(nil), segment1...)
	s.prevReal2 = append([]float64(nil), segment2...)
	return s.correlateAndEmit(combined1, combined2)
}

// ProcessSegmentComplex is ProcessSegment's complex128 counterpart.
func (s *SegmentedCorrelator) ProcessSegmentComplex(segment1, segment2 []complex128) (Result, error) {
	if len(s.prevComplex) == 0 || len(s.prevComplex2) == 0 {
		s.prevComplex = append([]complex128(nil), segment1...)
		s.prevComplex2 = append([]complex128(nil), segment2...)
		return s.correlateAndEmitComplex(segment1, segment2)
	}

	overlap := int(float64(s.segmentSize) * s.overlapFactor)
	combined1 := combineComplex(s.prevComplex, segment1, s.segmentSize, overlap)
	combined2 := combineComplex(s.prevComplex2, segment2, s.segmentSize, overlap)

	s.prevComplex = append([]complex128(nil), segment1...)
	s.prevComplex2 = append([]complex128(nil), segment2...)
	return s.correlateAndEmitComplex(combined1, combined2)
}

func (s *SegmentedCorrelator) correlateAndEmit(x, y []float64) (Result, error) {
	result, err := CrossCorrelate(x, y, s.cfg)
	if err != nil {
		return Result{}, err
	}
	if s.callback != nil {
		s.callback(result)
	}
	return result, nil
}

func (s *SegmentedCorrelator) correlateAndEmitComplex(x, y []complex128) (Result, error) {
	result, err := CrossCorrelateComplex(x, y, s.cfg)
	if err != nil {
		return Result{}, err
	}
	if s.callback != nil {
		s.callback(result)
	}
	return result, nil
}

// combine lays out [prev | current[overlap:]], matching the original's
// combinedSegment construction.
func combine(prev, current []float64, segmentSize, overlap int) []float64 {
	out := make([]float64, segmentSize+len(current)-overlap)
	copy(out, prev)
	if overlap < len(current) {
		copy(out[segmentSize:], current[overlap:])
	}
	return out
}

func combineComplex(prev, current []complex128, segmentSize, overlap int) []complex128 {
	out := make([]complex128, segmentSize+len(current)-overlap)
	copy(out, prev)
	if overlap < len(current) {
		copy(out[segmentSize:], current[overlap:])
	}
	return out
}
