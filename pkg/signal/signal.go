// Package signal implements the typed I/Q buffer (§3, §4.3 of the
// geolocation pipeline's specification): an owned buffer of complex samples
// in one of four layouts, with format conversion, slicing, and cloning.
//
// Grounded on the teacher's (FengXuebin-gnssgo) approach to owned,
// self-describing buffers in rtksvr.go's raw-data handling, and on the
// original C++ signal_flow::Signal this module's semantics were distilled
// from (interleaved-sample clamp/scale rules, slice/clone metadata).
package signal

import (
	"fmt"
	"math"

	"github.com/google/uuid"
	"tdoageoloc/internal/errs"
)

// Format identifies the on-wire layout of a Signal's sample buffer.
type Format int

const (
	// FormatComplexF32 is interleaved float32 (I, Q) pairs, 8 bytes/sample.
	FormatComplexF32 Format = iota
	// FormatComplexI16 is interleaved int16 (I, Q) pairs, 4 bytes/sample.
	FormatComplexI16
	// FormatComplexI8 is interleaved int8 (I, Q) pairs, 2 bytes/sample.
	FormatComplexI8
	// FormatOpaque is raw bytes whose layout is carried in metadata only.
	FormatOpaque
)

func (f Format) String() string {
	switch f {
	case FormatComplexF32:
		return "complex-f32"
	case FormatComplexI16:
		return "complex-i16"
	case FormatComplexI8:
		return "complex-i8"
	case FormatOpaque:
		return "opaque"
	default:
		return "unknown"
	}
}

// BytesPerSample returns the on-wire size of one complex sample in this
// format, or 0 for FormatOpaque (which carries no fixed per-sample size).
func (f Format) BytesPerSample() int {
	switch f {
	case FormatComplexF32:
		return 8
	case FormatComplexI16:
		return 4
	case FormatComplexI8:
		return 2
	default:
		return 0
	}
}

// Source describes the receiver (device) that produced a Signal.
type Source struct {
	DeviceKind string
	DeviceID   string
	LocationID string
	Latitude   float64
	Longitude  float64
	Altitude   float64
}

// Signal is an owned, typed buffer of complex samples with metadata. The
// zero value is not usable; construct with New or Wrap.
type Signal struct {
	id          string
	format      Format
	sampleCount int
	data        []byte

	sampleRate      float64
	centerFrequency float64
	bandwidth       float64
	timestamp       float64

	source Source
	tags   map[string]string
}

// New allocates an empty (zero-filled) signal with the given format and
// sample count. For FormatOpaque, byteSize gives the buffer size directly;
// it is ignored for the fixed-width formats.
func New(format Format, sampleCount, byteSize int) (*Signal, error) {
	if sampleCount < 0 {
		return nil, errs.New(errs.Precondition, "signal.New", "negative sample count")
	}
	size := byteSize
	if bps := format.BytesPerSample(); bps > 0 {
		size = sampleCount * bps
	}
	if size < 0 {
		return nil, errs.New(errs.Precondition, "signal.New", "negative byte size")
	}
	return &Signal{
		id:          uuid.NewString(),
		format:      format,
		sampleCount: sampleCount,
		data:        make([]byte, size),
		tags:        make(map[string]string),
	}, nil
}

// Wrap copies data into a new signal with the given format and sample count.
// For non-opaque formats, len(data) must equal sampleCount*BytesPerSample.
func Wrap(data []byte, format Format, sampleCount int) (*Signal, error) {
	if bps := format.BytesPerSample(); bps > 0 && len(data) != sampleCount*bps {
		return nil, errs.New(errs.Precondition, "signal.Wrap",
			fmt.Sprintf("byte size %d does not match sample count %d for format %s", len(data), sampleCount, format))
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return &Signal{
		id:          uuid.NewString(),
		format:      format,
		sampleCount: sampleCount,
		data:        buf,
		tags:        make(map[string]string),
	}, nil
}

func (s *Signal) ID() string              { return s.id }
func (s *Signal) SetID(id string)         { s.id = id }
func (s *Signal) Format() Format          { return s.format }
func (s *Signal) SampleCount() int        { return s.sampleCount }
func (s *Signal) ByteSize() int           { return len(s.data) }
func (s *Signal) Bytes() []byte           { return s.data }
func (s *Signal) SampleRate() float64     { return s.sampleRate }
func (s *Signal) CenterFrequency() float64 { return s.centerFrequency }
func (s *Signal) Bandwidth() float64      { return s.bandwidth }
func (s *Signal) Timestamp() float64      { return s.timestamp }
func (s *Signal) Source() Source          { return s.source }

func (s *Signal) SetSampleRate(hz float64)      { s.sampleRate = hz }
func (s *Signal) SetCenterFrequency(hz float64) { s.centerFrequency = hz }
func (s *Signal) SetBandwidth(hz float64)       { s.bandwidth = hz }
func (s *Signal) SetTimestamp(t float64)        { s.timestamp = t }
func (s *Signal) SetSource(src Source)          { s.source = src }

// Duration is SampleCount/SampleRate, or 0 if no sample rate is set.
func (s *Signal) Duration() float64 {
	if s.sampleRate <= 0 {
		return 0
	}
	return float64(s.sampleCount) / s.sampleRate
}

// SetTag sets a free-form metadata tag.
func (s *Signal) SetTag(key, value string) {
	if s.tags == nil {
		s.tags = make(map[string]string)
	}
	s.tags[key] = value
}

// Tag returns a metadata tag and whether it was present.
func (s *Signal) Tag(key string) (string, bool) {
	v, ok := s.tags[key]
	return v, ok
}

// Tags returns a copy of all metadata tags.
func (s *Signal) Tags() map[string]string {
	out := make(map[string]string, len(s.tags))
	for k, v := range s.tags {
		out[k] = v
	}
	return out
}

// AsComplexF32 returns the buffer reinterpreted as interleaved (I, Q)
// float32 pairs, or nil if the signal's format is not FormatComplexF32.
func (s *Signal) AsComplexF32() []complex64 {
	if s.format != FormatComplexF32 {
		return nil
	}
	out := make([]complex64, s.sampleCount)
	for i := 0; i < s.sampleCount; i++ {
		re := math.Float32frombits(le32(s.data[i*8:]))
		im := math.Float32frombits(le32(s.data[i*8+4:]))
		out[i] = complex(re, im)
	}
	return out
}

// AsComplexI16 returns the buffer reinterpreted as interleaved (I, Q) int16
// pairs, or nil if the signal's format is not FormatComplexI16.
func (s *Signal) AsComplexI16() [][2]int16 {
	if s.format != FormatComplexI16 {
		return nil
	}
	out := make([][2]int16, s.sampleCount)
	for i := 0; i < s.sampleCount; i++ {
		out[i][0] = int16(le16(s.data[i*4:]))
		out[i][1] = int16(le16(s.data[i*4+2:]))
	}
	return out
}

// AsComplexI8 returns the buffer reinterpreted as interleaved (I, Q) int8
// pairs, or nil if the signal's format is not FormatComplexI8.
func (s *Signal) AsComplexI8() [][2]int8 {
	if s.format != FormatComplexI8 {
		return nil
	}
	out := make([][2]int8, s.sampleCount)
	for i := 0; i < s.sampleCount; i++ {
		out[i][0] = int8(s.data[i*2])
		out[i][1] = int8(s.data[i*2+1])
	}
	return out
}

// ConvertToFormat produces a new owned signal in the target format with all
// metadata copied. Float-to-integer conversion clamps to [-1, 1] then scales
// to the integer format's full range; integer-to-float divides back down.
func (s *Signal) ConvertToFormat(target Format) (*Signal, error) {
	if target == s.format {
		return s.Clone(), nil
	}
	samples := s.toFloatSamples()
	out, err := New(target, s.sampleCount, 0)
	if err != nil {
		return nil, err
	}
	out.copyMetadataFrom(s)
	out.id = s.id + "_converted"
	if err := writeFloatSamples(out, samples); err != nil {
		return nil, err
	}
	return out, nil
}

// toFloatSamples normalizes this signal's samples to (I, Q) in [-1, 1]
// (for integer formats) or as-is (for float32).
func (s *Signal) toFloatSamples() [][2]float64 {
	out := make([][2]float64, s.sampleCount)
	switch s.format {
	case FormatComplexF32:
		for i := 0; i < s.sampleCount; i++ {
			out[i][0] = float64(math.Float32frombits(le32(s.data[i*8:])))
			out[i][1] = float64(math.Float32frombits(le32(s.data[i*8+4:])))
		}
	case FormatComplexI16:
		for i := 0; i < s.sampleCount; i++ {
			out[i][0] = float64(int16(le16(s.data[i*4:]))) / 32768.0
			out[i][1] = float64(int16(le16(s.data[i*4+2:]))) / 32768.0
		}
	case FormatComplexI8:
		for i := 0; i < s.sampleCount; i++ {
			out[i][0] = float64(int8(s.data[i*2])) / 128.0
			out[i][1] = float64(int8(s.data[i*2+1])) / 128.0
		}
	}
	return out
}

func writeFloatSamples(out *Signal, samples [][2]float64) error {
	clamp := func(v float64) float64 {
		if v > 1 {
			return 1
		}
		if v < -1 {
			return -1
		}
		return v
	}
	switch out.format {
	case FormatComplexF32:
		for i, smp := range samples {
			putLE32(out.data[i*8:], math.Float32bits(float32(clamp(smp[0]))))
			putLE32(out.data[i*8+4:], math.Float32bits(float32(clamp(smp[1]))))
		}
	case FormatComplexI16:
		for i, smp := range samples {
			putLE16(out.data[i*4:], uint16(int16(clamp(smp[0])*32767.0)))
			putLE16(out.data[i*4+2:], uint16(int16(clamp(smp[1])*32767.0)))
		}
	case FormatComplexI8:
		for i, smp := range samples {
			out.data[i*2] = byte(int8(clamp(smp[0]) * 127.0))
			out.data[i*2+1] = byte(int8(clamp(smp[1]) * 127.0))
		}
	default:
		return errs.New(errs.Configuration, "signal.ConvertToFormat", "cannot write samples into opaque format")
	}
	return nil
}

// Slice produces a new signal covering [start, start+count) samples, with
// timestamp advanced by start/sampleRate and slice_start/slice_count/
// original_id metadata recorded.
func (s *Signal) Slice(start, count int) (*Signal, error) {
	if start < 0 || count < 0 || start+count > s.sampleCount {
		return nil, errs.New(errs.Precondition, "signal.Slice", "slice range out of bounds")
	}
	bps := s.format.BytesPerSample()
	var data []byte
	if bps > 0 {
		data = s.data[start*bps : (start+count)*bps]
	} else {
		data = s.data
	}
	out, err := Wrap(data, s.format, count)
	if err != nil {
		return nil, err
	}
	out.copyMetadataFrom(s)
	out.id = s.id + fmt.Sprintf("_slice_%d_%d", start, count)
	if s.sampleRate > 0 {
		out.timestamp = s.timestamp + float64(start)/s.sampleRate
	}
	out.SetTag("slice_start", fmt.Sprintf("%d", start))
	out.SetTag("slice_count", fmt.Sprintf("%d", count))
	out.SetTag("original_id", s.id)
	return out, nil
}

// Clone deep-copies this signal, including its data buffer.
func (s *Signal) Clone() *Signal {
	out, _ := Wrap(s.data, s.format, s.sampleCount)
	out.copyMetadataFrom(s)
	out.id = s.id + "_clone"
	out.timestamp = s.timestamp
	return out
}

func (s *Signal) copyMetadataFrom(src *Signal) {
	s.sampleRate = src.sampleRate
	s.centerFrequency = src.centerFrequency
	s.bandwidth = src.bandwidth
	s.timestamp = src.timestamp
	s.source = src.source
	s.tags = src.Tags()
}

func le16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func putLE16(b []byte, v uint16) { b[0] = byte(v); b[1] = byte(v >> 8) }
func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
