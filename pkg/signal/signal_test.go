package signal

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewZeroFilled(t *testing.T) {
	s, err := New(FormatComplexF32, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 10, s.SampleCount())
	assert.Equal(t, 80, s.ByteSize())
}

func TestWrapByteSizeMismatch(t *testing.T) {
	_, err := Wrap(make([]byte, 3), FormatComplexF32, 10)
	assert.Error(t, err)
}

func TestConvertToFormatPreservesMetadata(t *testing.T) {
	s, err := New(FormatComplexF32, 4, 0)
	require.NoError(t, err)
	s.SetSampleRate(1000)
	s.SetCenterFrequency(915e6)
	s.SetBandwidth(2e6)
	s.SetTimestamp(12.5)
	s.SetSource(Source{DeviceKind: "rtlsdr"})

	out, err := s.ConvertToFormat(FormatComplexI16)
	require.NoError(t, err)
	assert.Equal(t, s.SampleCount(), out.SampleCount())
	assert.Equal(t, s.SampleRate(), out.SampleRate())
	assert.Equal(t, s.CenterFrequency(), out.CenterFrequency())
	assert.Equal(t, s.Bandwidth(), out.Bandwidth())
	assert.Equal(t, s.Timestamp(), out.Timestamp())
	assert.Equal(t, s.Source(), out.Source())
}

func TestConvertClampsFloatToInt(t *testing.T) {
	s, err := Wrap(f32Bytes(2.0, -2.0), FormatComplexF32, 1)
	require.NoError(t, err)
	out, err := s.ConvertToFormat(FormatComplexI16)
	require.NoError(t, err)
	pairs := out.AsComplexI16()
	require.Len(t, pairs, 1)
	assert.Equal(t, int16(32767), pairs[0][0])
	assert.Equal(t, int16(-32767), pairs[0][1])
}

func TestSliceAdvancesTimestamp(t *testing.T) {
	s, err := New(FormatComplexF32, 100, 0)
	require.NoError(t, err)
	s.SetSampleRate(100)
	s.SetTimestamp(10.0)

	sl, err := s.Slice(20, 10)
	require.NoError(t, err)
	assert.Equal(t, 10, sl.SampleCount())
	assert.InDelta(t, 10.2, sl.Timestamp(), 1e-9)
	v, ok := sl.Tag("original_id")
	require.True(t, ok)
	assert.Equal(t, s.ID(), v)
}

func TestSliceOutOfRange(t *testing.T) {
	s, err := New(FormatComplexF32, 10, 0)
	require.NoError(t, err)
	_, err = s.Slice(5, 10)
	assert.Error(t, err)
}

func TestCloneIsDeepCopy(t *testing.T) {
	s, err := New(FormatComplexF32, 4, 0)
	require.NoError(t, err)
	c := s.Clone()
	c.Bytes()[0] = 0xFF
	assert.NotEqual(t, s.Bytes()[0], c.Bytes()[0])
}

func TestAsFormatMismatchReturnsNil(t *testing.T) {
	s, err := New(FormatComplexF32, 4, 0)
	require.NoError(t, err)
	assert.Nil(t, s.AsComplexI16())
	assert.Nil(t, s.AsComplexI8())
}

func f32Bytes(i, q float32) []byte {
	b := make([]byte, 8)
	putLE32(b, math.Float32bits(i))
	putLE32(b[4:], math.Float32bits(q))
	return b
}
