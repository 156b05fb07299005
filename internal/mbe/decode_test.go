package mbe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_FirstByteIsLeastSignificant(t *testing.T) {
	cat := catalogOf(t, varBlock("RT_A", 0x01, 0x0010, 2, "SCALE_RAW"))
	fl := NewFollowList(cat)
	require.NoError(t, fl.Add("RT_A", 0))

	vals, err := cat.Decode([]byte{0x81, 0x34, 0x12}, fl.Entries(0x01))
	require.NoError(t, err)
	require.Len(t, vals, 1)
	assert.Equal(t, 4660.0, vals[0].Value)
	assert.Equal(t, uint64(0x1234), vals[0].Raw)
	assert.Equal(t, "counts", vals[0].Units)
}

func TestDecode_ScaleBoundaries(t *testing.T) {
	for width := 1; width <= 4; width++ {
		cat := catalogOf(t, varBlock("RT_W", 0x01, 0x0010, width, "SCALE_TEMP"))
		entries := []FollowEntry{{Name: "RT_W", Bytes: width, LSB: 0x10}}

		zero := append([]byte{ResponseMarker}, make([]byte, width)...)
		vals, err := cat.Decode(zero, entries)
		require.NoError(t, err)
		assert.InDelta(t, -40.0, vals[0].Value, 1e-9, "width %d", width)

		full := []byte{ResponseMarker}
		for i := 0; i < width; i++ {
			full = append(full, 0xFF)
		}
		vals, err = cat.Decode(full, entries)
		require.NoError(t, err)
		assert.InDelta(t, 215.0, vals[0].Value, 1e-9, "width %d", width)
	}
}

func TestDecode_Truncated(t *testing.T) {
	cat := catalogOf(t,
		varBlock("RT_A", 0x01, 0x0010, 2, "SCALE_RAW"),
		varBlock("RT_B", 0x01, 0x0020, 1, "SCALE_RAW"),
	)
	fl := NewFollowList(cat)
	require.Equal(t, 2, fl.AddList([]string{"RT_A", "RT_B"}, 0))

	vals, err := cat.Decode([]byte{0x81, 0x34, 0x12}, fl.Entries(0x01))
	assert.ErrorIs(t, err, ErrTruncatedResponse)
	assert.Empty(t, vals)
}

func TestDecode_Malformed(t *testing.T) {
	cat := catalogOf(t, varBlock("RT_A", 0x01, 0x0010, 1, "SCALE_RAW"))
	entries := []FollowEntry{{Name: "RT_A", Bytes: 1, LSB: 0x10}}

	for _, resp := range [][]byte{nil, {0x81}, {0x7F, 0x01}, {0x00, 0x12, 0x34}} {
		vals, err := cat.Decode(resp, entries)
		assert.ErrorIs(t, err, ErrMalformedResponse, "% x", resp)
		assert.Nil(t, vals)
	}
}

func TestDecode_SamplePage(t *testing.T) {
	cat := sampleCatalog(t)
	fl := NewFollowList(cat)
	fl.AddList([]string{"RT_AIRTEMP1(LIM)", "RT_BATTERYVOLTAGE(LIM)"}, 0)

	vals, err := cat.Decode(unhex(t, samplePairs["01000000001a525c5d"]), fl.Entries(0x1A))
	require.NoError(t, err)
	require.Len(t, vals, 2)

	assert.Equal(t, "RT_AIRTEMP1(LIM)", vals[0].Name)
	assert.InDelta(t, 92.0, vals[0].Value, 1e-9)
	assert.Equal(t, "Air Temp", vals[0].ShortDesc)

	assert.Equal(t, "RT_BATTERYVOLTAGE(LIM)", vals[1].Name)
	assert.InDelta(t, float64(0x126e)*32/65535, vals[1].Value, 1e-9)
	assert.Equal(t, "V", vals[1].Units)
}

func TestRaw(t *testing.T) {
	assert.Equal(t, uint64(0x1234), Raw([]byte{0x34, 0x12}))
	assert.Equal(t, uint64(0x07ffffff), Raw([]byte{0xff, 0xff, 0xff, 0x07}))
	assert.Equal(t, uint64(0xAB), Raw([]byte{0xAB}))
	assert.Equal(t, uint64(0), Raw(nil))
}

func TestFullScale(t *testing.T) {
	assert.Equal(t, uint64(0xFF), FullScale(1))
	assert.Equal(t, uint64(0xFFFF), FullScale(2))
	assert.Equal(t, uint64(0xFFFFFF), FullScale(3))
	assert.Equal(t, uint64(0xFFFFFFFF), FullScale(4))
	assert.Equal(t, ^uint64(0), FullScale(8))
}
