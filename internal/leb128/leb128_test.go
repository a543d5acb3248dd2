package leb128

import (
	"math"
	"testing"

	"github.com/dtvmgo/dtvm/internal/werr"
	"github.com/stretchr/testify/require"
)

func TestDecodeUint32(t *testing.T) {
	for _, c := range []struct {
		in  []byte
		val uint32
		n   int
	}{
		{[]byte{0x00}, 0, 1},
		{[]byte{0x01}, 1, 1},
		{[]byte{0xe5, 0x8e, 0x26}, 624485, 3},
		{[]byte{0xff, 0xff, 0xff, 0xff, 0x0f}, math.MaxUint32, 5},
	} {
		v, n, err := Uint32(c.in)
		require.Nil(t, err)
		require.Equal(t, c.val, v)
		require.Equal(t, c.n, n)
	}
}

func TestDecodeInt32SignExtends(t *testing.T) {
	for _, c := range []struct {
		in  []byte
		val int32
	}{
		{[]byte{0x7f}, -1},
		{[]byte{0x7c}, -4},
		{[]byte{0x9b, 0xf1, 0x59}, -624485},
	} {
		v, _, err := Int32(c.in)
		require.Nil(t, err)
		require.Equal(t, c.val, v)
	}
}

func TestTooLongUvarint(t *testing.T) {
	buf := []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01} // 6 groups, u32 allows only 5
	_, _, err := Uint32(buf)
	require.NotNil(t, err)
	require.True(t, err.Is(werr.KindLEBIntTooLong))
}

func TestTooLargeFinalByteUvarint(t *testing.T) {
	// 5th byte for a u32 may only contribute its lowest 4 bits.
	buf := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0x00}
	_, _, err := Uint32(buf)
	require.NotNil(t, err)
	require.True(t, err.Is(werr.KindLEBIntTooLarge))
}

func TestTruncatedBufferErrors(t *testing.T) {
	_, _, err := Uint32([]byte{0x80, 0x80})
	require.NotNil(t, err)
}

func TestValidateUTF8RejectsSurrogatesAndOverlong(t *testing.T) {
	require.NotNil(t, ValidateUTF8([]byte{0xed, 0xa0, 0x80})) // surrogate half encoded in UTF-8
	require.NotNil(t, ValidateUTF8([]byte{0xc0, 0x80}))       // overlong NUL
	require.Nil(t, ValidateUTF8([]byte("hello, world")))
}

func TestFixed32And64(t *testing.T) {
	v32, n, err := Fixed32([]byte{0x01, 0x00, 0x00, 0x00})
	require.Nil(t, err)
	require.Equal(t, uint32(1), v32)
	require.Equal(t, 4, n)

	v64, n, err := Fixed64([]byte{0, 0, 0, 0, 0, 0, 0xf0, 0x3f})
	require.Nil(t, err)
	require.Equal(t, math.Float64bits(1.0), v64)
	require.Equal(t, 8, n)
}
