package codec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUvarintFixtures(t *testing.T) {
	cases := []struct {
		v    uint64
		want []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{0xffff, []byte{0xff, 0xff, 0x03}},
		{0xffffffff, []byte{0xff, 0xff, 0xff, 0xff, 0x0f}},
	}
	for _, c := range cases {
		got := PutUvarint(nil, c.v)
		require.Equal(t, c.want, got, "pack_uint(%d)", c.v)

		v, n, res := Uvarint(got)
		require.Equal(t, Ok, res)
		require.Equal(t, len(got), n)
		require.Equal(t, c.v, v)
	}
}

func TestUvarintRoundTrip(t *testing.T) {
	vals := []uint64{0, 1, 2, 63, 64, 65, 126, 127, 128, 129,
		1 << 14, 1<<14 - 1, 1 << 21, 1 << 28, 1 << 35, 1 << 42,
		1 << 49, 1 << 56, 1 << 63, math.MaxUint64, math.MaxUint32}
	for _, v := range vals {
		buf := PutUvarint(nil, v)
		got, n, res := Uvarint(buf)
		require.Equal(t, Ok, res)
		require.Equal(t, len(buf), n)
		require.Equal(t, v, got)
	}
}

func TestUvarintShortBuffer(t *testing.T) {
	buf := PutUvarint(nil, 1<<20)
	_, n, res := Uvarint(buf[:len(buf)-1])
	require.Equal(t, ShortBuffer, res)
	require.Equal(t, 0, n)
}

func TestUvarint32Overflow(t *testing.T) {
	buf := PutUvarint(nil, uint64(math.MaxUint32)+1)
	_, n, res := Uvarint32(buf)
	require.Equal(t, Overflow, res)
	require.Equal(t, len(buf), n, "overflow must still report the encoded length consumed")
}

func TestBoolRoundTrip(t *testing.T) {
	for _, b := range []bool{true, false} {
		buf := PutBool(nil, b)
		got, n, res := DecodeBool(buf)
		require.Equal(t, Ok, res)
		require.Equal(t, 1, n)
		require.Equal(t, b, got)
	}
}

func TestLenStringRoundTrip(t *testing.T) {
	for _, s := range [][]byte{nil, []byte(""), []byte("foobar"), []byte{0, 1, 2, 0}} {
		buf := PutLenString(nil, s)
		got, n, res := DecodeLenString(buf)
		require.Equal(t, Ok, res)
		require.Equal(t, len(buf), n)
		require.Equal(t, string(s), string(got))
	}
}
