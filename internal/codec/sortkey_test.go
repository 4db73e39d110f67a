package codec

import (
	"bytes"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUint32SortOrderMatchesNumericOrder(t *testing.T) {
	vals := []uint32{0, 1, 2, 0xff, 0x100, 0xffff, 0x10000, 0xfffffffe, 0xffffffff}
	for i := range vals {
		for j := range vals {
			a, b := vals[i], vals[j]
			ea := PutUint32Sort(nil, a)
			eb := PutUint32Sort(nil, b)
			switch {
			case a < b:
				require.Negative(t, bytes.Compare(ea, eb))
			case a == b:
				require.Zero(t, bytes.Compare(ea, eb))
			default:
				require.Positive(t, bytes.Compare(ea, eb))
			}
		}
	}
}

func TestUint32SortRoundTrip(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 1000; i++ {
		v := r.Uint32()
		buf := PutUint32Sort(nil, v)
		got, n, res := DecodeUint32Sort(buf)
		require.Equal(t, Ok, res)
		require.Equal(t, 4, n)
		require.Equal(t, v, got)
	}
}

func TestStringSortRoundTrip(t *testing.T) {
	cases := [][]byte{
		nil,
		[]byte(""),
		[]byte("foo"),
		[]byte("foo\x00bar"),
		[]byte("\x00\x00\x00"),
		[]byte("tail\x00"),
	}
	for _, s := range cases {
		buf := PutStringSort(nil, s)
		got, n, res := DecodeStringSort(buf)
		require.Equal(t, Ok, res)
		require.Equal(t, len(buf), n)
		require.Equal(t, string(s), string(got))
	}
}

func TestStringSortOrderPreserved(t *testing.T) {
	words := []string{"", "a", "aa", "ab", "b", "foo", "foobar", "foo\x00bar", "foo\x00", "fop"}
	encoded := make([][]byte, len(words))
	for i, w := range words {
		encoded[i] = PutStringSort(nil, []byte(w))
	}
	for i := range words {
		for j := range words {
			cmpWords := bytes.Compare([]byte(words[i]), []byte(words[j]))
			cmpEnc := bytes.Compare(encoded[i], encoded[j])
			require.Equal(t, sign(cmpWords), sign(cmpEnc), "ordering mismatch for %q vs %q", words[i], words[j])
		}
	}
}

func TestStringSortAllowsTrailingKeyComponents(t *testing.T) {
	var buf []byte
	buf = PutStringSort(buf, []byte("term"))
	buf = PutUint32Sort(buf, 42)

	s, n, res := DecodeStringSort(buf)
	require.Equal(t, Ok, res)
	require.Equal(t, "term", string(s))

	v, n2, res2 := DecodeUint32Sort(buf[n:])
	require.Equal(t, Ok, res2)
	require.Equal(t, uint32(42), v)
	require.Equal(t, len(buf), n+n2)
}

func sign(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	default:
		return 0
	}
}
