package position

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quartzdb/quartz/table"
)

func newTable(t *testing.T) *table.Table {
	t.Helper()
	tbl, err := table.Create(t.TempDir(), "position", table.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { tbl.Close() })
	return tbl
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := [][]uint32{
		nil,
		{0},
		{5},
		{5, 8, 10, 12},
		{0, 1, 2, 3, 100, 1000000},
	}
	for _, c := range cases {
		got, err := decode(encode(c))
		require.NoError(t, err)
		if len(c) == 0 {
			require.Empty(t, got)
		} else {
			require.Equal(t, c, got)
		}
	}
}

func TestSetReadDelete(t *testing.T) {
	tbl := newTable(t)
	term := []byte("quartz")

	got, err := Read(tbl, 1, term)
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, Set(tbl, 1, term, []uint32{5, 8, 10, 12}))
	got, err = Read(tbl, 1, term)
	require.NoError(t, err)
	require.Equal(t, []uint32{5, 8, 10, 12}, got)

	require.NoError(t, Delete(tbl, 1, term))
	got, err = Read(tbl, 1, term)
	require.NoError(t, err)
	require.Nil(t, got)
}

// TestIteratorSkipTo traces the within-document proximity-matching scenario
// of skipping forward then continuing to iterate: positions [5,8,10,12],
// skip_to(9) lands on 10, next() reaches 12, next() past it ends iteration.
func TestIteratorSkipTo(t *testing.T) {
	tbl := newTable(t)
	term := []byte("quartz")
	require.NoError(t, Set(tbl, 1, term, []uint32{5, 8, 10, 12}))

	it, err := NewIterator(tbl, 1, term)
	require.NoError(t, err)
	require.False(t, it.AtEnd())
	require.Equal(t, uint32(5), it.Current())

	it.SkipTo(9)
	require.False(t, it.AtEnd())
	require.Equal(t, uint32(10), it.Current())

	it.Next()
	require.False(t, it.AtEnd())
	require.Equal(t, uint32(12), it.Current())

	it.Next()
	require.True(t, it.AtEnd())

	it2, err := NewIterator(tbl, 1, term)
	require.NoError(t, err)
	it2.SkipTo(13)
	require.True(t, it2.AtEnd())
}

func TestIteratorOnMissingListStartsAtEnd(t *testing.T) {
	tbl := newTable(t)
	it, err := NewIterator(tbl, 1, []byte("nope"))
	require.NoError(t, err)
	require.True(t, it.AtEnd())
}
