package termlist

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/quartzdb/quartz/internal/qerr"
	"github.com/quartzdb/quartz/table"
)

func newTable(t *testing.T) *table.Table {
	t.Helper()
	tbl, err := table.Create(t.TempDir(), "termlist", table.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { tbl.Close() })
	return tbl
}

func TestSetReadRoundTrip(t *testing.T) {
	tbl := newTable(t)
	entries := []Entry{
		{Term: []byte("apple"), WDF: 2},
		{Term: []byte("application"), WDF: 1},
		{Term: []byte("banana"), WDF: 3},
	}
	require.NoError(t, SetEntries(tbl, 1, entries, 6, false))

	l, ok, err := Read(tbl, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(6), l.DocLen)
	require.False(t, l.StoreTermFreqs)
	require.Len(t, l.Entries, 3)
	for i, e := range entries {
		require.Equal(t, e.Term, l.Entries[i].Term)
		require.Equal(t, e.WDF, l.Entries[i].WDF)
	}
}

func TestSetEntriesRejectsUnsortedInput(t *testing.T) {
	tbl := newTable(t)
	entries := []Entry{
		{Term: []byte("banana"), WDF: 1},
		{Term: []byte("apple"), WDF: 1},
	}
	err := SetEntries(tbl, 1, entries, 2, false)
	require.Error(t, err)
	require.True(t, errors.Is(err, qerr.Corrupt))
}

func TestSetEntriesRejectsStoreTermFreqs(t *testing.T) {
	tbl := newTable(t)
	err := SetEntries(tbl, 1, nil, 0, true)
	require.Error(t, err)
}

func TestDelete(t *testing.T) {
	tbl := newTable(t)
	require.NoError(t, SetEntries(tbl, 1, []Entry{{Term: []byte("x"), WDF: 1}}, 1, false))
	require.NoError(t, Delete(tbl, 1))
	_, ok, err := Read(tbl, 1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIteratorSkipTo(t *testing.T) {
	tbl := newTable(t)
	entries := []Entry{
		{Term: []byte("apple"), WDF: 2},
		{Term: []byte("banana"), WDF: 3},
		{Term: []byte("cherry"), WDF: 1},
	}
	require.NoError(t, SetEntries(tbl, 1, entries, 6, false))

	it, err := NewIterator(tbl, 1)
	require.NoError(t, err)
	it.SkipTo([]byte("banana"))
	require.False(t, it.AtEnd())
	require.Equal(t, "banana", string(it.Current().Term))

	it.Next()
	require.Equal(t, "cherry", string(it.Current().Term))

	it.Next()
	require.True(t, it.AtEnd())
}
