package record

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quartzdb/quartz/table"
)

func newTable(t *testing.T) *table.Table {
	t.Helper()
	tbl, err := table.Create(t.TempDir(), "record", table.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { tbl.Close() })
	return tbl
}

func TestReplaceGetDelete(t *testing.T) {
	tbl := newTable(t)

	_, err := Get(tbl, 1)
	require.Error(t, err)

	require.NoError(t, Replace(tbl, 1, []byte("hello")))
	got, err := Get(tbl, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)

	require.NoError(t, Replace(tbl, 1, []byte("world")))
	got, err = Get(tbl, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("world"), got)

	require.NoError(t, Delete(tbl, 1))
	_, err = Get(tbl, 1)
	require.Error(t, err)

	require.Error(t, Delete(tbl, 1))
}

func TestDocIDZeroReserved(t *testing.T) {
	require.Panics(t, func() { key(0) })
}

func TestMetaRoundTrip(t *testing.T) {
	tbl := newTable(t)

	m, err := ReadMeta(tbl)
	require.NoError(t, err)
	require.Equal(t, Meta{}, m)

	want := Meta{LastDocID: 42, TotalLen: 1 << 30}
	require.NoError(t, WriteMeta(tbl, want))

	got, err := ReadMeta(tbl)
	require.NoError(t, err)
	require.Equal(t, want, got)
}
