package value

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quartzdb/quartz/table"
)

func newTable(t *testing.T) *table.Table {
	t.Helper()
	tbl, err := table.Create(t.TempDir(), "value", table.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { tbl.Close() })
	return tbl
}

func TestAddGetAll(t *testing.T) {
	tbl := newTable(t)

	require.NoError(t, Add(tbl, 1, 5, []byte("bbb")))
	require.NoError(t, Add(tbl, 1, 2, []byte("aaa")))

	entries, err := GetAll(tbl, 1)
	require.NoError(t, err)
	require.Equal(t, []Entry{
		{Slot: 2, Bytes: []byte("aaa")},
		{Slot: 5, Bytes: []byte("bbb")},
	}, entries)

	b, ok, err := Get(tbl, 1, 5)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("bbb"), b)

	_, ok, err = Get(tbl, 1, 9)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAddOverwritesSlot(t *testing.T) {
	tbl := newTable(t)

	require.NoError(t, Add(tbl, 1, 5, []byte("bbb")))
	require.NoError(t, Add(tbl, 1, 5, []byte("zzz")))

	entries, err := GetAll(tbl, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, []byte("zzz"), entries[0].Bytes)
}

func TestSlotStatsTrackBounds(t *testing.T) {
	tbl := newTable(t)

	require.NoError(t, Add(tbl, 1, 5, []byte("mmm")))
	require.NoError(t, Add(tbl, 2, 5, []byte("aaa")))
	require.NoError(t, Add(tbl, 3, 5, []byte("zzz")))

	stats, err := SlotStats(tbl, 5)
	require.NoError(t, err)
	require.Equal(t, uint32(3), stats.Freq)
	require.Equal(t, []byte("aaa"), stats.Lower)
	require.Equal(t, []byte("zzz"), stats.Upper)
}

func TestDeleteAllClearsBoundsAtZeroFreq(t *testing.T) {
	tbl := newTable(t)

	require.NoError(t, Add(tbl, 1, 5, []byte("mmm")))
	require.NoError(t, DeleteAll(tbl, 1))

	entries, err := GetAll(tbl, 1)
	require.NoError(t, err)
	require.Empty(t, entries)

	stats, err := SlotStats(tbl, 5)
	require.NoError(t, err)
	require.Equal(t, uint32(0), stats.Freq)
	require.Nil(t, stats.Lower)
	require.Nil(t, stats.Upper)
}

func TestDeleteAllOnMissingDocIsNoop(t *testing.T) {
	tbl := newTable(t)
	require.NoError(t, DeleteAll(tbl, 7))
}
