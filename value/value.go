// Package value implements the per-document value table: a sorted sequence
// of (slot, bytes) pairs attached to each docid, used for sorting, faceting,
// and range filtering, plus per-slot (freq, lower, upper) statistics
// maintained incrementally as values are added and removed.
package value

import (
	"bytes"
	"sort"

	"github.com/quartzdb/quartz/internal/codec"
	"github.com/quartzdb/quartz/table"
)

// Entry is one (slot, bytes) pair stored against a document.
type Entry struct {
	Slot  uint32
	Bytes []byte
}

func key(docid uint32) []byte {
	return codec.PutUint32Sort(nil, docid)
}

func statsKey(slot uint32) []byte {
	return append([]byte{0}, codec.PutUint32Sort(nil, slot)...)
}

// Stats is the per-slot aggregate maintained across every document's
// values.
type Stats struct {
	Freq  uint32
	Lower []byte
	Upper []byte
}

func encodeEntries(entries []Entry) []byte {
	var buf []byte
	buf = codec.PutUvarint(buf, uint64(len(entries)))
	for _, e := range entries {
		buf = codec.PutUvarint(buf, uint64(e.Slot))
		buf = codec.PutLenString(buf, e.Bytes)
	}
	return buf
}

func decodeEntries(tag []byte) ([]Entry, error) {
	count, n, res := codec.Uvarint32(tag)
	if res != codec.Ok {
		return nil, codec.MustNotErr(res, "value: count")
	}
	rest := tag[n:]
	out := make([]Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		slot, n, res := codec.Uvarint32(rest)
		if res != codec.Ok {
			return nil, codec.MustNotErr(res, "value: slot")
		}
		rest = rest[n:]
		b, n2, res := codec.DecodeLenString(rest)
		if res != codec.Ok {
			return nil, codec.MustNotErr(res, "value: bytes")
		}
		rest = rest[n2:]
		out = append(out, Entry{Slot: slot, Bytes: append([]byte(nil), b...)})
	}
	return out, nil
}

func encodeStats(s Stats) []byte {
	buf := codec.PutUvarint(nil, uint64(s.Freq))
	buf = codec.PutLenString(buf, s.Lower)
	return codec.PutLenString(buf, s.Upper)
}

func decodeStats(tag []byte) (Stats, error) {
	freq, n, res := codec.Uvarint32(tag)
	if res != codec.Ok {
		return Stats{}, codec.MustNotErr(res, "value: stats freq")
	}
	rest := tag[n:]
	lower, n2, res := codec.DecodeLenString(rest)
	if res != codec.Ok {
		return Stats{}, codec.MustNotErr(res, "value: stats lower")
	}
	rest = rest[n2:]
	upper, _, res := codec.DecodeLenString(rest)
	if res != codec.Ok {
		return Stats{}, codec.MustNotErr(res, "value: stats upper")
	}
	return Stats{Freq: freq, Lower: append([]byte(nil), lower...), Upper: append([]byte(nil), upper...)}, nil
}

func readStats(t *table.Table, slot uint32) (Stats, error) {
	tag, ok, err := t.Get(statsKey(slot))
	if err != nil {
		return Stats{}, err
	}
	if !ok {
		return Stats{}, nil
	}
	return decodeStats(tag)
}

func writeStats(t *table.Table, slot uint32, s Stats) error {
	if s.Freq == 0 {
		return t.Put(statsKey(slot), encodeStats(Stats{}))
	}
	return t.Put(statsKey(slot), encodeStats(s))
}

// GetAll returns every (slot, bytes) pair stored for docid, sorted by slot.
func GetAll(t *table.Table, docid uint32) ([]Entry, error) {
	tag, ok, err := t.Get(key(docid))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return decodeEntries(tag)
}

// Get returns the bytes for (docid, slot), or found=false if absent.
func Get(t *table.Table, docid, slot uint32) ([]byte, bool, error) {
	entries, err := GetAll(t, docid)
	if err != nil {
		return nil, false, err
	}
	for _, e := range entries {
		if e.Slot == slot {
			return e.Bytes, true, nil
		}
	}
	return nil, false, nil
}

// Add stores (slot, bytes) against docid, replacing any prior value in that
// slot, and updates the slot's running stats.
func Add(t *table.Table, docid, slot uint32, data []byte) error {
	entries, err := GetAll(t, docid)
	if err != nil {
		return err
	}
	var had bool
	for i, e := range entries {
		if e.Slot == slot {
			entries[i].Bytes = append([]byte(nil), data...)
			had = true
			break
		}
	}
	if !had {
		entries = append(entries, Entry{Slot: slot, Bytes: append([]byte(nil), data...)})
		sort.Slice(entries, func(i, j int) bool { return entries[i].Slot < entries[j].Slot })
	}
	if err := t.Put(key(docid), encodeEntries(entries)); err != nil {
		return err
	}

	stats, err := readStats(t, slot)
	if err != nil {
		return err
	}
	if !had {
		stats.Freq++
	}
	if stats.Freq == 1 && !had {
		stats.Lower, stats.Upper = append([]byte(nil), data...), append([]byte(nil), data...)
	} else {
		if bytes.Compare(data, stats.Lower) < 0 {
			stats.Lower = append([]byte(nil), data...)
		}
		if bytes.Compare(data, stats.Upper) > 0 {
			stats.Upper = append([]byte(nil), data...)
		}
	}
	return writeStats(t, slot, stats)
}

// DeleteAll removes every value stored for docid and decrements the
// corresponding slot stats. Bounds are not recomputed from the remaining
// collection on every delete (that would require a full slot scan); a
// slot's freq reaching zero clears its bounds to empty, matching the
// documented behaviour, but a surviving slot's bounds may now be looser
// than the true min/max; Add only ever widens them, so they stay loose
// until the slot's freq returns to zero.
func DeleteAll(t *table.Table, docid uint32) error {
	entries, err := GetAll(t, docid)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		stats, err := readStats(t, e.Slot)
		if err != nil {
			return err
		}
		if stats.Freq > 0 {
			stats.Freq--
		}
		if stats.Freq == 0 {
			stats.Lower, stats.Upper = nil, nil
		}
		if err := writeStats(t, e.Slot, stats); err != nil {
			return err
		}
	}
	return t.Delete(key(docid))
}

// SlotStats returns the current (freq, lower, upper) for slot.
func SlotStats(t *table.Table, slot uint32) (Stats, error) {
	return readStats(t, slot)
}
