// Package position implements the delta-encoded position list stored per
// (docid, term): the within-document offsets a term occurs at, used by
// phrase and proximity matching (out of scope here, but the iterator
// contract is shared with the other tables).
package position

import (
	"github.com/quartzdb/quartz/internal/codec"
	"github.com/quartzdb/quartz/table"
)

// key builds the position-list table key pack_uint_sort(docid) ++ term.
func key(docid uint32, term []byte) []byte {
	k := codec.PutUint32Sort(nil, docid)
	return append(k, term...)
}

func encode(positions []uint32) []byte {
	buf := codec.PutUvarint(nil, uint64(len(positions)))
	prev := uint32(0)
	for i, p := range positions {
		if i == 0 {
			buf = codec.PutUvarint(buf, uint64(p))
			prev = p
			continue
		}
		buf = codec.PutUvarint(buf, uint64(p-prev-1))
		prev = p
	}
	return buf
}

func decode(tag []byte) ([]uint32, error) {
	count, n, res := codec.Uvarint32(tag)
	if res != codec.Ok {
		return nil, codec.MustNotErr(res, "position: count")
	}
	rest := tag[n:]
	out := make([]uint32, 0, count)
	var prev uint32
	for i := uint32(0); i < count; i++ {
		v, n, res := codec.Uvarint32(rest)
		if res != codec.Ok {
			return nil, codec.MustNotErr(res, "position: delta")
		}
		rest = rest[n:]
		var p uint32
		if i == 0 {
			p = v
		} else {
			p = prev + v + 1
		}
		out = append(out, p)
		prev = p
	}
	return out, nil
}

// Read fetches the positions stored for (docid, term). A miss is not an
// error; it returns an empty list.
func Read(t *table.Table, docid uint32, term []byte) ([]uint32, error) {
	tag, ok, err := t.Get(key(docid, term))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return decode(tag)
}

// Set stores positions for (docid, term), replacing any prior list.
// Positions MUST already be in strictly ascending order.
func Set(t *table.Table, docid uint32, term []byte, positions []uint32) error {
	return t.Put(key(docid, term), encode(positions))
}

// Delete removes the position list for (docid, term), if any.
func Delete(t *table.Table, docid uint32, term []byte) error {
	return t.Delete(key(docid, term))
}

// Iterator walks a decoded position list in ascending order.
type Iterator struct {
	positions []uint32
	idx       int
}

// NewIterator reads (docid, term)'s positions and returns an iterator
// positioned on the smallest position, or already at end if the list is
// empty.
func NewIterator(t *table.Table, docid uint32, term []byte) (*Iterator, error) {
	positions, err := Read(t, docid, term)
	if err != nil {
		return nil, err
	}
	return &Iterator{positions: positions}, nil
}

// AtEnd reports whether the iterator has run past the last position.
func (it *Iterator) AtEnd() bool { return it.idx >= len(it.positions) }

// Current returns the position the iterator is on. Valid only when
// AtEnd() is false.
func (it *Iterator) Current() uint32 { return it.positions[it.idx] }

// Next advances by one position.
func (it *Iterator) Next() {
	if it.idx < len(it.positions) {
		it.idx++
	}
}

// SkipTo advances while the current position is less than target.
func (it *Iterator) SkipTo(target uint32) {
	for !it.AtEnd() && it.Current() < target {
		it.Next()
	}
}
