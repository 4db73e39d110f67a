// Package record implements the document-data table: an opaque blob per
// docid, plus a reserved meta entry tracking the highest docid ever
// allocated and the collection's total document length.
package record

import (
	"github.com/quartzdb/quartz/internal/codec"
	"github.com/quartzdb/quartz/internal/qerr"
	"github.com/quartzdb/quartz/table"
)

// metaKey is the reserved single-null-byte key holding (lastdocid, totlen).
// This relies on no real document ever having docid 0 (it is reserved), so
// no document key can collide with it; callers that allocate docids MUST
// preserve that invariant.
var metaKey = []byte{0}

func key(docid uint32) []byte {
	if docid == 0 {
		panic("record: docid 0 is reserved")
	}
	return codec.PutUint32Sort(nil, docid)
}

// Get fetches docid's data, failing with NotFound if absent.
func Get(t *table.Table, docid uint32) ([]byte, error) {
	data, ok, err := t.Get(key(docid))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, qerr.NotFoundf("record: doc %d not found", docid)
	}
	return data, nil
}

// Replace overwrites (or inserts) docid's data.
func Replace(t *table.Table, docid uint32, data []byte) error {
	return t.Put(key(docid), data)
}

// Delete removes docid's data, failing with NotFound if it was absent.
func Delete(t *table.Table, docid uint32) error {
	_, ok, err := t.Get(key(docid))
	if err != nil {
		return err
	}
	if !ok {
		return qerr.NotFoundf("record: doc %d not found", docid)
	}
	return t.Delete(key(docid))
}

// Meta is the collection-wide bookkeeping stored under the reserved meta
// key.
type Meta struct {
	LastDocID uint32
	TotalLen  uint64
}

// ReadMeta fetches the meta record. A table with no meta entry yet (a
// brand-new, empty database) yields a zero Meta rather than an error.
func ReadMeta(t *table.Table) (Meta, error) {
	tag, ok, err := t.Get(metaKey)
	if err != nil {
		return Meta{}, err
	}
	if !ok {
		return Meta{}, nil
	}
	last, n, res := codec.Uvarint32(tag)
	if res != codec.Ok {
		return Meta{}, codec.MustNotErr(res, "record: meta lastdocid")
	}
	total, _, res := codec.Uvarint(tag[n:])
	if res != codec.Ok {
		return Meta{}, codec.MustNotErr(res, "record: meta totlen")
	}
	return Meta{LastDocID: last, TotalLen: total}, nil
}

// WriteMeta overwrites the meta record.
func WriteMeta(t *table.Table, m Meta) error {
	buf := codec.PutUvarint(nil, uint64(m.LastDocID))
	buf = codec.PutUvarint(buf, m.TotalLen)
	return t.Put(metaKey, buf)
}
