// Package termlist implements the prefix-compressed per-document term list:
// which terms a document contains, each with its within-document frequency
// and (optionally) its collection-wide term frequency, plus the document's
// total length and term count.
package termlist

import (
	"bytes"

	"github.com/quartzdb/quartz/internal/codec"
	"github.com/quartzdb/quartz/internal/qerr"
	"github.com/quartzdb/quartz/table"
)

// Entry is one term within a document's term list.
type Entry struct {
	Term     []byte
	WDF      uint32
	TermFreq uint32 // only meaningful when the list stores termfreqs
}

func key(docid uint32) []byte {
	return codec.PutUint32Sort(nil, docid)
}

// SetEntries writes docid's full term list: doc length, term count, the
// store-termfreqs flag, then prefix-compressed entries. entries MUST
// already be sorted by Term; out-of-order input is a programming error and
// returns a Corrupt error rather than writing a malformed list.
//
// The on-disk format reserves a bit for storing per-term termfreqs inline,
// but no live write path here ever sets it: storeTermFreqs must be false,
// and passing true is rejected until that format extension is actually
// wired to a reader.
//
// Entries are written as (reuse-len, suffix-len, suffix, wdf) rather than
// packing a small wdf into the reuse-len byte: the packed form only saves a
// byte in the common case and this keeps encode/decode unambiguous without
// a reuse-length upper bound check on every entry.
func SetEntries(t *table.Table, docid uint32, entries []Entry, doclen uint32, storeTermFreqs bool) error {
	if storeTermFreqs {
		return qerr.Unimplementedf("termlist: store_termfreqs not supported")
	}
	buf := codec.PutUvarint(nil, uint64(doclen))
	buf = codec.PutUvarint(buf, uint64(len(entries)))
	buf = codec.PutBool(buf, storeTermFreqs)

	var prev []byte
	for i, e := range entries {
		if i > 0 && bytes.Compare(prev, e.Term) >= 0 {
			return qerr.Corruptf("termlist: entries for doc %d not sorted at %q", docid, e.Term)
		}
		reuse := commonPrefixLen(prev, e.Term)
		suffix := e.Term[reuse:]

		buf = codec.PutUvarint(buf, uint64(reuse))
		buf = codec.PutUvarint(buf, uint64(len(suffix)))
		buf = append(buf, suffix...)
		buf = codec.PutUvarint(buf, uint64(e.WDF))
		prev = e.Term
	}
	return t.Put(key(docid), buf)
}

func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// List is the decoded term list for one document.
type List struct {
	DocLen         uint32
	StoreTermFreqs bool
	Entries        []Entry
}

// Delete removes docid's term list entirely.
func Delete(t *table.Table, docid uint32) error {
	return t.Delete(key(docid))
}

// Read fetches and decodes docid's term list. A missing document yields a
// nil List and found=false.
func Read(t *table.Table, docid uint32) (*List, bool, error) {
	tag, ok, err := t.Get(key(docid))
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	l, err := decode(tag)
	if err != nil {
		return nil, false, err
	}
	return l, true, nil
}

func decode(tag []byte) (*List, error) {
	doclen, n, res := codec.Uvarint32(tag)
	if res != codec.Ok {
		return nil, codec.MustNotErr(res, "termlist: doclen")
	}
	rest := tag[n:]
	count, n2, res := codec.Uvarint32(rest)
	if res != codec.Ok {
		return nil, codec.MustNotErr(res, "termlist: count")
	}
	rest = rest[n2:]
	storeTF, n3, res := codec.DecodeBool(rest)
	if res != codec.Ok {
		return nil, codec.MustNotErr(res, "termlist: store_termfreqs flag")
	}
	rest = rest[n3:]

	l := &List{DocLen: doclen, StoreTermFreqs: storeTF}
	var prev []byte
	for i := uint32(0); i < count; i++ {
		reuse, n, res := codec.Uvarint32(rest)
		if res != codec.Ok {
			return nil, codec.MustNotErr(res, "termlist: reuse length")
		}
		rest = rest[n:]

		suffixLen, n2, res := codec.Uvarint32(rest)
		if res != codec.Ok {
			return nil, codec.MustNotErr(res, "termlist: suffix length")
		}
		rest = rest[n2:]
		if int(suffixLen) > len(rest) {
			return nil, qerr.Corruptf("termlist: suffix overruns tag")
		}
		suffix := rest[:suffixLen]
		rest = rest[suffixLen:]

		wdf, n3, res := codec.Uvarint32(rest)
		if res != codec.Ok {
			return nil, codec.MustNotErr(res, "termlist: wdf")
		}
		rest = rest[n3:]

		if int(reuse) > len(prev) {
			return nil, qerr.Corruptf("termlist: reuse length exceeds previous term")
		}
		term := append(append([]byte(nil), prev[:int(reuse)]...), suffix...)
		l.Entries = append(l.Entries, Entry{Term: term, WDF: wdf})
		prev = term
	}
	return l, nil
}

// Iterator walks a term list in sorted order.
type Iterator struct {
	list *List
	idx  int
}

// NewIterator returns an iterator over docid's term list, positioned on the
// first (lexicographically smallest) term.
func NewIterator(t *table.Table, docid uint32) (*Iterator, error) {
	l, ok, err := Read(t, docid)
	if err != nil {
		return nil, err
	}
	if !ok {
		l = &List{}
	}
	return &Iterator{list: l}, nil
}

// AtEnd reports whether iteration has run past the last term.
func (it *Iterator) AtEnd() bool { return it.idx >= len(it.list.Entries) }

// Current returns the entry the iterator is positioned on.
func (it *Iterator) Current() Entry { return it.list.Entries[it.idx] }

// Next advances to the next term.
func (it *Iterator) Next() { it.idx++ }

// SkipTo advances until the current term is >= target.
func (it *Iterator) SkipTo(target []byte) {
	for !it.AtEnd() && bytes.Compare(it.Current().Term, target) < 0 {
		it.Next()
	}
}
