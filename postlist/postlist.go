// Package postlist implements the chunked, multi-version inverted list: one
// table entry per contiguous run of docids for a term, linked in ascending
// first-docid order under keys sharing the term as a prefix.
package postlist

import (
	"bytes"

	"github.com/quartzdb/quartz/internal/codec"
	"github.com/quartzdb/quartz/internal/qerr"
	"github.com/quartzdb/quartz/table"
)

// ChunkThreshold is the target serialized size, in bytes, a chunk is grown
// to before merge_changes seals it and starts a new one.
const ChunkThreshold = 2048

// Entry is one (docid, wdf, doclen) triple within a chunk.
type Entry struct {
	DocID  uint32
	WDF    uint32
	DocLen uint32
}

// chunk is the decoded form of one posting-list table entry.
type chunk struct {
	isFirst    bool
	termFreq   uint32 // valid only when isFirst
	collFreq   uint32 // valid only when isFirst
	firstDocID uint32
	isLast     bool
	lastDocID  uint32
	entries    []Entry
}

// ChunkKey returns the table key for the chunk of term starting at
// firstDocID. The first chunk of a term is keyed bare, without a docid
// suffix.
func ChunkKey(term []byte, firstDocID uint32, isFirst bool) []byte {
	key := codec.PutStringSort(nil, term)
	if isFirst {
		return key
	}
	return codec.PutUint32Sort(key, firstDocID)
}

// termPrefix returns the byte prefix shared by every chunk key of term,
// used to bound a prefix scan.
func termPrefix(term []byte) []byte {
	return codec.PutStringSort(nil, term)
}

func encodeChunk(c *chunk) []byte {
	var buf []byte
	if c.isFirst {
		buf = codec.PutUvarint(buf, uint64(c.termFreq))
		buf = codec.PutUvarint(buf, uint64(c.collFreq))
		buf = codec.PutUvarint(buf, uint64(c.firstDocID))
	}
	buf = codec.PutBool(buf, c.isLast)
	// increase_to_last is last-first-1, preserved including its
	// single-entry-chunk wraparound per the on-disk format this mirrors.
	buf = codec.PutUvarint(buf, uint64(c.lastDocID-c.firstDocID-1))
	prev := c.firstDocID
	for i, e := range c.entries {
		gap := e.DocID - prev
		if i == 0 {
			gap = 0 // first entry's docid is c.firstDocID itself
		}
		var inc uint32
		if gap > 0 {
			inc = gap - 1
		}
		buf = codec.PutUvarint(buf, uint64(inc))
		buf = codec.PutUvarint(buf, uint64(e.WDF))
		buf = codec.PutUvarint(buf, uint64(e.DocLen))
		prev = e.DocID
	}
	return buf
}

func decodeChunk(data []byte, isFirst bool, keyFirstDocID uint32) (*chunk, error) {
	c := &chunk{isFirst: isFirst}
	rest := data
	if isFirst {
		tf, n, res := codec.Uvarint32(rest)
		if res != codec.Ok {
			return nil, qerr.Corruptf("postlist: decode termfreq: %v", res)
		}
		rest = rest[n:]
		cf, n2, res := codec.Uvarint32(rest)
		if res != codec.Ok {
			return nil, qerr.Corruptf("postlist: decode collfreq: %v", res)
		}
		rest = rest[n2:]
		fd, n3, res := codec.Uvarint32(rest)
		if res != codec.Ok {
			return nil, qerr.Corruptf("postlist: decode first_docid: %v", res)
		}
		rest = rest[n3:]
		c.termFreq, c.collFreq, c.firstDocID = tf, cf, fd
	} else {
		c.firstDocID = keyFirstDocID
	}
	isLast, n, res := codec.DecodeBool(rest)
	if res != codec.Ok {
		return nil, qerr.Corruptf("postlist: decode is_last: %v", res)
	}
	rest = rest[n:]
	incLast, n2, res := codec.Uvarint32(rest)
	if res != codec.Ok {
		return nil, qerr.Corruptf("postlist: decode increase_to_last: %v", res)
	}
	rest = rest[n2:]
	c.isLast = isLast
	c.lastDocID = c.firstDocID + incLast + 1

	prev := c.firstDocID
	first := true
	for len(rest) > 0 {
		inc, n, res := codec.Uvarint32(rest)
		if res != codec.Ok {
			return nil, qerr.Corruptf("postlist: decode docid-increment: %v", res)
		}
		rest = rest[n:]
		wdf, n2, res := codec.Uvarint32(rest)
		if res != codec.Ok {
			return nil, qerr.Corruptf("postlist: decode wdf: %v", res)
		}
		rest = rest[n2:]
		dl, n3, res := codec.Uvarint32(rest)
		if res != codec.Ok {
			return nil, qerr.Corruptf("postlist: decode doclen: %v", res)
		}
		rest = rest[n3:]

		var did uint32
		if first {
			did = c.firstDocID
			first = false
		} else {
			did = prev + inc + 1
		}
		c.entries = append(c.entries, Entry{DocID: did, WDF: wdf, DocLen: dl})
		prev = did
	}
	return c, nil
}

// PostingList is a read-only iterator over one term's postings in ascending
// docid order. It keeps the table cursor it last positioned so sequential
// advance can step to the literal next key instead of re-seeking.
type PostingList struct {
	t    *table.Table
	term []byte

	cursor *table.Cursor // positioned on cur's key; nil once end is reached
	cur    *chunk
	idx    int
	end    bool

	termFreq uint32
	collFreq uint32
}

// Open positions a new iterator on the first posting of term. If term
// has no postings, the iterator reports TermFreq()==0 and is immediately at
// end.
func Open(t *table.Table, term []byte) (*PostingList, error) {
	pl := &PostingList{t: t, term: append([]byte(nil), term...)}
	cur := t.NewCursor()
	found, err := cur.Find(termPrefix(term))
	if err != nil {
		return nil, err
	}
	if !found {
		pl.end = true
		return pl, nil
	}
	tag, err := cur.ReadTag()
	if err != nil {
		return nil, err
	}
	c, err := decodeChunk(tag, true, 0)
	if err != nil {
		return nil, err
	}
	pl.termFreq, pl.collFreq = c.termFreq, c.collFreq
	pl.cur = c
	pl.idx = 0
	pl.cursor = cur
	if len(c.entries) == 0 {
		pl.end = true
	}
	return pl, nil
}

// TermFreq reports the number of documents containing the term.
func (p *PostingList) TermFreq() uint32 { return p.termFreq }

// CollFreq reports the total occurrences of the term across the collection.
func (p *PostingList) CollFreq() uint32 { return p.collFreq }

// AtEnd reports whether iteration has run past the last posting.
func (p *PostingList) AtEnd() bool { return p.end }

// DocID, WDF, and DocLen report the current posting's fields. Valid only
// when AtEnd() is false.
func (p *PostingList) DocID() uint32  { return p.cur.entries[p.idx].DocID }
func (p *PostingList) WDF() uint32    { return p.cur.entries[p.idx].WDF }
func (p *PostingList) DocLen() uint32 { return p.cur.entries[p.idx].DocLen }

// Next advances to the next posting.
func (p *PostingList) Next() error {
	if p.end {
		return nil
	}
	p.idx++
	if p.idx < len(p.cur.entries) {
		return nil
	}
	return p.advanceChunk()
}

// advanceChunk loads the chunk immediately following the current one, or
// sets end if the current chunk was the last. Chunk keys for a single term
// are contiguous in key order (no other term's key can sort between two of
// them, since termPrefix is a NUL-escaped, self-delimiting encoding), so the
// literal next table key is always this term's next chunk when one exists;
// stepping the cursor forward, rather than re-seeking at lastDocID+1, is
// required because postings are sparse and the next chunk's first_docid is
// usually > lastDocID+1, which would make a Find land back on the
// (exact-or-predecessor) current chunk instead of advancing.
func (p *PostingList) advanceChunk() error {
	if p.cur.isLast {
		p.end = true
		p.cursor = nil
		return nil
	}
	more, err := p.cursor.Next()
	if err != nil {
		return err
	}
	if !more {
		p.end = true
		p.cursor = nil
		return nil
	}
	return p.loadChunkAtCursor()
}

// loadChunkAt finds and decodes the chunk whose key is the greatest chunk
// key <= pack_sort(term)+pack_uint_sort(docid): the chunk whose first_docid
// <= docid. Used by SkipTo, where an arbitrary target legitimately requires
// predecessor-seek semantics (unlike sequential advance, see advanceChunk).
func (p *PostingList) loadChunkAt(docid uint32) error {
	key := ChunkKey(p.term, docid, false)
	cur := p.t.NewCursor()
	if _, err := cur.Find(key); err != nil {
		return err
	}
	p.cursor = cur
	return p.loadChunkAtCursor()
}

// loadChunkAtCursor decodes the chunk at p.cursor's current position,
// leaving p.cursor positioned there for a subsequent advanceChunk. p.cursor
// may be Unpositioned (empty table, or key smaller than every key present),
// in which case CurrentKey returns nil and this correctly reports end.
func (p *PostingList) loadChunkAtCursor() error {
	curKey := p.cursor.CurrentKey()
	prefix := termPrefix(p.term)
	if !bytes.HasPrefix(curKey, prefix) {
		p.end = true
		p.cursor = nil
		return nil
	}
	tag, err := p.cursor.ReadTag()
	if err != nil {
		return err
	}
	isFirst := bytes.Equal(curKey, prefix)
	var keyFirst uint32
	if !isFirst {
		keyFirst, _, _ = codec.DecodeUint32Sort(curKey[len(prefix):])
	}
	c, err := decodeChunk(tag, isFirst, keyFirst)
	if err != nil {
		return err
	}
	p.cur = c
	p.idx = 0
	if len(c.entries) == 0 {
		p.end = true
	}
	return nil
}

// SkipTo advances to the smallest docid >= target, or to end.
func (p *PostingList) SkipTo(target uint32) error {
	if p.end {
		return nil
	}
	if p.cur != nil && target <= p.cur.lastDocID {
		for !p.end && p.DocID() < target {
			if err := p.Next(); err != nil {
				return err
			}
		}
		return nil
	}
	if err := p.loadChunkAt(target); err != nil {
		return err
	}
	for !p.end && p.DocID() < target {
		if err := p.Next(); err != nil {
			return err
		}
	}
	return nil
}
