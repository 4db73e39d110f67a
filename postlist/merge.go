package postlist

import (
	"bytes"
	"sort"

	"github.com/quartzdb/quartz/internal/codec"
	"github.com/quartzdb/quartz/internal/qerr"
	"github.com/quartzdb/quartz/table"
)

// Mark is the single-character modification kind the indexer stages for one
// docid within a term's postings before MergeChanges flushes them.
type Mark byte

const (
	MarkAdd    Mark = 'A'
	MarkModify Mark = 'M'
	MarkDelete Mark = 'D'
)

// Change is one staged per-docid posting modification.
type Change struct {
	DocID  uint32
	WDF    uint32 // ignored when Mark == MarkDelete
	DocLen uint32 // ignored when Mark == MarkDelete
	Mark   Mark
}

// TermChanges bundles every staged change for one term, plus the net
// termfreq/collfreq deltas those changes produce.
type TermChanges struct {
	Term         []byte
	Changes      []Change // MUST be sorted by DocID; duplicates are a caller bug
	TermFreqDiff int32
	CollFreqDiff int32
}

// MergeChanges applies one term's staged posting changes to the table: it
// rewrites the first chunk's header, then splices each change into the
// chunk owning its docid, sealing, splitting, deleting, and promoting
// chunks as needed to keep the chunk chain well-formed.
func MergeChanges(t *table.Table, tc *TermChanges) error {
	// Stable: a replace stages a delete for the old occurrence before the
	// add for the new one, both for the same docid: losing that order
	// would apply them as add-then-delete and drop the term entirely.
	sort.SliceStable(tc.Changes, func(i, j int) bool { return tc.Changes[i].DocID < tc.Changes[j].DocID })

	firstKey := termPrefix(tc.Term)
	tag, ok, err := t.Get(firstKey)
	if err != nil {
		return err
	}

	var first *chunk
	if ok {
		first, err = decodeChunk(tag, true, 0)
		if err != nil {
			return err
		}
	} else {
		first = &chunk{isFirst: true, isLast: true}
	}

	newTermFreq := int64(first.termFreq) + int64(tc.TermFreqDiff)
	newCollFreq := int64(first.collFreq) + int64(tc.CollFreqDiff)
	if newTermFreq < 0 || newCollFreq < 0 {
		return qerr.Corruptf("postlist: merge %q: negative freq after delta", tc.Term)
	}
	first.termFreq = uint32(newTermFreq)
	first.collFreq = uint32(newCollFreq)

	if first.termFreq == 0 {
		return deleteAllChunks(t, tc.Term)
	}

	if !ok {
		first.firstDocID = tc.Changes[0].DocID
	}
	if err := t.Put(firstKey, encodeChunk(first)); err != nil {
		return err
	}

	for _, ch := range tc.Changes {
		if err := spliceOne(t, tc.Term, ch); err != nil {
			return err
		}
	}
	return nil
}

// deleteAllChunks removes every chunk belonging to term.
func deleteAllChunks(t *table.Table, term []byte) error {
	prefix := termPrefix(term)
	cur := t.NewCursor()
	found, err := cur.Find(prefix)
	if err != nil {
		return err
	}
	if !found {
		// Find lands on the predecessor of prefix (which may sort before
		// every chunk of this term, or even before the table has any
		// entry for it at all); step forward once to reach the first key
		// that could carry the prefix.
		more, err := cur.Next()
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	var keys [][]byte
	for {
		key := cur.CurrentKey()
		if !bytes.HasPrefix(key, prefix) {
			break
		}
		if bytes.Equal(key, prefix) || len(key) > len(prefix) {
			keys = append(keys, append([]byte(nil), key...))
		}
		more, err := cur.Next()
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	for _, k := range keys {
		if err := t.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// loadChunkOwning returns the decoded chunk whose key is the greatest chunk
// key of term that is <= the chunk key for docid, along with that key and
// whether it is the first chunk.
func loadChunkOwning(t *table.Table, term []byte, docid uint32) (*chunk, []byte, bool, error) {
	prefix := termPrefix(term)
	want := ChunkKey(term, docid, false)
	cur := t.NewCursor()
	if _, err := cur.Find(want); err != nil {
		return nil, nil, false, err
	}
	key := cur.CurrentKey()
	if !bytes.HasPrefix(key, prefix) {
		return nil, nil, false, qerr.Corruptf("postlist: no chunk owns docid for term %q", term)
	}
	isFirst := bytes.Equal(key, prefix)
	tag, err := cur.ReadTag()
	if err != nil {
		return nil, nil, false, err
	}
	var keyFirst uint32
	if !isFirst {
		v, _, res := codec.DecodeUint32Sort(key[len(prefix):])
		if res != codec.Ok {
			return nil, nil, false, qerr.Corruptf("postlist: bad chunk key for term %q", term)
		}
		keyFirst = v
	}
	c, err := decodeChunk(tag, isFirst, keyFirst)
	if err != nil {
		return nil, nil, false, err
	}
	return c, append([]byte(nil), key...), isFirst, nil
}

// loadNextChunk returns the chunk immediately following the one keyed key,
// found by stepping the cursor forward from key rather than predecessor-
// seeking from a synthetic lastDocID+1 probe: postings are sparse, so a
// later chunk's first_docid is rarely exactly lastDocID+1, and Find on that
// probe would land back on key's own (about-to-be-deleted) chunk instead of
// advancing. Chunk keys for one term are contiguous in key order, so the
// literal next table key is always this term's next chunk when one exists.
func loadNextChunk(t *table.Table, term []byte, key []byte) (*chunk, []byte, error) {
	prefix := termPrefix(term)
	cur := t.NewCursor()
	found, err := cur.Find(key)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, qerr.Corruptf("postlist: chunk key missing for term %q", term)
	}
	more, err := cur.Next()
	if err != nil {
		return nil, nil, err
	}
	if !more {
		return nil, nil, qerr.Corruptf("postlist: no next chunk for term %q", term)
	}
	nextKey := cur.CurrentKey()
	if !bytes.HasPrefix(nextKey, prefix) {
		return nil, nil, qerr.Corruptf("postlist: no next chunk for term %q", term)
	}
	tag, err := cur.ReadTag()
	if err != nil {
		return nil, nil, err
	}
	isFirst := bytes.Equal(nextKey, prefix)
	var keyFirst uint32
	if !isFirst {
		v, _, res := codec.DecodeUint32Sort(nextKey[len(prefix):])
		if res != codec.Ok {
			return nil, nil, qerr.Corruptf("postlist: bad chunk key for term %q", term)
		}
		keyFirst = v
	}
	c, err := decodeChunk(tag, isFirst, keyFirst)
	if err != nil {
		return nil, nil, err
	}
	return c, append([]byte(nil), nextKey...), nil
}

// spliceOne applies a single docid-level change to the chunk that owns (or
// would own) that docid, handling splitting on overflow and chunk deletion
// with first-chunk promotion / predecessor is_last fixups.
func spliceOne(t *table.Table, term []byte, ch Change) error {
	c, key, isFirst, err := loadChunkOwning(t, term, ch.DocID)
	if err != nil {
		return err
	}

	idx := -1
	for i, e := range c.entries {
		if e.DocID == ch.DocID {
			idx = i
			break
		}
	}

	switch ch.Mark {
	case MarkDelete:
		if idx < 0 {
			return qerr.Corruptf("postlist: delete of docid %d not present in term %q", ch.DocID, term)
		}
		c.entries = append(c.entries[:idx], c.entries[idx+1:]...)
	case MarkAdd, MarkModify:
		e := Entry{DocID: ch.DocID, WDF: ch.WDF, DocLen: ch.DocLen}
		if idx >= 0 {
			c.entries[idx] = e
		} else {
			pos := sort.Search(len(c.entries), func(i int) bool { return c.entries[i].DocID >= ch.DocID })
			c.entries = append(c.entries, Entry{})
			copy(c.entries[pos+1:], c.entries[pos:])
			c.entries[pos] = e
		}
	}

	if len(c.entries) == 0 {
		return handleEmptyChunk(t, term, key, c, isFirst)
	}

	c.firstDocID = c.entries[0].DocID
	c.lastDocID = c.entries[len(c.entries)-1].DocID
	encoded := encodeChunk(c)
	if len(encoded) > ChunkThreshold && len(c.entries) > 1 {
		return splitChunk(t, term, key, c, isFirst)
	}
	if !isFirst && !bytes.Equal(key, ChunkKey(term, c.firstDocID, false)) {
		// firstDocID moved (front entry deleted/inserted): rekey.
		if err := t.Delete(key); err != nil {
			return err
		}
		return t.Put(ChunkKey(term, c.firstDocID, false), encoded)
	}
	return t.Put(key, encoded)
}

// splitChunk divides an oversized chunk at its midpoint, writing a new
// trailing chunk and shrinking the original (or the first chunk, by
// rekeying its overflow into a fresh non-first chunk) to keep the running
// total of live blocks per term bounded.
func splitChunk(t *table.Table, term []byte, key []byte, c *chunk, isFirst bool) error {
	mid := len(c.entries) / 2
	tail := append([]Entry(nil), c.entries[mid:]...)
	head := c.entries[:mid]

	tailChunk := &chunk{
		firstDocID: tail[0].DocID,
		lastDocID:  tail[len(tail)-1].DocID,
		isLast:     c.isLast,
		entries:    tail,
	}
	c.entries = head
	c.isLast = false
	c.lastDocID = head[len(head)-1].DocID
	if isFirst {
		c.firstDocID = head[0].DocID
	}

	if err := t.Put(ChunkKey(term, tailChunk.firstDocID, false), encodeChunk(tailChunk)); err != nil {
		return err
	}
	if isFirst {
		return t.Put(key, encodeChunk(c))
	}
	if !bytes.Equal(key, ChunkKey(term, c.firstDocID, false)) {
		if err := t.Delete(key); err != nil {
			return err
		}
		return t.Put(ChunkKey(term, c.firstDocID, false), encodeChunk(c))
	}
	return t.Put(key, encodeChunk(c))
}

// handleEmptyChunk deletes a chunk that lost its last entry, promoting the
// following chunk into first-chunk form if the deleted chunk was first, or
// setting is_last on the preceding chunk if it was last.
func handleEmptyChunk(t *table.Table, term []byte, key []byte, c *chunk, isFirst bool) error {
	if isFirst {
		if c.isLast {
			// The only chunk for this term lost its last live entry, but
			// MergeChanges already returned early via deleteAllChunks when
			// the batch's net termfreq lands at zero, so reaching here means
			// some later change in this same batch still repopulates the
			// term: keep the header (termfreq/collfreq/first_docid) in
			// place with an empty entry list rather than deleting the key,
			// so the next add in the batch still finds a chunk to splice
			// into instead of failing to find an owner for its docid.
			c.entries = nil
			return t.Put(key, encodeChunk(c))
		}
		// Promote the next chunk to first-chunk form, carrying over the
		// termfreq/collfreq header already rewritten on the current key.
		next, nextKey, err := loadNextChunk(t, term, key)
		if err != nil {
			return err
		}
		next.isFirst = true
		next.termFreq = c.termFreq
		next.collFreq = c.collFreq
		if err := t.Delete(nextKey); err != nil {
			return err
		}
		if err := t.Delete(key); err != nil {
			return err
		}
		return t.Put(termPrefix(term), encodeChunk(next))
	}

	if err := t.Delete(key); err != nil {
		return err
	}
	if c.isLast {
		// Set is_last on the predecessor chunk (the chunk whose
		// first_docid is the greatest one < this chunk's firstDocID).
		prev, prevKey, prevIsFirst, err := loadChunkOwning(t, term, c.firstDocID-1)
		if err != nil {
			return err
		}
		prev.isLast = true
		prev.lastDocID = c.lastDocID
		return t.Put(prevKeyOrFirst(term, prevKey, prevIsFirst), encodeChunk(prev))
	}
	return nil
}

func prevKeyOrFirst(term, prevKey []byte, prevIsFirst bool) []byte {
	if prevIsFirst {
		return termPrefix(term)
	}
	return prevKey
}
