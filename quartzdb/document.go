package quartzdb

import (
	"bytes"
	"sort"

	"github.com/quartzdb/quartz/internal/qerr"
	"github.com/quartzdb/quartz/position"
	"github.com/quartzdb/quartz/postlist"
	"github.com/quartzdb/quartz/record"
	"github.com/quartzdb/quartz/termlist"
	"github.com/quartzdb/quartz/value"
)

// TermOccurrence is one term within a document being added or replaced,
// with its within-document frequency and (optionally) the positions it
// occurs at.
type TermOccurrence struct {
	Term      []byte
	WDF       uint32
	Positions []uint32
}

// Document is the payload for AddDocument / ReplaceDocument: opaque data,
// the terms occurring in it, and any slot values to attach.
type Document struct {
	Data   []byte
	Terms  []TermOccurrence
	Values []value.Entry
}

// pendingPostings accumulates cross-document posting-list changes for one
// term until Commit flushes them through postlist.MergeChanges, so that
// several documents touching the same term in one transaction produce one
// chunk-splicing pass instead of one per document.
func (db *DB) pendingFor(term []byte) *postlist.TermChanges {
	if db.pendingPostings == nil {
		db.pendingPostings = map[string]*postlist.TermChanges{}
	}
	key := string(term)
	tc, ok := db.pendingPostings[key]
	if !ok {
		tc = &postlist.TermChanges{Term: append([]byte(nil), term...)}
		db.pendingPostings[key] = tc
	}
	return tc
}

func (db *DB) stagePosting(term []byte, docid uint32, wdf, doclen uint32, mark postlist.Mark, termFreqDelta, collFreqDelta int32) {
	tc := db.pendingFor(term)
	tc.Changes = append(tc.Changes, postlist.Change{DocID: docid, WDF: wdf, DocLen: doclen, Mark: mark})
	tc.TermFreqDiff += termFreqDelta
	tc.CollFreqDiff += collFreqDelta
}

// AddDocument allocates a new docid, stores data/terms/values for it, and
// stages posting-list changes for Commit. It returns the new docid.
func (db *DB) AddDocument(doc Document) (uint32, error) {
	if !db.writable {
		return 0, qerr.Unimplementedf("quartzdb: database not writable")
	}
	if err := db.checkFresh(); err != nil {
		return 0, err
	}

	meta, err := record.ReadMeta(db.table(recordTable))
	if err != nil {
		return 0, err
	}
	docid := meta.LastDocID + 1

	doclen, err := db.writeDocumentBody(docid, doc)
	if err != nil {
		return 0, err
	}

	for _, to := range doc.Terms {
		db.stagePosting(to.Term, docid, to.WDF, doclen, postlist.MarkAdd, 1, int32(to.WDF))
	}

	meta.LastDocID = docid
	meta.TotalLen += uint64(doclen)
	if err := record.WriteMeta(db.table(recordTable), meta); err != nil {
		return 0, err
	}

	db.notePendingOp()
	return docid, db.maybeAutoFlush()
}

// ReplaceDocument overwrites an existing document's data/terms/values,
// staging the posting-list deltas between its old and new term sets.
func (db *DB) ReplaceDocument(docid uint32, doc Document) error {
	if !db.writable {
		return qerr.Unimplementedf("quartzdb: database not writable")
	}
	if err := db.checkFresh(); err != nil {
		return err
	}

	oldLen, err := db.retireDocument(docid)
	if err != nil {
		return err
	}

	newLen, err := db.writeDocumentBody(docid, doc)
	if err != nil {
		return err
	}
	for _, to := range doc.Terms {
		db.stagePosting(to.Term, docid, to.WDF, newLen, postlist.MarkAdd, 1, int32(to.WDF))
	}

	meta, err := record.ReadMeta(db.table(recordTable))
	if err != nil {
		return err
	}
	if docid > meta.LastDocID {
		meta.LastDocID = docid
	}
	meta.TotalLen = meta.TotalLen - uint64(oldLen) + uint64(newLen)
	if err := record.WriteMeta(db.table(recordTable), meta); err != nil {
		return err
	}

	db.notePendingOp()
	return db.maybeAutoFlush()
}

// DeleteDocument removes docid's data, term list, positions, and values,
// staging the posting-list deltas that remove it from every term it
// contained.
func (db *DB) DeleteDocument(docid uint32) error {
	if !db.writable {
		return qerr.Unimplementedf("quartzdb: database not writable")
	}
	if err := db.checkFresh(); err != nil {
		return err
	}

	oldLen, err := db.retireDocument(docid)
	if err != nil {
		return err
	}
	if err := record.Delete(db.table(recordTable), docid); err != nil {
		return err
	}

	meta, err := record.ReadMeta(db.table(recordTable))
	if err != nil {
		return err
	}
	if meta.TotalLen >= uint64(oldLen) {
		meta.TotalLen -= uint64(oldLen)
	}
	if err := record.WriteMeta(db.table(recordTable), meta); err != nil {
		return err
	}

	db.notePendingOp()
	return db.maybeAutoFlush()
}

// retireDocument removes docid's term list, positions, and values, and
// stages the corresponding posting-list delete/decrement for every term it
// used to contain. It returns the document's old length (0 if it did not
// exist, which is not itself an error for ReplaceDocument's first-write
// case).
func (db *DB) retireDocument(docid uint32) (uint32, error) {
	list, ok, err := termlist.Read(db.table("termlist"), docid)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	for _, e := range list.Entries {
		db.stagePosting(e.Term, docid, 0, 0, postlist.MarkDelete, -1, -int32(e.WDF))
		if err := position.Delete(db.table("position"), docid, e.Term); err != nil {
			return 0, err
		}
	}
	if err := termlist.Delete(db.table("termlist"), docid); err != nil {
		return 0, err
	}
	if err := value.DeleteAll(db.table("value"), docid); err != nil {
		return 0, err
	}
	return list.DocLen, nil
}

// writeDocumentBody stores a document's record data and term list, sorting
// Terms by term name (SetEntries requires sorted input), and returns the
// computed document length (sum of wdf).
func (db *DB) writeDocumentBody(docid uint32, doc Document) (uint32, error) {
	if err := record.Replace(db.table(recordTable), docid, doc.Data); err != nil {
		return 0, err
	}

	terms := append([]TermOccurrence(nil), doc.Terms...)
	sort.Slice(terms, func(i, j int) bool { return bytes.Compare(terms[i].Term, terms[j].Term) < 0 })

	var doclen uint32
	entries := make([]termlist.Entry, 0, len(terms))
	for _, to := range terms {
		doclen += to.WDF
		entries = append(entries, termlist.Entry{Term: to.Term, WDF: to.WDF})
		if len(to.Positions) > 0 {
			if err := position.Set(db.table("position"), docid, to.Term, to.Positions); err != nil {
				return 0, err
			}
		}
	}
	if err := termlist.SetEntries(db.table("termlist"), docid, entries, doclen, false); err != nil {
		return 0, err
	}
	for _, v := range doc.Values {
		if err := value.Add(db.table("value"), docid, v.Slot, v.Bytes); err != nil {
			return 0, err
		}
	}
	return doclen, nil
}

// notePendingOp increments the buffered-operation count driving auto-flush.
func (db *DB) notePendingOp() {
	db.pending++
	if db.opts.Metrics != nil {
		db.opts.Metrics.PendingOps.Set(float64(db.pending))
	}
}

// maybeAutoFlush commits if the pending operation count has reached the
// configured flush threshold, unless auto-flush is suppressed (e.g. inside
// an explicit transaction, which this package does not yet expose).
func (db *DB) maybeAutoFlush() error {
	if db.suppressAutoFlush {
		return nil
	}
	if db.pending >= db.opts.FlushThreshold {
		return db.Commit()
	}
	return nil
}
