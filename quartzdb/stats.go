package quartzdb

import (
	"github.com/quartzdb/quartz/postlist"
	"github.com/quartzdb/quartz/termlist"
)

// DocCount is not tracked directly; the source derives it from the
// record table's key count rather than a separate counter, so it is
// approximated here the same way: entry count of the record table, minus
// one for the reserved meta key when present.
func (db *DB) DocCount() (uint64, error) {
	if err := db.checkFresh(); err != nil {
		return 0, err
	}
	count := db.table(recordTable).EntryCount()
	meta, err := db.Meta()
	if err != nil {
		return 0, err
	}
	if meta.LastDocID > 0 || meta.TotalLen > 0 {
		if count > 0 {
			count--
		}
	}
	return count, nil
}

// LastDocID returns the highest docid ever allocated, whether or not that
// document still exists.
func (db *DB) LastDocID() (uint32, error) {
	m, err := db.Meta()
	if err != nil {
		return 0, err
	}
	return m.LastDocID, nil
}

// TotalLength returns the sum of every live document's length.
func (db *DB) TotalLength() (uint64, error) {
	m, err := db.Meta()
	if err != nil {
		return 0, err
	}
	return m.TotalLen, nil
}

// AvLength returns the collection's average document length, or 0 for an
// empty collection.
func (db *DB) AvLength() (float64, error) {
	count, err := db.DocCount()
	if err != nil || count == 0 {
		return 0, err
	}
	total, err := db.TotalLength()
	if err != nil {
		return 0, err
	}
	return float64(total) / float64(count), nil
}

// DocLength returns docid's stored length.
func (db *DB) DocLength(docid uint32) (uint32, error) {
	if err := db.checkFresh(); err != nil {
		return 0, err
	}
	l, ok, err := termlist.Read(db.table("termlist"), docid)
	if err != nil || !ok {
		return 0, err
	}
	return l.DocLen, nil
}

// UniqueTerms returns the number of distinct terms docid contains.
func (db *DB) UniqueTerms(docid uint32) (uint32, error) {
	if err := db.checkFresh(); err != nil {
		return 0, err
	}
	l, ok, err := termlist.Read(db.table("termlist"), docid)
	if err != nil || !ok {
		return 0, err
	}
	return uint32(len(l.Entries)), nil
}

// TermFreq returns the number of documents containing term.
func (db *DB) TermFreq(term []byte) (uint32, error) {
	if err := db.checkFresh(); err != nil {
		return 0, err
	}
	pl, err := postlist.Open(db.table("postlist"), term)
	if err != nil {
		return 0, err
	}
	return pl.TermFreq(), nil
}

// CollectionFreq returns the total occurrences of term across the
// collection.
func (db *DB) CollectionFreq(term []byte) (uint32, error) {
	if err := db.checkFresh(); err != nil {
		return 0, err
	}
	pl, err := postlist.Open(db.table("postlist"), term)
	if err != nil {
		return 0, err
	}
	return pl.CollFreq(), nil
}

// HasPositions always reports true: this orchestrator always writes
// position-list entries alongside term-list entries when a document
// supplies any, unlike a backend configured to omit position data
// entirely.
func (db *DB) HasPositions() bool { return true }
