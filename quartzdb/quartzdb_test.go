package quartzdb

import (
	"fmt"
	"strings"
	"testing"

	"github.com/kr/pretty"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/stretchr/testify/require"
)

func openFresh(t *testing.T) *DB {
	t.Helper()
	db, err := Create(t.TempDir(), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAddDocumentCommitAndStats(t *testing.T) {
	db := openFresh(t)

	docid, err := db.AddDocument(Document{
		Data: []byte("hello world"),
		Terms: []TermOccurrence{
			{Term: []byte("hello"), WDF: 1, Positions: []uint32{0}},
			{Term: []byte("world"), WDF: 1, Positions: []uint32{1}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, uint32(1), docid)
	require.NoError(t, db.Commit())

	count, err := db.DocCount()
	require.NoError(t, err)
	require.Equal(t, uint64(1), count)

	dl, err := db.DocLength(1)
	require.NoError(t, err)
	require.Equal(t, uint32(2), dl)

	tf, err := db.TermFreq([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, uint32(1), tf)

	total, err := db.TotalLength()
	require.NoError(t, err)
	require.Equal(t, uint64(2), total)
}

func TestReplaceDocumentKeepsSharedTerm(t *testing.T) {
	db := openFresh(t)

	_, err := db.AddDocument(Document{
		Terms: []TermOccurrence{
			{Term: []byte("shared"), WDF: 1},
			{Term: []byte("old"), WDF: 1},
		},
	})
	require.NoError(t, err)
	require.NoError(t, db.Commit())

	require.NoError(t, db.ReplaceDocument(1, Document{
		Terms: []TermOccurrence{
			{Term: []byte("shared"), WDF: 3},
			{Term: []byte("new"), WDF: 2},
		},
	}))
	require.NoError(t, db.Commit())

	tf, err := db.TermFreq([]byte("shared"))
	require.NoError(t, err)
	require.Equal(t, uint32(1), tf, "shared term must still resolve to exactly one document, not zero or two")

	cf, err := db.CollectionFreq([]byte("shared"))
	require.NoError(t, err)
	require.Equal(t, uint32(3), cf)

	tf, err = db.TermFreq([]byte("old"))
	require.NoError(t, err)
	require.Equal(t, uint32(0), tf)

	tf, err = db.TermFreq([]byte("new"))
	require.NoError(t, err)
	require.Equal(t, uint32(1), tf)
}

func TestDeleteDocumentClearsPostings(t *testing.T) {
	db := openFresh(t)

	_, err := db.AddDocument(Document{Terms: []TermOccurrence{{Term: []byte("gone"), WDF: 1}}})
	require.NoError(t, err)
	require.NoError(t, db.Commit())

	require.NoError(t, db.DeleteDocument(1))
	require.NoError(t, db.Commit())

	tf, err := db.TermFreq([]byte("gone"))
	require.NoError(t, err)
	require.Equal(t, uint32(0), tf)

	count, err := db.DocCount()
	require.NoError(t, err)
	require.Equal(t, uint64(0), count)
}

// dumpTermList renders a document's term-list deterministically, for the
// diff-based assertions below.
func dumpTermList(db *DB, docid uint32) string {
	dl, _ := db.DocLength(docid)
	ut, _ := db.UniqueTerms(docid)
	return fmt.Sprintf("doclen=%d unique_terms=%d", dl, ut)
}

func TestReplaceDocumentLengthAccounting(t *testing.T) {
	db := openFresh(t)

	_, err := db.AddDocument(Document{Terms: []TermOccurrence{
		{Term: []byte("a"), WDF: 1}, {Term: []byte("b"), WDF: 2},
	}})
	require.NoError(t, err)
	require.NoError(t, db.Commit())
	before := dumpTermList(db, 1)

	require.NoError(t, db.ReplaceDocument(1, Document{Terms: []TermOccurrence{
		{Term: []byte("a"), WDF: 1}, {Term: []byte("b"), WDF: 2},
	}}))
	require.NoError(t, db.Commit())
	after := dumpTermList(db, 1)

	if before != after {
		diff := difflib.UnifiedDiff{
			A:        difflib.SplitLines(before),
			B:        difflib.SplitLines(after),
			FromFile: "before",
			ToFile:   "after",
			Context:  1,
		}
		text, _ := difflib.GetUnifiedDiffString(diff)
		t.Fatalf("replacing a document with identical terms changed its length accounting:\n%s", text)
	}
}

func TestMetaMatchesPrettyDiff(t *testing.T) {
	db := openFresh(t)

	_, err := db.AddDocument(Document{Terms: []TermOccurrence{{Term: []byte("x"), WDF: 5}}})
	require.NoError(t, err)
	require.NoError(t, db.Commit())

	got, err := db.Meta()
	require.NoError(t, err)
	want := got
	want.LastDocID = 1
	want.TotalLen = 5

	if diff := pretty.Diff(want, got); len(diff) > 0 {
		t.Fatalf("meta mismatch:\n%s", strings.Join(diff, "\n"))
	}
}
