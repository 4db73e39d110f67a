package btree

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cockroachdb/datadriven"

	"github.com/quartzdb/quartz/block"
	"github.com/quartzdb/quartz/internal/bitmap"
)

// newTreeWithSmallPages builds a Tree over a tiny-page file store, so a
// handful of put commands is enough to force real page splits.
func newTreeWithSmallPages(t *testing.T, blockSize int) *Tree {
	t.Helper()
	store, err := block.OpenFileStore(filepath.Join(t.TempDir(), "data"), blockSize, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	alloc := bitmap.NewAllocator(bitmap.New())
	tree, err := New(store, alloc)
	if err != nil {
		t.Fatal(err)
	}
	return tree
}

// TestTreeDataDriven drives put/delete/get/flush/scan commands directly
// against the B-tree core (no table overlay involved), the way pebble's own
// sstable/iterator layers are exercised by fixture files.
func TestTreeDataDriven(t *testing.T) {
	var tree *Tree
	datadriven.RunTest(t, "testdata/tree", func(t *testing.T, td *datadriven.TestData) string {
		switch td.Cmd {
		case "init":
			var blockSize int
			td.ScanArgs(t, "blocksize", &blockSize)
			tree = newTreeWithSmallPages(t, blockSize)
			return ""

		case "put":
			var k, v string
			td.ScanArgs(t, "k", &k)
			td.ScanArgs(t, "v", &v)
			if err := tree.Put([]byte(k), []byte(v)); err != nil {
				return err.Error()
			}
			return ""

		case "get":
			var k string
			td.ScanArgs(t, "k", &k)
			tag, ok, err := tree.Get([]byte(k))
			if err != nil {
				return err.Error()
			}
			if !ok {
				return "not found"
			}
			return string(tag)

		case "delete":
			var k string
			td.ScanArgs(t, "k", &k)
			ok, err := tree.Delete([]byte(k))
			if err != nil {
				return err.Error()
			}
			return fmt.Sprintf("deleted=%v", ok)

		case "flush":
			if err := tree.Flush(); err != nil {
				return err.Error()
			}
			return fmt.Sprintf("entries=%d", tree.EntryCount())

		case "scan":
			var sb strings.Builder
			cur := NewCursor(tree)
			if err := cur.First(); err != nil {
				return err.Error()
			}
			for cur.State() == Positioned {
				tag, err := cur.ReadTag()
				if err != nil {
					return err.Error()
				}
				fmt.Fprintf(&sb, "%s=%s\n", cur.CurrentKey(), tag)
				if _, err := cur.Next(); err != nil {
					return err.Error()
				}
			}
			return sb.String()

		default:
			return fmt.Sprintf("unknown command %q", td.Cmd)
		}
	})
}
