package table

import (
	"fmt"
	"strings"
	"testing"

	"github.com/cockroachdb/datadriven"
)

// TestTableDataDriven drives put/delete/apply/scan commands against a fresh
// table, the way the B-tree layer this builds on is exercised by fixture
// files rather than bespoke Go assertions per case.
func TestTableDataDriven(t *testing.T) {
	var tbl *Table
	datadriven.RunTest(t, "testdata/basic", func(t *testing.T, td *datadriven.TestData) string {
		switch td.Cmd {
		case "init":
			created, err := Create(t.TempDir(), "t", Options{})
			if err != nil {
				return err.Error()
			}
			t.Cleanup(func() { created.Close() })
			tbl = created
			return ""

		case "put":
			var k, v string
			td.ScanArgs(t, "k", &k)
			td.ScanArgs(t, "v", &v)
			if err := tbl.Put([]byte(k), []byte(v)); err != nil {
				return err.Error()
			}
			return ""

		case "delete":
			var k string
			td.ScanArgs(t, "k", &k)
			if err := tbl.Delete([]byte(k)); err != nil {
				return err.Error()
			}
			return ""

		case "get":
			var k string
			td.ScanArgs(t, "k", &k)
			tag, ok, err := tbl.Get([]byte(k))
			if err != nil {
				return err.Error()
			}
			if !ok {
				return "not found"
			}
			return string(tag)

		case "apply":
			var rev int
			td.ScanArgs(t, "rev", &rev)
			if err := tbl.Apply(uint32(rev)); err != nil {
				return err.Error()
			}
			return ""

		case "scan":
			var sb strings.Builder
			cur := tbl.NewCursor()
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

		case "find":
			var k string
			td.ScanArgs(t, "k", &k)
			cur := tbl.NewCursor()
			found, err := cur.Find([]byte(k))
			if err != nil {
				return err.Error()
			}
			if cur.State() != Positioned {
				return fmt.Sprintf("found=%v at_end", found)
			}
			return fmt.Sprintf("found=%v key=%s", found, cur.CurrentKey())

		default:
			return fmt.Sprintf("unknown command %q", td.Cmd)
		}
	})
}
