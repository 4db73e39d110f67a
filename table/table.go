// Package table combines the block store, B-tree core, and buffered
// write-overlay into the unit the domain-encoding layer (postlist,
// position, termlist, record, value) builds on: a table owned by exactly
// one writer at a time, readable by any number of independent handles at
// whatever revision they opened.
package table

import (
	"os"
	"path/filepath"

	"github.com/quartzdb/quartz/block"
	"github.com/quartzdb/quartz/btree"
	"github.com/quartzdb/quartz/internal/bitmap"
	"github.com/quartzdb/quartz/internal/qerr"
)

// Options configures how a Table's on-disk data file is laid out.
type Options struct {
	BlockSize   uint32 // defaults to 4096 if zero
	Compress    bool
	Stats       *block.Stats
}

func (o *Options) ensureDefaults() {
	if o.BlockSize == 0 {
		o.BlockSize = 4096
	}
}

// Table is a single B-tree-backed key->tag store, double-buffered across
// two alternating base files, with an optional buffered write-overlay
// for a writable handle.
type Table struct {
	dir, name string
	opts      Options

	store block.Store
	tree  *btree.Tree
	alloc *bitmap.Allocator

	revision uint32
	slot     btree.BaseSlot // the slot holding the currently-open base

	writable bool
	overlay  *Overlay
}

func paths(dir, name string) (data, baseA, baseB string) {
	return filepath.Join(dir, name+"_DB"),
		filepath.Join(dir, name+"_baseA"),
		filepath.Join(dir, name+"_baseB")
}

// Create initializes a brand-new, empty table on disk (used the first time
// a writable database is created).
func Create(dir, name string, opts Options) (*Table, error) {
	opts.ensureDefaults()
	dataPath, _, _ := paths(dir, name)
	store, err := block.OpenFileStore(dataPath, int(opts.BlockSize), opts.Compress, opts.Stats)
	if err != nil {
		return nil, err
	}
	alloc := bitmap.NewAllocator(bitmap.New())
	tree, err := btree.New(store, alloc)
	if err != nil {
		return nil, err
	}
	t := &Table{
		dir: dir, name: name, opts: opts,
		store: store, tree: tree, alloc: alloc,
		revision: 0, slot: btree.SlotA,
		writable: true,
		overlay:  NewOverlay(),
	}
	return t, nil
}

// OpenLatest opens a table at the highest revision its base files record.
// writable determines whether an Overlay is attached.
func OpenLatest(dir, name string, opts Options, writable bool) (*Table, error) {
	opts.ensureDefaults()
	dataPath, baseA, baseB := paths(dir, name)
	base, slot, err := btree.ReadLatestBase(baseA, baseB)
	if err != nil {
		return nil, err
	}
	store, err := block.OpenFileStore(dataPath, int(opts.BlockSize), opts.Compress, opts.Stats)
	if err != nil {
		return nil, err
	}
	alloc := bitmap.NewAllocator(base.Bitmap)
	tree := btree.Open(store, alloc, base)
	t := &Table{
		dir: dir, name: name, opts: opts,
		store: store, tree: tree, alloc: alloc,
		revision: base.Revision, slot: slot,
		writable: writable,
	}
	if writable {
		t.overlay = NewOverlay()
	}
	return t, nil
}

// OpenAt opens a table at exactly the given revision; if neither base file
// holds that revision, it fails cleanly with OpenFailed rather than
// silently substituting a different one.
func OpenAt(dir, name string, opts Options, revision uint32) (*Table, error) {
	opts.ensureDefaults()
	dataPath, baseAPath, baseBPath := paths(dir, name)

	baseA, errA := readBaseIfRevision(baseAPath, revision)
	baseB, errB := readBaseIfRevision(baseBPath, revision)
	var base *btree.Base
	var slot btree.BaseSlot
	switch {
	case baseA != nil:
		base, slot = baseA, btree.SlotA
	case baseB != nil:
		base, slot = baseB, btree.SlotB
	default:
		return nil, qerr.OpenFailedf("table %s: revision %v not found (errA=%v errB=%v)",
			name, qerr.Safe(revision), errA, errB)
	}

	store, err := block.OpenFileStore(dataPath, int(opts.BlockSize), opts.Compress, opts.Stats)
	if err != nil {
		return nil, err
	}
	alloc := bitmap.NewAllocator(base.Bitmap)
	tree := btree.Open(store, alloc, base)
	return &Table{
		dir: dir, name: name, opts: opts,
		store: store, tree: tree, alloc: alloc,
		revision: base.Revision, slot: slot,
		writable: false,
	}, nil
}

func readBaseIfRevision(path string, revision uint32) (*btree.Base, error) {
	b, err := decodeBaseFile(path)
	if err != nil {
		return nil, err
	}
	if b.Revision != revision {
		return nil, nil
	}
	return b, nil
}

// Name returns the table's file-name prefix.
func (t *Table) Name() string { return t.name }

// Revision returns the revision this Table handle is positioned at.
func (t *Table) Revision() uint32 { return t.revision }

// Writable reports whether this handle has a write overlay attached.
func (t *Table) Writable() bool { return t.writable }

// EntryCount returns the number of key/tag pairs committed to the tree as
// of this handle's revision (pending overlay mutations are not reflected
// until Apply).
func (t *Table) EntryCount() uint64 { return t.tree.EntryCount() }

// Get returns the tag for key, consulting the overlay first if writable
//.
func (t *Table) Get(key []byte) ([]byte, bool, error) {
	if t.overlay != nil {
		if tag, tomb, ok := t.overlay.Lookup(key); ok {
			if tomb {
				return nil, false, nil
			}
			return tag, true, nil
		}
	}
	return t.tree.Get(key)
}

// Put stages key->tag in the overlay. The caller must call
// Apply (or the orchestrator's Commit) to make it durable.
func (t *Table) Put(key, tag []byte) error {
	if t.overlay == nil {
		return qerr.Unimplementedf("table %s: not writable", t.name)
	}
	t.overlay.Put(key, tag)
	return nil
}

// Delete stages a tombstone for key in the overlay.
func (t *Table) Delete(key []byte) error {
	if t.overlay == nil {
		return qerr.Unimplementedf("table %s: not writable", t.name)
	}
	t.overlay.Delete(key)
	return nil
}

// Cancel discards the overlay without touching disk state.
func (t *Table) Cancel() {
	if t.overlay != nil {
		t.overlay.Reset()
	}
}

// PendingCount reports how many staged mutations (puts and deletes) are in
// the overlay, used by the orchestrator's auto-flush threshold.
func (t *Table) PendingCount() int {
	if t.overlay == nil {
		return 0
	}
	return t.overlay.Len()
}

// Apply flushes the overlay into the B-tree and runs the two-phase commit
// protocol, producing newRevision.
func (t *Table) Apply(newRevision uint32) error {
	if t.overlay == nil {
		return qerr.Unimplementedf("table %s: not writable", t.name)
	}
	for _, m := range t.overlay.Ordered() {
		if m.tombstone {
			if _, err := t.tree.Delete(m.key); err != nil {
				return err
			}
		} else {
			if err := t.tree.Put(m.key, m.tag); err != nil {
				return err
			}
		}
	}
	t.overlay.Reset()

	if err := t.tree.Flush(); err != nil {
		return err
	}

	committedBitmap := t.alloc.CommittedBitmap()
	newBase := &btree.Base{
		Revision:   newRevision,
		BlockSize:  t.opts.BlockSize,
		Root:       t.tree.Root(),
		Level:      t.tree.Level(),
		EntryCount: t.tree.EntryCount(),
		LastBlock:  committedBitmap.HighestSet(),
		Bitmap:     committedBitmap,
	}
	_, baseA, baseB := paths(t.dir, t.name)
	targetPath := baseA
	targetSlot := btree.SlotA
	if t.slot == btree.SlotA {
		targetPath = baseB
		targetSlot = btree.SlotB
	}
	if err := btree.WriteBaseFile(targetPath, newBase); err != nil {
		return err
	}
	if err := t.store.Sync(); err != nil {
		return err
	}
	t.alloc.FinishCommit()
	t.revision = newRevision
	t.slot = targetSlot
	return nil
}

// Rollback discards all in-memory state accumulated since the last commit
// (dirty pages, allocator bookkeeping, overlay) without touching disk,
// used by the orchestrator's recovery path.
func (t *Table) Rollback() {
	t.tree.DiscardDirty()
	t.alloc.DiscardCycle()
	if t.overlay != nil {
		t.overlay.Reset()
	}
}

// NewCursor opens a read cursor merging the on-disk tree with any pending
// overlay entries.
func (t *Table) NewCursor() *Cursor {
	return newCursor(t)
}

// Close releases the table's file handles.
func (t *Table) Close() error {
	return t.store.Close()
}

func decodeBaseFile(path string) (*btree.Base, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, qerr.OpenFailedf("table: read %s: %v", path, err)
	}
	return btree.DecodeBase(data)
}
