package btree

import (
	"bytes"
	"sort"

	"github.com/quartzdb/quartz/block"
	"github.com/quartzdb/quartz/internal/bitmap"
	"github.com/quartzdb/quartz/internal/qerr"
)

// Tree is the disk-resident B-tree core for a single table: sorted
// key->tag store on pages, with cursor navigation and split-on-overflow
// insert. It owns an allocator for the revision currently being
// written and a cache of pages dirtied since the last commit.
type Tree struct {
	store block.Store
	alloc *bitmap.Allocator

	root  uint32
	level uint8

	entryCount uint64

	dirty map[uint32]*block.Page
	// generation is bumped on every mutation, used by Cursor to detect that
	// its cached path is stale.
	generation uint64
}

// New constructs a Tree over an empty table: a single empty leaf as root.
func New(store block.Store, alloc *bitmap.Allocator) (*Tree, error) {
	t := &Tree{store: store, alloc: alloc, dirty: map[uint32]*block.Page{}}
	rootNum := alloc.Allocate()
	t.root = rootNum
	t.level = 0
	t.dirty[rootNum] = &block.Page{Level: 0}
	return t, nil
}

// Open reconstructs a Tree from a previously committed Base.
func Open(store block.Store, alloc *bitmap.Allocator, base *Base) *Tree {
	return &Tree{
		store:      store,
		alloc:      alloc,
		root:       base.Root,
		level:      base.Level,
		entryCount: base.EntryCount,
		dirty:      map[uint32]*block.Page{},
	}
}

// Root and Level expose the tree's current root block and height, used when
// building a new Base to commit.
func (t *Tree) Root() uint32        { return t.root }
func (t *Tree) Level() uint8        { return t.level }
func (t *Tree) Generation() uint64  { return t.generation }
func (t *Tree) EntryCount() uint64  { return t.entryCount }

func (t *Tree) readPage(n uint32) (*block.Page, error) {
	if p, ok := t.dirty[n]; ok {
		return p, nil
	}
	raw, err := t.store.ReadBlock(n)
	if err != nil {
		return nil, err
	}
	return block.Decode(raw)
}

func (t *Tree) markDirty(n uint32, p *block.Page) {
	t.dirty[n] = p
}

func (t *Tree) allocPage(level uint8) (uint32, *block.Page) {
	n := t.alloc.Allocate()
	p := &block.Page{Level: level}
	t.dirty[n] = p
	return n, p
}

// findChild returns the index of the greatest entry whose key <= key (i.e.
// the child pointer to descend through), or -1 if key is less than every
// entry. At internal levels the leftmost entry carries an empty key, which
// sorts before every key, so -1 arises only in leaves.
func findChild(entries []block.Entry, key []byte) int {
	i := sort.Search(len(entries), func(i int) bool {
		return bytes.Compare(entries[i].Key, key) > 0
	})
	return i - 1
}

// findExact returns the index of an entry with exactly this key, or -1.
func findExact(entries []block.Entry, key []byte) int {
	i := sort.Search(len(entries), func(i int) bool {
		return bytes.Compare(entries[i].Key, key) >= 0
	})
	if i < len(entries) && bytes.Equal(entries[i].Key, key) {
		return i
	}
	return -1
}

// Get assembles and returns the tag for key, or (nil, false) if absent.
func (t *Tree) Get(key []byte) ([]byte, bool, error) {
	n := t.root
	for lvl := t.level; lvl > 0; lvl-- {
		p, err := t.readPage(n)
		if err != nil {
			return nil, false, err
		}
		idx := findChild(p.Entries, key)
		if idx < 0 {
			return nil, false, nil
		}
		n = p.Entries[idx].Child
	}
	leaf, err := t.readPage(n)
	if err != nil {
		return nil, false, err
	}
	idx := findExact(leaf.Entries, key)
	if idx < 0 {
		return nil, false, nil
	}
	return t.assembleTag(leaf.Entries[idx])
}

// assembleTag follows the continuation-block chain of a leaf entry,
// gathering fragments until TotalLen bytes have been collected.
func (t *Tree) assembleTag(e block.Entry) ([]byte, bool, error) {
	if e.Cont == block.NoBlock {
		return e.TagFrag, true, nil
	}
	tag := make([]byte, 0, e.TotalLen)
	tag = append(tag, e.TagFrag...)
	next := e.Cont
	for next != block.NoBlock && uint32(len(tag)) < e.TotalLen {
		p, err := t.readPage(next)
		if err != nil {
			return nil, false, err
		}
		if len(p.Entries) != 1 {
			return nil, false, qerr.Corruptf("btree: overflow block %v malformed", qerr.Safe(next))
		}
		frag := p.Entries[0]
		tag = append(tag, frag.TagFrag...)
		next = frag.Cont
	}
	return tag, true, nil
}

// path records the descent from root to leaf for Put/Delete.
type pathEntry struct {
	block uint32
	page  *block.Page
	idx   int // index of the child entry we descended through
}

func (t *Tree) descend(key []byte) ([]pathEntry, *block.Page, error) {
	var path []pathEntry
	n := t.root
	for lvl := t.level; lvl > 0; lvl-- {
		p, err := t.readPage(n)
		if err != nil {
			return nil, nil, err
		}
		idx := findChild(p.Entries, key)
		if idx < 0 {
			idx = 0
		}
		path = append(path, pathEntry{block: n, page: p, idx: idx})
		if len(p.Entries) == 0 {
			break
		}
		n = p.Entries[idx].Child
	}
	leaf, err := t.readPage(n)
	if err != nil {
		return nil, nil, err
	}
	path = append(path, pathEntry{block: n, page: leaf})
	return path[:len(path)-1], leaf, nil
}

// Put inserts or overwrites key->tag, splitting pages on overflow and
// growing tree height at the root if necessary.
func (t *Tree) Put(key, tag []byte) error {
	t.generation++
	path, leaf, err := t.descend(key)
	if err != nil {
		return err
	}
	leafNum := path2leafBlock(path, t.root)

	entry, err := t.buildLeafEntry(key, tag)
	if err != nil {
		return err
	}

	idx := findExact(leaf.Entries, key)
	newEntries := append([]block.Entry(nil), leaf.Entries...)
	if idx >= 0 {
		t.freeOverflow(newEntries[idx])
		newEntries[idx] = entry
	} else {
		ins := findChild(newEntries, key) + 1
		newEntries = append(newEntries, block.Entry{})
		copy(newEntries[ins+1:], newEntries[ins:])
		newEntries[ins] = entry
		t.entryCount++
	}
	leaf.Entries = newEntries
	t.markDirty(leafNum, leaf)

	return t.rebalanceUp(path, leafNum, leaf)
}

func path2leafBlock(path []pathEntry, root uint32) uint32 {
	if len(path) == 0 {
		return root
	}
	return path[len(path)-1].page.Entries[path[len(path)-1].idx].Child
}

// buildLeafEntry encodes tag into a leaf entry, splitting it across
// continuation blocks if it does not fit a single page's payload.
func (t *Tree) buildLeafEntry(key, tag []byte) (block.Entry, error) {
	payload := t.store.PayloadSize()
	// Reserve generous room for the entry's own key/length overhead; a
	// single fragment is capped conservatively so the enclosing page always
	// has room for at least the directory bookkeeping.
	maxFrag := payload - len(key) - 32
	if maxFrag < 16 {
		maxFrag = 16
	}
	if len(tag) <= maxFrag {
		return block.Entry{Key: key, TagFrag: tag, Cont: block.NoBlock, TotalLen: uint32(len(tag))}, nil
	}

	// Split into continuation blocks, built tail-first so each fragment's
	// Cont points at the next (already-allocated) block.
	var contBlocks []uint32
	var frags [][]byte
	rest := tag[maxFrag:]
	frags = append(frags, tag[:maxFrag])
	for len(rest) > 0 {
		n := maxFrag
		if n > len(rest) {
			n = len(rest)
		}
		frags = append(frags, rest[:n])
		rest = rest[n:]
	}
	// frags[0] stays in the leaf entry itself; frags[1:] each get their own
	// single-entry overflow page.
	for range frags[1:] {
		num, _ := t.allocPage(0)
		contBlocks = append(contBlocks, num)
	}
	for i := len(frags) - 1; i > 0; i-- {
		contNum := block.NoBlock
		if i < len(contBlocks) {
			contNum = contBlocks[i]
		}
		pageNum := contBlocks[i-1]
		t.dirty[pageNum] = &block.Page{
			Level: 0,
			Entries: []block.Entry{{
				Key:      nil,
				TagFrag:  frags[i],
				Cont:     contNum,
				TotalLen: uint32(len(tag)),
			}},
		}
	}
	firstCont := block.NoBlock
	if len(contBlocks) > 0 {
		firstCont = contBlocks[0]
	}
	return block.Entry{Key: key, TagFrag: frags[0], Cont: firstCont, TotalLen: uint32(len(tag))}, nil
}

func (t *Tree) freeOverflow(e block.Entry) {
	next := e.Cont
	for next != block.NoBlock {
		p, err := t.readPage(next)
		if err != nil || len(p.Entries) != 1 {
			return
		}
		cont := p.Entries[0].Cont
		delete(t.dirty, next)
		t.alloc.Free(next)
		next = cont
	}
}

// rebalanceUp splits pages bottom-up while they overflow the payload size,
// inserting separator entries into the parent, and grows the tree height at
// the root when the root itself splits.
func (t *Tree) rebalanceUp(path []pathEntry, childNum uint32, child *block.Page) error {
	payload := t.store.PayloadSize()
	for level := len(path) - 1; ; level-- {
		if buf, err := block.Encode(child, payload); err == nil {
			_ = buf
			break // fits; no split needed at this level
		}
		// Split child into two pages at the midpoint.
		mid := len(child.Entries) / 2
		if mid == 0 {
			mid = 1
		}
		leftEntries := child.Entries[:mid]
		rightEntries := child.Entries[mid:]
		child.Entries = leftEntries
		t.markDirty(childNum, child)

		rightNum, rightPage := t.allocPage(child.Level)
		rightPage.Entries = append([]block.Entry(nil), rightEntries...)
		t.markDirty(rightNum, rightPage)

		sepKey := rightEntries[0].Key
		if level < 0 {
			// Splitting the root: grow the tree by one level.
			newRootNum, newRoot := t.allocPage(t.level + 1)
			newRoot.Entries = []block.Entry{
				{Key: nil, Child: childNum},
				{Key: sepKey, Child: rightNum},
			}
			t.markDirty(newRootNum, newRoot)
			t.root = newRootNum
			t.level++
			return nil
		}

		parent := path[level].page
		parentNum := path[level].block
		insAt := findChild(parent.Entries, sepKey) + 1
		newParentEntries := append([]block.Entry(nil), parent.Entries...)
		newParentEntries = append(newParentEntries, block.Entry{})
		copy(newParentEntries[insAt+1:], newParentEntries[insAt:])
		newParentEntries[insAt] = block.Entry{Key: sepKey, Child: rightNum}
		parent.Entries = newParentEntries
		t.markDirty(parentNum, parent)

		childNum, child = parentNum, parent
	}
	return nil
}

// Delete removes key if present, freeing any overflow-tag blocks. Underflow rebalancing is not performed; the design treats this as
// optional.
func (t *Tree) Delete(key []byte) (bool, error) {
	t.generation++
	path, leaf, err := t.descend(key)
	if err != nil {
		return false, err
	}
	leafNum := path2leafBlock(path, t.root)
	idx := findExact(leaf.Entries, key)
	if idx < 0 {
		return false, nil
	}
	t.freeOverflow(leaf.Entries[idx])
	leaf.Entries = append(leaf.Entries[:idx], leaf.Entries[idx+1:]...)
	t.markDirty(leafNum, leaf)
	t.entryCount--
	return true, nil
}

// Flush writes every dirty page to the store and clears the dirty cache.
func (t *Tree) Flush() error {
	payload := t.store.PayloadSize()
	for num, page := range t.dirty {
		buf, err := block.Encode(page, payload)
		if err != nil {
			return err
		}
		if err := t.store.WriteBlock(num, buf); err != nil {
			return err
		}
	}
	t.dirty = map[uint32]*block.Page{}
	return nil
}

// DiscardDirty drops all pages dirtied since the last Flush, used on
// rollback.
func (t *Tree) DiscardDirty() {
	t.dirty = map[uint32]*block.Page{}
}
