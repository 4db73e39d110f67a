package btree

import (
	"bytes"

	"github.com/quartzdb/quartz/block"
)

// State is the three-valued position of a Cursor.
type State int

const (
	// Unpositioned is the initial state, and the state reached by walking
	// off the start of the table.
	Unpositioned State = iota
	// Positioned means CurrentKey/ReadTag are valid.
	Positioned
	// AfterEnd means no more entries exist in the iteration direction;
	// kept distinct from Unpositioned so a caller can tell "ran off the
	// end" from "never positioned".
	AfterEnd
)

// stackEntry is one level of a Cursor's descent path.
type stackEntry struct {
	block uint32
	page  *block.Page
	idx   int
}

// Cursor is a positioned, read-only view into a Tree at a fixed revision:
// one block pointer per tree level plus an offset within the leaf. It reads
// the Tree's live pages, so a Put or Delete made through that Tree after
// the Cursor was positioned can change or invalidate the path it holds.
// Stale reports when that has happened; the Cursor's own methods do not
// check it.
type Cursor struct {
	tree  *Tree
	stack []stackEntry
	state State

	generation uint64 // Tree.generation at Cursor-open/reposition time
}

// NewCursor opens an unpositioned cursor over tree.
func NewCursor(tree *Tree) *Cursor {
	return &Cursor{tree: tree, state: Unpositioned, generation: tree.generation}
}

// Stale reports whether the underlying write-side Tree has mutated since
// this cursor was positioned. A true result means the cursor's cached path
// may refer to pages that have since changed or been freed and reallocated.
func (c *Cursor) Stale() bool {
	return c.tree.generation != c.generation
}

// leftmostPath descends from block n to its leftmost leaf, pushing a
// stackEntry (idx 0) at every level, and returns the resulting stack.
func (c *Cursor) leftmostPath(n uint32) ([]stackEntry, error) {
	var stack []stackEntry
	for {
		p, err := c.tree.readPage(n)
		if err != nil {
			return nil, err
		}
		stack = append(stack, stackEntry{block: n, page: p, idx: 0})
		if p.IsLeaf() {
			return stack, nil
		}
		if len(p.Entries) == 0 {
			return stack, nil
		}
		n = p.Entries[0].Child
	}
}

// rightmostPath is the mirror of leftmostPath, used by Prev/find-predecessor
// logic.
func (c *Cursor) rightmostPath(n uint32) ([]stackEntry, error) {
	var stack []stackEntry
	for {
		p, err := c.tree.readPage(n)
		if err != nil {
			return nil, err
		}
		idx := len(p.Entries) - 1
		if idx < 0 {
			idx = 0
		}
		stack = append(stack, stackEntry{block: n, page: p, idx: idx})
		if p.IsLeaf() || len(p.Entries) == 0 {
			return stack, nil
		}
		n = p.Entries[idx].Child
	}
}

// First positions the cursor on the smallest key in the table.
func (c *Cursor) First() error {
	stack, err := c.leftmostPath(c.tree.root)
	if err != nil {
		return err
	}
	c.stack = stack
	c.generation = c.tree.generation
	if c.leaf() != nil && len(c.leaf().Entries) > 0 {
		c.state = Positioned
	} else {
		c.state = AfterEnd
	}
	return nil
}

func (c *Cursor) leaf() *block.Page {
	if len(c.stack) == 0 {
		return nil
	}
	return c.stack[len(c.stack)-1].page
}

// Find descends to the leaf containing key or its immediate predecessor. It
// reports true iff key is present exactly. The cursor is left Positioned on
// the match or predecessor; if key has no predecessor anywhere in the tree
// (it is smaller than every key present), the cursor is left Unpositioned
// rather than pointing at a nonexistent entry.
func (c *Cursor) Find(key []byte) (bool, error) {
	var stack []stackEntry
	n := c.tree.root
	for {
		p, err := c.tree.readPage(n)
		if err != nil {
			return false, err
		}
		if p.IsLeaf() {
			idx := findExact(p.Entries, key)
			if idx >= 0 {
				stack = append(stack, stackEntry{block: n, page: p, idx: idx})
				c.stack = stack
				c.state = Positioned
				c.generation = c.tree.generation
				return true, nil
			}
			// Position on the greatest key < key within this leaf, or back
			// up to find it in a previous leaf.
			pred := findChild(p.Entries, key)
			if pred >= 0 {
				stack = append(stack, stackEntry{block: n, page: p, idx: pred})
				c.stack = stack
				c.state = Positioned
				c.generation = c.tree.generation
				return false, nil
			}
			// No predecessor in this leaf: back the stack up until we can
			// step to a previous sibling, then take its last entry.
			c.stack = stack
			if err := c.backUpToPredecessor(); err != nil {
				return false, err
			}
			if len(c.stack) == 0 {
				// key is smaller than every key in the tree: no predecessor
				// exists anywhere.
				c.state = Unpositioned
			} else {
				c.state = Positioned
			}
			c.generation = c.tree.generation
			return false, nil
		}
		idx := findChild(p.Entries, key)
		if idx < 0 {
			idx = 0
		}
		stack = append(stack, stackEntry{block: n, page: p, idx: idx})
		n = p.Entries[idx].Child
	}
}

// backUpToPredecessor is used by Find when the target leaf has no entry
// less than key: it pops the stack until a level has a previous sibling,
// descends that sibling's rightmost path, and appends it. If it pops past
// the root, it leaves c.stack empty: no predecessor exists anywhere in the
// tree (key is less than or equal to every key present). Find turns that
// into an Unpositioned cursor.
func (c *Cursor) backUpToPredecessor() error {
	for len(c.stack) > 0 {
		top := c.stack[len(c.stack)-1]
		c.stack = c.stack[:len(c.stack)-1]
		if len(c.stack) == 0 {
			break
		}
		parent := &c.stack[len(c.stack)-1]
		if parent.idx > 0 {
			parent.idx--
			childNum := parent.page.Entries[parent.idx].Child
			rest, err := c.rightmostPath(childNum)
			if err != nil {
				return err
			}
			c.stack = append(c.stack, rest...)
			return nil
		}
		_ = top
	}
	return nil
}

// Next advances to the next key in ascending order.
func (c *Cursor) Next() (bool, error) {
	if c.state == Unpositioned || c.state == AfterEnd {
		return false, nil
	}
	top := &c.stack[len(c.stack)-1]
	if top.idx+1 < len(top.page.Entries) {
		top.idx++
		c.state = Positioned
		return true, nil
	}
	// Pop until we find an ancestor with a next sibling.
	for len(c.stack) > 1 {
		c.stack = c.stack[:len(c.stack)-1]
		parent := &c.stack[len(c.stack)-1]
		if parent.idx+1 < len(parent.page.Entries) {
			parent.idx++
			childNum := parent.page.Entries[parent.idx].Child
			rest, err := c.leftmostPath(childNum)
			if err != nil {
				return false, err
			}
			c.stack = append(c.stack, rest...)
			c.state = Positioned
			return true, nil
		}
	}
	c.state = AfterEnd
	return false, nil
}

// Prev moves to the previous key in ascending order (i.e. backwards).
func (c *Cursor) Prev() (bool, error) {
	if c.state == Unpositioned {
		return false, nil
	}
	if c.state == AfterEnd {
		// Reposition on the last entry of the table.
		stack, err := c.rightmostPath(c.tree.root)
		if err != nil {
			return false, err
		}
		c.stack = stack
		if c.leaf() != nil && len(c.leaf().Entries) > 0 {
			c.state = Positioned
			return true, nil
		}
		c.state = Unpositioned
		return false, nil
	}
	top := &c.stack[len(c.stack)-1]
	if top.idx > 0 {
		top.idx--
		return true, nil
	}
	for len(c.stack) > 1 {
		c.stack = c.stack[:len(c.stack)-1]
		parent := &c.stack[len(c.stack)-1]
		if parent.idx > 0 {
			parent.idx--
			childNum := parent.page.Entries[parent.idx].Child
			rest, err := c.rightmostPath(childNum)
			if err != nil {
				return false, err
			}
			c.stack = append(c.stack, rest...)
			return true, nil
		}
	}
	c.state = Unpositioned
	return false, nil
}

// CurrentKey returns the key the cursor is positioned on. Valid only when
// State() == Positioned; returns nil otherwise.
func (c *Cursor) CurrentKey() []byte {
	if c.state != Positioned || len(c.stack) == 0 {
		return nil
	}
	leaf := c.leaf()
	top := c.stack[len(c.stack)-1]
	return leaf.Entries[top.idx].Key
}

// ReadTag materializes the current entry's tag. Tags are lazily fetched so
// key-only scans are cheap. Valid only when State() == Positioned.
func (c *Cursor) ReadTag() ([]byte, error) {
	if len(c.stack) == 0 {
		return nil, nil
	}
	leaf := c.leaf()
	top := c.stack[len(c.stack)-1]
	tag, _, err := c.tree.assembleTag(leaf.Entries[top.idx])
	return tag, err
}

// State returns the cursor's current three-valued position.
func (c *Cursor) State() State { return c.state }

// KeyCompare is a small helper re-exported for callers (e.g. the overlay
// merge in the table package) that need to compare raw keys the same way
// the tree does.
func KeyCompare(a, b []byte) int { return bytes.Compare(a, b) }
