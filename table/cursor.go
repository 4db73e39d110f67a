package table

import (
	"bytes"

	"github.com/quartzdb/quartz/btree"
)

// State mirrors btree.State for the merged view.
type State = btree.State

const (
	Unpositioned = btree.Unpositioned
	Positioned   = btree.Positioned
	AfterEnd     = btree.AfterEnd
)

// source tags which side of the merge the cursor's current position comes
// from.
type source int

const (
	sourceNone source = iota
	sourceDisk
	sourceOverlay
)

// Cursor is a read-only, merged view over a Table's on-disk B-tree and its
// pending write-overlay (if any): at each step it compares the next key
// from the on-disk cursor with the next pending overlay entry and advances
// whichever is smaller, skipping tombstones.
type Cursor struct {
	t    *Table
	disk *btree.Cursor

	overlayKeys [][]byte
	overlayIdx  int // index of the overlay entry the cursor is/would be positioned on

	state  State
	source source
}

func newCursor(t *Table) *Cursor {
	c := &Cursor{t: t, disk: btree.NewCursor(t.tree)}
	if t.overlay != nil {
		c.overlayKeys = t.overlay.sortedKeys()
	}
	return c
}

// currentOverlayKey returns the overlay key at overlayIdx, or nil if past
// the end of the overlay's key list.
func (c *Cursor) currentOverlayKey() []byte {
	if c.overlayIdx < 0 || c.overlayIdx >= len(c.overlayKeys) {
		return nil
	}
	return c.overlayKeys[c.overlayIdx]
}

// First positions the cursor on the smallest key visible through the merge.
func (c *Cursor) First() error {
	if err := c.disk.First(); err != nil {
		return err
	}
	c.overlayIdx = 0
	return c.settleForward()
}

// Find descends to key's exact entry if present, else its predecessor,
// exactly like btree.Cursor.Find but across the merged view.
func (c *Cursor) Find(key []byte) (bool, error) {
	diskExact, err := c.disk.Find(key)
	if err != nil {
		return false, err
	}
	// Binary-search the overlay's sorted keys for key or its predecessor.
	lo, hi := 0, len(c.overlayKeys)
	for lo < hi {
		mid := (lo + hi) / 2
		if bytes.Compare(c.overlayKeys[mid], key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	overlayExact := lo < len(c.overlayKeys) && bytes.Equal(c.overlayKeys[lo], key)
	if overlayExact {
		c.overlayIdx = lo
	} else {
		c.overlayIdx = lo - 1
	}

	if overlayExact {
		_, tomb, _ := c.t.overlay.Lookup(key)
		if !tomb {
			c.source = sourceOverlay
			c.state = Positioned
			return true, nil
		}
		// Tombstoned: behave as if absent, fall back to the predecessor.
		c.overlayIdx = lo - 1
		return c.resolvePredecessor(diskExact)
	}
	if diskExact {
		c.source = sourceDisk
		c.state = Positioned
		return true, nil
	}
	return c.resolvePredecessor(false)
}

// resolvePredecessor picks the greater of the disk cursor's current key and
// the overlay's current predecessor key, skipping any tombstoned overlay
// entries, and reports false (key not found exactly). diskExact indicates
// the disk cursor is sitting exactly on the searched-for key rather than
// its predecessor: that only happens here when the overlay tombstones that
// same key, so the disk position must itself be treated as shadowed and
// stepped back once before comparing. If neither side has anything before
// the search key, the cursor is left Unpositioned rather than falsely
// Positioned on a nonexistent entry.
func (c *Cursor) resolvePredecessor(diskExact bool) (bool, error) {
	if diskExact {
		if _, err := c.disk.Prev(); err != nil {
			return false, err
		}
	}
	if err := c.settleBackward(); err != nil {
		return false, err
	}
	if c.source == sourceNone {
		c.state = Unpositioned
	} else {
		c.state = Positioned
	}
	return false, nil
}

// settleForward chooses the smaller of the disk cursor's current key and
// the overlay's current key as the merged position, skipping tombstones.
// On a tie, the overlay wins (it holds the newer value) and the disk side
// is always advanced past the shadowed key, whether or not it is the
// winning source, so a later Next() call (which only advances whichever
// side is tagged as current) never leaves the other side stuck replaying
// the same key.
func (c *Cursor) settleForward() error {
	for {
		diskKey, diskOK := c.diskKey()
		overKey := c.currentOverlayKey()

		if !diskOK && overKey == nil {
			c.state = AfterEnd
			c.source = sourceNone
			return nil
		}

		var cmp int
		switch {
		case !diskOK:
			cmp = 1 // overlay wins
		case overKey == nil:
			cmp = -1 // disk wins
		default:
			cmp = bytes.Compare(diskKey, overKey)
		}

		switch {
		case cmp < 0:
			c.source = sourceDisk
			c.state = Positioned
			return nil
		case cmp > 0:
			_, tomb, _ := c.t.overlay.Lookup(overKey)
			if tomb {
				c.overlayIdx++
				continue
			}
			c.source = sourceOverlay
			c.state = Positioned
			return nil
		default: // equal keys: overlay shadows disk
			if _, err := c.disk.Next(); err != nil {
				return err
			}
			_, tomb, _ := c.t.overlay.Lookup(overKey)
			if tomb {
				c.overlayIdx++
				continue
			}
			c.source = sourceOverlay
			c.state = Positioned
			return nil
		}
	}
}

// settleBackward is used after Find positions both sub-cursors on
// predecessors: it picks the larger key among the two, skipping tombstones
// walking downward. On a tie (both sides sitting on the same key) the
// overlay wins, matching settleForward, since it holds the newer value;
// a tombstoned tie means the key is deleted, so both sides step back once.
func (c *Cursor) settleBackward() error {
	for {
		diskKey, diskOK := c.diskKey()
		overKey := c.currentOverlayKey()
		if !diskOK && overKey == nil {
			c.source = sourceNone
			return nil
		}
		if overKey == nil {
			c.source = sourceDisk
			return nil
		}
		if !diskOK {
			_, tomb, _ := c.t.overlay.Lookup(overKey)
			if tomb {
				c.overlayIdx--
				continue
			}
			c.source = sourceOverlay
			return nil
		}
		cmp := bytes.Compare(diskKey, overKey)
		if cmp > 0 {
			c.source = sourceDisk
			return nil
		}
		_, tomb, _ := c.t.overlay.Lookup(overKey)
		if tomb {
			if cmp == 0 {
				if _, err := c.disk.Prev(); err != nil {
					return err
				}
			}
			c.overlayIdx--
			continue
		}
		c.source = sourceOverlay
		return nil
	}
}

func (c *Cursor) diskKey() ([]byte, bool) {
	if c.disk.State() != Positioned {
		return nil, false
	}
	return c.disk.CurrentKey(), true
}

// Next advances to the next key in the merged view.
func (c *Cursor) Next() (bool, error) {
	if c.state == Unpositioned || c.state == AfterEnd {
		return false, nil
	}
	switch c.source {
	case sourceDisk:
		if _, err := c.disk.Next(); err != nil {
			return false, err
		}
	case sourceOverlay:
		c.overlayIdx++
	}
	if err := c.settleForward(); err != nil {
		return false, err
	}
	return c.state == Positioned, nil
}

// CurrentKey returns the key the cursor is positioned on.
func (c *Cursor) CurrentKey() []byte {
	if c.source == sourceDisk {
		return c.disk.CurrentKey()
	}
	return c.currentOverlayKey()
}

// ReadTag materializes the current entry's tag, consulting the overlay
// first.
func (c *Cursor) ReadTag() ([]byte, error) {
	if c.source == sourceOverlay {
		tag, _, _ := c.t.overlay.Lookup(c.currentOverlayKey())
		return tag, nil
	}
	return c.disk.ReadTag()
}

// State returns the cursor's current three-valued position.
func (c *Cursor) State() State { return c.state }
