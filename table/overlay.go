package table

import (
	"bytes"
	"sort"
)

// mutation is one staged change: a put (tombstone=false) or a delete
// (tombstone=true, tag ignored).
type mutation struct {
	key       []byte
	tag       []byte
	tombstone bool
}

// Overlay is the in-memory sorted map of pending writes for a writable
// table, merged with on-disk state for reads and flushed on commit.
type Overlay struct {
	byKey map[string]*mutation
}

// NewOverlay returns an empty overlay.
func NewOverlay() *Overlay {
	return &Overlay{byKey: map[string]*mutation{}}
}

// Put stages key->tag.
func (o *Overlay) Put(key, tag []byte) {
	o.byKey[string(key)] = &mutation{
		key: append([]byte(nil), key...),
		tag: append([]byte(nil), tag...),
	}
}

// Delete stages a tombstone for key.
func (o *Overlay) Delete(key []byte) {
	o.byKey[string(key)] = &mutation{
		key:       append([]byte(nil), key...),
		tombstone: true,
	}
}

// Lookup reports whether key has a pending mutation, and if so whether it
// is a tombstone.
func (o *Overlay) Lookup(key []byte) (tag []byte, tombstone bool, found bool) {
	m, ok := o.byKey[string(key)]
	if !ok {
		return nil, false, false
	}
	return m.tag, m.tombstone, true
}

// Len returns the number of staged mutations.
func (o *Overlay) Len() int { return len(o.byKey) }

// Reset discards all staged mutations).
func (o *Overlay) Reset() {
	o.byKey = map[string]*mutation{}
}

// Ordered returns every staged mutation sorted by key, for applying to the
// B-tree in ascending order during Apply.
func (o *Overlay) Ordered() []*mutation {
	out := make([]*mutation, 0, len(o.byKey))
	for _, m := range o.byKey {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].key, out[j].key) < 0 })
	return out
}

// sortedKeys returns the overlay's keys in ascending order, used by the
// merge cursor to walk pending entries alongside the on-disk cursor.
func (o *Overlay) sortedKeys() [][]byte {
	keys := make([][]byte, 0, len(o.byKey))
	for k := range o.byKey {
		keys = append(keys, []byte(k))
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })
	return keys
}
