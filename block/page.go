// Package block implements the fixed-size page format shared by every
// B-tree-backed table: a page is either an internal node (key + child
// block-number entries) or a leaf (key + tag-fragment entries, with long
// tags continued across further blocks), plus the raw block I/O and
// per-block checksum/compression layer beneath it.
package block

import (
	"github.com/quartzdb/quartz/internal/codec"
	"github.com/quartzdb/quartz/internal/qerr"
)

// NoBlock is the "no such block" value of Entry.Cont. Block 0 is the root
// leaf a new tree allocates first; it is never freed and never holds a tag
// fragment, so a zero Cont is unambiguous. Child may legitimately be 0.
const NoBlock uint32 = 0

// Entry is one key/value slot of a page's directory. Internal-node entries
// use Child; leaf entries use TagFrag (+Cont/TotalLen for tags spanning more
// than one block).
type Entry struct {
	Key []byte

	// Leaf-only.
	TagFrag  []byte
	Cont     uint32 // NoBlock, or the block holding the tag's next fragment
	TotalLen uint32 // total tag length; meaningful on the first fragment only

	// Internal-only.
	Child uint32
}

// Page is the decoded, in-memory form of one block. B-tree code mutates a
// Page's Entries slice directly and re-encodes it before writing; this
// keeps cursors and the tree core working with plain Go slices rather than
// raw pointers into a shared buffer.
type Page struct {
	Level uint8 // 0 == leaf
	Entries []Entry
}

// IsLeaf reports whether the page is a leaf (level 0).
func (p *Page) IsLeaf() bool { return p.Level == 0 }

// EncodedSize estimates the number of payload bytes p would occupy if
// encoded now, without actually encoding it. It counts 2 bytes for the
// entry count and 4 for each Cont, TotalLen and Child, which Encode writes
// as varints, so the estimate is at least the encoded size while counts stay
// below 2^14 and those fields below 2^28. Used by the B-tree core to decide
// whether an insert would overflow the page before committing to it.
func (p *Page) EncodedSize() int {
	n := 3 // level(1) + entry count(2)
	for _, e := range p.Entries {
		n += encodedEntrySize(p.IsLeaf(), e)
	}
	return n
}

func encodedEntrySize(leaf bool, e Entry) int {
	n := uvarintLen(uint64(len(e.Key))) + len(e.Key)
	if leaf {
		n += uvarintLen(uint64(len(e.TagFrag))) + len(e.TagFrag)
		n += 4 + 4 // Cont, TotalLen
	} else {
		n += 4 // Child
	}
	return n
}

func uvarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// Encode serializes p into payload, the usable (post-header, pre-trailer)
// region of a block. It returns qerr.Range if p does not fit.
func Encode(p *Page, payloadSize int) ([]byte, error) {
	size := p.EncodedSize()
	if size > payloadSize {
		return nil, qerr.Rangef("page: encoded size %d exceeds payload size %d", size, payloadSize)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, p.Level)
	buf = codec.PutUvarint(buf, uint64(len(p.Entries)))
	leaf := p.IsLeaf()
	for _, e := range p.Entries {
		buf = codec.PutLenString(buf, e.Key)
		if leaf {
			buf = codec.PutLenString(buf, e.TagFrag)
			buf = codec.AppendUvarint32(buf, e.Cont)
			buf = codec.AppendUvarint32(buf, e.TotalLen)
		} else {
			buf = codec.AppendUvarint32(buf, e.Child)
		}
	}
	return buf, nil
}

// Decode parses a page payload previously produced by Encode.
func Decode(payload []byte) (*Page, error) {
	if len(payload) < 1 {
		return nil, qerr.Corruptf("page: empty payload")
	}
	p := &Page{Level: payload[0]}
	rest := payload[1:]
	count, n, res := codec.Uvarint(rest)
	if res != codec.Ok {
		return nil, qerr.Corruptf("page: entry count: %v", res)
	}
	rest = rest[n:]
	leaf := p.IsLeaf()
	p.Entries = make([]Entry, 0, count)
	for i := uint64(0); i < count; i++ {
		var e Entry
		key, n, res := codec.DecodeLenString(rest)
		if res != codec.Ok {
			return nil, qerr.Corruptf("page: entry %d key: %v", i, res)
		}
		e.Key = append([]byte(nil), key...)
		rest = rest[n:]
		if leaf {
			frag, n, res := codec.DecodeLenString(rest)
			if res != codec.Ok {
				return nil, qerr.Corruptf("page: entry %d tag fragment: %v", i, res)
			}
			e.TagFrag = append([]byte(nil), frag...)
			rest = rest[n:]

			cont, n, res := codec.Uvarint32(rest)
			if res != codec.Ok {
				return nil, qerr.Corruptf("page: entry %d continuation: %v", i, res)
			}
			e.Cont = cont
			rest = rest[n:]

			total, n, res := codec.Uvarint32(rest)
			if res != codec.Ok {
				return nil, qerr.Corruptf("page: entry %d total length: %v", i, res)
			}
			e.TotalLen = total
			rest = rest[n:]
		} else {
			child, n, res := codec.Uvarint32(rest)
			if res != codec.Ok {
				return nil, qerr.Corruptf("page: entry %d child: %v", i, res)
			}
			e.Child = child
			rest = rest[n:]
		}
		p.Entries = append(p.Entries, e)
	}
	return p, nil
}
