// Package btree implements the disk-resident B-tree core: get/put/delete on
// a Store of fixed-size blocks, with a two-phase, alternating-base-file
// commit protocol.
package btree

import (
	"os"

	"github.com/quartzdb/quartz/internal/bitmap"
	"github.com/quartzdb/quartz/internal/codec"
	"github.com/quartzdb/quartz/internal/qerr"
)

// baseMagic identifies a quartz base file. Distinct from any teacher/source
// format magic; this is our own on-disk format.
var baseMagic = [4]byte{'Q', 'T', 'Z', '1'}

const baseVersion byte = 1

// Base is the compact descriptor of a table at one revision: root block
// number, tree level, entry count, revision number, and the bitmap of
// blocks live at that revision.
type Base struct {
	Revision    uint32
	BlockSize   uint32
	Root        uint32
	Level       uint8
	EntryCount  uint64
	LastBlock   uint32
	Bitmap      *bitmap.Bitmap
}

// Encode serializes b into its on-disk form.
func (b *Base) Encode() []byte {
	buf := make([]byte, 0, 64+len(b.Bitmap.Bytes()))
	buf = append(buf, baseMagic[:]...)
	buf = append(buf, baseVersion)
	buf = codec.AppendUvarint32(buf, b.Revision)
	buf = codec.AppendUvarint32(buf, b.BlockSize)
	buf = codec.AppendUvarint32(buf, b.Root)
	buf = append(buf, b.Level)
	buf = codec.PutUvarint(buf, b.EntryCount)
	buf = codec.AppendUvarint32(buf, b.LastBlock)
	bm := b.Bitmap.Bytes()
	buf = codec.PutLenString(buf, bm)
	return buf
}

// DecodeBase parses a base file previously produced by Encode.
func DecodeBase(buf []byte) (*Base, error) {
	if len(buf) < 5 || [4]byte{buf[0], buf[1], buf[2], buf[3]} != baseMagic {
		return nil, qerr.Corruptf("btree: bad base file magic")
	}
	if buf[4] != baseVersion {
		return nil, qerr.Corruptf("btree: unsupported base file version %d", buf[4])
	}
	rest := buf[5:]
	b := &Base{}

	rev, n, res := codec.Uvarint32(rest)
	if res != codec.Ok {
		return nil, qerr.Corruptf("btree: revision: %v", res)
	}
	b.Revision = rev
	rest = rest[n:]

	bs, n, res := codec.Uvarint32(rest)
	if res != codec.Ok {
		return nil, qerr.Corruptf("btree: block size: %v", res)
	}
	b.BlockSize = bs
	rest = rest[n:]

	root, n, res := codec.Uvarint32(rest)
	if res != codec.Ok {
		return nil, qerr.Corruptf("btree: root: %v", res)
	}
	b.Root = root
	rest = rest[n:]

	if len(rest) < 1 {
		return nil, qerr.Corruptf("btree: truncated before level")
	}
	b.Level = rest[0]
	rest = rest[1:]

	ec, n, res := codec.Uvarint(rest)
	if res != codec.Ok {
		return nil, qerr.Corruptf("btree: entry count: %v", res)
	}
	b.EntryCount = ec
	rest = rest[n:]

	lb, n, res := codec.Uvarint32(rest)
	if res != codec.Ok {
		return nil, qerr.Corruptf("btree: last block: %v", res)
	}
	b.LastBlock = lb
	rest = rest[n:]

	bm, n, res := codec.DecodeLenString(rest)
	if res != codec.Ok {
		return nil, qerr.Corruptf("btree: bitmap: %v", res)
	}
	b.Bitmap = bitmap.FromBytes(append([]byte(nil), bm...))
	_ = n

	return b, nil
}

// BaseSlot identifies which of the two alternating base files (A/B) holds
// the newest valid base.
type BaseSlot int

const (
	SlotA BaseSlot = iota
	SlotB
)

// Other returns the slot not currently active, used to pick where the next
// commit writes its new base.
func (s BaseSlot) Other() BaseSlot {
	if s == SlotA {
		return SlotB
	}
	return SlotA
}

// ReadLatestBase reads both base file paths and returns the one with the
// higher revision number, along with which slot it came from. If neither
// parses, it returns an OpenFailed error (a brand-new table).
func ReadLatestBase(pathA, pathB string) (*Base, BaseSlot, error) {
	baseA, errA := readBaseFile(pathA)
	baseB, errB := readBaseFile(pathB)
	switch {
	case errA != nil && errB != nil:
		return nil, SlotA, qerr.OpenFailedf("btree: no valid base file (A: %v, B: %v)", errA, errB)
	case errA != nil:
		return baseB, SlotB, nil
	case errB != nil:
		return baseA, SlotA, nil
	case baseA.Revision >= baseB.Revision:
		return baseA, SlotA, nil
	default:
		return baseB, SlotB, nil
	}
}

func readBaseFile(path string) (*Base, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeBase(data)
}

// WriteBaseFile atomically writes base to path: write-temp, fsync,
// rename-over, so a crash mid-write never leaves a torn base file visible
// to a reader.
func WriteBaseFile(path string, base *Base) error {
	tmp := path + ".tmp"
	data := base.Encode()
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return qerr.OpenFailedf("btree: write temp base %s: %v", tmp, err)
	}
	f, err := os.OpenFile(tmp, os.O_RDWR, 0o644)
	if err != nil {
		return qerr.OpenFailedf("btree: reopen temp base %s: %v", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return qerr.OpenFailedf("btree: fsync temp base %s: %v", tmp, err)
	}
	if err := f.Close(); err != nil {
		return qerr.OpenFailedf("btree: close temp base %s: %v", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return qerr.OpenFailedf("btree: rename %s -> %s: %v", tmp, path, err)
	}
	return nil
}
