// Package codec implements the two integer packings and the two string
// packings used throughout the storage engine's on-disk formats: a
// variable-length continuation-byte encoding for tag bodies (postings,
// positions, term-list entries) and a sort-preserving encoding for key
// components (docids, value slots, term prefixes). Every encoding here is a
// pure byte-slice transform with no dependency on the table/page layer, so
// it can be fuzzed and round-trip tested in isolation.
package codec

import "github.com/quartzdb/quartz/internal/qerr"

// maxVarintLen is the longest possible continuation encoding of a uint64:
// ceil(64/7) = 10 bytes.
const maxVarintLen = 10

// PutUvarint appends the continuation-byte encoding of v to buf and returns
// the extended slice. Each byte carries 7 bits, low bits first; the high bit
// is 1 on every byte except the last.
func PutUvarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

// AppendUvarint32 is a convenience wrapper for 32-bit counts (docids, wdf,
// positions, lengths): all are encoded the same way as uint64, just with a
// narrower domain.
func AppendUvarint32(buf []byte, v uint32) []byte {
	return PutUvarint(buf, uint64(v))
}

// DecodeResult distinguishes the three terminal states a decoder can reach:
// explicit result values instead of panics or sentinel errors keep decode
// loops a plain switch.
type DecodeResult int

const (
	// Ok means a value was decoded successfully.
	Ok DecodeResult = iota
	// ShortBuffer means the buffer ran out before a terminating byte was
	// seen; the caller should treat this as "not enough data" rather than
	// corruption by default (e.g. when probing for EOF), but it always
	// indicates corruption inside a tag that claimed to hold more entries.
	ShortBuffer
	// Overflow means the encoded value does not fit the decoder's target
	// width. The trailing bytes of that single integer are still consumed
	// from the buffer so callers can keep decoding subsequent fields (or,
	// more commonly, bail out treating the whole tag as corrupt).
	Overflow
)

// Uvarint decodes a continuation-encoded uint64 from the front of buf.
// It returns the value, the number of bytes consumed, and a DecodeResult.
// On ShortBuffer, n is 0. On Overflow, n is the length of the (invalid)
// encoded integer so the caller can skip past it.
func Uvarint(buf []byte) (v uint64, n int, res DecodeResult) {
	var shift uint
	for i := 0; i < len(buf); i++ {
		b := buf[i]
		if shift >= 64 {
			// Keep consuming continuation bytes of this one (too-wide)
			// integer so n reflects its true encoded length.
			if b < 0x80 {
				return 0, i + 1, Overflow
			}
			continue
		}
		if b < 0x80 {
			if shift == 63 && b > 1 {
				// The tenth byte may contribute only bit 63.
				return 0, i + 1, Overflow
			}
			v |= uint64(b) << shift
			return v, i + 1, Ok
		}
		v |= uint64(b&0x7f) << shift
		shift += 7
	}
	return 0, 0, ShortBuffer
}

// Uvarint32 decodes a continuation-encoded value into a uint32, rejecting
// (as Overflow) any value that does not fit in 32 bits.
func Uvarint32(buf []byte) (v uint32, n int, res DecodeResult) {
	full, n, res := Uvarint(buf)
	if res != Ok {
		return 0, n, res
	}
	if full > 0xffffffff {
		return 0, n, Overflow
	}
	return uint32(full), n, Ok
}

// PutBool appends a one-byte boolean: '1' for true, '0' for false.
func PutBool(buf []byte, b bool) []byte {
	if b {
		return append(buf, '1')
	}
	return append(buf, '0')
}

// DecodeBool decodes a one-byte boolean from the front of buf.
func DecodeBool(buf []byte) (v bool, n int, res DecodeResult) {
	if len(buf) == 0 {
		return false, 0, ShortBuffer
	}
	switch buf[0] {
	case '1':
		return true, 1, Ok
	case '0':
		return false, 1, Ok
	default:
		return false, 1, Overflow
	}
}

// PutLenString appends a length-prefixed byte string: a continuation-encoded
// length followed by the raw bytes.
func PutLenString(buf []byte, s []byte) []byte {
	buf = PutUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

// DecodeLenString decodes a length-prefixed byte string from the front of
// buf. The returned slice aliases buf; callers that retain it across further
// mutation of buf must copy.
func DecodeLenString(buf []byte) (s []byte, n int, res DecodeResult) {
	l, ln, res := Uvarint(buf)
	if res != Ok {
		return nil, ln, res
	}
	if l > uint64(len(buf)-ln) {
		return nil, 0, ShortBuffer
	}
	return buf[ln : ln+int(l)], ln + int(l), Ok
}

// MustNotErr is a small helper used in contexts (test fixtures, chunk
// re-encoding of data this package itself produced) where a ShortBuffer or
// Overflow result would indicate an internal bug rather than untrusted
// input; it converts the result into a qerr.Corrupt error for propagation.
func MustNotErr(res DecodeResult, what string) error {
	switch res {
	case Ok:
		return nil
	case ShortBuffer:
		return qerr.Corruptf("%s: not enough data", what)
	case Overflow:
		return qerr.Corruptf("%s: value too large", what)
	default:
		return qerr.Corruptf("%s: unknown decode result", what)
	}
}
