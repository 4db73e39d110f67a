package codec

import "bytes"

// PutUint32Sort appends a fixed-width big-endian encoding of v. Lexicographic
// order on the four encoded bytes always matches numeric order on v, and the
// fixed width makes the encoding trivially unambiguous when more key
// components follow. Used for docids and value slots in key position.
func PutUint32Sort(buf []byte, v uint32) []byte {
	return append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// DecodeUint32Sort decodes a fixed-width big-endian uint32 from the front of
// buf.
func DecodeUint32Sort(buf []byte) (v uint32, n int, res DecodeResult) {
	if len(buf) < 4 {
		return 0, 0, ShortBuffer
	}
	v = uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
	return v, 4, Ok
}

// stringTerminator is the two-byte sequence that ends a sort-preserving
// string. A literal 0x00 byte inside the string is escaped to 0x00 0xFF so
// it can never be confused with the terminator, and so that escaped strings
// still compare correctly byte-for-byte: 0x00 0xFF (escaped NUL, more string
// follows) sorts after 0x00 0x00 (terminator, string ends here) precisely
// because a string that continues after a NUL is "greater than" one that
// ends at the NUL, matching ordinary lexicographic comparison semantics.
var (
	rawNul  = []byte{0x00}
	escNul  = []byte{0x00, 0xff}
	termSeq = []byte{0x00, 0x00}
)

// PutStringSort appends a sort-preserving, self-delimiting encoding of s:
// any 0x00 byte is escaped to 0x00 0xFF, followed by a 0x00 0x00 terminator.
// This allows further key components to follow s unambiguously, and encodes
// the empty string as just the two-byte terminator.
func PutStringSort(buf []byte, s []byte) []byte {
	if bytes.IndexByte(s, 0) < 0 {
		buf = append(buf, s...)
	} else {
		rest := s
		for {
			i := bytes.IndexByte(rest, 0)
			if i < 0 {
				buf = append(buf, rest...)
				break
			}
			buf = append(buf, rest[:i]...)
			buf = append(buf, escNul...)
			rest = rest[i+1:]
		}
	}
	return append(buf, termSeq...)
}

// DecodeStringSort decodes a sort-preserving string from the front of buf,
// returning the unescaped bytes and the number of input bytes consumed
// (including the terminator).
func DecodeStringSort(buf []byte) (s []byte, n int, res DecodeResult) {
	var out []byte
	i := 0
	for {
		if i >= len(buf) {
			return nil, 0, ShortBuffer
		}
		if buf[i] != 0 {
			if out != nil {
				out = append(out, buf[i])
			}
			i++
			continue
		}
		// buf[i] == 0x00: either an escaped NUL (followed by 0xFF) or the
		// terminator (followed by 0x00).
		if i+1 >= len(buf) {
			return nil, 0, ShortBuffer
		}
		switch buf[i+1] {
		case 0xff:
			if out == nil {
				out = append(out, buf[:i]...)
			}
			out = append(out, 0)
			i += 2
		case 0x00:
			if out == nil {
				out = buf[:i]
			}
			return out, i + 2, Ok
		default:
			return nil, i + 2, Overflow
		}
	}
}
