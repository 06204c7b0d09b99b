package store

import "github.com/pkg/errors"

// Variable-length unsigned integer codec in the UTF-8 style: the number of
// leading one bits in the first byte gives the total encoded length minus
// one, and the remaining bits of the first byte are the high-order payload
// bits. Values up to 2^63-1 encode in one to nine bytes. Unlike LEB128 the
// encoded form sorts bytewise in value order, which keeps report sequence
// suffixes ordered inside a bbolt key range.

const maxVarintLen = 9

var (
	// ErrVarintOffset is returned when decoding starts at or past the end
	// of the buffer.
	ErrVarintOffset = errors.New("varint: offset beyond buffer")
	// ErrVarintTruncated is returned when the first byte promises more
	// bytes than the buffer holds.
	ErrVarintTruncated = errors.New("varint: truncated sequence")
	// ErrVarintRange is returned when encoding a value above 2^63-1.
	ErrVarintRange = errors.New("varint: value out of range")
)

// varintLen returns the encoded length in bytes for v.
func varintLen(v uint64) int {
	// n extra bytes carry 8n bits; the first byte carries 7-n more
	// (except n=8, where the first byte is the 0xFF marker and carries none).
	switch {
	case v < 1<<7:
		return 1
	case v < 1<<14:
		return 2
	case v < 1<<21:
		return 3
	case v < 1<<28:
		return 4
	case v < 1<<35:
		return 5
	case v < 1<<42:
		return 6
	case v < 1<<49:
		return 7
	case v < 1<<56:
		return 8
	default:
		return 9
	}
}

// appendVarint appends the encoding of v to dst and returns the extended
// slice. Values of 2^63 and above are rejected.
func appendVarint(dst []byte, v uint64) ([]byte, error) {
	if v >= 1<<63 {
		return dst, errors.Wrapf(ErrVarintRange, "%d", v)
	}
	n := varintLen(v)
	if n == 1 {
		return append(dst, byte(v)), nil
	}
	extra := n - 1
	// Leading-ones length marker ORed with the payload's high bits.
	marker := byte(0xFF << (8 - extra) & 0xFF)
	first := marker | byte(v>>(8*extra))
	dst = append(dst, first)
	for i := extra - 1; i >= 0; i-- {
		dst = append(dst, byte(v>>(8*i)))
	}
	return dst, nil
}

// readVarint decodes a varint from buf at offset, returning the value and
// the offset just past the sequence.
func readVarint(buf []byte, offset int) (uint64, int, error) {
	if offset < 0 || offset >= len(buf) {
		return 0, 0, errors.Wrapf(ErrVarintOffset, "offset %d, len %d", offset, len(buf))
	}
	first := buf[offset]
	extra := 0
	for mask := byte(0x80); mask != 0 && first&mask != 0; mask >>= 1 {
		extra++
	}
	if offset+1+extra > len(buf) {
		return 0, 0, errors.Wrapf(ErrVarintTruncated, "need %d bytes at offset %d, len %d", 1+extra, offset, len(buf))
	}
	var v uint64
	if extra < 8 {
		v = uint64(first & (0xFF >> extra >> 1))
	}
	for i := 0; i < extra; i++ {
		v = v<<8 | uint64(buf[offset+1+i])
	}
	return v, offset + 1 + extra, nil
}
