// Package varbyte implements byte-aligned variable-length encoding of
// unsigned 64-bit integers. Each byte carries 7 value bits little-endian
// group-first, with the MSB used as a continuation flag: 1 means "more
// bytes follow", 0 marks the final byte. Zero encodes as the single byte
// 0x00.
package varbyte

import "github.com/rpcpool/mircv/internal/mircverrors"

// MaxEncodedLen is the largest number of bytes a single uint64 can occupy
// (ceil(64/7) = 10).
const MaxEncodedLen = 10

const continuation = 0x80
const payloadMask = 0x7f

// Encode appends the VarByte encoding of n to dst and returns the extended
// slice.
func Encode(dst []byte, n uint64) []byte {
	for {
		b := byte(n & payloadMask)
		n >>= 7
		if n != 0 {
			dst = append(dst, b|continuation)
		} else {
			dst = append(dst, b)
			return dst
		}
	}
}

// AppendTo encodes n into a fixed 10-byte buffer and returns the number of
// bytes used. This mirrors the disk-map writer's internal scratch buffer,
// which avoids allocating for every key/value it serializes.
func AppendTo(buf *[MaxEncodedLen]byte, n uint64) (usedBytes int) {
	for {
		b := byte(n & payloadMask)
		n >>= 7
		if n != 0 {
			buf[usedBytes] = b | continuation
			usedBytes++
		} else {
			buf[usedBytes] = b
			usedBytes++
			return usedBytes
		}
	}
}

// Decode reads a single VarByte-encoded value starting at src[0] and
// returns the value and the number of bytes consumed. It never reads past
// a continuation byte lacking a terminator; callers must ensure src is
// long enough to contain a full group.
func Decode(src []byte) (value uint64, consumed int) {
	var shift uint
	for i := 0; i < len(src) && i < MaxEncodedLen; i++ {
		b := src[i]
		value |= uint64(b&payloadMask) << shift
		if b&continuation == 0 {
			return value, i + 1
		}
		shift += 7
	}
	return value, 0
}

// Reader is a lazy, restartable streaming decoder over a byte slice. It
// never begins mid-group: At(offset) is only valid when offset is a known
// group boundary.
type Reader struct {
	buf []byte
	pos int
}

// NewReader constructs a streaming decoder over buf starting at byte 0.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// At repositions the cursor to a known group-start byte offset.
func (r *Reader) At(byteOffset int) {
	r.pos = byteOffset
}

// GetRawIterator returns the current byte position, so callers can record
// absolute offsets (e.g. block-boundary bookkeeping in the sigma pass).
func (r *Reader) GetRawIterator() int {
	return r.pos
}

// Done reports whether the cursor has reached the end of the buffer.
func (r *Reader) Done() bool {
	return r.pos >= len(r.buf)
}

// Next decodes the value at the current cursor and advances past it. It
// returns mircverrors.ErrDecodeOverrun if the cursor runs off the end of
// the buffer without finding a terminating byte.
func (r *Reader) Next() (uint64, error) {
	value, consumed := Decode(r.buf[r.pos:])
	if consumed == 0 {
		return 0, mircverrors.ErrDecodeOverrun
	}
	r.pos += consumed
	return value, nil
}
