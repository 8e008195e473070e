package diskmap

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/rpcpool/mircv/codec/varbyte"
	"github.com/rpcpool/mircv/internal/mircverrors"
)

// Writer builds a disk-map incrementally. Keys must be added in strictly
// increasing lexicographic order; Add asserts this and rejects empty or
// over-long keys.
type Writer[V any] struct {
	codec    ValueCodec[V]
	pageSize int

	pages [][]byte
	cur   []byte
	pos   int

	headKey []byte // head key of the current block, for prefix compression
	heads   [][]byte

	lastKey []byte
	count   uint64

	started bool
}

// NewWriter constructs a writer around the given value codec using
// DefaultPageSize.
func NewWriter[V any](codec ValueCodec[V]) *Writer[V] {
	return NewWriterSize(codec, DefaultPageSize)
}

// NewWriterSize constructs a writer with an explicit page size, used by
// tests to exercise block-boundary behavior with small fixtures. Page
// sizes below the metadata page's own footprint are bumped up to it.
func NewWriterSize[V any](codec ValueCodec[V], pageSize int) *Writer[V] {
	if pageSize < metaPageSize {
		pageSize = metaPageSize
	}
	return &Writer[V]{codec: codec, pageSize: pageSize}
}

func encodeValue(fields []uint64, fixedSize int) []byte {
	var out []byte
	if fixedSize == 0 {
		out = varbyte.Encode(out, uint64(len(fields)))
	}
	for _, f := range fields {
		out = varbyte.Encode(out, f)
	}
	return out
}

// Add inserts key -> value. Returns mircverrors.ErrEmptyKey,
// mircverrors.ErrKeyTooLong, or mircverrors.ErrInvalidOrder on a
// contract violation.
func (w *Writer[V]) Add(key []byte, value V) error {
	if len(key) == 0 {
		return mircverrors.ErrEmptyKey
	}
	if len(key) >= 255 {
		return mircverrors.ErrKeyTooLong
	}
	if w.lastKey != nil && bytes.Compare(key, w.lastKey) <= 0 {
		return mircverrors.ErrInvalidOrder
	}

	fields := w.codec.Encode(value)
	valueBytes := encodeValue(fields, w.codec.SerializeSize())

	commonLen := 0
	if w.started {
		commonLen = commonPrefixLen(w.headKey, key)
		if commonLen > 255 {
			commonLen = 255
		}
	}
	nonHeadNeeded := 1 + (len(key) - commonLen) + 1 + len(valueBytes)

	newBlock := !w.started || w.pos+nonHeadNeeded > w.pageSize
	if newBlock {
		if w.started {
			w.pages = append(w.pages, w.cur)
		}
		w.cur = make([]byte, w.pageSize)
		w.pos = 0
		w.started = true

		var headBuf []byte
		headBuf = varbyte.Encode(headBuf, w.count)
		headBuf = append(headBuf, valueBytes...)
		w.writeCur(headBuf)

		keyCopy := append([]byte(nil), key...)
		w.headKey = keyCopy
		w.heads = append(w.heads, keyCopy)
	} else {
		entry := make([]byte, 0, nonHeadNeeded)
		entry = append(entry, byte(commonLen))
		entry = append(entry, key[commonLen:]...)
		entry = append(entry, 0x00)
		entry = append(entry, valueBytes...)
		w.writeCur(entry)
	}

	w.lastKey = append([]byte(nil), key...)
	w.count++
	return nil
}

func (w *Writer[V]) writeCur(b []byte) {
	copy(w.cur[w.pos:], b)
	w.pos += len(b)
}

func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// Finalize pads the last page, writes the heads section, and writes page 0
// metadata, flushing everything to w.
func (w *Writer[V]) Finalize(out io.Writer) error {
	if w.started {
		w.pages = append(w.pages, w.cur)
		w.cur = nil
		w.started = false
	}

	var headsBuf bytes.Buffer
	for _, h := range w.heads {
		headsBuf.Write(h)
		headsBuf.WriteByte(0x00)
	}

	nBlocks := uint64(len(w.pages))
	offsetToHeads := uint64(w.pageSize) * (1 + nBlocks)

	meta := make([]byte, w.pageSize)
	binary.LittleEndian.PutUint64(meta[0:8], w.count)
	binary.LittleEndian.PutUint64(meta[8:16], offsetToHeads)
	binary.LittleEndian.PutUint64(meta[16:24], nBlocks)
	binary.LittleEndian.PutUint64(meta[24:32], uint64(w.pageSize))

	if _, err := out.Write(meta); err != nil {
		return err
	}
	for _, p := range w.pages {
		if _, err := out.Write(p); err != nil {
			return err
		}
	}
	if _, err := out.Write(headsBuf.Bytes()); err != nil {
		return err
	}
	return nil
}

// Len returns the number of entries added so far.
func (w *Writer[V]) Len() uint64 {
	return w.count
}
