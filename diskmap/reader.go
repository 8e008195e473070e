package diskmap

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/rpcpool/mircv/codec/varbyte"
	"github.com/rpcpool/mircv/internal/mircverrors"
)

// Reader parses a disk-map out of a mapped byte region. The region's
// lifetime must exceed that of any iterator derived from the Reader.
type Reader[V any] struct {
	data     []byte
	codec    ValueCodec[V]
	pageSize int

	m             uint64
	offsetToHeads uint64
	nBlocks       uint64

	heads     [][]byte // head key per block
	headStart []int    // absolute byte offset of block i's data page

	headHashes []uint64 // xxhash of each head key, nil unless built with -tags debug
}

// Open parses page 0 and the heads section of data.
func Open[V any](data []byte, codec ValueCodec[V]) (*Reader[V], error) {
	return OpenSize(data, codec, DefaultPageSize)
}

// OpenSize is Open with an explicit page size. The page size recorded in
// the metadata page must match, or OpenSize fails with
// mircverrors.WrongBitSize: every offset computation below depends on it.
func OpenSize[V any](data []byte, codec ValueCodec[V], pageSize int) (*Reader[V], error) {
	if pageSize < metaPageSize || len(data) < pageSize {
		return nil, fmt.Errorf("diskmap: data too short for a metadata page")
	}
	if stored := binary.LittleEndian.Uint64(data[24:32]); stored != uint64(pageSize) {
		return nil, mircverrors.WrongBitSize{Field: "diskmap page size", Got: stored, Want: uint64(pageSize)}
	}
	r := &Reader[V]{
		data:          data,
		codec:         codec,
		pageSize:      pageSize,
		m:             binary.LittleEndian.Uint64(data[0:8]),
		offsetToHeads: binary.LittleEndian.Uint64(data[8:16]),
		nBlocks:       binary.LittleEndian.Uint64(data[16:24]),
	}

	r.heads = make([][]byte, r.nBlocks)
	r.headStart = make([]int, r.nBlocks)
	pos := int(r.offsetToHeads)
	for i := uint64(0); i < r.nBlocks; i++ {
		end := bytes.IndexByte(data[pos:], 0x00)
		if end < 0 {
			return nil, fmt.Errorf("diskmap: truncated heads section")
		}
		r.heads[i] = data[pos : pos+end]
		r.headStart[i] = pageSize * (1 + int(i))
		pos += end + 1
	}
	r.headHashes = computeHeadHashes(r.heads)
	return r, nil
}

// VerifyHeadHashes re-hashes every block's head key and compares it
// against the hash recorded at Open time. It is a no-op (always nil)
// unless the binary was built with -tags debug; use it in development to
// catch a block/heads bookkeeping bug that corrupts a head key in place
// without tripping any other check.
func (r *Reader[V]) VerifyHeadHashes() error {
	if r.headHashes == nil {
		return nil
	}
	fresh := computeHeadHashes(r.heads)
	for i := range fresh {
		if fresh[i] != r.headHashes[i] {
			return fmt.Errorf("diskmap: head hash mismatch at block %d", i)
		}
	}
	return nil
}

// Size returns the total number of entries (M).
func (r *Reader[V]) Size() uint64 {
	return r.m
}

func (r *Reader[V]) decodeValueAt(offset int) (V, int, error) {
	var zero V
	size := r.codec.SerializeSize()
	rdr := varbyte.NewReader(r.data)
	rdr.At(offset)
	var n int
	if size == 0 {
		count, err := rdr.Next()
		if err != nil {
			return zero, 0, err
		}
		size = int(count)
	}
	fields := make([]uint64, size)
	for i := 0; i < size; i++ {
		v, err := rdr.Next()
		if err != nil {
			return zero, 0, err
		}
		fields[i] = v
	}
	n = rdr.GetRawIterator() - offset
	val, err := r.codec.Decode(fields)
	if err != nil {
		return zero, 0, err
	}
	return val, n, nil
}

// isPadSentinel reports whether offset looks like padding rather than a
// real non-head entry: too little room left in the page, or a
// commonPrefixLen == 0 byte immediately followed by a NUL (which can never
// occur for a real entry, since a common-prefix-0 entry's postfix is the
// whole, non-empty key).
func (r *Reader[V]) isPadSentinel(offset int) bool {
	pageOff := offset % r.pageSize
	remaining := r.pageSize - pageOff
	if remaining <= 2 {
		return true
	}
	return r.data[offset] == 0x00 && r.data[offset+1] == 0x00
}

func (r *Reader[V]) nextPageBoundary(offset int) int {
	pageOff := offset % r.pageSize
	return offset + (r.pageSize - pageOff)
}

// entry holds one decoded (key, value) pair plus cursor bookkeeping used
// by Iterator.
type entry[V any] struct {
	key   []byte
	value V
}

func (r *Reader[V]) parseAt(offset int, block int) (entry[V], int, error) {
	if offset%r.pageSize == 0 {
		rdr := varbyte.NewReader(r.data)
		rdr.At(offset)
		if _, err := rdr.Next(); err != nil { // global index of head entry
			return entry[V]{}, 0, err
		}
		valueOffset := rdr.GetRawIterator()
		value, n, err := r.decodeValueAt(valueOffset)
		if err != nil {
			return entry[V]{}, 0, err
		}
		return entry[V]{key: r.heads[block], value: value}, valueOffset + n, nil
	}

	commonLen := int(r.data[offset])
	postfixStart := offset + 1
	nul := bytes.IndexByte(r.data[postfixStart:], 0x00)
	if nul < 0 {
		return entry[V]{}, 0, fmt.Errorf("diskmap: truncated entry")
	}
	postfix := r.data[postfixStart : postfixStart+nul]
	key := make([]byte, 0, commonLen+len(postfix))
	key = append(key, r.heads[block][:commonLen]...)
	key = append(key, postfix...)
	valueOffset := postfixStart + nul + 1
	value, n, err := r.decodeValueAt(valueOffset)
	if err != nil {
		return entry[V]{}, 0, err
	}
	return entry[V]{key: key, value: value}, valueOffset + n, nil
}

// Iterator is a stateful forward cursor over a disk-map's entries in key
// order.
type Iterator[V any] struct {
	r       *Reader[V]
	index   uint64
	offset  int
	block   int
	current entry[V]
	done    bool
}

// Begin returns an iterator positioned at the first entry, or an
// already-exhausted iterator if the disk-map is empty.
func (r *Reader[V]) Begin() *Iterator[V] {
	it := &Iterator[V]{r: r}
	if r.m == 0 {
		it.done = true
		return it
	}
	it.offset = r.pageSize // first data page
	it.advance()
	return it
}

// End returns an exhausted iterator, used as a miss sentinel by Find.
func (r *Reader[V]) End() *Iterator[V] {
	return &Iterator[V]{r: r, done: true}
}

func (it *Iterator[V]) advance() {
	if it.index >= it.r.m {
		it.done = true
		return
	}
	offset := it.offset
	if offset%it.r.pageSize != 0 && it.r.isPadSentinel(offset) {
		offset = it.r.nextPageBoundary(offset)
	}
	if offset%it.r.pageSize == 0 {
		// An entry can end exactly on a page boundary, so the block number
		// is derived from the offset rather than counted on sentinel jumps.
		it.block = offset/it.r.pageSize - 1
	}
	ent, next, err := it.r.parseAt(offset, it.block)
	if err != nil {
		it.done = true
		return
	}
	it.current = ent
	it.offset = next
	it.index++
}

// Done reports whether the iterator has been exhausted.
func (it *Iterator[V]) Done() bool {
	return it.done
}

// Key returns the current entry's key. Valid only when !Done().
func (it *Iterator[V]) Key() []byte {
	return it.current.key
}

// Value returns the current entry's value. Valid only when !Done().
func (it *Iterator[V]) Value() V {
	return it.current.value
}

// Next advances the iterator and reports whether a new current entry is
// available.
func (it *Iterator[V]) Next() bool {
	if it.done {
		return false
	}
	it.advance()
	return !it.done
}

// Find returns an iterator positioned at key, or an exhausted iterator if
// key is absent.
func (r *Reader[V]) Find(key []byte) *Iterator[V] {
	if r.nBlocks == 0 {
		return r.End()
	}
	// Binary search heads for the largest head <= key.
	lo, hi := 0, int(r.nBlocks)-1
	block := -1
	for lo <= hi {
		mid := (lo + hi) / 2
		if bytes.Compare(r.heads[mid], key) <= 0 {
			block = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	if block < 0 {
		return r.End()
	}

	offset := r.headStart[block]
	rdr := varbyte.NewReader(r.data)
	rdr.At(offset)
	idx, err := rdr.Next()
	if err != nil {
		return r.End()
	}

	it := &Iterator[V]{r: r, offset: offset, block: block, index: idx}
	it.advance()
	for !it.done {
		cmp := bytes.Compare(it.current.key, key)
		if cmp == 0 {
			return it
		}
		if cmp > 0 {
			break
		}
		if !it.Next() {
			break
		}
		if it.block != block {
			break
		}
	}
	return r.End()
}

// Get returns the value stored at key, or mircverrors.ErrKeyNotFound.
func (r *Reader[V]) Get(key []byte) (V, error) {
	it := r.Find(key)
	if it.Done() {
		var zero V
		return zero, mircverrors.ErrKeyNotFound
	}
	return it.Value(), nil
}
