// Package diskmap implements a sorted, page-paginated, prefix-compressed
// string -> V store on a single byte stream, plus a streaming k-way merge
// over multiple disk-maps. It backs the local and global term lexicons.
//
// Physical format (fixed page size B):
//
//	Page 0 (metadata): (M uint64, offsetToHeads uint64, nBlocks uint64,
//	                   pageSize uint64). The page size is stored so a
//	                   reader opened with the wrong B fails fast instead
//	                   of binary-searching garbage.
//	Pages 1..nBlocks:  data blocks. A block starts with a VarByte-encoded
//	                   global index of its head entry, then the head's
//	                   serialized value, then zero or more non-head entries
//	                   of (u8 commonPrefixLen, NUL-terminated postfix,
//	                   serialized value). When the remainder of a page
//	                   cannot hold another entry the writer pads with zeros
//	                   to the next page boundary.
//	Heads section:     for each block, its full head key, NUL-terminated,
//	                   in block order. Binary search over this dense array
//	                   locates the block that may contain a query key.
package diskmap

import "github.com/rpcpool/mircv/internal/mircverrors"

// DefaultPageSize is the page size (B) used by the production on-disk
// format. Tests use smaller page sizes to exercise the block-boundary and
// binary-search logic without huge fixtures.
const DefaultPageSize = 4096

// metaPageSize is the used portion of page 0, regardless of B: four
// little-endian uint64 fields. It is also the smallest page size a writer
// will accept.
const metaPageSize = 32

// computeHeadHashes is swapped in by hash_debug.go/hash_nodebug.go
// depending on the "debug" build tag: it hashes each block's head key with
// xxhash for VerifyHeadHashes' later re-check, or does nothing in release
// builds.
var computeHeadHashes func(heads [][]byte) []uint64

// ValueCodec describes how a value type V is serialized into and parsed
// out of a sequence of VarByte-encoded uint64 fields. SerializeSize
// returns the constant field count for fixed-size types, or 0 for a
// variable-length type whose field count is itself length-prefixed in the
// stream.
type ValueCodec[V any] interface {
	SerializeSize() int
	Encode(v V) []uint64
	Decode(fields []uint64) (V, error)
}

// Uint64Codec is the ValueCodec for the simplest possible value: a single
// uint64 (used by the global lexicon, term -> aggregate document
// frequency n_i).
type Uint64Codec struct{}

func (Uint64Codec) SerializeSize() int { return 1 }

func (Uint64Codec) Encode(v uint64) []uint64 { return []uint64{v} }

func (Uint64Codec) Decode(fields []uint64) (uint64, error) {
	if len(fields) != 1 {
		return 0, mircverrors.ErrDecodeOverrun
	}
	return fields[0], nil
}
