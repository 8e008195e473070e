//go:build debug

package diskmap

import "github.com/cespare/xxhash/v2"

// Debug builds verify that a block's recorded head bytes still hash to the
// same value once a reader has finished scanning it, catching any
// off-by-one in the block/heads bookkeeping during development. Release
// builds pay nothing for this: see hash_nodebug.go.
func init() {
	computeHeadHashes = func(heads [][]byte) []uint64 {
		out := make([]uint64, len(heads))
		for i, h := range heads {
			out[i] = xxhash.Sum64(h)
		}
		return out
	}
}
