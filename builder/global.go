package builder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/rpcpool/mircv/diskmap"
	"github.com/rpcpool/mircv/internal/mircverrors"
	"github.com/rpcpool/mircv/lexicon"
)

// mergeGlobalLexicon k-way merges every shard's temporary lexicon into
// outDir/global_lexicon, a disk-map of term -> aggregate document
// frequency n_i (the sum of each shard's local n_docs for that term).
func mergeGlobalLexicon(shardDirs []string, outDir string) error {
	sources := make([]diskmap.Source[lexicon.Value], 0, len(shardDirs))
	for _, dir := range shardDirs {
		data, err := os.ReadFile(dir + "/lexicon_temp")
		if err != nil {
			return fmt.Errorf("read %s/lexicon_temp: %w", dir, err)
		}
		r, err := diskmap.Open[lexicon.Value](data, lexicon.ValueCodec{})
		if err != nil {
			return fmt.Errorf("open %s/lexicon_temp: %w", dir, err)
		}
		sources = append(sources, diskmap.Source[lexicon.Value]{It: r.Begin()})
	}

	out := diskmap.NewWriter[uint64](diskmap.Uint64Codec{})
	transform := func(v lexicon.Value) uint64 { return v.NDocs }
	sum := func(_ []byte, vs []uint64) uint64 {
		var total uint64
		for _, v := range vs {
			total += v
		}
		return total
	}

	var buf bytes.Buffer
	if err := diskmap.MergeToWriter(&buf, out, sources, transform, sum); err != nil {
		return fmt.Errorf("k-way merge: %w", err)
	}
	return atomicWriteFile(outDir+"/global_lexicon", buf.Bytes())
}

// writeMetadata writes the global corpus statistics every shard needs for
// BM25/TF-IDF scoring (total document-length sum and document count), plus
// the fixed-point factor the sigma lexicons were serialized with, so a
// reader built against a different factor fails fast instead of silently
// mis-scaling every score upper bound.
func writeMetadata(outDir string, sumDocLen, numDocs uint64) error {
	var buf [24]byte
	binary.LittleEndian.PutUint64(buf[0:8], sumDocLen)
	binary.LittleEndian.PutUint64(buf[8:16], numDocs)
	binary.LittleEndian.PutUint64(buf[16:24], lexicon.FixedPointFactor)
	return atomicWriteFile(outDir+"/metadata", buf[:])
}

// ReadMetadata parses a metadata file written by writeMetadata, returning
// (sumDocLen, numDocs). A fixed-point-factor mismatch is
// mircverrors.WrongBitSize.
func ReadMetadata(data []byte) (sumDocLen, numDocs uint64, err error) {
	if len(data) < 24 {
		return 0, 0, fmt.Errorf("builder: metadata file too short (%d bytes)", len(data))
	}
	if factor := binary.LittleEndian.Uint64(data[16:24]); factor != lexicon.FixedPointFactor {
		return 0, 0, mircverrors.WrongBitSize{Field: "fixed-point factor", Got: factor, Want: lexicon.FixedPointFactor}
	}
	sumDocLen = binary.LittleEndian.Uint64(data[0:8])
	numDocs = binary.LittleEndian.Uint64(data[8:16])
	return sumDocLen, numDocs, nil
}
