// Package lexicon defines the per-term value types stored in a shard's
// local lexicon disk-map: the plain posting-list descriptor the builder
// writes during the chunk-merge pass, and the sigma-augmented descriptor
// the builder's skip-list pass replaces it with, used at query time for
// scoring and Block-Max MaxScore pruning.
package lexicon

import (
	"math"

	"github.com/rpcpool/mircv/internal/mircverrors"
)

// FixedPointFactor is the scale at which floating-point score upper bounds
// (sigma) are stored as integers in the disk-map, per the canonical
// fixed_point_factor = 100.
const FixedPointFactor = 100

// SkipBlockSize is the number of postings each SkipPointer in a
// SigmaValue's skip-list covers.
const SkipBlockSize = 2000

// Value is the descriptor a shard's local lexicon maps a term to before the
// sigma/skip-list pass has run: byte ranges into the shard's docid and freq
// streams, plus the posting count.
type Value struct {
	StartDocID uint64
	EndDocID   uint64
	StartFreq  uint64
	EndFreq    uint64
	NDocs      uint64
}

// ValueCodec is the diskmap.ValueCodec for Value: five fixed fields.
type ValueCodec struct{}

func (ValueCodec) SerializeSize() int { return 5 }

func (ValueCodec) Encode(v Value) []uint64 {
	return []uint64{v.StartDocID, v.EndDocID, v.StartFreq, v.EndFreq, v.NDocs}
}

func (ValueCodec) Decode(fields []uint64) (Value, error) {
	if len(fields) != 5 {
		return Value{}, mircverrors.ErrDecodeOverrun
	}
	return Value{
		StartDocID: fields[0],
		EndDocID:   fields[1],
		StartFreq:  fields[2],
		EndFreq:    fields[3],
		NDocs:      fields[4],
	}, nil
}

// SkipPointer closes one block of SkipBlockSize postings: the score upper
// bounds realized within the block, its last (largest) docid, and the
// docid/freq stream offsets where the next block begins.
type SkipPointer struct {
	Bm25UbFixed  uint64
	TfidfUbFixed uint64
	LastDocID    uint64
	DocIDOffset  uint64
	FreqOffset   uint64 // packed via unary.SerializeBitOffset
}

// SigmaValue is what the builder's sigma pass replaces Value with: the same
// byte ranges, plus the term's global score upper bounds and its
// skip-list.
type SigmaValue struct {
	Value
	Bm25SigmaFixed  uint64
	TfidfSigmaFixed uint64
	Skips           []SkipPointer
}

// SigmaValueCodec is the diskmap.ValueCodec for SigmaValue. Its field count
// varies with the skip-list length, so SerializeSize reports 0 (variable):
// the disk-map writer length-prefixes the flattened field slice, and Decode
// re-derives the skip count from the embedded fields[7].
type SigmaValueCodec struct{}

func (SigmaValueCodec) SerializeSize() int { return 0 }

func (SigmaValueCodec) Encode(v SigmaValue) []uint64 {
	fields := make([]uint64, 0, 8+5*len(v.Skips))
	fields = append(fields,
		v.StartDocID, v.EndDocID, v.StartFreq, v.EndFreq, v.NDocs,
		v.Bm25SigmaFixed, v.TfidfSigmaFixed, uint64(len(v.Skips)),
	)
	for _, s := range v.Skips {
		fields = append(fields, s.Bm25UbFixed, s.TfidfUbFixed, s.LastDocID, s.DocIDOffset, s.FreqOffset)
	}
	return fields
}

func (SigmaValueCodec) Decode(fields []uint64) (SigmaValue, error) {
	if len(fields) < 8 {
		return SigmaValue{}, mircverrors.ErrDecodeOverrun
	}
	v := SigmaValue{
		Value: Value{
			StartDocID: fields[0],
			EndDocID:   fields[1],
			StartFreq:  fields[2],
			EndFreq:    fields[3],
			NDocs:      fields[4],
		},
		Bm25SigmaFixed:  fields[5],
		TfidfSigmaFixed: fields[6],
	}
	nSkip := int(fields[7])
	want := 8 + 5*nSkip
	if len(fields) != want {
		return SigmaValue{}, mircverrors.ErrDecodeOverrun
	}
	v.Skips = make([]SkipPointer, nSkip)
	for i := 0; i < nSkip; i++ {
		base := 8 + 5*i
		v.Skips[i] = SkipPointer{
			Bm25UbFixed:  fields[base],
			TfidfUbFixed: fields[base+1],
			LastDocID:    fields[base+2],
			DocIDOffset:  fields[base+3],
			FreqOffset:   fields[base+4],
		}
	}
	return v, nil
}

// FixedToFloat converts a FixedPointFactor-scaled integer back to float64.
func FixedToFloat(x uint64) float64 {
	return float64(x) / FixedPointFactor
}

// FloatToFixed converts a score upper bound to its FixedPointFactor-scaled
// integer representation, rounding up so a stored sigma never
// underestimates the true maximum: pruning on an underestimate could skip
// a document that actually belongs in the top-k.
func FloatToFixed(x float64) uint64 {
	if x <= 0 {
		return 0
	}
	return uint64(math.Ceil(x * FixedPointFactor))
}
