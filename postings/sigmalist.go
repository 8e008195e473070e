package postings

import (
	"github.com/rpcpool/mircv/codec/unary"
	"github.com/rpcpool/mircv/lexicon"
	"github.com/rpcpool/mircv/scorer"
)

// SigmaList is a posting-list iterator over a lexicon.SigmaValue: it
// tracks which skip block the cursor currently sits in, so NextGEQ can
// jump whole blocks via their recorded offsets instead of scanning
// posting-by-posting, and so the query engine can read a block's score
// upper bound for Block-Max MaxScore pruning.
type SigmaList struct {
	base
	sv           lexicon.SigmaValue
	blockSize    uint64
	currentBlock int // index into sv.Skips of the block the cursor is in
}

// NewSigmaList returns an iterator primed at the first posting sv
// describes.
func NewSigmaList(docStream, freqStream []byte, sv lexicon.SigmaValue, idf, avgdl float64, doclenFn DocLenFunc) *SigmaList {
	return newSigmaListWithBlockSize(docStream, freqStream, sv, idf, avgdl, doclenFn, lexicon.SkipBlockSize)
}

func newSigmaListWithBlockSize(docStream, freqStream []byte, sv lexicon.SigmaValue, idf, avgdl float64, doclenFn DocLenFunc, blockSize uint64) *SigmaList {
	l := &SigmaList{
		base:      newBase(docStream, freqStream, sv.StartDocID, sv.StartFreq, sv.NDocs, idf, avgdl, doclenFn),
		sv:        sv,
		blockSize: blockSize,
	}
	l.advance()
	return l
}

func (l *SigmaList) advance() {
	l.base.advance()
	skips := l.sv.Skips
	for l.currentBlock < len(skips) && !l.done && l.curDocID > skips[l.currentBlock].LastDocID {
		l.currentBlock++
	}
}

func (l *SigmaList) Next() bool {
	if l.done {
		return false
	}
	l.advance()
	return !l.done
}

// SkipBlock repositions the cursor to the start of the block after the
// current one using the recorded skip pointer, without decoding any of the
// postings it jumps over.
func (l *SigmaList) SkipBlock() bool {
	skips := l.sv.Skips
	if l.currentBlock >= len(skips) {
		return false
	}
	sp := skips[l.currentBlock]
	l.currentBlock++
	l.docReader.At(int(sp.DocIDOffset))
	byteOff, bitOff := unary.DeserializeBitOffset(sp.FreqOffset)
	l.freqReader.At(int(byteOff), bitOff)
	l.nRead = uint64(l.currentBlock) * l.blockSize
	l.advance()
	return true
}

// NextG advances to the first posting with docid strictly greater than d.
func (l *SigmaList) NextG(d uint64) bool {
	for !l.done && l.curDocID <= d {
		l.advance()
	}
	return !l.done
}

// NextGEQ advances to the first posting with docid >= d, first skipping
// whole blocks whose last docid is still < d, then scanning linearly
// within the landing block.
func (l *SigmaList) NextGEQ(d uint64) bool {
	skips := l.sv.Skips
	for l.currentBlock < len(skips) && skips[l.currentBlock].LastDocID < d {
		if !l.SkipBlock() {
			break
		}
	}
	for !l.done && l.curDocID < d {
		l.advance()
	}
	return !l.done
}

// TermUB returns s's term-level score upper bound for this list.
func (l *SigmaList) TermUB(s scorer.Scorer) float64 {
	return s.TermSigma(l.sv)
}

// BlockMaxUB returns s's score upper bound for the skip block covering
// docid d, searching forward from the cursor's block (d never lies behind
// the cursor in the query algorithms), and falling back to the term-level
// sigma once d is past the last recorded skip block. A bound read from an
// earlier block than the one holding d could undershoot and prune a
// document that belongs in the top-k, so the block is located by d, not by
// the cursor.
func (l *SigmaList) BlockMaxUB(d uint64, s scorer.Scorer) float64 {
	skips := l.sv.Skips
	for i := l.currentBlock; i < len(skips); i++ {
		if skips[i].LastDocID >= d {
			return s.BlockSigma(skips[i])
		}
	}
	return l.TermUB(s)
}
