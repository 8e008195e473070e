// Package postings implements forward iterators over a term's posting
// list: the plain List backed by a lexicon.Value (used before the
// sigma/skip-list pass, and for scorers that don't need block pruning),
// and SigmaList, which additionally exposes the skip-list a
// lexicon.SigmaValue carries so the query engine can jump whole blocks and
// read per-block score upper bounds.
//
// Both read two already-mapped byte regions per shard: the docid stream
// (VarByte-encoded, strictly increasing absolute docids) and the freq
// stream (unary-encoded term frequencies, one per docid, bit-aligned
// across the whole stream).
package postings

import (
	"github.com/rpcpool/mircv/codec/unary"
	"github.com/rpcpool/mircv/codec/varbyte"
	"github.com/rpcpool/mircv/lexicon"
	"github.com/rpcpool/mircv/scorer"
)

// DocLenFunc looks up a document's length (sum of term frequencies) by
// docid, used by scorers that need document-length normalization (BM25).
type DocLenFunc func(docid uint64) uint64

// Iterator is the common forward-cursor contract both List and SigmaList
// satisfy. The query engine programs against this interface when it does
// not need block-level pruning (DAAT disjunctive/conjunctive); BMM asserts
// for the richer postings.Skippable interface instead.
type Iterator interface {
	// DocID returns the current posting's docid. Invalid once Done.
	DocID() uint64
	// Freq returns the current posting's term frequency. Invalid once Done.
	Freq() uint64
	// Done reports whether the list is exhausted.
	Done() bool
	// Next advances by exactly one posting.
	Next() bool
	// NextG advances to the first posting with docid > d, or to Done. A
	// cursor already past d does not move.
	NextG(d uint64) bool
	// NextGEQ advances to the first posting with docid >= d, or to Done.
	NextGEQ(d uint64) bool
	// Score scores the current posting with s.
	Score(s scorer.Scorer) float64
	// GetOffset returns the docid-stream byte offset and freq-stream
	// packed bit offset of the current posting, used by the sigma pass to
	// record skip pointers.
	GetOffset() (docIDOffset int, freqOffset uint64)
}

// Skippable is satisfied by posting lists carrying a skip-list (SigmaList).
type Skippable interface {
	Iterator
	// SkipBlock jumps the cursor to the start of the next skip block,
	// reporting false if there are no more blocks to skip to.
	SkipBlock() bool
	// BlockMaxUB returns s's score upper bound for the skip block covering
	// docid d, or the term-level sigma if d falls past the last recorded
	// skip block (the trailing partial block carries no pointer of its
	// own). The cursor does not move.
	BlockMaxUB(d uint64, s scorer.Scorer) float64
	// TermUB returns s's term-level score upper bound (sigma).
	TermUB(s scorer.Scorer) float64
}

type base struct {
	docReader  *varbyte.Reader
	freqReader *unary.Reader

	ndocs uint64
	nRead uint64

	idf      float64
	avgdl    float64
	doclenFn DocLenFunc

	curDocID      uint64
	curFreq       uint64
	curDocOffset  int
	curFreqOffset uint64

	done bool
}

func newBase(docStream, freqStream []byte, startDocID, startFreqBit uint64, ndocs uint64, idf, avgdl float64, doclenFn DocLenFunc) base {
	docR := varbyte.NewReader(docStream)
	docR.At(int(startDocID))
	byteOff, bitOff := unary.DeserializeBitOffset(startFreqBit)
	freqR := unary.NewReader(freqStream)
	freqR.At(int(byteOff), bitOff)
	return base{
		docReader:  docR,
		freqReader: freqR,
		ndocs:      ndocs,
		idf:        idf,
		avgdl:      avgdl,
		doclenFn:   doclenFn,
	}
}

func (b *base) advance() {
	if b.nRead >= b.ndocs {
		b.done = true
		return
	}
	b.curDocOffset = b.docReader.GetRawIterator()
	byteOff, bitOff := b.freqReader.GetRawIterator()
	b.curFreqOffset = unary.SerializeBitOffset(int64(byteOff), bitOff)

	docid, err := b.docReader.Next()
	if err != nil {
		b.done = true
		return
	}
	freq, err := b.freqReader.Next()
	if err != nil {
		b.done = true
		return
	}
	b.curDocID = docid
	b.curFreq = freq
	b.nRead++
}

func (b *base) DocID() uint64 { return b.curDocID }
func (b *base) Freq() uint64  { return b.curFreq }
func (b *base) Done() bool    { return b.done }

func (b *base) GetOffset() (int, uint64) { return b.curDocOffset, b.curFreqOffset }

func (b *base) Score(s scorer.Scorer) float64 {
	if b.done || b.curFreq == 0 {
		return 0
	}
	var doclen uint64
	if s.NeedsDocLength() && b.doclenFn != nil {
		doclen = b.doclenFn(b.curDocID)
	}
	return s.Score(b.curFreq, b.idf, doclen, b.avgdl)
}

// List is a plain posting-list iterator over a lexicon.Value (no
// skip-list).
type List struct {
	base
}

// NewList returns an iterator primed at the first posting lv describes, or
// an already-Done iterator if lv.NDocs == 0.
func NewList(docStream, freqStream []byte, lv lexicon.Value, idf, avgdl float64, doclenFn DocLenFunc) *List {
	l := &List{base: newBase(docStream, freqStream, lv.StartDocID, lv.StartFreq, lv.NDocs, idf, avgdl, doclenFn)}
	l.advance()
	return l
}

func (l *List) Next() bool {
	if l.done {
		return false
	}
	l.advance()
	return !l.done
}

func (l *List) NextG(d uint64) bool {
	for !l.done && l.curDocID <= d {
		l.advance()
	}
	return !l.done
}

func (l *List) NextGEQ(d uint64) bool {
	for !l.done && l.curDocID < d {
		l.advance()
	}
	return !l.done
}
