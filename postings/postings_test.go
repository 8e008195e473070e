package postings

import (
	"testing"

	"github.com/rpcpool/mircv/codec/unary"
	"github.com/rpcpool/mircv/codec/varbyte"
	"github.com/rpcpool/mircv/lexicon"
	"github.com/rpcpool/mircv/scorer"
	"github.com/stretchr/testify/require"
)

func buildStreams(docids []uint64, freqs []uint64) (docStream, freqStream []byte) {
	for _, d := range docids {
		docStream = varbyte.Encode(docStream, d)
	}
	w := unary.NewWriter()
	for _, f := range freqs {
		w.Put(f)
	}
	freqStream = w.Bytes()
	return
}

func TestListSequentialScan(t *testing.T) {
	docids := []uint64{1, 5, 9, 20, 30}
	freqs := []uint64{2, 1, 3, 1, 5}
	docStream, freqStream := buildStreams(docids, freqs)

	lv := lexicon.Value{StartDocID: 0, EndDocID: uint64(len(docStream)), StartFreq: 0, NDocs: uint64(len(docids))}
	l := NewList(docStream, freqStream, lv, 1.0, 10, nil)

	var got []uint64
	for !l.Done() {
		got = append(got, l.DocID())
		require.Equal(t, freqs[len(got)-1], l.Freq())
		l.Next()
	}
	require.Equal(t, docids, got)
}

func TestListNextGEQ(t *testing.T) {
	docids := []uint64{1, 5, 9, 20, 30}
	freqs := []uint64{2, 1, 3, 1, 5}
	docStream, freqStream := buildStreams(docids, freqs)
	lv := lexicon.Value{NDocs: uint64(len(docids))}

	l := NewList(docStream, freqStream, lv, 1.0, 10, nil)
	require.True(t, l.NextGEQ(9))
	require.Equal(t, uint64(9), l.DocID())

	require.True(t, l.NextGEQ(21))
	require.Equal(t, uint64(30), l.DocID())

	require.False(t, l.NextGEQ(31))
	require.True(t, l.Done())
}

func TestListNextG(t *testing.T) {
	docids := []uint64{1, 5, 9}
	freqs := []uint64{1, 1, 1}
	docStream, freqStream := buildStreams(docids, freqs)
	lv := lexicon.Value{NDocs: uint64(len(docids))}

	l := NewList(docStream, freqStream, lv, 1.0, 10, nil)
	require.True(t, l.NextG(1))
	require.Equal(t, uint64(5), l.DocID())

	// Already past 4: no movement.
	require.True(t, l.NextG(4))
	require.Equal(t, uint64(5), l.DocID())

	require.False(t, l.NextG(9))
	require.True(t, l.Done())
}

func TestListScoreUsesDocLengthOnlyWhenRequired(t *testing.T) {
	docids := []uint64{7}
	freqs := []uint64{4}
	docStream, freqStream := buildStreams(docids, freqs)
	lv := lexicon.Value{NDocs: 1}

	doclen := func(d uint64) uint64 {
		require.Equal(t, uint64(7), d)
		return 42
	}
	idf := 1.2
	l := NewList(docStream, freqStream, lv, idf, 10, doclen)

	tfidfWant := scorer.TFIDF{}.Score(4, idf, 0, 10)
	require.Equal(t, tfidfWant, l.Score(scorer.TFIDF{}))

	bm25Want := scorer.BM25{}.Score(4, idf, 42, 10)
	require.Equal(t, bm25Want, l.Score(scorer.BM25{}))
}

func TestSigmaListSkipsWholeBlocks(t *testing.T) {
	docids := []uint64{1, 2, 3, 4, 10, 11, 12, 20, 21}
	freqs := make([]uint64, len(docids))
	for i := range freqs {
		freqs[i] = uint64(i + 1)
	}
	docStream, freqStream := buildStreams(docids, freqs)

	const blockSize = 3
	var skips []lexicon.SkipPointer

	// Replay both streams with fresh readers to record the exact cursor
	// position after every blockSize-th posting, the same way the
	// builder's sigma pass derives skip pointers from a completed list.
	docR := varbyte.NewReader(docStream)
	freqR := unary.NewReader(freqStream)
	for i := 0; i < len(docids); i++ {
		if _, err := docR.Next(); err != nil {
			t.Fatal(err)
		}
		if _, err := freqR.Next(); err != nil {
			t.Fatal(err)
		}
		if (i+1)%blockSize == 0 {
			byteOff, bitOff := freqR.GetRawIterator()
			skips = append(skips, lexicon.SkipPointer{
				LastDocID:   docids[i],
				DocIDOffset: uint64(docR.GetRawIterator()),
				FreqOffset:  unary.SerializeBitOffset(int64(byteOff), bitOff),
			})
		}
	}

	sv := lexicon.SigmaValue{
		Value: lexicon.Value{NDocs: uint64(len(docids))},
		Skips: skips,
	}
	l := newSigmaListWithBlockSize(docStream, freqStream, sv, 1.0, 10, nil, blockSize)

	require.True(t, l.NextGEQ(11))
	require.Equal(t, uint64(11), l.DocID())

	require.True(t, l.NextGEQ(20))
	require.Equal(t, uint64(20), l.DocID())

	require.False(t, l.NextGEQ(22))
	require.True(t, l.Done())
}
