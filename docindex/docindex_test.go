package docindex

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildIndex(t *testing.T, base uint64, compress bool, docs []struct {
	Len   uint64
	Docno string
}) []byte {
	t.Helper()
	w := NewWriter(base, compress)
	for _, d := range docs {
		w.Add(d.Len, d.Docno)
	}
	var buf bytes.Buffer
	require.NoError(t, w.Finalize(&buf))
	return buf.Bytes()
}

func sampleDocs() []struct {
	Len   uint64
	Docno string
} {
	return []struct {
		Len   uint64
		Docno string
	}{
		{Len: 120, Docno: "doc-000"},
		{Len: 58, Docno: "doc-001"},
		{Len: 301, Docno: "doc-002"},
	}
}

func TestDocIndexRoundTrip(t *testing.T) {
	docs := sampleDocs()
	data := buildIndex(t, 1000, false, docs)

	r, err := Open(data)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), r.BaseDocID())
	require.Equal(t, uint64(len(docs)), r.Len())

	for i, d := range docs {
		docid := uint64(1000 + i)
		require.Equal(t, d.Len, r.DocLen(docid))
		require.Equal(t, d.Docno, r.DocNo(docid))
	}
}

func TestDocIndexCompressedHeap(t *testing.T) {
	docs := sampleDocs()
	data := buildIndex(t, 0, true, docs)

	r, err := Open(data)
	require.NoError(t, err)
	for i, d := range docs {
		require.Equal(t, d.Docno, r.DocNo(uint64(i)))
		require.Equal(t, d.Len, r.DocLen(uint64(i)))
	}
}

func TestDocIndexAvgDocLen(t *testing.T) {
	docs := sampleDocs()
	data := buildIndex(t, 0, false, docs)
	r, err := Open(data)
	require.NoError(t, err)
	require.InDelta(t, float64(120+58+301)/3, r.AvgDocLen(), 1e-9)
}

func TestDocIndexOutOfRange(t *testing.T) {
	docs := sampleDocs()
	data := buildIndex(t, 5, false, docs)
	r, err := Open(data)
	require.NoError(t, err)
	require.Equal(t, uint64(0), r.DocLen(4))
	require.Equal(t, uint64(0), r.DocLen(8))
	require.Equal(t, "", r.DocNo(100))
}
