package builder_test

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpcpool/mircv/builder"
	"github.com/rpcpool/mircv/diskmap"
	"github.com/rpcpool/mircv/docindex"
	"github.com/rpcpool/mircv/internal/mircverrors"
	"github.com/rpcpool/mircv/lexicon"
	"github.com/rpcpool/mircv/postings"
	"github.com/rpcpool/mircv/query"
	"github.com/rpcpool/mircv/scorer"
	"github.com/rpcpool/mircv/shard"
)

func build(t *testing.T, input string, opts builder.Options) (string, builder.Stats) {
	t.Helper()
	outDir := t.TempDir()
	stats, err := builder.New(opts).Run(context.Background(), strings.NewReader(input), outDir)
	require.NoError(t, err)
	return outDir, stats
}

func openShard(t *testing.T, dir string, id int, avgdl float64) *shard.Shard {
	t.Helper()
	docidStream, err := os.ReadFile(filepath.Join(dir, "posting_lists_docids"))
	require.NoError(t, err)
	freqStream, err := os.ReadFile(filepath.Join(dir, "posting_lists_freqs"))
	require.NoError(t, err)
	diData, err := os.ReadFile(filepath.Join(dir, "document_index"))
	require.NoError(t, err)
	lexData, err := os.ReadFile(filepath.Join(dir, "lexicon"))
	require.NoError(t, err)
	sh, err := shard.Open(id, docidStream, freqStream, diData, lexData, avgdl)
	require.NoError(t, err)
	return sh
}

func openGlobalLexicon(t *testing.T, outDir string) *diskmap.Reader[uint64] {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(outDir, "global_lexicon"))
	require.NoError(t, err)
	r, err := diskmap.Open[uint64](data, diskmap.Uint64Codec{})
	require.NoError(t, err)
	return r
}

// TestBuildAndQueryBanano builds the three-document corpus where "banano"
// appears with frequencies 1, 2, 1, then checks the exact on-disk posting
// streams and that a query returns all three docnos.
func TestBuildAndQueryBanano(t *testing.T) {
	input := strings.Join([]string{
		"caffe\tbanano",
		"babe\tbanano banano",
		"beef\tbanano",
	}, "\n") + "\n"

	outDir, stats := build(t, input, builder.Options{NumWorkers: 1})
	require.Equal(t, 1, stats.NumShards)
	require.Equal(t, uint64(3), stats.NumDocs)
	require.Equal(t, uint64(4), stats.TotalDocLen) // 1 + 2 + 1

	shardDir := filepath.Join(outDir, "db_0")

	docidStream, err := os.ReadFile(filepath.Join(shardDir, "posting_lists_docids"))
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x02, 0x03}, docidStream)

	// Frequencies 1, 2, 1 are the bits 0, 10, 0 LSB-first; the final byte
	// is padded with 1-bits.
	freqStream, err := os.ReadFile(filepath.Join(shardDir, "posting_lists_freqs"))
	require.NoError(t, err)
	require.Equal(t, []byte{0xF2}, freqStream)

	_, err = os.Stat(filepath.Join(shardDir, "lexicon_temp"))
	require.True(t, os.IsNotExist(err), "lexicon_temp must be removed after the sigma pass")

	sh := openShard(t, shardDir, 0, stats.AvgDocLen())
	require.Equal(t, uint64(3), sh.NumDocs())
	require.Equal(t, uint64(1), sh.BaseDocID())

	df, ok := sh.TermDocFreq("banano")
	require.True(t, ok)
	require.Equal(t, uint64(3), df)

	n, err := openGlobalLexicon(t, outDir).Get([]byte("banano"))
	require.NoError(t, err)
	require.Equal(t, uint64(3), n)

	s := scorer.BM25{}
	results := sh.Query([]string{"banano"}, map[string]uint64{"banano": 3}, 3, s, false, 10)
	require.Len(t, results, 3)

	gotDocnos := make(map[string]bool, 3)
	for _, r := range results {
		gotDocnos[sh.DocNo(r.DocID)] = true
	}
	require.Equal(t, map[string]bool{"caffe": true, "babe": true, "beef": true}, gotDocnos)
}

// TestBuildAndQueryConjunctiveMissingTerm exercises conjunctive matching
// through a real build rather than hand-assembled shard bytes: document
// "a" lacks "dog", so conjunctive "cat dog" returns only "b", while
// disjunctive mode still returns both documents.
func TestBuildAndQueryConjunctiveMissingTerm(t *testing.T) {
	input := "a\tcat\nb\tcat dog\n"
	outDir, stats := build(t, input, builder.Options{NumWorkers: 1})

	sh := openShard(t, filepath.Join(outDir, "db_0"), 0, stats.AvgDocLen())

	s := scorer.TFIDF{}
	globalDF := map[string]uint64{"cat": 2, "dog": 1}

	disj := sh.Query([]string{"cat", "dog"}, globalDF, 2, s, false, 10)
	require.Len(t, disj, 2)

	conj := sh.Query([]string{"cat", "dog"}, globalDF, 2, s, true, 10)
	require.Len(t, conj, 1)
	require.Equal(t, "b", sh.DocNo(conj[0].DocID))
}

// TestSingleTermAlgorithmsAgree: with a single query term the three
// algorithms must return identical rankings.
func TestSingleTermAlgorithmsAgree(t *testing.T) {
	input := "d1\ta b\nd2\ta a c\nd3\tb c\nd4\ta\n"
	outDir, stats := build(t, input, builder.Options{NumWorkers: 1})
	sh := openShard(t, filepath.Join(outDir, "db_0"), 0, stats.AvgDocLen())

	s := scorer.BM25{}
	globalDF := map[string]uint64{"a": 3, "b": 2, "c": 2}

	disj := sh.Query([]string{"a"}, globalDF, stats.NumDocs, s, false, 3)
	conj := sh.Query([]string{"a"}, globalDF, stats.NumDocs, s, true, 3)
	bmm := sh.QueryBMM([]string{"a"}, globalDF, stats.NumDocs, s, 3)

	require.Len(t, disj, 3)
	require.Equal(t, disj, conj)
	require.Equal(t, disj, bmm)
}

// TestBuildMultiShard forces one document per chunk and checks that the
// shards carry disjoint docid ranges, that the global lexicon aggregates
// per-shard document frequencies, and that per-shard queries merge into a
// single globally ranked answer.
func TestBuildMultiShard(t *testing.T) {
	input := "d1\tx\nd2\tx y\nd3\ty\nd4\tx\n"
	outDir, stats := build(t, input, builder.Options{NumWorkers: 2, MaxChunkSpace: 1})
	require.Equal(t, 4, stats.NumShards)
	require.Equal(t, uint64(4), stats.NumDocs)

	globalLex := openGlobalLexicon(t, outDir)
	nX, err := globalLex.Get([]byte("x"))
	require.NoError(t, err)
	require.Equal(t, uint64(3), nX)
	nY, err := globalLex.Get([]byte("y"))
	require.NoError(t, err)
	require.Equal(t, uint64(2), nY)

	metaData, err := os.ReadFile(filepath.Join(outDir, "metadata"))
	require.NoError(t, err)
	sumDocLen, numDocs, err := builder.ReadMetadata(metaData)
	require.NoError(t, err)
	require.Equal(t, uint64(5), sumDocLen)
	require.Equal(t, uint64(4), numDocs)

	dirs, err := filepath.Glob(filepath.Join(outDir, "db_*"))
	require.NoError(t, err)
	require.Len(t, dirs, 4)

	avgdl := stats.AvgDocLen()
	shards := make([]*shard.Shard, 0, len(dirs))
	for i, dir := range dirs {
		shards = append(shards, openShard(t, dir, i, avgdl))
	}

	// One document per shard, contiguous bases in input order.
	var base uint64 = 1
	for _, sh := range shards {
		require.Equal(t, uint64(1), sh.NumDocs())
		require.Equal(t, base, sh.BaseDocID())
		base += sh.NumDocs()
	}

	s := scorer.TFIDF{}
	globalDF := map[string]uint64{"x": nX, "y": nY}

	perShard := make([][]query.Result, len(shards))
	for i, sh := range shards {
		perShard[i] = sh.Query([]string{"x", "y"}, globalDF, numDocs, s, false, 10)
	}
	merged := query.MergeTopK(perShard, 10)
	require.Len(t, merged, 4)

	// d2 matches both terms, so it must rank first; the remaining scores
	// are non-increasing.
	top := merged[0]
	var topDocno string
	for _, sh := range shards {
		if sh.Contains(top.DocID) {
			topDocno = sh.DocNo(top.DocID)
		}
	}
	require.Equal(t, "d2", topDocno)
	for i := 1; i < len(merged); i++ {
		require.GreaterOrEqual(t, merged[i-1].Score, merged[i].Score)
	}

	// Conjunctive "x y" can only be satisfied inside d2's shard.
	for i, sh := range shards {
		perShard[i] = sh.Query([]string{"x", "y"}, globalDF, numDocs, s, true, 10)
	}
	conj := query.MergeTopK(perShard, 10)
	require.Len(t, conj, 1)
	require.Equal(t, top.DocID, conj[0].DocID)
}

// TestReadMetadataRejectsWrongFixedPointFactor: an index whose sigma
// values were serialized at a different fixed-point factor must refuse to
// open rather than mis-scale every score upper bound.
func TestReadMetadataRejectsWrongFixedPointFactor(t *testing.T) {
	input := "a\tcat\n"
	outDir, _ := build(t, input, builder.Options{NumWorkers: 1})

	metaData, err := os.ReadFile(filepath.Join(outDir, "metadata"))
	require.NoError(t, err)
	_, _, err = builder.ReadMetadata(metaData)
	require.NoError(t, err)

	binary.LittleEndian.PutUint64(metaData[16:24], 10000)
	_, _, err = builder.ReadMetadata(metaData)
	var wrong mircverrors.WrongBitSize
	require.ErrorAs(t, err, &wrong)
	require.Equal(t, uint64(10000), wrong.Got)
	require.Equal(t, uint64(lexicon.FixedPointFactor), wrong.Want)
}

// TestSigmaUpperBoundsHoldForEveryPosting re-walks every posting of every
// term after a build and checks that no single posting's score exceeds the
// term-level sigma recorded by the sigma pass, for either scorer.
func TestSigmaUpperBoundsHoldForEveryPosting(t *testing.T) {
	input := strings.Join([]string{
		"p1\tapple banana cherry apple",
		"p2\tbanana banana banana date",
		"p3\tapple date date",
		"p4\tcherry cherry apple banana date",
		"p5\tapple",
	}, "\n") + "\n"

	outDir, stats := build(t, input, builder.Options{NumWorkers: 1})
	shardDir := filepath.Join(outDir, "db_0")

	docidStream, err := os.ReadFile(filepath.Join(shardDir, "posting_lists_docids"))
	require.NoError(t, err)
	freqStream, err := os.ReadFile(filepath.Join(shardDir, "posting_lists_freqs"))
	require.NoError(t, err)
	diData, err := os.ReadFile(filepath.Join(shardDir, "document_index"))
	require.NoError(t, err)
	di, err := docindex.Open(diData)
	require.NoError(t, err)
	lexData, err := os.ReadFile(filepath.Join(shardDir, "lexicon"))
	require.NoError(t, err)
	lex, err := diskmap.Open[lexicon.SigmaValue](lexData, lexicon.SigmaValueCodec{})
	require.NoError(t, err)

	globalLex := openGlobalLexicon(t, outDir)

	bm25 := scorer.BM25{}
	tfidf := scorer.TFIDF{}
	avgdl := stats.AvgDocLen()

	for it := lex.Begin(); !it.Done(); it.Next() {
		term := string(it.Key())
		sv := it.Value()

		n, err := globalLex.Get(it.Key())
		require.NoError(t, err, "term %q must be in the global lexicon", term)

		pl := postings.NewList(docidStream, freqStream, sv.Value, 0, avgdl, di.DocLen)
		for ; !pl.Done(); pl.Next() {
			doclen := di.DocLen(pl.DocID())
			bScore := bm25.Score(pl.Freq(), bm25.Idf(n, stats.NumDocs), doclen, avgdl)
			tScore := tfidf.Score(pl.Freq(), tfidf.Idf(n, stats.NumDocs), doclen, avgdl)
			require.LessOrEqual(t, bScore, bm25.TermSigma(sv)+1e-9, "term %q docid %d", term, pl.DocID())
			require.LessOrEqual(t, tScore, tfidf.TermSigma(sv)+1e-9, "term %q docid %d", term, pl.DocID())
		}
	}
}
