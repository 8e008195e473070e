package builder

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/rpcpool/mircv/diskmap"
	"github.com/rpcpool/mircv/docindex"
	"github.com/rpcpool/mircv/internal/mircverrors"
	"github.com/rpcpool/mircv/lexicon"
	"github.com/rpcpool/mircv/postings"
	"github.com/rpcpool/mircv/scorer"
)

// runSigmaPass is the build's second pass: for every shard, in parallel,
// replace the shard's temporary lexicon (term -> lexicon.Value) with a
// final lexicon (term -> lexicon.SigmaValue) carrying each term's score
// upper bounds and skip-list. Every shard's local lexicon is
// guaranteed a subset of the just-written global lexicon (it was one of
// the merge's own inputs), so a term absent there is a hard invariant
// violation, not a recoverable miss.
func runSigmaPass(ctx context.Context, outDir string, shardDirs []string, totalDocs uint64, avgdl float64, bar progressBar) error {
	globalData, err := os.ReadFile(outDir + "/global_lexicon")
	if err != nil {
		return fmt.Errorf("read global lexicon: %w", err)
	}
	globalLex, err := diskmap.Open[uint64](globalData, diskmap.Uint64Codec{})
	if err != nil {
		return fmt.Errorf("open global lexicon: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, dir := range shardDirs {
		dir := dir
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if err := sigmaPassOneShard(dir, globalLex, totalDocs, avgdl); err != nil {
				return fmt.Errorf("shard %s: %w", dir, err)
			}
			bar.Increment(1)
			return nil
		})
	}
	return g.Wait()
}

func sigmaPassOneShard(dir string, globalLex *diskmap.Reader[uint64], totalDocs uint64, avgdl float64) error {
	docStream, err := os.ReadFile(dir + "/posting_lists_docids")
	if err != nil {
		return fmt.Errorf("read docid stream: %w", err)
	}
	freqStream, err := os.ReadFile(dir + "/posting_lists_freqs")
	if err != nil {
		return fmt.Errorf("read freq stream: %w", err)
	}
	diData, err := os.ReadFile(dir + "/document_index")
	if err != nil {
		return fmt.Errorf("read document index: %w", err)
	}
	di, err := docindex.Open(diData)
	if err != nil {
		return fmt.Errorf("open document index: %w", err)
	}
	tempData, err := os.ReadFile(dir + "/lexicon_temp")
	if err != nil {
		return fmt.Errorf("read temp lexicon: %w", err)
	}
	tempLex, err := diskmap.Open[lexicon.Value](tempData, lexicon.ValueCodec{})
	if err != nil {
		return fmt.Errorf("open temp lexicon: %w", err)
	}

	bm25 := scorer.BM25{}
	tfidf := scorer.TFIDF{}

	finalLex := diskmap.NewWriter[lexicon.SigmaValue](lexicon.SigmaValueCodec{})
	for it := tempLex.Begin(); !it.Done(); it.Next() {
		term := it.Key()
		lv := it.Value()

		n, err := globalLex.Get(term)
		if err != nil {
			return fmt.Errorf("term %q: %w", string(term), mircverrors.ErrInvariantBroken)
		}

		sv := buildSigmaValue(lv, docStream, freqStream, bm25.Idf(n, totalDocs), tfidf.Idf(n, totalDocs), avgdl, di.DocLen)
		if err := finalLex.Add(term, sv); err != nil {
			return fmt.Errorf("term %q: final lexicon add: %w", string(term), err)
		}
	}

	var buf bytes.Buffer
	if err := finalLex.Finalize(&buf); err != nil {
		return fmt.Errorf("finalize final lexicon: %w", err)
	}
	if err := atomicWriteFile(dir+"/lexicon", buf.Bytes()); err != nil {
		return err
	}
	return os.Remove(dir + "/lexicon_temp")
}

// buildSigmaValue walks lv's postings once, tracking both the term-level
// score upper bounds (sigma) and the per-block upper bounds a skip-list
// entry closes out every lexicon.SkipBlockSize postings. A final,
// possibly-short block gets no SkipPointer of its own and is covered by
// the term-level sigma only; readers must tolerate a skip-list that ends
// before the posting list does.
func buildSigmaValue(lv lexicon.Value, docStream, freqStream []byte, bm25IDF, tfidfIDF, avgdl float64, doclenFn postings.DocLenFunc) lexicon.SigmaValue {
	sv := lexicon.SigmaValue{Value: lv}
	if lv.NDocs == 0 {
		return sv
	}

	bm25 := scorer.BM25{}
	tfidf := scorer.TFIDF{}

	it := postings.NewList(docStream, freqStream, lv, 0, avgdl, doclenFn)
	var skip lexicon.SkipPointer
	var count uint64

	for !it.Done() {
		docid := it.DocID()
		freq := it.Freq()
		var doclen uint64
		if doclenFn != nil {
			doclen = doclenFn(docid)
		}

		bFixed := lexicon.FloatToFixed(bm25.Score(freq, bm25IDF, doclen, avgdl))
		tFixed := lexicon.FloatToFixed(tfidf.Score(freq, tfidfIDF, doclen, avgdl))
		if bFixed > sv.Bm25SigmaFixed {
			sv.Bm25SigmaFixed = bFixed
		}
		if tFixed > sv.TfidfSigmaFixed {
			sv.TfidfSigmaFixed = tFixed
		}
		if bFixed > skip.Bm25UbFixed {
			skip.Bm25UbFixed = bFixed
		}
		if tFixed > skip.TfidfUbFixed {
			skip.TfidfUbFixed = tFixed
		}

		count++
		hasNext := it.Next()
		if count%lexicon.SkipBlockSize == 0 {
			skip.LastDocID = docid
			if hasNext {
				docOff, freqOff := it.GetOffset()
				skip.DocIDOffset = uint64(docOff)
				skip.FreqOffset = freqOff
			} else {
				skip.DocIDOffset = lv.EndDocID
				skip.FreqOffset = lv.EndFreq
			}
			sv.Skips = append(sv.Skips, skip)
			skip = lexicon.SkipPointer{}
		}
	}
	return sv
}
