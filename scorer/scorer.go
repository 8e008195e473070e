// Package scorer implements the two ranking functions the query engine can
// select between: TF-IDF and Okapi BM25. Both are stateless: the caller
// passes in idf, doclen and avgdl, and the stored score upper bounds are
// read out of lexicon.SigmaValue/lexicon.SkipPointer, so a single Scorer
// value is safe to share across concurrently queried shards.
package scorer

import (
	"math"

	"github.com/rpcpool/mircv/lexicon"
)

// Scorer computes a document's contribution to a query's score for one
// matching term, and exposes the score upper bounds the Block-Max
// MaxScore algorithm prunes against. Implementations are stateless; all
// corpus statistics (N, n_i, doclen, avgdl) are passed in by the caller.
type Scorer interface {
	Name() string

	// NeedsDocLength reports whether Score requires the matching
	// document's length. TF-IDF does not; BM25 does.
	NeedsDocLength() bool

	// Idf returns the term's inverse document frequency, log2(N / n),
	// given the corpus size N and the term's global document frequency n.
	Idf(n, totalDocs uint64) float64

	// Score returns one term's contribution to a document's score.
	Score(freq uint64, idf float64, doclen uint64, avgdl float64) float64

	// TermSigma extracts this scorer's stored score upper bound for a
	// whole term (sigma) from a sigma-augmented lexicon entry.
	TermSigma(v lexicon.SigmaValue) float64

	// BlockSigma extracts this scorer's stored score upper bound for one
	// skip-list block.
	BlockSigma(s lexicon.SkipPointer) float64
}

func log2IDF(n, totalDocs uint64) float64 {
	if n == 0 || totalDocs == 0 {
		return 0
	}
	return math.Log2(float64(totalDocs) / float64(n))
}

// TFIDF is classic TF-IDF: (1 + log2(tf)) * idf. It ignores document
// length.
type TFIDF struct{}

func (TFIDF) Name() string { return "tfidf" }

func (TFIDF) NeedsDocLength() bool { return false }

func (TFIDF) Idf(n, totalDocs uint64) float64 {
	return log2IDF(n, totalDocs)
}

func (TFIDF) Score(freq uint64, idf float64, _ uint64, _ float64) float64 {
	if freq == 0 {
		return 0
	}
	return (1 + math.Log2(float64(freq))) * idf
}

func (TFIDF) TermSigma(v lexicon.SigmaValue) float64 {
	return lexicon.FixedToFloat(v.TfidfSigmaFixed)
}

func (TFIDF) BlockSigma(s lexicon.SkipPointer) float64 {
	return lexicon.FixedToFloat(s.TfidfUbFixed)
}

// BM25 is Okapi BM25 with k1 = 0.82, b = 0.68:
//
//	score = idf * freq / (k1*((1-b) + b*doclen/avgdl) + freq)
type BM25 struct{}

const (
	bm25K1 = 0.82
	bm25B  = 0.68
)

func (BM25) Name() string { return "bm25" }

func (BM25) NeedsDocLength() bool { return true }

func (BM25) Idf(n, totalDocs uint64) float64 {
	return log2IDF(n, totalDocs)
}

func (BM25) Score(freq uint64, idf float64, doclen uint64, avgdl float64) float64 {
	if freq == 0 {
		return 0
	}
	f := float64(freq)
	norm := bm25K1 * (1 - bm25B + bm25B*float64(doclen)/avgdl)
	return idf * f / (norm + f)
}

func (BM25) TermSigma(v lexicon.SigmaValue) float64 {
	return lexicon.FixedToFloat(v.Bm25SigmaFixed)
}

func (BM25) BlockSigma(s lexicon.SkipPointer) float64 {
	return lexicon.FixedToFloat(s.Bm25UbFixed)
}

// ByName resolves a scorer by its CLI-facing name ("bm25" or "tfidf").
func ByName(name string) (Scorer, bool) {
	switch name {
	case "bm25":
		return BM25{}, true
	case "tfidf":
		return TFIDF{}, true
	default:
		return nil, false
	}
}
