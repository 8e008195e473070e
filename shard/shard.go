// Package shard opens one partition of the index built by package builder
// and exposes it for querying: the docid and freq byte streams, the
// document index, and the local lexicon disk-map, plus convenience
// methods that resolve query terms to posting lists and run the query
// algorithms in package query against them.
package shard

import (
	"errors"
	"fmt"

	"github.com/rpcpool/mircv/docindex"
	"github.com/rpcpool/mircv/internal/mircverrors"
	"github.com/rpcpool/mircv/lexicon"
	"github.com/rpcpool/mircv/postings"
	"github.com/rpcpool/mircv/query"
	"github.com/rpcpool/mircv/scorer"

	"github.com/rpcpool/mircv/diskmap"
)

// Shard is one partition's read-only view: a shard's docids are a
// contiguous absolute range, independent of any other shard's.
type Shard struct {
	ID int

	docidStream []byte
	freqStream  []byte

	docIndex *docindex.Reader
	lexicon  *diskmap.Reader[lexicon.SigmaValue]

	avgdl float64
}

// Open builds a Shard over four already-mapped byte regions produced by
// the builder: the docid stream, the freq stream, the document index,
// and the sigma-augmented local lexicon. avgdl is the corpus-wide average
// document length (computed once from the global metadata file, shared by
// every shard) rather than this shard's own local average: BM25 scores
// across shards are only comparable when every shard normalizes against
// the same avgdl.
func Open(id int, docidStream, freqStream, docIndexData, lexiconData []byte, avgdl float64) (*Shard, error) {
	di, err := docindex.Open(docIndexData)
	if err != nil {
		return nil, fmt.Errorf("shard %d: document index: %w", id, err)
	}
	lex, err := diskmap.OpenSize[lexicon.SigmaValue](lexiconData, lexicon.SigmaValueCodec{}, diskmap.DefaultPageSize)
	if err != nil {
		return nil, fmt.Errorf("shard %d: local lexicon: %w", id, err)
	}
	return &Shard{
		ID:          id,
		docidStream: docidStream,
		freqStream:  freqStream,
		docIndex:    di,
		lexicon:     lex,
		avgdl:       avgdl,
	}, nil
}

// NumDocs returns the number of documents in this shard.
func (s *Shard) NumDocs() uint64 { return s.docIndex.Len() }

// BaseDocID returns this shard's first docid; shards own disjoint,
// contiguous docid ranges assigned by the builder in input order.
func (s *Shard) BaseDocID() uint64 { return s.docIndex.BaseDocID() }

// Contains reports whether docid falls within this shard's range.
func (s *Shard) Contains(docid uint64) bool {
	base := s.BaseDocID()
	return docid >= base && docid-base < s.NumDocs()
}

// DocNo resolves a docid to its external document number.
func (s *Shard) DocNo(docid uint64) string { return s.docIndex.DocNo(docid) }

// LocalLexicon exposes the raw local lexicon, e.g. for debug tooling.
func (s *Shard) LocalLexicon() *diskmap.Reader[lexicon.SigmaValue] { return s.lexicon }

// PostingList resolves term to a skippable posting-list iterator scored
// with s, given the term's corpus-wide document frequency globalDF and
// total document count totalDocs (both needed for idf). Returns false if
// the term doesn't occur in this shard.
func (sh *Shard) PostingList(term string, globalDF, totalDocs uint64, sc scorer.Scorer) (postings.Skippable, bool) {
	it := sh.lexicon.Find([]byte(term))
	if it.Done() {
		return nil, false
	}
	sv := it.Value()
	idf := sc.Idf(globalDF, totalDocs)
	return postings.NewSigmaList(sh.docidStream, sh.freqStream, sv, idf, sh.avgdl, sh.docIndex.DocLen), true
}

// TermDocFreq returns the number of documents in this shard containing
// term. It is not on the query path.
func (sh *Shard) TermDocFreq(term string) (uint64, bool) {
	it := sh.lexicon.Find([]byte(term))
	if it.Done() {
		return 0, false
	}
	return it.Value().NDocs, true
}

// Query resolves every term in terms to a posting list in this shard, then
// runs either the disjunctive or conjunctive DAAT algorithm, returning this
// shard's local top-k. A lexicon miss is recovered, not surfaced: in
// disjunctive mode the missing term is simply dropped, while in conjunctive
// mode no document here can satisfy the whole query, so the shard
// contributes no results at all.
func (sh *Shard) Query(terms []string, globalDF map[string]uint64, totalDocs uint64, sc scorer.Scorer, conjunctive bool, k int) []query.Result {
	iters, missErr := sh.resolveIterators(terms, globalDF, totalDocs, sc)
	if len(iters) == 0 {
		return nil
	}
	if conjunctive && errors.Is(missErr, mircverrors.ErrLexiconMiss) {
		return nil
	}
	plain := make([]postings.Iterator, len(iters))
	for i, it := range iters {
		plain[i] = it
	}
	if conjunctive {
		return query.Conjunctive(plain, sc, k)
	}
	return query.Disjunctive(plain, sc, k)
}

// QueryBMM is Query's Block-Max MaxScore counterpart. Like disjunctive
// DAAT, it drops terms absent from this shard.
func (sh *Shard) QueryBMM(terms []string, globalDF map[string]uint64, totalDocs uint64, sc scorer.Scorer, k int) []query.Result {
	iters, _ := sh.resolveIterators(terms, globalDF, totalDocs, sc)
	if len(iters) == 0 {
		return nil
	}
	return query.BMM(iters, sc, k)
}

// resolveIterators maps terms to posting lists. Terms without a posting
// list in this shard (or absent from the global lexicon entirely, so their
// df is 0) are reported as a mircverrors.ErrLexiconMiss alongside the
// lists that did resolve; callers decide whether that miss is fatal for
// the query mode they run.
func (sh *Shard) resolveIterators(terms []string, globalDF map[string]uint64, totalDocs uint64, sc scorer.Scorer) ([]postings.Skippable, error) {
	var iters []postings.Skippable
	var missErr error
	for _, term := range terms {
		df := globalDF[term]
		if df == 0 {
			missErr = fmt.Errorf("term %q: %w", term, mircverrors.ErrLexiconMiss)
			continue
		}
		pl, ok := sh.PostingList(term, df, totalDocs, sc)
		if !ok {
			missErr = fmt.Errorf("term %q: %w", term, mircverrors.ErrLexiconMiss)
			continue
		}
		iters = append(iters, pl)
	}
	return iters, missErr
}
