package query

import (
	"github.com/rpcpool/mircv/postings"
	"github.com/rpcpool/mircv/scorer"
)

// Disjunctive runs a document-at-a-time OR over terms: every document
// matching at least one list is a candidate, scored as the sum of the
// lists that currently sit on it.
func Disjunctive(iters []postings.Iterator, s scorer.Scorer, k int) []Result {
	h := newTopKHeap(k)
	active := make([]postings.Iterator, 0, len(iters))
	for _, it := range iters {
		if it != nil && !it.Done() {
			active = append(active, it)
		}
	}

	for len(active) > 0 {
		minDoc := active[0].DocID()
		for _, it := range active[1:] {
			if d := it.DocID(); d < minDoc {
				minDoc = d
			}
		}

		var score float64
		for _, it := range active {
			if it.DocID() == minDoc {
				score += it.Score(s)
			}
		}
		h.offer(Result{DocID: minDoc, Score: score})

		// NextG is a no-op for lists already past minDoc and steps the
		// matching ones off it; exhausted lists drop out.
		remaining := active[:0]
		for _, it := range active {
			if it.NextG(minDoc) {
				remaining = append(remaining, it)
			}
		}
		active = remaining
	}
	return h.sorted()
}

// Conjunctive runs a document-at-a-time AND over terms: a document must
// appear in every list. Each round, every list jumps to the maximum of
// the current docids (not single-stepping one list at a time), so a
// highly selective term quickly prunes the others forward.
func Conjunctive(iters []postings.Iterator, s scorer.Scorer, k int) []Result {
	h := newTopKHeap(k)
	if len(iters) == 0 {
		return nil
	}
	for _, it := range iters {
		if it == nil || it.Done() {
			return nil
		}
	}

	for {
		maxDoc := iters[0].DocID()
		for _, it := range iters[1:] {
			if d := it.DocID(); d > maxDoc {
				maxDoc = d
			}
		}

		allMatch := true
		for _, it := range iters {
			if it.DocID() != maxDoc {
				allMatch = false
			}
		}

		if allMatch {
			var score float64
			for _, it := range iters {
				score += it.Score(s)
			}
			h.offer(Result{DocID: maxDoc, Score: score})
			if !iters[0].Next() {
				break
			}
			continue
		}

		done := false
		for _, it := range iters {
			if !it.NextGEQ(maxDoc) {
				done = true
				break
			}
		}
		if done {
			break
		}
	}
	return h.sorted()
}
