package query

import (
	"sort"

	"github.com/rpcpool/mircv/postings"
	"github.com/rpcpool/mircv/scorer"
)

type bmmEntry struct {
	it    postings.Skippable
	sigma float64
}

// BMM runs Block-Max MaxScore: terms are sorted ascending by their
// term-level score upper bound and partitioned each round into a
// non-essential prefix (whose combined upper bounds can no longer lift a
// document over the current top-k threshold on their own) and an essential
// suffix (which still drives which new documents get considered at all).
// Candidates come only from the essential lists; the non-essential lists
// are probed afterwards, outermost first, and the probing stops as soon as
// the candidate's partial score plus the remaining prefix's block-level
// upper bounds can no longer beat the threshold. Within every NextGEQ the
// skip-list jumps whole blocks without decoding their postings.
func BMM(iters []postings.Skippable, s scorer.Scorer, k int) []Result {
	h := newTopKHeap(k)

	entries := make([]bmmEntry, 0, len(iters))
	for _, it := range iters {
		if it != nil && !it.Done() {
			entries = append(entries, bmmEntry{it: it, sigma: it.TermUB(s)})
		}
	}
	if len(entries) == 0 {
		return nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].sigma < entries[j].sigma })

	// prefixSum[i] = sum of sigma[:i], the most any document could score
	// through the i lowest-bound lists alone.
	prefixSum := make([]float64, len(entries)+1)
	for i := 0; i < len(entries); i++ {
		prefixSum[i+1] = prefixSum[i] + entries[i].sigma
	}

	for {
		// Drop exhausted lists so their sigma stops inflating the prefix
		// sums.
		n := 0
		for _, e := range entries {
			if !e.it.Done() {
				entries[n] = e
				n++
			}
		}
		if n == 0 {
			break
		}
		if n != len(entries) {
			entries = entries[:n]
			prefixSum = prefixSum[:n+1]
			for i := 0; i < n; i++ {
				prefixSum[i+1] = prefixSum[i] + entries[i].sigma
			}
		}

		theta := h.threshold()
		essFrom := 0
		for essFrom < len(entries) && prefixSum[essFrom+1] <= theta {
			essFrom++
		}
		if essFrom == len(entries) {
			// Even a document matching every remaining list can't enter
			// the top-k any more.
			break
		}

		curr := entries[essFrom].it.DocID()
		for _, e := range entries[essFrom+1:] {
			if d := e.it.DocID(); d < curr {
				curr = d
			}
		}

		var score float64
		for i := essFrom; i < len(entries); i++ {
			e := &entries[i]
			if e.it.DocID() == curr {
				score += e.it.Score(s)
				e.it.Next()
			}
		}

		// Probe the non-essential prefix only while the candidate can
		// still reach theta. bub[i] bounds the combined contribution of
		// lists 0..i at curr via their skip blocks covering curr, so the
		// break is safe: a pruned candidate's full score can never exceed
		// theta.
		if essFrom != 0 && score+prefixSum[essFrom] > theta {
			bub := make([]float64, essFrom)
			var acc float64
			for i := 0; i < essFrom; i++ {
				acc += entries[i].it.BlockMaxUB(curr, s)
				bub[i] = acc
			}
			for i := essFrom - 1; i >= 0; i-- {
				if score+bub[i] <= theta {
					break
				}
				e := &entries[i]
				if e.it.NextGEQ(curr) && e.it.DocID() == curr {
					score += e.it.Score(s)
				}
			}
		}

		h.offer(Result{DocID: curr, Score: score})
	}
	return h.sorted()
}
