// Package query implements the disjunctive and conjunctive DAAT
// algorithms and Block-Max MaxScore over posting-list iterators, plus the
// top-k accumulation and multi-shard merge used to produce a ranked
// result list.
package query

import (
	"container/heap"
	"math"
)

// Result is one scored document in a query's answer set.
type Result struct {
	DocID uint64
	Score float64
}

// topKHeap is a min-heap on Score, capped at k entries: pushing past
// capacity evicts the current minimum, so the heap always holds the k
// best seen so far and sorted() returns them.
type topKHeap struct {
	k     int
	items []Result
}

func newTopKHeap(k int) *topKHeap {
	h := &topKHeap{k: k}
	heap.Init(h)
	return h
}

func (h *topKHeap) Len() int            { return len(h.items) }
func (h *topKHeap) Less(i, j int) bool  { return h.items[i].Score < h.items[j].Score }
func (h *topKHeap) Swap(i, j int)       { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *topKHeap) Push(x interface{})  { h.items = append(h.items, x.(Result)) }
func (h *topKHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

// offer considers a candidate result, keeping it only if the heap has
// room or it beats the current minimum.
func (h *topKHeap) offer(r Result) {
	if h.k <= 0 {
		return
	}
	if h.Len() < h.k {
		heap.Push(h, r)
		return
	}
	if r.Score > h.items[0].Score {
		heap.Pop(h)
		heap.Push(h, r)
	}
}

// threshold returns the score a candidate must beat to enter the top-k.
// While the heap isn't full nothing may be pruned, not even a zero-score
// candidate, so the threshold is -Inf rather than 0.
func (h *topKHeap) threshold() float64 {
	if h.Len() < h.k {
		return math.Inf(-1)
	}
	return h.items[0].Score
}

// sorted drains the heap into a descending-by-score slice.
func (h *topKHeap) sorted() []Result {
	out := make([]Result, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(Result)
	}
	return out
}

// MergeTopK combines per-shard top-k result sets into a single
// globally-ranked top-k, used after querying every shard in a collection.
func MergeTopK(perShard [][]Result, k int) []Result {
	h := newTopKHeap(k)
	for _, rs := range perShard {
		for _, r := range rs {
			h.offer(r)
		}
	}
	return h.sorted()
}
