package cert

import (
	"container/heap"

	"github.com/behrlich/go-wsrep/internal/core"
)

// seqnoMultiset tracks the set of last_seen_seqno values currently held
// by indexed writesets, giving O(log n) insert/remove and O(1) minimum
// lookup. Counts duplicates explicitly since multiple writesets can share
// a last_seen_seqno.
type seqnoMultiset struct {
	h      seqnoHeap
	counts map[core.Seqno]int
}

func newSeqnoMultiset() *seqnoMultiset {
	return &seqnoMultiset{counts: make(map[core.Seqno]int)}
}

func (s *seqnoMultiset) insert(v core.Seqno) {
	if s.counts[v] == 0 {
		heap.Push(&s.h, v)
	}
	s.counts[v]++
}

func (s *seqnoMultiset) remove(v core.Seqno) {
	n, ok := s.counts[v]
	if !ok || n == 0 {
		return
	}
	if n == 1 {
		delete(s.counts, v)
	} else {
		s.counts[v] = n - 1
	}
}

func (s *seqnoMultiset) empty() bool {
	s.dropStale()
	return s.h.Len() == 0
}

func (s *seqnoMultiset) min() core.Seqno {
	s.dropStale()
	return s.h[0]
}

// dropStale pops heap entries whose count has already hit zero, the lazy
// side of lazy deletion.
func (s *seqnoMultiset) dropStale() {
	for s.h.Len() > 0 && s.counts[s.h[0]] == 0 {
		heap.Pop(&s.h)
	}
}

type seqnoHeap []core.Seqno

func (h seqnoHeap) Len() int            { return len(h) }
func (h seqnoHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h seqnoHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *seqnoHeap) Push(x interface{}) { *h = append(*h, x.(core.Seqno)) }
func (h *seqnoHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}
