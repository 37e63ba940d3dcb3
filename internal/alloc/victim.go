package alloc

import (
	"cmp"
	"fmt"

	"github.com/emirpasic/gods/v2/trees/binaryheap"

	"github.com/roach88/memsched/internal/ir"
)

// Candidate is a live resource considered for eviction.
type Candidate struct {
	Cost Cost
	Seq  int64 // allocation sequence number, unique per live resource
}

// VictimOrder compares two eviction candidates. A negative result means a
// is evicted before b. Orders must be total over Seq to stay deterministic.
type VictimOrder func(a, b Candidate) int

// CheapestFirst evicts the fewest bytes first, then the resource used
// furthest in the future, then the oldest allocation.
func CheapestFirst(a, b Candidate) int {
	if c := cmp.Compare(a.Cost.Bytes, b.Cost.Bytes); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Cost.NextUse, a.Cost.NextUse); c != 0 {
		return c
	}
	return cmp.Compare(a.Seq, b.Seq)
}

// FarthestUseFirst evicts the resource whose next use is furthest away
// (Belady), then the fewest bytes, then the oldest allocation.
func FarthestUseFirst(a, b Candidate) int {
	if c := cmp.Compare(b.Cost.NextUse, a.Cost.NextUse); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Cost.Bytes, b.Cost.Bytes); c != 0 {
		return c
	}
	return cmp.Compare(a.Seq, b.Seq)
}

type victim[R comparable] struct {
	resource R
	cand     Candidate
}

// victimHeap orders spillable live resources by a VictimOrder.
func newVictimHeap[R comparable](order VictimOrder) *binaryheap.Heap[*victim[R]] {
	return binaryheap.NewWith(func(a, b *victim[R]) int {
		return order(a.cand, b.cand)
	})
}

// VictimOrderByName returns the eviction order registered under name.
func VictimOrderByName(name string) (VictimOrder, error) {
	switch name {
	case "", ir.VictimCheapest:
		return CheapestFirst, nil
	case ir.VictimFarthestUse:
		return FarthestUseFirst, nil
	default:
		return nil, fmt.Errorf("unknown victim order %q", name)
	}
}
