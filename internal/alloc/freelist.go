package alloc

import (
	"github.com/emirpasic/gods/v2/maps/treemap"
)

// freeList is the set of free byte ranges of one memory, keyed by offset.
// Adjacent ranges are always merged.
type freeList struct {
	blocks *treemap.Map[int64, int64] // offset -> size
}

func newFreeList(capacity int64) *freeList {
	fl := &freeList{blocks: treemap.New[int64, int64]()}
	if capacity > 0 {
		fl.blocks.Put(0, capacity)
	}
	return fl
}

// clone returns an independent copy, used to simulate evictions.
func (fl *freeList) clone() *freeList {
	c := &freeList{blocks: treemap.New[int64, int64]()}
	it := fl.blocks.Iterator()
	for it.Next() {
		c.blocks.Put(it.Key(), it.Value())
	}
	return c
}

// total returns the number of free bytes.
func (fl *freeList) total() int64 {
	var sum int64
	it := fl.blocks.Iterator()
	for it.Next() {
		sum += it.Value()
	}
	return sum
}

// largest returns the size of the largest free range.
func (fl *freeList) largest() int64 {
	var best int64
	it := fl.blocks.Iterator()
	for it.Next() {
		best = max(best, it.Value())
	}
	return best
}

// firstFit finds the lowest aligned offset with size free bytes.
func (fl *freeList) firstFit(size, align int64) (int64, bool) {
	it := fl.blocks.Iterator()
	for it.Next() {
		start, length := it.Key(), it.Value()
		off := alignUp(start, align)
		if off+size <= start+length {
			return off, true
		}
	}
	return 0, false
}

// take removes [off, off+size) from the free list. The range must lie inside
// a single free block; take reports false otherwise.
func (fl *freeList) take(off, size int64) bool {
	it := fl.blocks.Iterator()
	for it.Next() {
		start, length := it.Key(), it.Value()
		if start > off {
			return false
		}
		end := start + length
		if off+size > end {
			continue
		}
		fl.blocks.Remove(start)
		if off > start {
			fl.blocks.Put(start, off-start)
		}
		if off+size < end {
			fl.blocks.Put(off+size, end-off-size)
		}
		return true
	}
	return false
}

// release returns [off, off+size) to the free list, merging neighbours.
func (fl *freeList) release(off, size int64) {
	start, end := off, off+size
	var merged []int64
	it := fl.blocks.Iterator()
	for it.Next() {
		bStart, bEnd := it.Key(), it.Key()+it.Value()
		if bStart > end {
			break
		}
		if bEnd == start || bStart == end {
			merged = append(merged, bStart)
			start = min(start, bStart)
			end = max(end, bEnd)
		}
	}
	for _, k := range merged {
		fl.blocks.Remove(k)
	}
	fl.blocks.Put(start, end-start)
}

func alignUp(v, align int64) int64 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}
