// Package alloc implements a linear-scan allocator over a single memory
// class with a fixed byte capacity.
//
// The allocator is generic over the resource it places. Everything it needs
// to know about a resource (size, alignment, whether it is pinned or fixed,
// what evicting it costs) comes from a Handler, so the same allocator serves
// primary buffers in the scheduler and spill slots in the spill manager.
//
// Allocation is first fit over an offset-ordered free list. A set of
// resources is placed atomically: either every member gets an address or the
// free list is left untouched. When a set does not fit and spilling is
// allowed, live resources are evicted cheapest first until it does.
// AllocateMoving goes one step further for a set blocked by fragmentation:
// resources the caller names as movable are evicted and placed again
// together with the set.
package alloc
