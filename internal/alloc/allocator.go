package alloc

import (
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/memsched/internal/ir"
)

// ErrNoFit means a set does not fit right now and spilling was not allowed.
// Callers treat it as "not allocable yet", not as a failure of the pass.
var ErrNoFit = errors.New("allocation does not fit")

type block struct {
	offset int64
	size   int64
	seq    int64
}

// Allocator places resources of type R inside [0, capacity).
//
// Allocator is not safe for concurrent use.
type Allocator[R comparable] struct {
	handler  Handler[R]
	capacity int64
	opts     options

	free     *freeList
	live     map[R]block
	reserved int64
	used     int64
	peak     int64
	seq      int64
}

// New creates an allocator for a memory of the given capacity.
func New[R comparable](handler Handler[R], capacity int64, opts ...Option) *Allocator[R] {
	o := options{alignment: 1, victims: CheapestFirst, memory: string(ir.MemoryPrimary)}
	for _, opt := range opts {
		opt(&o)
	}
	return &Allocator[R]{
		handler:  handler,
		capacity: capacity,
		opts:     o,
		free:     newFreeList(capacity),
		live:     make(map[R]block),
	}
}

// Capacity returns the memory size.
func (a *Allocator[R]) Capacity() int64 { return a.capacity }

// Used returns the bytes currently allocated, reserved ranges included.
func (a *Allocator[R]) Used() int64 { return a.used }

// Peak returns the high-water mark of Used.
func (a *Allocator[R]) Peak() int64 { return a.peak }

// IsLive reports whether r currently holds an address.
func (a *Allocator[R]) IsLive(r R) bool {
	_, ok := a.live[r]
	return ok
}

// Offset returns the address of a live resource.
func (a *Allocator[R]) Offset(r R) (int64, bool) {
	b, ok := a.live[r]
	return b.offset, ok
}

// Live returns the live resources in allocation order.
func (a *Allocator[R]) Live() []R {
	type entry struct {
		r   R
		seq int64
	}
	entries := make([]entry, 0, len(a.live))
	for r, b := range a.live {
		entries = append(entries, entry{r, b.seq})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]R, len(entries))
	for i, e := range entries {
		out[i] = e.r
	}
	return out
}

// Reserve removes a fixed range from the free list for the allocator's whole
// lifetime. Overlapping reservations fail with DOUBLE_ALLOCATION.
func (a *Allocator[R]) Reserve(offset, size int64) error {
	if offset < 0 || offset+size > a.capacity {
		return ir.Errorf(ir.ErrCodeInfeasibleAllocation,
			"fixed range [%d,%d) lies outside %s memory", offset, offset+size, a.opts.memory).
			WithDetail("capacity", a.capacity)
	}
	if !a.free.take(offset, size) {
		return ir.Errorf(ir.ErrCodeDoubleAllocation,
			"fixed range [%d,%d) overlaps an existing allocation", offset, offset+size)
	}
	a.reserved += size
	a.grow(size)
	return nil
}

// Allocate gives every member of set an address, atomically.
//
// Fixed members and members that are already live are skipped by the
// placement itself; a live member is reported as DOUBLE_ALLOCATION. When the
// set does not fit:
//   - with allowSpills=false the result is ErrNoFit and nothing changes;
//   - on a memory that forbids spilling the result is UNSUPPORTED_SPILL;
//   - otherwise spillable live resources are evicted in victim order until
//     the set fits, and the evictions are returned. If no sequence of
//     evictions makes room the result is INFEASIBLE_ALLOCATION and nothing
//     changes.
func (a *Allocator[R]) Allocate(set []R, allowSpills bool) ([]Eviction[R], error) {
	members, requested, err := a.members(set)
	if err != nil || len(members) == 0 {
		return nil, err
	}

	if offsets, ok := a.place(a.free.clone(), members); ok {
		return nil, a.commit(members, offsets)
	}
	if !allowSpills {
		return nil, ErrNoFit
	}
	if a.opts.forbidSpills {
		return nil, a.unsupportedSpill(requested)
	}

	victims := a.victims(members)
	sim := a.free.clone()
	for k, v := range victims {
		b := a.live[v]
		sim.release(b.offset, b.size)
		if _, ok := a.place(sim.clone(), members); ok {
			return a.evictAndCommit(victims[:k+1], members)
		}
	}
	return nil, a.infeasible(requested)
}

// AllocateMoving is Allocate with spills allowed, for a set that only fits
// once some live resources change address. Every resource in movable must be
// live; a moved resource is evicted, reported in the evictions and committed
// again at its new offset within the same call.
//
// Fewer victims are preferred over fewer moves, and moves are taken largest
// first. If no combination makes room the result is INFEASIBLE_ALLOCATION
// and nothing changes.
func (a *Allocator[R]) AllocateMoving(set, movable []R) ([]Eviction[R], error) {
	members, requested, err := a.members(set)
	if err != nil || len(members) == 0 {
		return nil, err
	}
	if a.opts.forbidSpills {
		return nil, a.unsupportedSpill(requested)
	}

	var moves []R
	for _, r := range movable {
		if _, ok := a.live[r]; !ok {
			return nil, ir.Errorf(ir.ErrCodeInvariantViolation, "cannot move a resource that is not allocated in %s memory", a.opts.memory).
				WithBuffer(fmt.Sprint(r))
		}
		if !a.handler.IsFixed(r) {
			moves = append(moves, r)
		}
	}
	sort.SliceStable(moves, func(i, j int) bool {
		return a.handler.Size(moves[i]) > a.handler.Size(moves[j])
	})

	victims := a.victims(concat(members, moves))
	base := a.free.clone()
	for j := 0; j <= len(victims); j++ {
		if j > 0 {
			b := a.live[victims[j-1]]
			base.release(b.offset, b.size)
		}
		sim := base.clone()
		for k, m := range moves {
			b := a.live[m]
			sim.release(b.offset, b.size)
			placed := concat(members, moves[:k+1])
			if _, ok := a.place(sim.clone(), placed); ok {
				return a.evictAndCommit(concat(victims[:j], moves[:k+1]), placed)
			}
		}
	}
	return nil, a.infeasible(requested)
}

// members filters set down to the resources that need a placement.
func (a *Allocator[R]) members(set []R) ([]R, int64, error) {
	var members []R
	var requested int64
	for _, r := range set {
		if a.handler.IsFixed(r) {
			continue
		}
		if _, ok := a.live[r]; ok {
			return nil, 0, ir.Errorf(ir.ErrCodeDoubleAllocation,
				"resource is already allocated in %s memory", a.opts.memory).
				WithBuffer(fmt.Sprint(r))
		}
		members = append(members, r)
		requested += a.handler.Size(r)
	}
	return members, requested, nil
}

func (a *Allocator[R]) unsupportedSpill(requested int64) error {
	return ir.Errorf(ir.ErrCodeUnsupportedSpill,
		"%d bytes do not fit and %s memory does not allow spilling", requested, a.opts.memory).
		WithDetail("requested", requested).
		WithDetail("free", a.free.total()).
		WithDetail("capacity", a.capacity)
}

func (a *Allocator[R]) infeasible(requested int64) error {
	return ir.Errorf(ir.ErrCodeInfeasibleAllocation,
		"%d bytes do not fit in %s memory even after evicting every spill candidate", requested, a.opts.memory).
		WithDetail("requested", requested).
		WithDetail("free", a.free.total()).
		WithDetail("capacity", a.capacity)
}

// victims returns the spillable live resources outside members, in eviction
// order.
func (a *Allocator[R]) victims(members []R) []R {
	inSet := make(map[R]bool, len(members))
	for _, r := range members {
		inSet[r] = true
	}
	heap := newVictimHeap[R](a.opts.victims)
	for _, r := range a.Live() {
		if inSet[r] || a.handler.IsFixed(r) || !a.handler.IsSpillable(r) {
			continue
		}
		heap.Push(&victim[R]{
			resource: r,
			cand:     Candidate{Cost: a.handler.SpillCost(r), Seq: a.live[r].seq},
		})
	}
	var out []R
	for {
		v, ok := heap.Pop()
		if !ok {
			break
		}
		out = append(out, v.resource)
	}
	return out
}

// place runs first fit for members on fl, largest first, and returns the
// offsets in members order.
func (a *Allocator[R]) place(fl *freeList, members []R) ([]int64, bool) {
	order := make([]int, len(members))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return a.handler.Size(members[order[i]]) > a.handler.Size(members[order[j]])
	})

	offsets := make([]int64, len(members))
	for _, i := range order {
		r := members[i]
		size := a.handler.Size(r)
		off, ok := fl.firstFit(size, a.alignment(r))
		if !ok {
			return nil, false
		}
		fl.take(off, size)
		offsets[i] = off
	}
	return offsets, true
}

func (a *Allocator[R]) evictAndCommit(victims, members []R) ([]Eviction[R], error) {
	evictions := make([]Eviction[R], 0, len(victims))
	for _, v := range victims {
		b := a.live[v]
		a.release(v, b)
		a.handler.Evict(v)
		evictions = append(evictions, Eviction[R]{Resource: v, Offset: b.offset, Size: b.size})
	}
	offsets, ok := a.place(a.free.clone(), members)
	if !ok {
		// The simulation above found room with exactly these victims.
		return evictions, ir.Errorf(ir.ErrCodeInvariantViolation, "allocation failed after evictions")
	}
	return evictions, a.commit(members, offsets)
}

// commit takes the ranges and notifies the handler. A rejected commit
// releases every member placed by this call. Commits the handler already
// accepted and evictions made for the call are not undone; callers treat
// the error as fatal.
func (a *Allocator[R]) commit(members []R, offsets []int64) error {
	for i, r := range members {
		size := a.handler.Size(r)
		a.free.take(offsets[i], size)
		a.seq++
		a.live[r] = block{offset: offsets[i], size: size, seq: a.seq}
		a.grow(size)
	}
	for i, r := range members {
		if err := a.handler.Commit(r, offsets[i]); err != nil {
			for _, m := range members {
				a.release(m, a.live[m])
			}
			return err
		}
	}
	return nil
}

// Free returns a live resource's range to the free list. Freeing a resource
// that is not live fails with STALE_FREE.
func (a *Allocator[R]) Free(r R) error {
	b, ok := a.live[r]
	if !ok {
		return ir.Errorf(ir.ErrCodeStaleFree, "resource is not allocated in %s memory", a.opts.memory).
			WithBuffer(fmt.Sprint(r))
	}
	a.release(r, b)
	return nil
}

// FreeNonAlive frees every live resource for which isDead reports true and
// returns them in allocation order.
func (a *Allocator[R]) FreeNonAlive(isDead func(R) bool) []R {
	var freed []R
	for _, r := range a.Live() {
		if isDead(r) {
			a.release(r, a.live[r])
			freed = append(freed, r)
		}
	}
	return freed
}

func (a *Allocator[R]) release(r R, b block) {
	delete(a.live, r)
	a.free.release(b.offset, b.size)
	a.used -= b.size
}

func (a *Allocator[R]) grow(size int64) {
	a.used += size
	a.peak = max(a.peak, a.used)
}

func (a *Allocator[R]) alignment(r R) int64 {
	if al := a.handler.Alignment(r); al > 0 {
		return al
	}
	return max(a.opts.alignment, 1)
}
