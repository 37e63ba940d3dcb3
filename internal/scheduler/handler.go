package scheduler

import (
	"math"

	"github.com/roach88/memsched/internal/alloc"
	"github.com/roach88/memsched/internal/ir"
)

// bufferHandler adapts allocation roots of the analysed graph to the
// allocator. Commit and Evict keep the scheduler's residency and spill
// bookkeeping in step with the allocator.
type bufferHandler struct {
	s *scheduler
}

var _ alloc.Handler[string] = bufferHandler{}

func (h bufferHandler) Size(r string) int64 {
	return h.s.a.Buffer(r).Size
}

func (h bufferHandler) Alignment(r string) int64 {
	return h.s.a.Buffer(r).Alignment
}

func (h bufferHandler) IsFixed(r string) bool {
	return h.s.a.Buffer(r).Fixed
}

// Commit opens a residency for r at the current time. Committing a root that
// already has an open residency is a DOUBLE_ALLOCATION. Committing a spilled
// root is a reload: it closes the spill record and opens the next fill
// generation.
func (h bufferHandler) Commit(r string, offset int64) error {
	s := h.s
	if _, ok := s.open[r]; ok {
		return ir.Errorf(ir.ErrCodeDoubleAllocation, "buffer already has an address").
			WithBuffer(r).
			WithDetail("time", s.clock.Now())
	}

	filledBy := -1
	if idx, ok := s.spilled[r]; ok {
		now, task := s.clock.Now(), s.current
		s.spills[idx].ReloadedAt = &now
		s.spills[idx].ReloadedFor = &task
		s.gen[r]++
		filledBy = idx
		delete(s.spilled, r)
	}

	s.open[r] = len(s.residencies)
	s.residencies = append(s.residencies, Residency{
		Placement: ir.Placement{
			Buffer: ir.FillName(r, s.gen[r]),
			Root:   r,
			Offset: offset,
			Size:   h.Size(r),
			Start:  s.clock.Now(),
			End:    -1,
			Memory: ir.MemoryPrimary,
		},
		Generation: s.gen[r],
		EvictedBy:  -1,
		FilledBy:   filledBy,
	})
	return nil
}

// Evict closes r's residency one time step before the current time and
// records a spill.
func (h bufferHandler) Evict(r string) {
	s := h.s
	idx, ok := s.open[r]
	if !ok {
		return
	}
	delete(s.open, r)

	now := s.clock.Now()
	res := &s.residencies[idx]
	res.End = now - 1
	res.EvictedBy = len(s.spills)

	s.spilled[r] = len(s.spills)
	s.spills = append(s.spills, ir.SpillRecord{
		Buffer:     r,
		EvictedAt:  now,
		EvictedFor: s.current,
		Offset:     res.Offset,
	})
	s.log.Debug("evicted buffer", "buffer", r, "time", now, "offset", res.Offset, "size", res.Size)
}

// SpillCost is the buffer size and the topological rank of its next
// unscheduled user.
func (h bufferHandler) SpillCost(r string) alloc.Cost {
	s := h.s
	next := math.MaxInt
	for _, u := range s.a.Users(r) {
		if !s.scheduled[u] {
			next = min(next, s.rank[u])
		}
	}
	return alloc.Cost{Bytes: h.Size(r), NextUse: next}
}

func (h bufferHandler) IsSpillable(r string) bool {
	return !h.s.pinned[r] && !h.IsFixed(r)
}
