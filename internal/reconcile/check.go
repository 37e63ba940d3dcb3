package reconcile

import (
	"sort"

	"github.com/roach88/memsched/internal/depgraph"
	"github.com/roach88/memsched/internal/ir"
	"github.com/roach88/memsched/internal/spill"
)

// CheckDependencies verifies time(u) < time(v) for every original edge u->v.
func CheckDependencies(a *depgraph.Analysis, s *spill.Schedule) error {
	for v, preds := range a.Preds {
		for _, u := range preds {
			if s.Tasks[u].Time >= s.Tasks[v].Time {
				return ir.Errorf(ir.ErrCodeInvariantViolation,
					"dependency %s -> %s is not respected", a.Graph.Tasks[u].Label(), a.Graph.Tasks[v].Label()).
					WithTask(a.Graph.Tasks[v].Label()).
					WithDetail("pred_time", s.Tasks[u].Time).
					WithDetail("time", s.Tasks[v].Time)
			}
		}
	}
	return nil
}

// CheckOverlap verifies that placements live at a common time in the same
// memory occupy disjoint byte ranges.
func CheckOverlap(placements []ir.Placement) error {
	ps := append([]ir.Placement(nil), placements...)
	sort.SliceStable(ps, func(i, j int) bool { return ps[i].Start < ps[j].Start })
	for i := range ps {
		for j := i + 1; j < len(ps) && ps[j].Start <= ps[i].End; j++ {
			if ps[i].Overlaps(ps[j]) {
				return ir.Errorf(ir.ErrCodeInvariantViolation,
					"%s [%d,%d) overlaps %s [%d,%d) in %s memory",
					ps[i].Buffer, ps[i].Offset, ps[i].Offset+ps[i].Size,
					ps[j].Buffer, ps[j].Offset, ps[j].Offset+ps[j].Size,
					ps[i].Memory).
					WithBuffer(ps[j].Buffer).
					WithDetail("time", max(ps[i].Start, ps[j].Start))
			}
		}
	}
	return nil
}

// CheckCapacity verifies that every placement lies inside its memory and
// that the bytes live at any time never exceed the capacity. It returns the
// peak usage per memory.
func CheckCapacity(placements []ir.Placement, capacity map[ir.MemoryKind]int64, makespan int) (map[ir.MemoryKind]int64, error) {
	peak := make(map[ir.MemoryKind]int64)
	for _, p := range placements {
		limit, bounded := capacity[p.Memory]
		if bounded && (p.Offset < 0 || p.Offset+p.Size > limit) {
			return nil, ir.Errorf(ir.ErrCodeInvariantViolation,
				"%s [%d,%d) lies outside %s memory", p.Buffer, p.Offset, p.Offset+p.Size, p.Memory).
				WithBuffer(p.Buffer).
				WithDetail("capacity", limit)
		}
	}
	for t := 0; t < makespan; t++ {
		used := make(map[ir.MemoryKind]int64)
		for _, p := range placements {
			if p.Start <= t && t <= p.End {
				used[p.Memory] += p.Size
			}
		}
		for mem, u := range used {
			if limit, bounded := capacity[mem]; bounded && u > limit {
				return nil, ir.Errorf(ir.ErrCodeInvariantViolation,
					"%d bytes live in %s memory at time %d", u, mem, t).
					WithDetail("capacity", limit)
			}
			peak[mem] = max(peak[mem], u)
		}
	}
	return peak, nil
}

// CheckResidency verifies that every buffer a task touches has an address
// when the task runs. Input tasks are checked through their allocation
// roots; copy tasks through the exact names they read and write.
func CheckResidency(a *depgraph.Analysis, s *spill.Schedule) error {
	covered := func(match func(ir.Placement) bool, t int) bool {
		for _, p := range s.Placements {
			if match(p) && p.Start <= t && t <= p.End {
				return true
			}
		}
		return false
	}

	for _, task := range s.Tasks {
		var ids []string
		if task.Source >= 0 {
			orig := a.Graph.Tasks[task.Source]
			ids = append(append(ids, orig.Reads...), orig.Writes...)
		} else {
			ids = append(ids, task.Writes...)
			if task.Kind == ir.TaskSpillWrite {
				ids = append(ids, task.Reads...)
			}
		}
		for _, id := range ids {
			var match func(ir.Placement) bool
			if task.Source >= 0 {
				root := a.AddressRoot(id)
				if !a.Scheduled(root) {
					continue
				}
				match = func(p ir.Placement) bool { return p.Root == root && p.Memory == ir.MemoryPrimary }
			} else {
				match = func(p ir.Placement) bool { return p.Buffer == id }
			}
			if !covered(match, task.Time) {
				return ir.Errorf(ir.ErrCodeInvariantViolation,
					"buffer is not resident when the task runs").
					WithTask(task.Label()).
					WithBuffer(id).
					WithDetail("time", task.Time)
			}
		}
	}
	return nil
}
