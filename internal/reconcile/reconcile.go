package reconcile

import (
	"sort"
	"strings"

	"github.com/roach88/memsched/internal/depgraph"
	"github.com/roach88/memsched/internal/ir"
	"github.com/roach88/memsched/internal/spill"
)

// Reconcile checks s and builds the final plan.
func Reconcile(a *depgraph.Analysis, s *spill.Schedule, cfg ir.Config) (*ir.Plan, error) {
	cfg = cfg.WithDefaults()

	if err := CheckDependencies(a, s); err != nil {
		return nil, err
	}
	if err := CheckOverlap(s.Placements); err != nil {
		return nil, err
	}
	capacity := map[ir.MemoryKind]int64{ir.MemoryPrimary: cfg.Primary.Capacity}
	if cfg.Secondary != nil {
		capacity[ir.MemorySecondary] = cfg.Secondary.Capacity
	}
	peak, err := CheckCapacity(s.Placements, capacity, s.Makespan)
	if err != nil {
		return nil, err
	}
	if err := CheckResidency(a, s); err != nil {
		return nil, err
	}

	tasks, newIndex := reorder(s.Tasks)
	edges := regenerateEdges(tasks)

	schedule := make([]ir.ScheduledOp, len(s.Schedule))
	for i, op := range s.Schedule {
		op.Task = newIndex[op.Task]
		schedule[i] = op
	}
	sort.SliceStable(schedule, func(i, j int) bool {
		if schedule[i].Time != schedule[j].Time {
			return schedule[i].Time < schedule[j].Time
		}
		return schedule[i].Task < schedule[j].Task
	})

	placements := append([]ir.Placement(nil), s.Placements...)
	sort.SliceStable(placements, func(i, j int) bool {
		pi, pj := placements[i], placements[j]
		if pi.Memory != pj.Memory {
			return pi.Memory < pj.Memory
		}
		if pi.Start != pj.Start {
			return pi.Start < pj.Start
		}
		if pi.Offset != pj.Offset {
			return pi.Offset < pj.Offset
		}
		return pi.Buffer < pj.Buffer
	})

	plan := &ir.Plan{
		Graph:      a.Graph.Name,
		Tasks:      tasks,
		Schedule:   schedule,
		Placements: placements,
		Addresses:  Addresses(a, placements),
		Spills:     s.Spills,
		Edges:      edges,
		Report: ir.UsageReport{
			Capacity:      cfg.Primary.Capacity,
			PeakUsage:     peak[ir.MemoryPrimary],
			SecondaryPeak: s.SecondaryPeak,
			SpillCount:    len(s.Spills),
			CopyTasks:     s.CopyTasks,
			Makespan:      s.Makespan,
		},
	}
	if cfg.Secondary != nil {
		plan.Report.SecondaryCapacity = cfg.Secondary.Capacity
	}
	return plan, nil
}

// reorder sorts tasks by (time, index), renumbers them and drops the input
// edge lists, which regenerated edges replace.
func reorder(in []ir.PlannedTask) ([]ir.PlannedTask, []int) {
	tasks := append([]ir.PlannedTask(nil), in...)
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Time != tasks[j].Time {
			return tasks[i].Time < tasks[j].Time
		}
		return tasks[i].Index < tasks[j].Index
	})
	newIndex := make([]int, len(in))
	for i := range tasks {
		newIndex[tasks[i].Index] = i
		tasks[i].Index = i
		tasks[i].DataPreds = nil
		tasks[i].DataSuccs = nil
		tasks[i].ControlPreds = nil
		tasks[i].ControlSuccs = nil
	}
	return tasks, newIndex
}

// regenerateEdges links every task at one logical time to every task at the
// next distinct time. tasks must be sorted by time.
func regenerateEdges(tasks []ir.PlannedTask) []ir.Edge {
	var edges []ir.Edge
	var prev, cur []int
	for i := range tasks {
		if i > 0 && tasks[i].Time != tasks[i-1].Time {
			prev, cur = cur, nil
		}
		cur = append(cur, i)
		tasks[i].Deps = append([]int(nil), prev...)
		for _, p := range prev {
			edges = append(edges, ir.Edge{From: p, To: i})
		}
	}
	return edges
}

// Addresses returns the address attribute of every placed buffer, of every
// view of a placed root (root offset + view offset, per fill generation) and
// of fixed buffers outside primary memory. Sorted by buffer name.
func Addresses(a *depgraph.Analysis, placements []ir.Placement) []ir.Address {
	seen := make(map[string]bool)
	var out []ir.Address
	add := func(addr ir.Address) {
		if !seen[addr.Buffer] {
			seen[addr.Buffer] = true
			out = append(out, addr)
		}
	}

	for _, p := range placements {
		add(ir.Address{Buffer: p.Buffer, Offset: p.Offset, Memory: p.Memory})
	}
	for _, b := range a.Graph.Buffers {
		if a.IsRoot(b.ID) {
			if b.Fixed && !b.InPrimary() {
				add(ir.Address{Buffer: b.ID, Offset: b.Address, Memory: b.Memory})
			}
			continue
		}
		root := a.AddressRoot(b.ID)
		for _, p := range placements {
			if p.Root != root || p.Memory != ir.MemoryPrimary {
				continue
			}
			suffix := strings.TrimPrefix(p.Buffer, root)
			add(ir.Address{Buffer: b.ID + suffix, Offset: p.Offset + b.ViewOffset, Memory: p.Memory})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Buffer < out[j].Buffer })
	return out
}
