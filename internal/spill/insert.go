package spill

import (
	"errors"
	"math"
	"sort"

	"github.com/roach88/memsched/internal/alloc"
	"github.com/roach88/memsched/internal/ir"
	"github.com/roach88/memsched/internal/scheduler"
)

// slotHandler places secondary copies, keyed by spill record index.
type slotHandler struct {
	m *Manager
}

var _ alloc.Handler[int] = slotHandler{}

func (h slotHandler) Size(i int) int64 {
	return h.m.a.Buffer(h.m.records[i].Buffer).Size
}

func (h slotHandler) Alignment(int) int64 { return 0 }
func (h slotHandler) IsFixed(int) bool    { return false }
func (h slotHandler) Evict(int)           {}
func (h slotHandler) IsSpillable(int) bool {
	return false
}

func (h slotHandler) Commit(i int, offset int64) error {
	h.m.records[i].slot = offset
	return nil
}

func (h slotHandler) SpillCost(int) alloc.Cost { return alloc.Cost{} }

// InsertSpillCopyOps materializes the surviving spill records: secondary
// addresses, spill_write and spill_read tasks, renamed consumers and
// renumbered logical times.
//
// Within one scheduler time the order is: spill writes, then fills, then
// the original tasks of that time, each copy at a logical time of its own.
func (m *Manager) InsertSpillCopyOps() (*Schedule, error) {
	secondaryPeak, err := m.assignSlots()
	if err != nil {
		return nil, err
	}

	kept := make(map[int]int) // scheduler record index -> output index
	for _, r := range m.records {
		if !r.drop {
			kept[r.index] = len(kept)
		}
	}

	evictedName := make(map[int]string)
	filledName := make(map[int]string)
	for _, res := range m.res.Residencies {
		if res.EvictedBy >= 0 {
			evictedName[res.EvictedBy] = res.Buffer
		}
		if res.FilledBy >= 0 {
			filledName[res.FilledBy] = res.Buffer
		}
	}

	writesAt := make(map[int][]*record)
	fillsAt := make(map[int][]*record)
	for _, r := range m.records {
		if r.needsWrite() {
			writesAt[r.EvictedAt] = append(writesAt[r.EvictedAt], r)
		}
		if !r.drop {
			fillsAt[*r.ReloadedAt] = append(fillsAt[*r.ReloadedAt], r)
		}
	}
	groups := make(map[int][]int)
	for _, op := range m.res.Schedule {
		groups[op.Time] = append(groups[op.Time], op.Task)
	}

	out := &Schedule{Peak: m.res.Peak, SecondaryPeak: secondaryPeak}
	out.Tasks = make([]ir.PlannedTask, len(m.a.Graph.Tasks))
	newTime := make([]int, m.res.Makespan)
	cur := 0
	for t := 0; t < m.res.Makespan; t++ {
		for _, r := range writesAt[t] {
			r.writeTime = cur
			out.Tasks = append(out.Tasks, ir.PlannedTask{
				Task: ir.Task{
					Name:     "spill_write:" + evictedName[r.index],
					Kind:     ir.TaskSpillWrite,
					Executor: m.cfg.SpillExecutor,
					Reads:    []string{evictedName[r.index]},
					Writes:   []string{ir.SpillName(r.Buffer, kept[r.index])},
				},
				Source: -1,
				Time:   cur,
			})
			cur++
		}
		for _, r := range fillsAt[t] {
			r.fillTime = cur
			out.Tasks = append(out.Tasks, ir.PlannedTask{
				Task: ir.Task{
					Name:     "spill_read:" + filledName[r.index],
					Kind:     ir.TaskSpillRead,
					Executor: m.cfg.SpillExecutor,
					Reads:    m.fillSources(r, kept),
					Writes:   []string{filledName[r.index]},
				},
				Source: -1,
				Time:   cur,
			})
			cur++
		}
		newTime[t] = cur
		for _, v := range groups[t] {
			task := m.a.Graph.Tasks[v]
			task.Reads = m.rename(task.Reads, t)
			task.Writes = m.rename(task.Writes, t)
			out.Tasks[v] = ir.PlannedTask{Task: task, Source: v, Time: cur}
		}
		cur++
	}
	out.Makespan = cur
	out.CopyTasks = len(out.Tasks) - len(m.a.Graph.Tasks)

	for i := range out.Tasks {
		out.Tasks[i].Index = i
	}
	order := make([]int, len(out.Tasks))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return out.Tasks[order[i]].Time < out.Tasks[order[j]].Time
	})
	for _, i := range order {
		out.Schedule = append(out.Schedule, ir.ScheduledOp{
			Task:     i,
			Time:     out.Tasks[i].Time,
			Original: out.Tasks[i].Source >= 0,
		})
	}

	out.Placements = m.placements(newTime, kept)
	out.Spills = m.spillRecords(newTime, kept)

	m.log.Debug("inserted spill copies",
		"spills", len(out.Spills),
		"copy_tasks", out.CopyTasks,
		"makespan", out.Makespan,
		"secondary_peak", secondaryPeak)
	return out, nil
}

// assignSlots gives every record that owns a secondary copy an address.
// A slot stays allocated until the last reload of the records sharing it.
// Secondary memory never spills: running out fails with UNSUPPORTED_SPILL.
func (m *Manager) assignSlots() (int64, error) {
	until := make(map[int]int)
	var owners []*record
	for _, r := range m.records {
		if r.needsWrite() {
			owners = append(owners, r)
			until[r.index] = *r.ReloadedAt
		}
	}
	for _, r := range m.records {
		if !r.drop && r.sharedWith >= 0 {
			until[r.sharedWith] = max(until[r.sharedWith], *r.ReloadedAt)
		}
	}
	sort.SliceStable(owners, func(i, j int) bool { return owners[i].EvictedAt < owners[j].EvictedAt })

	capacity := int64(math.MaxInt64 / 2)
	align := ir.DefaultAlignment
	if sec := m.cfg.Secondary; sec != nil {
		capacity = sec.Capacity
		align = sec.Alignment
	}
	mem := alloc.New[int](slotHandler{m: m}, capacity,
		alloc.WithAlignment(align),
		alloc.WithSpillsForbidden(),
		alloc.WithMemoryName(string(ir.MemorySecondary)))

	for _, o := range owners {
		mem.FreeNonAlive(func(i int) bool { return until[i] < o.EvictedAt })
		_, err := mem.Allocate([]int{o.index}, false)
		if errors.Is(err, alloc.ErrNoFit) {
			return 0, ir.Errorf(ir.ErrCodeUnsupportedSpill, "secondary memory cannot hold the spilled copy").
				WithBuffer(o.Buffer).
				WithDetail("capacity", capacity).
				WithDetail("used", mem.Used()).
				WithDetail("size", slotHandler{m: m}.Size(o.index))
		}
		if err != nil {
			return 0, err
		}
	}
	for _, r := range m.records {
		if !r.drop && r.sharedWith >= 0 {
			r.slot = m.records[r.sharedWith].slot
		}
	}
	return mem.Peak(), nil
}

// fillSources returns what a fill reads: the producing copy's sources for a
// refetch, the owning secondary copy otherwise.
func (m *Manager) fillSources(r *record, kept map[int]int) []string {
	if r.Refetch {
		p, _ := m.refetchSource(r.Buffer)
		return append([]string(nil), m.a.Graph.Tasks[p].Reads...)
	}
	owner := r.index
	if r.sharedWith >= 0 {
		owner = r.sharedWith
	}
	return []string{ir.SpillName(r.Buffer, kept[owner])}
}

// rename points buffer references of a task scheduled at scheduler time t at
// the fill generation resident at t.
func (m *Manager) rename(ids []string, t int) []string {
	if len(ids) == 0 {
		return ids
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id
		root := m.a.AddressRoot(id)
		if !m.a.Scheduled(root) {
			continue
		}
		if res, ok := m.residencyAt(root, t); ok && res.Generation > 0 {
			out[i] = ir.FillName(id, res.Generation)
		}
	}
	return out
}

func (m *Manager) residencyAt(root string, t int) (scheduler.Residency, bool) {
	for _, res := range m.res.Residencies {
		if res.Root == root && res.Start <= t && t <= res.End {
			return res, true
		}
	}
	return scheduler.Residency{}, false
}

func (m *Manager) placements(newTime []int, kept map[int]int) []ir.Placement {
	var out []ir.Placement
	for _, res := range m.res.Residencies {
		p := res.Placement
		start, end := newTime[p.Start], newTime[p.End]
		if res.FilledBy >= 0 && m.records[res.FilledBy].fillTime >= 0 {
			start = m.records[res.FilledBy].fillTime
		}
		if res.EvictedBy >= 0 && m.records[res.EvictedBy].writeTime >= 0 {
			end = m.records[res.EvictedBy].writeTime
		}
		p.Start, p.End = start, end
		out = append(out, p)
	}

	lastFill := make(map[int]int)
	for _, r := range m.records {
		if r.drop {
			continue
		}
		owner := r.index
		if r.sharedWith >= 0 {
			owner = r.sharedWith
		}
		lastFill[owner] = max(lastFill[owner], r.fillTime)
	}
	for _, r := range m.records {
		if !r.needsWrite() {
			continue
		}
		out = append(out, ir.Placement{
			Buffer: ir.SpillName(r.Buffer, kept[r.index]),
			Root:   r.Buffer,
			Offset: r.slot,
			Size:   m.a.Buffer(r.Buffer).Size,
			Start:  r.writeTime,
			End:    lastFill[r.index],
			Memory: ir.MemorySecondary,
		})
	}
	return out
}

func (m *Manager) spillRecords(newTime []int, kept map[int]int) []ir.SpillRecord {
	var out []ir.SpillRecord
	for _, r := range m.records {
		if r.drop {
			continue
		}
		sp := r.SpillRecord
		fill := r.fillTime
		// A refetch that moves a resident operand fills before the task
		// it was evicted for.
		sp.EvictedAt = min(newTime[r.EvictedAt], fill)
		if r.writeTime >= 0 {
			sp.EvictedAt = r.writeTime
		}
		sp.ReloadedAt = &fill
		if !r.Refetch {
			sp.SecondaryAddress = r.slot
		}
		if r.sharedWith >= 0 {
			owner := kept[r.sharedWith]
			sp.SharedWith = &owner
		}
		out = append(out, sp)
	}
	return out
}
