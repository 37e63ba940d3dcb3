package spill

import (
	"context"
	"log/slog"
	"sort"

	"github.com/roach88/memsched/internal/depgraph"
	"github.com/roach88/memsched/internal/ir"
	"github.com/roach88/memsched/internal/scheduler"
)

// Schedule is the spill manager's output: original and synthetic tasks with
// their final logical times.
//
// Tasks holds the input tasks at their input index (Source = index) followed
// by the synthetic copies (Source = -1). Schedule references Tasks by
// position and is sorted by time.
type Schedule struct {
	Tasks         []ir.PlannedTask
	Schedule      []ir.ScheduledOp
	Placements    []ir.Placement
	Spills        []ir.SpillRecord
	Peak          int64
	SecondaryPeak int64
	CopyTasks     int
	Makespan      int
}

// record is a spill record under optimization.
type record struct {
	ir.SpillRecord
	index      int // position in the scheduler's record list
	drop       bool
	sharedWith int // owner record index, -1 if it owns its copy
	slot       int64
	writeTime  int // final time of the spill write, -1 if none
	fillTime   int // final time of the fill, -1 if none
}

func (r *record) needsWrite() bool {
	return !r.drop && !r.Refetch && r.sharedWith < 0
}

// Manager runs the spill passes for one scheduler result.
type Manager struct {
	a       *depgraph.Analysis
	cfg     ir.Config
	res     *scheduler.Result
	log     *slog.Logger
	records []*record
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger for spill decisions.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.log = l
	}
}

// NewManager prepares the spill records of res for optimization.
func NewManager(a *depgraph.Analysis, res *scheduler.Result, cfg ir.Config, opts ...Option) *Manager {
	m := &Manager{a: a, cfg: cfg.WithDefaults(), res: res}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	for i, sp := range res.Spills {
		m.records = append(m.records, &record{
			SpillRecord: sp,
			index:       i,
			sharedWith:  -1,
			writeTime:   -1,
			fillTime:    -1,
		})
	}
	return m
}

// Run executes all three passes.
func Run(ctx context.Context, a *depgraph.Analysis, res *scheduler.Result, cfg ir.Config, opts ...Option) (*Schedule, error) {
	m := NewManager(a, res, cfg, opts...)
	m.OptimizeDataOpsSpills()
	m.RemoveRedundantSpillWrites()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.InsertSpillCopyOps()
}

// OptimizeDataOpsSpills drops spills that are never reloaded and marks
// spills of buffers produced by a data_op reading only non-primary buffers
// as refetches.
func (m *Manager) OptimizeDataOpsSpills() {
	for _, r := range m.records {
		if !r.Reloaded() {
			r.drop = true
			m.log.Debug("dropped unused spill", "buffer", r.Buffer, "evicted_at", r.EvictedAt)
			continue
		}
		if _, ok := m.refetchSource(r.Buffer); ok {
			r.Refetch = true
			m.log.Debug("spill becomes refetch", "buffer", r.Buffer)
		}
	}
}

// refetchSource returns the producing task of root if it is a data_op whose
// reads all live outside primary memory.
func (m *Manager) refetchSource(root string) (int, bool) {
	p, ok := m.a.Producer(root)
	if !ok {
		return 0, false
	}
	task := m.a.Graph.Tasks[p]
	if task.Kind != ir.TaskDataOp || len(task.Reads) == 0 {
		return 0, false
	}
	for _, id := range task.Reads {
		for _, r := range m.a.Roots(id) {
			if m.a.Buffer(r).InPrimary() {
				return 0, false
			}
		}
	}
	return p, true
}

// RemoveRedundantSpillWrites makes a spill share the secondary copy of the
// previous spill of the same buffer when nothing wrote the buffer between
// that spill's reload and this eviction.
func (m *Manager) RemoveRedundantSpillWrites() {
	byBuffer := make(map[string][]*record)
	for _, r := range m.records {
		if r.drop || r.Refetch {
			continue
		}
		byBuffer[r.Buffer] = append(byBuffer[r.Buffer], r)
	}
	roots := make([]string, 0, len(byBuffer))
	for root := range byBuffer {
		roots = append(roots, root)
	}
	sort.Strings(roots)
	for _, root := range roots {
		rs := byBuffer[root]
		sort.SliceStable(rs, func(i, j int) bool { return rs[i].EvictedAt < rs[j].EvictedAt })
		for k := 1; k < len(rs); k++ {
			prev, cur := rs[k-1], rs[k]
			if m.writtenBetween(root, *prev.ReloadedAt, cur.EvictedAt) {
				continue
			}
			owner := prev.index
			if prev.sharedWith >= 0 {
				owner = prev.sharedWith
			}
			cur.sharedWith = owner
			m.log.Debug("spill write elided", "buffer", root, "evicted_at", cur.EvictedAt, "shares", owner)
		}
	}
}

// writtenBetween reports whether a task scheduled in [from, to) writes root
// or one of its views.
func (m *Manager) writtenBetween(root string, from, to int) bool {
	for _, op := range m.res.Schedule {
		if op.Time < from || op.Time >= to {
			continue
		}
		for _, id := range m.a.Graph.Tasks[op.Task].Writes {
			for _, r := range m.a.Roots(id) {
				if r == root {
					return true
				}
			}
		}
	}
	return false
}
