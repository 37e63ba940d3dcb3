package depgraph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/memsched/internal/ir"
)

// Analysis is the precomputed view of a validated, acyclic graph.
type Analysis struct {
	Graph *ir.Graph

	// Preds and Succs hold every ordering constraint per task: explicit data
	// and control edges plus producer -> reader edges derived from buffers.
	Preds [][]int
	Succs [][]int

	// Order is a topological order; ties are broken by lower index.
	Order []int

	// PathLen is the number of tasks on the longest path from a task to a sink,
	// the task itself included.
	PathLen []int

	buffers   map[string]ir.Buffer
	roots     map[string][]string // buffer -> alias roots
	producers map[string]int      // buffer -> first writer
	users     map[string][]int    // root -> tasks keeping it alive
	rootIDs   []string
}

// Build validates g and computes its Analysis.
//
// Failures, in order of precedence: UNSUPPORTED_IR_SHAPE for the first
// explicit deallocation task, INVALID_GRAPH for structural errors,
// CYCLIC_DEPENDENCY for the first cycle found.
func Build(g *ir.Graph) (*Analysis, error) {
	for _, task := range g.Tasks {
		if task.Kind == ir.TaskDealloc {
			return nil, ir.Errorf(ir.ErrCodeUnsupportedIRShape,
				"explicit deallocation is not supported; lifetimes are derived from liveness").
				WithTask(task.Label())
		}
		if task.Kind.IsSynthetic() {
			return nil, ir.Errorf(ir.ErrCodeUnsupportedIRShape,
				"task kind %q is reserved for spill copies", task.Kind).
				WithTask(task.Label())
		}
	}

	if errs := Validate(g); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, ir.Errorf(ir.ErrCodeInvalidGraph, "%s", strings.Join(msgs, "; ")).
			WithDetail("errors", len(errs))
	}

	if cycles := AnalyzeCycles(g); len(cycles) > 0 {
		c := cycles[0]
		return nil, ir.Errorf(ir.ErrCodeCyclicDependency, "%s", c.Message).
			WithTask(g.Tasks[c.Tasks[0]].Label()).
			WithDetail("cycles", len(cycles))
	}

	a := &Analysis{
		Graph:     g,
		buffers:   make(map[string]ir.Buffer, len(g.Buffers)),
		producers: firstWriters(g),
	}
	for _, b := range g.Buffers {
		a.buffers[b.ID] = b
	}
	a.roots, _ = resolveAllRoots(g, a.buffers)

	a.Succs = successorGraph(g)
	a.Preds = make([][]int, len(g.Tasks))
	for v, ss := range a.Succs {
		for _, s := range ss {
			a.Preds[s] = append(a.Preds[s], v)
		}
	}

	a.Order = topoOrder(a.Preds, a.Succs)
	a.PathLen = make([]int, len(g.Tasks))
	for i := len(a.Order) - 1; i >= 0; i-- {
		v := a.Order[i]
		best := 0
		for _, s := range a.Succs[v] {
			best = max(best, a.PathLen[s])
		}
		a.PathLen[v] = best + 1
	}

	a.computeUsers()
	return a, nil
}

// topoOrder is Kahn's algorithm picking the lowest ready index first.
func topoOrder(preds, succs [][]int) []int {
	n := len(preds)
	indeg := make([]int, n)
	for v := range preds {
		indeg[v] = len(preds[v])
	}
	var ready []int
	for v := 0; v < n; v++ {
		if indeg[v] == 0 {
			ready = append(ready, v)
		}
	}
	order := make([]int, 0, n)
	for len(ready) > 0 {
		sort.Ints(ready)
		v := ready[0]
		ready = ready[1:]
		order = append(order, v)
		for _, s := range succs[v] {
			indeg[s]--
			if indeg[s] == 0 {
				ready = append(ready, s)
			}
		}
	}
	return order
}

func (a *Analysis) computeUsers() {
	sets := make(map[string]map[int]bool)
	mark := func(buffer string, task int) {
		for _, r := range a.roots[buffer] {
			if sets[r] == nil {
				sets[r] = make(map[int]bool)
			}
			sets[r][task] = true
		}
	}
	for i, task := range a.Graph.Tasks {
		for _, id := range task.Reads {
			mark(id, i)
		}
		for _, id := range task.Writes {
			mark(id, i)
		}
	}
	for id, lr := range a.Graph.LiveRanges {
		mark(id, lr.Birth)
		mark(id, lr.Death)
	}

	a.users = make(map[string][]int, len(sets))
	for r, set := range sets {
		a.users[r] = sortedSet(set)
	}

	for _, b := range a.Graph.Buffers {
		if rs := a.roots[b.ID]; len(rs) == 1 && rs[0] == b.ID {
			a.rootIDs = append(a.rootIDs, b.ID)
		}
	}
	sort.Strings(a.rootIDs)
}

// Buffer returns the declared buffer with the given ID.
func (a *Analysis) Buffer(id string) ir.Buffer {
	return a.buffers[id]
}

// Roots returns the allocation roots buffer id may alias.
func (a *Analysis) Roots(id string) []string {
	return a.roots[id]
}

// IsRoot reports whether id is its own allocation root.
func (a *Analysis) IsRoot(id string) bool {
	rs := a.roots[id]
	return len(rs) == 1 && rs[0] == id
}

// AddressRoot returns the root a view's address is computed from: the first
// of its roots in sorted order.
func (a *Analysis) AddressRoot(id string) string {
	if rs := a.roots[id]; len(rs) > 0 {
		return rs[0]
	}
	return id
}

// RootIDs returns every allocation root, sorted.
func (a *Analysis) RootIDs() []string {
	return a.rootIDs
}

// Producer returns the first task writing buffer id.
func (a *Analysis) Producer(id string) (int, bool) {
	p, ok := a.producers[id]
	return p, ok
}

// Users returns the tasks that keep root alive: readers and writers of every
// alias member plus their live-range birth and death tasks.
func (a *Analysis) Users(root string) []int {
	return a.users[root]
}

// Scheduled returns the roots the scheduler must place: primary, not fixed.
func (a *Analysis) Scheduled(root string) bool {
	b := a.buffers[root]
	return b.InPrimary() && !b.Fixed
}

// TaskRoots returns the schedulable roots task reads and writes, each sorted
// and de-duplicated. A root both read and written appears in both.
func (a *Analysis) TaskRoots(task int) (reads, writes []string) {
	t := a.Graph.Tasks[task]
	return a.collectRoots(t.Reads), a.collectRoots(t.Writes)
}

func (a *Analysis) collectRoots(ids []string) []string {
	set := make(map[string]bool)
	for _, id := range ids {
		for _, r := range a.roots[id] {
			if a.Scheduled(r) {
				set[r] = true
			}
		}
	}
	out := make([]string, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// String summarizes the analysis for debug logging.
func (a *Analysis) String() string {
	return fmt.Sprintf("analysis(tasks=%d, roots=%d, critical_path=%d)",
		len(a.Graph.Tasks), len(a.rootIDs), a.criticalPath())
}

func (a *Analysis) criticalPath() int {
	best := 0
	for _, l := range a.PathLen {
		best = max(best, l)
	}
	return best
}
