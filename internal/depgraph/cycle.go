package depgraph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/memsched/internal/ir"
)

// Cycle is a strongly connected component of the task graph.
type Cycle struct {
	Tasks   []int    `json:"tasks"`   // SCC members, ascending
	Path    []string `json:"path"`    // cycle traversal by task label: ["a", "b", "a"]
	Message string   `json:"message"` // human-readable description
}

// AnalyzeCycles detects dependency cycles among the tasks of g.
//
// The graph's edges are the explicit data and control predecessors plus the
// producer -> reader edges implied by buffers. Tarjan's algorithm finds the
// strongly connected components; each SCC with more than one task, or a task
// depending on itself, is reported with a reconstructed path.
//
// A DAG returns an empty list. References that fail validation are ignored.
func AnalyzeCycles(g *ir.Graph) []Cycle {
	if len(g.Tasks) == 0 {
		return []Cycle{}
	}

	succs := successorGraph(g)
	sccs := tarjanSCC(succs)

	cycles := []Cycle{}
	for _, scc := range sccs {
		if len(scc) > 1 || hasSelfLoop(scc[0], succs) {
			cycles = append(cycles, sccToCycle(g, scc, succs))
		}
	}
	sort.Slice(cycles, func(i, j int) bool {
		return cycles[i].Tasks[0] < cycles[j].Tasks[0]
	})
	return cycles
}

// successorGraph returns successor lists for every task: explicit edges
// (self loops included) plus derived producer -> reader edges, sorted and
// de-duplicated. A reader depends on the first writer of the buffer it
// names and on the first writer of each alias root behind it, whichever
// member of the root that writer names.
func successorGraph(g *ir.Graph) [][]int {
	n := len(g.Tasks)
	sets := make([]map[int]bool, n)
	for i := range sets {
		sets[i] = make(map[int]bool)
	}
	add := func(from, to int) {
		if from >= 0 && from < n && to >= 0 && to < n {
			sets[from][to] = true
		}
	}

	for i, task := range g.Tasks {
		for _, p := range task.DataPreds {
			add(p, i)
		}
		for _, p := range task.ControlPreds {
			add(p, i)
		}
	}

	producers := firstWriters(g)
	roots := graphRoots(g)
	rootProducers := firstRootWriters(g, roots)
	for i, task := range g.Tasks {
		for _, id := range task.Reads {
			if w, ok := producers[id]; ok && w != i {
				add(w, i)
			}
			for _, r := range roots[id] {
				if w, ok := rootProducers[r]; ok && w != i {
					add(w, i)
				}
			}
		}
	}

	out := make([][]int, n)
	for i, set := range sets {
		out[i] = sortedSet(set)
	}
	return out
}

// firstWriters maps each buffer to the lowest-indexed task writing it.
func firstWriters(g *ir.Graph) map[string]int {
	producers := make(map[string]int)
	for i, task := range g.Tasks {
		for _, id := range task.Writes {
			if _, ok := producers[id]; !ok {
				producers[id] = i
			}
		}
	}
	return producers
}

// firstRootWriters maps each allocation root to the lowest-indexed task
// writing the root or any view of it.
func firstRootWriters(g *ir.Graph, roots map[string][]string) map[string]int {
	producers := make(map[string]int)
	for i, task := range g.Tasks {
		for _, id := range task.Writes {
			for _, r := range roots[id] {
				if _, ok := producers[r]; !ok {
					producers[r] = i
				}
			}
		}
	}
	return producers
}

func sortedSet(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

func hasSelfLoop(node int, succs [][]int) bool {
	for _, s := range succs[node] {
		if s == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in index order so the result is deterministic.
func tarjanSCC(succs [][]int) [][]int {
	n := len(succs)
	var (
		index   = 0
		stack   []int
		indices = make([]int, n)
		lowlink = make([]int, n)
		onStack = make([]bool, n)
		sccs    [][]int
	)
	for i := range indices {
		indices[i] = -1
	}

	var strongConnect func(int)
	strongConnect = func(v int) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range succs[v] {
			if indices[w] < 0 {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is a root node: pop the stack and emit an SCC
		if lowlink[v] == indices[v] {
			var scc []int
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sort.Ints(scc)
			sccs = append(sccs, scc)
		}
	}

	for v := 0; v < n; v++ {
		if indices[v] < 0 {
			strongConnect(v)
		}
	}
	return sccs
}

func sccToCycle(g *ir.Graph, scc []int, succs [][]int) Cycle {
	var path []int
	if len(scc) == 1 {
		path = []int{scc[0], scc[0]}
	} else {
		path = reconstructCyclePath(scc, succs)
	}
	labels := make([]string, len(path))
	for i, t := range path {
		labels[i] = g.Tasks[t].Label()
	}
	return Cycle{
		Tasks:   scc,
		Path:    labels,
		Message: fmt.Sprintf("dependency cycle: %s", strings.Join(labels, " -> ")),
	}
}

// reconstructCyclePath walks from the smallest SCC member along edges that
// stay inside the SCC until it returns to the start. Every node of a
// non-trivial SCC reaches the start, so a depth-first walk always closes.
func reconstructCyclePath(scc []int, succs [][]int) []int {
	member := make(map[int]bool, len(scc))
	for _, v := range scc {
		member[v] = true
	}
	start := scc[0]
	visited := map[int]bool{start: true}
	path := []int{start}

	var walk func(v int) bool
	walk = func(v int) bool {
		for _, w := range succs[v] {
			if w == start {
				path = append(path, start)
				return true
			}
			if member[w] && !visited[w] {
				visited[w] = true
				path = append(path, w)
				if walk(w) {
					return true
				}
				path = path[:len(path)-1]
			}
		}
		return false
	}
	walk(start)
	return path
}
