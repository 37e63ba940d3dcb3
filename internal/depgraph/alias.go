package depgraph

import (
	"sort"

	"github.com/roach88/memsched/internal/ir"
)

// graphRoots resolves the alias roots of every buffer declared in g. The
// first declaration of a duplicated ID wins.
func graphRoots(g *ir.Graph) map[string][]string {
	buffers := make(map[string]ir.Buffer, len(g.Buffers))
	for _, b := range g.Buffers {
		if _, dup := buffers[b.ID]; !dup {
			buffers[b.ID] = b
		}
	}
	roots, _ := resolveAllRoots(g, buffers)
	return roots
}

// resolveAllRoots maps every declared buffer to the sorted set of allocation
// roots it may alias. A buffer with no alias entry, or one naming only
// itself, is its own root. Chains are followed transitively. Buffers whose
// chain loops back on itself are returned in cyclic (sorted) and resolve to
// themselves.
func resolveAllRoots(g *ir.Graph, buffers map[string]ir.Buffer) (map[string][]string, []string) {
	roots := make(map[string][]string, len(buffers))
	var cyclic []string

	var resolve func(id string, visiting map[string]bool) ([]string, bool)
	resolve = func(id string, visiting map[string]bool) ([]string, bool) {
		if rs, ok := roots[id]; ok {
			return rs, true
		}
		targets := g.Aliases[id]
		if isRoot(id, targets) {
			return []string{id}, true
		}
		if visiting[id] {
			return nil, false
		}
		visiting[id] = true
		defer delete(visiting, id)

		set := make(map[string]bool)
		for _, t := range targets {
			if t == id {
				continue
			}
			if _, declared := buffers[t]; !declared {
				continue
			}
			rs, ok := resolve(t, visiting)
			if !ok {
				return nil, false
			}
			for _, r := range rs {
				set[r] = true
			}
		}
		if len(set) == 0 {
			return []string{id}, true
		}
		out := make([]string, 0, len(set))
		for r := range set {
			out = append(out, r)
		}
		sort.Strings(out)
		return out, true
	}

	ids := make([]string, 0, len(buffers))
	for id := range buffers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		rs, ok := resolve(id, make(map[string]bool))
		if !ok {
			cyclic = append(cyclic, id)
			rs = []string{id}
		}
		roots[id] = rs
	}
	return roots, cyclic
}

func isRoot(id string, targets []string) bool {
	for _, t := range targets {
		if t != id {
			return false
		}
	}
	return true
}
