package depgraph

import (
	"fmt"
	"sort"

	"github.com/roach88/memsched/internal/ir"
)

// Validation error codes (E100-E199)
const (
	ErrEmptyGraph          = "E100" // graph has no tasks
	ErrTaskIndexMismatch   = "E101" // task index differs from its position
	ErrUnknownBuffer       = "E102" // read/write/live range of an undeclared buffer
	ErrUnknownTask         = "E103" // edge to a task index out of range
	ErrSelfDependency      = "E104" // task depends on itself
	ErrDuplicateBuffer     = "E105" // buffer declared twice
	ErrInvalidBufferSize   = "E106" // size must be positive
	ErrInvalidFixedAddress = "E107" // fixed address negative or misaligned
	ErrUnknownAliasRoot    = "E108" // alias refers to an undeclared buffer
	ErrInvalidLiveRange    = "E109" // birth > death or outside the task list
	ErrSuccMismatch        = "E110" // successor list does not mirror predecessors
	ErrInvalidAlignment    = "E111" // alignment must be a power of two
	ErrViewOutOfBounds     = "E112" // view extends past its alias root
	ErrReadBeforeProduced  = "E113" // primary buffer read but never written
	ErrAliasCycle          = "E114" // alias chain loops back on itself
)

// ValidationError represents a structural error in the input graph.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks the graph against its structural contract.
// Returns all errors found (does not fail-fast), in a deterministic order.
func Validate(g *ir.Graph) []ValidationError {
	var errs []ValidationError

	if len(g.Tasks) == 0 {
		errs = append(errs, ValidationError{
			Field:   "tasks",
			Message: "at least one task is required",
			Code:    ErrEmptyGraph,
		})
	}

	buffers := make(map[string]ir.Buffer, len(g.Buffers))
	for i, b := range g.Buffers {
		field := fmt.Sprintf("buffers[%d]", i)
		if _, dup := buffers[b.ID]; dup {
			errs = append(errs, ValidationError{
				Field:   field + ".id",
				Message: fmt.Sprintf("duplicate buffer id: %q", b.ID),
				Code:    ErrDuplicateBuffer,
			})
			continue
		}
		buffers[b.ID] = b

		if b.Size <= 0 {
			errs = append(errs, ValidationError{
				Field:   field + ".size",
				Message: fmt.Sprintf("buffer %q must have a positive size, got %d", b.ID, b.Size),
				Code:    ErrInvalidBufferSize,
			})
		}
		if b.Alignment < 0 || (b.Alignment != 0 && b.Alignment&(b.Alignment-1) != 0) {
			errs = append(errs, ValidationError{
				Field:   field + ".alignment",
				Message: fmt.Sprintf("buffer %q alignment must be a power of two, got %d", b.ID, b.Alignment),
				Code:    ErrInvalidAlignment,
			})
		}
		if b.Fixed && (b.Address < 0 || (b.Alignment > 0 && b.Address%b.Alignment != 0)) {
			errs = append(errs, ValidationError{
				Field:   field + ".address",
				Message: fmt.Sprintf("fixed buffer %q has invalid address %d", b.ID, b.Address),
				Code:    ErrInvalidFixedAddress,
			})
		}
	}

	n := len(g.Tasks)
	written := make(map[string]bool)
	for i, task := range g.Tasks {
		field := fmt.Sprintf("tasks[%d]", i)
		if task.Index != i {
			errs = append(errs, ValidationError{
				Field:   field + ".index",
				Message: fmt.Sprintf("task at position %d has index %d", i, task.Index),
				Code:    ErrTaskIndexMismatch,
			})
		}
		for j, id := range task.Reads {
			if _, ok := buffers[id]; !ok {
				errs = append(errs, unknownBuffer(fmt.Sprintf("%s.reads[%d]", field, j), id))
			}
		}
		for j, id := range task.Writes {
			if _, ok := buffers[id]; !ok {
				errs = append(errs, unknownBuffer(fmt.Sprintf("%s.writes[%d]", field, j), id))
			}
			written[id] = true
		}
		edges := []struct {
			name string
			list []int
		}{
			{"data_preds", task.DataPreds},
			{"data_succs", task.DataSuccs},
			{"control_preds", task.ControlPreds},
			{"control_succs", task.ControlSuccs},
		}
		for _, e := range edges {
			for j, other := range e.list {
				f := fmt.Sprintf("%s.%s[%d]", field, e.name, j)
				switch {
				case other < 0 || other >= n:
					errs = append(errs, ValidationError{
						Field:   f,
						Message: fmt.Sprintf("task index %d out of range [0,%d)", other, n),
						Code:    ErrUnknownTask,
					})
				case other == i:
					errs = append(errs, ValidationError{
						Field:   f,
						Message: fmt.Sprintf("task %q depends on itself", task.Label()),
						Code:    ErrSelfDependency,
					})
				}
			}
		}
	}

	errs = append(errs, validateSuccessors(g)...)
	errs = append(errs, validateAliases(g, buffers)...)
	errs = append(errs, validateLiveRanges(g, buffers)...)

	// E113: a primary buffer that is read must be produced by some task (or
	// one of its alias members must be) unless it is pre-placed.
	roots, _ := resolveAllRoots(g, buffers)
	producedRoot := make(map[string]bool)
	for id := range written {
		for _, r := range roots[id] {
			producedRoot[r] = true
		}
	}
	for i, task := range g.Tasks {
		for j, id := range task.Reads {
			b, ok := buffers[id]
			if !ok || written[id] {
				continue
			}
			rootIDs := roots[id]
			produced := false
			for _, r := range rootIDs {
				if producedRoot[r] || buffers[r].Fixed || !buffers[r].InPrimary() {
					produced = true
				}
			}
			if b.InPrimary() && !b.Fixed && !produced {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("tasks[%d].reads[%d]", i, j),
					Message: fmt.Sprintf("primary buffer %q is read but never written", id),
					Code:    ErrReadBeforeProduced,
				})
			}
		}
	}

	return errs
}

func unknownBuffer(field, id string) ValidationError {
	return ValidationError{
		Field:   field,
		Message: fmt.Sprintf("unknown buffer: %q", id),
		Code:    ErrUnknownBuffer,
	}
}

// validateSuccessors checks that explicit successor lists, when given, mirror
// the predecessor lists of the tasks they point to.
func validateSuccessors(g *ir.Graph) []ValidationError {
	var errs []ValidationError
	n := len(g.Tasks)
	has := func(list []int, v int) bool {
		for _, x := range list {
			if x == v {
				return true
			}
		}
		return false
	}
	for i, task := range g.Tasks {
		for _, s := range task.DataSuccs {
			if s >= 0 && s < n && s != i && !has(g.Tasks[s].DataPreds, i) {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("tasks[%d].data_succs", i),
					Message: fmt.Sprintf("task %d lists %d as data successor but %d does not list it as predecessor", i, s, s),
					Code:    ErrSuccMismatch,
				})
			}
		}
		for _, s := range task.ControlSuccs {
			if s >= 0 && s < n && s != i && !has(g.Tasks[s].ControlPreds, i) {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("tasks[%d].control_succs", i),
					Message: fmt.Sprintf("task %d lists %d as control successor but %d does not list it as predecessor", i, s, s),
					Code:    ErrSuccMismatch,
				})
			}
		}
	}
	return errs
}

func validateAliases(g *ir.Graph, buffers map[string]ir.Buffer) []ValidationError {
	var errs []ValidationError
	for _, id := range sortedAliasKeys(g.Aliases) {
		field := fmt.Sprintf("aliases[%q]", id)
		if _, ok := buffers[id]; !ok {
			errs = append(errs, unknownBuffer(field, id))
			continue
		}
		for _, r := range g.Aliases[id] {
			if _, ok := buffers[r]; !ok {
				errs = append(errs, ValidationError{
					Field:   field,
					Message: fmt.Sprintf("alias root %q is not a declared buffer", r),
					Code:    ErrUnknownAliasRoot,
				})
			}
		}
	}

	roots, cyclic := resolveAllRoots(g, buffers)
	for _, id := range cyclic {
		errs = append(errs, ValidationError{
			Field:   fmt.Sprintf("aliases[%q]", id),
			Message: fmt.Sprintf("alias chain of %q loops back on itself", id),
			Code:    ErrAliasCycle,
		})
	}
	for _, b := range g.Buffers {
		rs := roots[b.ID]
		if len(rs) == 0 || (len(rs) == 1 && rs[0] == b.ID) {
			continue
		}
		root, ok := buffers[rs[0]]
		if ok && b.ViewOffset+b.Size > root.Size {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("buffers[%q].view_offset", b.ID),
				Message: fmt.Sprintf("view %q [%d,%d) exceeds root %q of size %d", b.ID, b.ViewOffset, b.ViewOffset+b.Size, root.ID, root.Size),
				Code:    ErrViewOutOfBounds,
			})
		}
	}
	return errs
}

func validateLiveRanges(g *ir.Graph, buffers map[string]ir.Buffer) []ValidationError {
	var errs []ValidationError
	ids := make([]string, 0, len(g.LiveRanges))
	for id := range g.LiveRanges {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	n := len(g.Tasks)
	for _, id := range ids {
		lr := g.LiveRanges[id]
		field := fmt.Sprintf("live_ranges[%q]", id)
		if _, ok := buffers[id]; !ok {
			errs = append(errs, unknownBuffer(field, id))
			continue
		}
		if lr.Birth > lr.Death || lr.Birth < 0 || lr.Death >= n {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("live range [%d,%d] is invalid for %d tasks", lr.Birth, lr.Death, n),
				Code:    ErrInvalidLiveRange,
			})
		}
	}
	return errs
}

func sortedAliasKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
