package ir

import "strconv"

// ExecutorKind is the hardware engine class a task runs on.
type ExecutorKind string

const (
	// ExecutorCompute is a compute engine (e.g. a DPU or SHAVE cluster).
	ExecutorCompute ExecutorKind = "compute"
	// ExecutorDMA is a data-movement channel.
	ExecutorDMA ExecutorKind = "dma"
)

// TaskKind classifies what a task does with its buffers.
type TaskKind string

const (
	// TaskCompute is a compute kernel.
	TaskCompute TaskKind = "compute"
	// TaskDataOp is a pure data-movement task (copy between memories).
	TaskDataOp TaskKind = "data_op"
	// TaskDealloc is an explicit deallocation. The pass derives lifetimes from
	// liveness and rejects graphs that contain one.
	TaskDealloc TaskKind = "dealloc"
	// TaskSpillWrite is a synthetic primary -> secondary copy.
	TaskSpillWrite TaskKind = "spill_write"
	// TaskSpillRead is a synthetic secondary -> primary copy (a fill).
	TaskSpillRead TaskKind = "spill_read"
)

// IsSynthetic reports whether tasks of this kind are created by the pass.
func (k TaskKind) IsSynthetic() bool {
	return k == TaskSpillWrite || k == TaskSpillRead
}

// MemoryKind names a memory class.
type MemoryKind string

const (
	// MemoryPrimary is the fixed-capacity on-chip scratchpad the scheduler places.
	MemoryPrimary MemoryKind = "primary"
	// MemorySecondary is the spill target (e.g. DDR).
	MemorySecondary MemoryKind = "secondary"
)

// Task is one schedulable unit of work.
//
// Index is the task's position in Graph.Tasks. DataSuccs and ControlSuccs are
// optional on input; when present they must mirror the predecessor lists.
type Task struct {
	Index        int          `json:"index" yaml:"index"`
	Name         string       `json:"name,omitempty" yaml:"name,omitempty"`
	Kind         TaskKind     `json:"kind,omitempty" yaml:"kind,omitempty"`
	Executor     ExecutorKind `json:"executor" yaml:"executor"`
	Reads        []string     `json:"reads,omitempty" yaml:"reads,omitempty"`
	Writes       []string     `json:"writes,omitempty" yaml:"writes,omitempty"`
	DataPreds    []int        `json:"data_preds,omitempty" yaml:"data_preds,omitempty"`
	DataSuccs    []int        `json:"data_succs,omitempty" yaml:"data_succs,omitempty"`
	ControlPreds []int        `json:"control_preds,omitempty" yaml:"control_preds,omitempty"`
	ControlSuccs []int        `json:"control_succs,omitempty" yaml:"control_succs,omitempty"`
}

// Label returns the task name, or a positional label when unnamed.
func (t Task) Label() string {
	if t.Name != "" {
		return t.Name
	}
	return "task" + strconv.Itoa(t.Index)
}

// Buffer is an allocatable memory-resident value.
type Buffer struct {
	ID         string     `json:"id" yaml:"id"`
	Size       int64      `json:"size" yaml:"size"`
	Alignment  int64      `json:"alignment,omitempty" yaml:"alignment,omitempty"` // 0 = memory default
	Memory     MemoryKind `json:"memory,omitempty" yaml:"memory,omitempty"`       // "" = primary
	Fixed      bool       `json:"fixed,omitempty" yaml:"fixed,omitempty"`
	Address    int64      `json:"address,omitempty" yaml:"address,omitempty"`         // only for fixed buffers
	ViewOffset int64      `json:"view_offset,omitempty" yaml:"view_offset,omitempty"` // offset inside the alias root
}

// InPrimary reports whether the buffer lives in the scheduled scratchpad.
func (b Buffer) InPrimary() bool {
	return b.Memory == "" || b.Memory == MemoryPrimary
}

// LiveRange is a buffer's [birth, death] interval in task indices.
type LiveRange struct {
	Birth int `json:"birth" yaml:"birth"`
	Death int `json:"death" yaml:"death"`
}

// Graph is the collaborator-built input of the pass: the dependency graph plus
// the live-range and alias tables.
type Graph struct {
	Name       string               `json:"name,omitempty" yaml:"name,omitempty"`
	Tasks      []Task               `json:"tasks" yaml:"tasks"`
	Buffers    []Buffer             `json:"buffers" yaml:"buffers"`
	LiveRanges map[string]LiveRange `json:"live_ranges,omitempty" yaml:"live_ranges,omitempty"`
	Aliases    map[string][]string  `json:"aliases,omitempty" yaml:"aliases,omitempty"`
}

// BufferByID returns the buffer with the given ID.
func (g *Graph) BufferByID(id string) (Buffer, bool) {
	for _, b := range g.Buffers {
		if b.ID == id {
			return b, true
		}
	}
	return Buffer{}, false
}
