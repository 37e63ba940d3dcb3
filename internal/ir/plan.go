package ir

import "strconv"

// ScheduledOp places one task at a logical time.
// Original is false for spill/fill copies created by the pass.
type ScheduledOp struct {
	Task     int  `json:"task"`
	Time     int  `json:"time"`
	Original bool `json:"original"`
}

// SpillRecord describes one eviction of a buffer from primary memory.
//
// EvictedFor is the input task whose allocation forced the eviction and
// ReloadedFor the input task that needed the buffer back. ReloadedAt and
// ReloadedFor are nil when the buffer was never needed again. Refetch marks a
// spill whose reload re-runs the buffer's producing copy instead of reading a
// spilled copy; such records own no secondary address. SharedWith points at the
// earlier record (by position in Plan.Spills) whose secondary copy is reused.
type SpillRecord struct {
	Buffer           string `json:"buffer"`
	EvictedAt        int    `json:"evicted_at"`
	EvictedFor       int    `json:"evicted_for"`
	ReloadedAt       *int   `json:"reloaded_at,omitempty"`
	ReloadedFor      *int   `json:"reloaded_for,omitempty"`
	SecondaryAddress int64  `json:"secondary_address"`
	Refetch          bool   `json:"refetch,omitempty"`
	SharedWith       *int   `json:"shared_with,omitempty"`
	Offset           int64  `json:"offset"` // primary offset before eviction
}

// Reloaded reports whether the spilled buffer is brought back.
func (r SpillRecord) Reloaded() bool {
	return r.ReloadedAt != nil
}

// Placement is one residency interval of a buffer at an address.
// Start and End are inclusive logical times.
type Placement struct {
	Buffer string     `json:"buffer"`
	Root   string     `json:"root"`
	Offset int64      `json:"offset"`
	Size   int64      `json:"size"`
	Start  int        `json:"start"`
	End    int        `json:"end"`
	Memory MemoryKind `json:"memory"`
}

// Overlaps reports whether two placements are live at a common time and share
// at least one byte of the same memory.
func (p Placement) Overlaps(o Placement) bool {
	if p.Memory != o.Memory {
		return false
	}
	if p.End < o.Start || o.End < p.Start {
		return false
	}
	return p.Offset < o.Offset+o.Size && o.Offset < p.Offset+p.Size
}

// Address is the final address attribute written back onto an IR value.
type Address struct {
	Buffer string     `json:"buffer"`
	Offset int64      `json:"offset"`
	Memory MemoryKind `json:"memory"`
}

// Edge is a happens-before edge between two planned tasks.
type Edge struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// PlannedTask is a task of the output plan. Index is the position in
// Plan.Tasks after reconciliation; Source is the index in the input graph, or
// -1 for synthetic copies.
type PlannedTask struct {
	Task
	Source int   `json:"source"`
	Time   int   `json:"time"`
	Deps   []int `json:"deps,omitempty"`
}

// Label names the task by its input position when unnamed, so labels survive
// the renumbering of reconciliation.
func (t PlannedTask) Label() string {
	if t.Name == "" && t.Source >= 0 {
		return "task" + strconv.Itoa(t.Source)
	}
	return t.Task.Label()
}

// UsageReport is the peak-usage report surfaced to the surrounding compiler.
type UsageReport struct {
	Capacity          int64 `json:"capacity"`
	PeakUsage         int64 `json:"peak_usage"`
	SecondaryCapacity int64 `json:"secondary_capacity,omitempty"`
	SecondaryPeak     int64 `json:"secondary_peak"`
	SpillCount        int   `json:"spill_count"`
	CopyTasks         int   `json:"copy_tasks"`
	Makespan          int   `json:"makespan"`
}

// Plan is the complete output of the pass.
type Plan struct {
	Graph      string        `json:"graph,omitempty"`
	Tasks      []PlannedTask `json:"tasks"`
	Schedule   []ScheduledOp `json:"schedule"`
	Placements []Placement   `json:"placements"`
	Addresses  []Address     `json:"addresses"`
	Spills     []SpillRecord `json:"spills,omitempty"`
	Edges      []Edge        `json:"edges,omitempty"`
	Report     UsageReport   `json:"report"`
}

// TimeOf returns the logical time of the planned task with the given source
// index in the input graph.
func (p *Plan) TimeOf(source int) (int, bool) {
	for _, t := range p.Tasks {
		if t.Source == source {
			return t.Time, true
		}
	}
	return 0, false
}

// FillName names the n-th reloaded copy of a buffer. Generation 0 is the
// buffer itself.
func FillName(id string, n int) string {
	if n == 0 {
		return id
	}
	return id + "@fill" + strconv.Itoa(n)
}

// SpillName names the secondary copy written by spill record n.
func SpillName(id string, n int) string {
	return id + "@spill" + strconv.Itoa(n)
}
