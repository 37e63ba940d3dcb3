package testutil

import "github.com/roach88/memsched/internal/ir"

// GraphBuilder assembles ir.Graph values for tests.
//
// Tasks are appended in order, so the index returned by Task is the task's
// position. Every method returns the builder for chaining except Task.
type GraphBuilder struct {
	g ir.Graph
}

// NewGraph starts a graph with the given name.
func NewGraph(name string) *GraphBuilder {
	return &GraphBuilder{g: ir.Graph{Name: name}}
}

// Buffer declares a primary buffer.
func (b *GraphBuilder) Buffer(id string, size int64) *GraphBuilder {
	b.g.Buffers = append(b.g.Buffers, ir.Buffer{ID: id, Size: size})
	return b
}

// Declare adds a fully specified buffer.
func (b *GraphBuilder) Declare(buf ir.Buffer) *GraphBuilder {
	b.g.Buffers = append(b.g.Buffers, buf)
	return b
}

// Task appends a compute task on the given executor and returns its index.
func (b *GraphBuilder) Task(name string, executor ir.ExecutorKind) int {
	idx := len(b.g.Tasks)
	b.g.Tasks = append(b.g.Tasks, ir.Task{
		Index:    idx,
		Name:     name,
		Kind:     ir.TaskCompute,
		Executor: executor,
	})
	return idx
}

// Kind sets the kind of task i.
func (b *GraphBuilder) Kind(i int, kind ir.TaskKind) *GraphBuilder {
	b.g.Tasks[i].Kind = kind
	return b
}

// Reads adds buffer reads to task i.
func (b *GraphBuilder) Reads(i int, ids ...string) *GraphBuilder {
	b.g.Tasks[i].Reads = append(b.g.Tasks[i].Reads, ids...)
	return b
}

// Writes adds buffer writes to task i.
func (b *GraphBuilder) Writes(i int, ids ...string) *GraphBuilder {
	b.g.Tasks[i].Writes = append(b.g.Tasks[i].Writes, ids...)
	return b
}

// DataEdge adds from -> to as a data dependency.
func (b *GraphBuilder) DataEdge(from, to int) *GraphBuilder {
	b.g.Tasks[to].DataPreds = append(b.g.Tasks[to].DataPreds, from)
	return b
}

// ControlEdge adds from -> to as a control dependency (barrier).
func (b *GraphBuilder) ControlEdge(from, to int) *GraphBuilder {
	b.g.Tasks[to].ControlPreds = append(b.g.Tasks[to].ControlPreds, from)
	return b
}

// Alias declares id as a view of roots.
func (b *GraphBuilder) Alias(id string, roots ...string) *GraphBuilder {
	if b.g.Aliases == nil {
		b.g.Aliases = make(map[string][]string)
	}
	b.g.Aliases[id] = append(b.g.Aliases[id], roots...)
	return b
}

// LiveRange records the [birth, death] interval of a buffer.
func (b *GraphBuilder) LiveRange(id string, birth, death int) *GraphBuilder {
	if b.g.LiveRanges == nil {
		b.g.LiveRanges = make(map[string]ir.LiveRange)
	}
	b.g.LiveRanges[id] = ir.LiveRange{Birth: birth, Death: death}
	return b
}

// Build returns the assembled graph.
func (b *GraphBuilder) Build() *ir.Graph {
	g := b.g
	return &g
}

// Chain returns n compute tasks where task i data-depends on task i-1.
func Chain(name string, n int) *GraphBuilder {
	b := NewGraph(name)
	for i := 0; i < n; i++ {
		b.Task("", ir.ExecutorCompute)
		if i > 0 {
			b.DataEdge(i-1, i)
		}
	}
	return b
}

// ThreeBufferChain is the ten-task chain where buffer A lives over [0,5],
// B over [2,7] and C over [6,9], each 10 bytes. A, B and C are written by
// their birth task and read by their death task.
func ThreeBufferChain() *ir.Graph {
	b := Chain("three-buffer-chain", 10)
	for _, buf := range []struct {
		id           string
		birth, death int
	}{
		{"A", 0, 5},
		{"B", 2, 7},
		{"C", 6, 9},
	} {
		b.Buffer(buf.id, 10).
			Writes(buf.birth, buf.id).
			Reads(buf.death, buf.id).
			LiveRange(buf.id, buf.birth, buf.death)
	}
	return b.Build()
}

// TwoExecutorChains returns two independent chains of n tasks, one on the
// compute executor and one on the DMA executor. Each task writes a private
// buffer of the given size that its successor reads.
func TwoExecutorChains(n int, size int64) *ir.Graph {
	b := NewGraph("two-executor-chains")
	for _, exec := range []ir.ExecutorKind{ir.ExecutorCompute, ir.ExecutorDMA} {
		prev := -1
		for i := 0; i < n; i++ {
			id := string(exec) + "_" + string(rune('a'+i))
			t := b.Task(id, exec)
			b.Buffer(id, size).Writes(t, id)
			if prev >= 0 {
				b.DataEdge(prev, t).Reads(t, b.g.Tasks[prev].Writes[0])
			}
			prev = t
		}
	}
	return b.Build()
}

// FragmentingChain is the three-task chain where task0 writes b0 (3 bytes),
// task1 reads b0 and writes b1 (3 bytes) and task2 reads b1 and writes b2
// (9 bytes). At capacity 14 the resident b1 splits the free space when b2
// is placed.
func FragmentingChain() *ir.Graph {
	b := Chain("fragmenting-chain", 3).
		Buffer("b0", 3).
		Buffer("b1", 3).
		Buffer("b2", 9)
	return b.Writes(0, "b0").
		Reads(1, "b0").Writes(1, "b1").
		Reads(2, "b1").Writes(2, "b2").
		Build()
}

// Config returns a primary-only configuration with byte alignment, so tests
// can reason about exact offsets.
func Config(capacity int64) ir.Config {
	return ir.Config{
		Primary: ir.MemoryConfig{Capacity: capacity, Alignment: 1},
	}.WithDefaults()
}
