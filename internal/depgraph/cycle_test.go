package depgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/memsched/internal/ir"
	"github.com/roach88/memsched/internal/testutil"
)

// TestAnalyzeCycles_NoCycles tests that a DAG produces no cycles.
func TestAnalyzeCycles_NoCycles(t *testing.T) {
	cycles := AnalyzeCycles(testutil.ThreeBufferChain())
	assert.Empty(t, cycles)
}

// TestAnalyzeCycles_TwoNodeCycle tests a control edge closing a data edge.
func TestAnalyzeCycles_TwoNodeCycle(t *testing.T) {
	g := testutil.Chain("g", 2).ControlEdge(1, 0).Build()

	cycles := AnalyzeCycles(g)
	require.Len(t, cycles, 1)
	assert.Equal(t, []int{0, 1}, cycles[0].Tasks)
	assert.Equal(t, []string{"task0", "task1", "task0"}, cycles[0].Path)
	assert.Contains(t, cycles[0].Message, "task0 -> task1 -> task0")
}

// TestAnalyzeCycles_SelfLoop tests a task depending on itself.
func TestAnalyzeCycles_SelfLoop(t *testing.T) {
	g := testutil.Chain("g", 1).ControlEdge(0, 0).Build()

	cycles := AnalyzeCycles(g)
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"task0", "task0"}, cycles[0].Path)
}

// TestAnalyzeCycles_BufferDerivedCycle tests that producer -> reader edges
// take part in cycle detection.
func TestAnalyzeCycles_BufferDerivedCycle(t *testing.T) {
	b := testutil.NewGraph("g").Buffer("x", 4).Buffer("y", 4)
	p := b.Task("p", ir.ExecutorCompute)
	q := b.Task("q", ir.ExecutorCompute)
	b.Writes(p, "x").Reads(p, "y")
	b.Writes(q, "y").Reads(q, "x")

	cycles := AnalyzeCycles(b.Build())
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"p", "q", "p"}, cycles[0].Path)
}

// TestAnalyzeCycles_AliasDerivedCycle tests that edges derived through an
// alias root close cycles too.
func TestAnalyzeCycles_AliasDerivedCycle(t *testing.T) {
	b := testutil.NewGraph("g").
		Buffer("R", 8).
		Declare(ir.Buffer{ID: "V", Size: 4}).
		Alias("V", "R")
	p := b.Task("p", ir.ExecutorCompute)
	q := b.Task("q", ir.ExecutorCompute)
	b.Writes(p, "R").Reads(q, "V").ControlEdge(q, p)

	cycles := AnalyzeCycles(b.Build())
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"p", "q", "p"}, cycles[0].Path)
}

// TestAnalyzeCycles_Deterministic tests repeated analysis gives equal output.
func TestAnalyzeCycles_Deterministic(t *testing.T) {
	g := testutil.Chain("g", 6).ControlEdge(2, 0).ControlEdge(5, 3).Build()

	first := AnalyzeCycles(g)
	require.Len(t, first, 2)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, AnalyzeCycles(g))
	}
	assert.Equal(t, []int{0, 1, 2}, first[0].Tasks)
	assert.Equal(t, []int{3, 4, 5}, first[1].Tasks)
}

func TestTarjanSCC(t *testing.T) {
	succs := [][]int{{1}, {2}, {0}, {4}, {}}
	sccs := tarjanSCC(succs)

	var big [][]int
	for _, scc := range sccs {
		if len(scc) > 1 {
			big = append(big, scc)
		}
	}
	assert.Equal(t, [][]int{{0, 1, 2}}, big)
	assert.Len(t, sccs, 3)
}
