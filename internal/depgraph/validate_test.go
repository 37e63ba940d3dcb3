package depgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/memsched/internal/ir"
	"github.com/roach88/memsched/internal/testutil"
)

func codes(errs []ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Code
	}
	return out
}

// TestValidate_ValidGraph tests that a well-formed graph has no errors.
func TestValidate_ValidGraph(t *testing.T) {
	assert.Empty(t, Validate(testutil.ThreeBufferChain()))
}

// TestValidate_Empty tests the empty graph.
func TestValidate_Empty(t *testing.T) {
	errs := Validate(&ir.Graph{})
	assert.Equal(t, []string{ErrEmptyGraph}, codes(errs))
}

// TestValidate_CollectsAllErrors tests that validation does not stop at the
// first problem.
func TestValidate_CollectsAllErrors(t *testing.T) {
	b := testutil.NewGraph("bad").
		Buffer("a", 0).
		Buffer("a", 10)
	t0 := b.Task("t0", ir.ExecutorCompute)
	b.Writes(t0, "missing").DataEdge(7, t0)
	g := b.Build()

	errs := Validate(g)
	got := codes(errs)
	assert.Contains(t, got, ErrInvalidBufferSize)
	assert.Contains(t, got, ErrDuplicateBuffer)
	assert.Contains(t, got, ErrUnknownBuffer)
	assert.Contains(t, got, ErrUnknownTask)
}

func TestValidate_Cases(t *testing.T) {
	tests := []struct {
		name  string
		build func() *ir.Graph
		code  string
	}{
		{
			name: "index mismatch",
			build: func() *ir.Graph {
				g := testutil.Chain("g", 2).Build()
				g.Tasks[1].Index = 5
				return g
			},
			code: ErrTaskIndexMismatch,
		},
		{
			name: "self dependency",
			build: func() *ir.Graph {
				return testutil.Chain("g", 2).ControlEdge(1, 1).Build()
			},
			code: ErrSelfDependency,
		},
		{
			name: "successor mismatch",
			build: func() *ir.Graph {
				g := testutil.Chain("g", 3).Build()
				g.Tasks[0].DataSuccs = []int{2}
				return g
			},
			code: ErrSuccMismatch,
		},
		{
			name: "misaligned fixed buffer",
			build: func() *ir.Graph {
				return testutil.Chain("g", 1).
					Declare(ir.Buffer{ID: "w", Size: 8, Alignment: 16, Fixed: true, Address: 8}).
					Build()
			},
			code: ErrInvalidFixedAddress,
		},
		{
			name: "bad alignment",
			build: func() *ir.Graph {
				return testutil.Chain("g", 1).
					Declare(ir.Buffer{ID: "w", Size: 8, Alignment: 12}).
					Build()
			},
			code: ErrInvalidAlignment,
		},
		{
			name: "unknown alias root",
			build: func() *ir.Graph {
				return testutil.Chain("g", 1).Buffer("v", 4).Alias("v", "nope").Build()
			},
			code: ErrUnknownAliasRoot,
		},
		{
			name: "alias cycle",
			build: func() *ir.Graph {
				return testutil.Chain("g", 1).
					Buffer("x", 4).Buffer("y", 4).
					Alias("x", "y").Alias("y", "x").
					Build()
			},
			code: ErrAliasCycle,
		},
		{
			name: "view out of bounds",
			build: func() *ir.Graph {
				return testutil.Chain("g", 1).
					Buffer("root", 16).
					Declare(ir.Buffer{ID: "v", Size: 8, ViewOffset: 12}).
					Alias("v", "root").
					Build()
			},
			code: ErrViewOutOfBounds,
		},
		{
			name: "inverted live range",
			build: func() *ir.Graph {
				return testutil.Chain("g", 3).Buffer("a", 4).LiveRange("a", 2, 1).Build()
			},
			code: ErrInvalidLiveRange,
		},
		{
			name: "read never produced",
			build: func() *ir.Graph {
				b := testutil.Chain("g", 1).Buffer("a", 4)
				return b.Reads(0, "a").Build()
			},
			code: ErrReadBeforeProduced,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(tt.build())
			require.NotEmpty(t, errs)
			assert.Contains(t, codes(errs), tt.code)
		})
	}
}

// TestValidate_ReadOfPrePlacedBuffer tests that fixed and secondary inputs
// may be read without a producer.
func TestValidate_ReadOfPrePlacedBuffer(t *testing.T) {
	b := testutil.Chain("g", 1).
		Declare(ir.Buffer{ID: "w", Size: 8, Fixed: true}).
		Declare(ir.Buffer{ID: "in", Size: 8, Memory: ir.MemorySecondary})
	g := b.Reads(0, "w", "in").Build()

	assert.Empty(t, Validate(g))
}

// TestValidate_ViewWriteProducesRoot tests that writing a view counts as
// producing its root.
func TestValidate_ViewWriteProducesRoot(t *testing.T) {
	b := testutil.Chain("g", 2).
		Buffer("root", 16).
		Declare(ir.Buffer{ID: "lo", Size: 8}).
		Alias("lo", "root")
	g := b.Writes(0, "lo").Reads(1, "root").Build()

	assert.Empty(t, Validate(g))
}

func TestValidationError_Error(t *testing.T) {
	e := ValidationError{Field: "tasks[0]", Message: "bad", Code: ErrUnknownTask}
	assert.Equal(t, "[E103] tasks[0]: bad", e.Error())
}
