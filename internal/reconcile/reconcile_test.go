package reconcile

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/memsched/internal/depgraph"
	"github.com/roach88/memsched/internal/ir"
	"github.com/roach88/memsched/internal/scheduler"
	"github.com/roach88/memsched/internal/spill"
	"github.com/roach88/memsched/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func prepare(t *testing.T, g *ir.Graph, cfg ir.Config) (*depgraph.Analysis, *spill.Schedule) {
	t.Helper()
	a, err := depgraph.Build(g)
	require.NoError(t, err)
	res, err := scheduler.Schedule(context.Background(), a, cfg, scheduler.WithLogger(quietLogger()))
	require.NoError(t, err)
	s, err := spill.Run(context.Background(), a, res, cfg, spill.WithLogger(quietLogger()))
	require.NoError(t, err)
	return a, s
}

func address(t *testing.T, plan *ir.Plan, buffer string) ir.Address {
	t.Helper()
	for _, addr := range plan.Addresses {
		if addr.Buffer == buffer {
			return addr
		}
	}
	require.Failf(t, "address not found", "%s", buffer)
	return ir.Address{}
}

// TestReconcile_OrdersByTime tests renumbering and edge regeneration on a
// schedule with spill copies.
func TestReconcile_OrdersByTime(t *testing.T) {
	cfg := testutil.Config(15)
	a, s := prepare(t, testutil.ThreeBufferChain(), cfg)

	plan, err := Reconcile(a, s, cfg)
	require.NoError(t, err)

	require.Len(t, plan.Tasks, 16)
	for i, task := range plan.Tasks {
		assert.Equal(t, i, task.Index)
		assert.Equal(t, i, task.Time, "every task of a chain runs alone")
		assert.Nil(t, task.DataPreds)
		if i == 0 {
			assert.Empty(t, task.Deps)
		} else {
			assert.Equal(t, []int{i - 1}, task.Deps)
		}
	}
	assert.Len(t, plan.Edges, 15)
	assert.Equal(t, ir.Edge{From: 0, To: 1}, plan.Edges[0])

	for i, op := range plan.Schedule {
		assert.Equal(t, i, op.Task)
		assert.Equal(t, plan.Tasks[i].Source >= 0, op.Original)
	}
	for v := range a.Graph.Tasks {
		_, ok := plan.TimeOf(v)
		assert.True(t, ok, "input task %d is planned", v)
	}

	assert.Equal(t, "three-buffer-chain", plan.Graph)
	assert.Equal(t, int64(15), plan.Report.Capacity)
	assert.Equal(t, int64(10), plan.Report.PeakUsage)
	assert.Equal(t, int64(20), plan.Report.SecondaryPeak)
	assert.Equal(t, 3, plan.Report.SpillCount)
	assert.Equal(t, 6, plan.Report.CopyTasks)
	assert.Equal(t, 16, plan.Report.Makespan)
}

func TestReconcile_SameTimeTasksShareDeps(t *testing.T) {
	cfg := testutil.Config(1024)
	a, s := prepare(t, testutil.TwoExecutorChains(3, 8), cfg)

	plan, err := Reconcile(a, s, cfg)
	require.NoError(t, err)

	require.Len(t, plan.Tasks, 6)
	for i := 0; i < 6; i += 2 {
		assert.Equal(t, plan.Tasks[i].Time, plan.Tasks[i+1].Time)
		assert.Less(t, plan.Tasks[i].Source, plan.Tasks[i+1].Source)
	}
	assert.Equal(t, []int{0, 1}, plan.Tasks[2].Deps)
	assert.Equal(t, []int{0, 1}, plan.Tasks[3].Deps)
	assert.Len(t, plan.Edges, 8)
}

func TestReconcile_Addresses(t *testing.T) {
	cfg := testutil.Config(15)
	a, s := prepare(t, testutil.ThreeBufferChain(), cfg)

	plan, err := Reconcile(a, s, cfg)
	require.NoError(t, err)

	assert.Equal(t, ir.Address{Buffer: "A", Offset: 0, Memory: ir.MemoryPrimary}, address(t, plan, "A"))
	assert.Equal(t, ir.MemoryPrimary, address(t, plan, "A@fill1").Memory)
	assert.Equal(t, ir.Address{Buffer: "A@spill0", Offset: 0, Memory: ir.MemorySecondary}, address(t, plan, "A@spill0"))
	assert.Equal(t, ir.Address{Buffer: "B@spill1", Offset: 64, Memory: ir.MemorySecondary}, address(t, plan, "B@spill1"))

	assert.IsIncreasing(t, func() []string {
		var ids []string
		for _, addr := range plan.Addresses {
			ids = append(ids, addr.Buffer)
		}
		return ids
	}())
}

func TestAddresses_Views(t *testing.T) {
	b := testutil.Chain("views", 2)
	b.Buffer("buf", 32).
		Declare(ir.Buffer{ID: "v", Size: 16, ViewOffset: 16}).
		Alias("v", "buf").
		Writes(0, "v").
		Reads(1, "v")
	b.Declare(ir.Buffer{ID: "weights", Size: 8, Memory: ir.MemorySecondary, Fixed: true, Address: 4096})
	g := b.Build()
	cfg := testutil.Config(64)
	a, s := prepare(t, g, cfg)

	plan, err := Reconcile(a, s, cfg)
	require.NoError(t, err)

	assert.Equal(t, ir.Address{Buffer: "buf", Offset: 0, Memory: ir.MemoryPrimary}, address(t, plan, "buf"))
	assert.Equal(t, ir.Address{Buffer: "v", Offset: 16, Memory: ir.MemoryPrimary}, address(t, plan, "v"))
	assert.Equal(t, ir.Address{Buffer: "weights", Offset: 4096, Memory: ir.MemorySecondary}, address(t, plan, "weights"))
}

func TestCheckDependencies(t *testing.T) {
	cfg := testutil.Config(15)
	a, s := prepare(t, testutil.ThreeBufferChain(), cfg)
	require.NoError(t, CheckDependencies(a, s))

	s.Tasks[3].Time = s.Tasks[4].Time
	err := CheckDependencies(a, s)
	require.Error(t, err)
	assert.True(t, ir.IsCode(err, ir.ErrCodeInvariantViolation))
	assert.Contains(t, err.Error(), "task=task4")
}

func TestCheckOverlap(t *testing.T) {
	base := ir.Placement{Buffer: "a", Root: "a", Offset: 0, Size: 16, Start: 0, End: 4, Memory: ir.MemoryPrimary}

	tests := []struct {
		name    string
		other   ir.Placement
		wantErr bool
	}{
		{"disjoint bytes", ir.Placement{Buffer: "b", Offset: 16, Size: 16, Start: 0, End: 4, Memory: ir.MemoryPrimary}, false},
		{"disjoint times", ir.Placement{Buffer: "b", Offset: 0, Size: 16, Start: 5, End: 9, Memory: ir.MemoryPrimary}, false},
		{"other memory", ir.Placement{Buffer: "b", Offset: 0, Size: 16, Start: 0, End: 4, Memory: ir.MemorySecondary}, false},
		{"shared byte", ir.Placement{Buffer: "b", Offset: 15, Size: 4, Start: 4, End: 9, Memory: ir.MemoryPrimary}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckOverlap([]ir.Placement{tt.other, base})
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, ir.IsCode(err, ir.ErrCodeInvariantViolation))
		})
	}
}

func TestCheckCapacity(t *testing.T) {
	capacity := map[ir.MemoryKind]int64{ir.MemoryPrimary: 32}
	ps := []ir.Placement{
		{Buffer: "a", Offset: 0, Size: 16, Start: 0, End: 2, Memory: ir.MemoryPrimary},
		{Buffer: "b", Offset: 16, Size: 16, Start: 1, End: 3, Memory: ir.MemoryPrimary},
		{Buffer: "a@spill0", Offset: 0, Size: 1 << 20, Start: 0, End: 3, Memory: ir.MemorySecondary},
	}

	peak, err := CheckCapacity(ps, capacity, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(32), peak[ir.MemoryPrimary])
	assert.Equal(t, int64(1<<20), peak[ir.MemorySecondary], "unbounded memories still report a peak")

	_, err = CheckCapacity(append(ps, ir.Placement{Buffer: "c", Offset: 24, Size: 16, Start: 3, End: 3, Memory: ir.MemoryPrimary}), capacity, 4)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside primary memory")
}

func TestCheckResidency(t *testing.T) {
	cfg := testutil.Config(15)
	a, s := prepare(t, testutil.ThreeBufferChain(), cfg)
	require.NoError(t, CheckResidency(a, s))

	var kept []ir.Placement
	for _, p := range s.Placements {
		if p.Buffer != "A@fill1" {
			kept = append(kept, p)
		}
	}
	s.Placements = kept
	err := CheckResidency(a, s)
	require.Error(t, err)
	assert.True(t, ir.IsCode(err, ir.ErrCodeInvariantViolation))
	assert.Contains(t, err.Error(), "task=task5")
	assert.Contains(t, err.Error(), "buffer=A")
}

func TestReconcile_ReportsViolation(t *testing.T) {
	cfg := testutil.Config(15)
	a, s := prepare(t, testutil.ThreeBufferChain(), cfg)
	s.Placements[1].Offset = s.Placements[0].Offset
	s.Placements[1].Start = s.Placements[0].Start

	_, err := Reconcile(a, s, cfg)
	require.Error(t, err)
	assert.Equal(t, ir.ErrCodeInvariantViolation, ir.CodeOf(err))
}
