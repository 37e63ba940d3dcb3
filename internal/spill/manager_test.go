package spill

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
	"github.com/roach88/memsched/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func manage(t *testing.T, g *ir.Graph, cfg ir.Config) (*Schedule, error) {
	t.Helper()
	a, err := depgraph.Build(g)
	require.NoError(t, err)
	res, err := scheduler.Schedule(context.Background(), a, cfg, scheduler.WithLogger(quietLogger()))
	require.NoError(t, err)
	return Run(context.Background(), a, res, cfg, WithLogger(quietLogger()))
}

func tasksOfKind(s *Schedule, kind ir.TaskKind) []ir.PlannedTask {
	var out []ir.PlannedTask
	for _, task := range s.Tasks {
		if task.Kind == kind {
			out = append(out, task)
		}
	}
	return out
}

func findTask(t *testing.T, s *Schedule, name string) ir.PlannedTask {
	t.Helper()
	for _, task := range s.Tasks {
		if task.Name == name {
			return task
		}
	}
	require.Failf(t, "task not found", "%s", name)
	return ir.PlannedTask{}
}

// TestRun_NoSpills tests that a fitting schedule passes through unchanged.
func TestRun_NoSpills(t *testing.T) {
	s, err := manage(t, testutil.ThreeBufferChain(), testutil.Config(20))
	require.NoError(t, err)

	assert.Zero(t, s.CopyTasks)
	assert.Empty(t, s.Spills)
	assert.Equal(t, 10, s.Makespan)
	for i, task := range s.Tasks {
		assert.Equal(t, i, task.Source)
		assert.Equal(t, i, task.Time)
	}
}

// TestRun_InsertsCopies tests spill writes and fills for the capacity-15
// three-buffer chain.
func TestRun_InsertsCopies(t *testing.T) {
	s, err := manage(t, testutil.ThreeBufferChain(), testutil.Config(15))
	require.NoError(t, err)

	writes := tasksOfKind(s, ir.TaskSpillWrite)
	fills := tasksOfKind(s, ir.TaskSpillRead)
	assert.Len(t, writes, 3)
	assert.Len(t, fills, 3)
	assert.Equal(t, 6, s.CopyTasks)
	assert.Equal(t, 16, s.Makespan)

	w := findTask(t, s, "spill_write:A")
	assert.Equal(t, []string{"A"}, w.Reads)
	assert.Equal(t, []string{"A@spill0"}, w.Writes)
	assert.Equal(t, ir.ExecutorDMA, w.Executor)
	assert.Equal(t, -1, w.Source)

	f := findTask(t, s, "spill_read:A@fill1")
	assert.Equal(t, []string{"A@spill0"}, f.Reads)
	assert.Equal(t, []string{"A@fill1"}, f.Writes)

	// the consumer reads the reloaded copy, after the fill
	consumer := s.Tasks[5]
	assert.Equal(t, []string{"A@fill1"}, consumer.Reads)
	assert.Less(t, f.Time, consumer.Time)
	assert.Less(t, w.Time, s.Tasks[2].Time)

	for _, sp := range s.Spills {
		require.NotNil(t, sp.ReloadedFor)
		require.NotNil(t, sp.ReloadedAt)
		assert.Less(t, *sp.ReloadedAt, s.Tasks[*sp.ReloadedFor].Time)
		assert.Less(t, sp.EvictedAt, s.Tasks[sp.EvictedFor].Time)
	}

	// A's and C's copies do not overlap in time, so C reuses A's slot
	require.Len(t, s.Spills, 3)
	assert.Equal(t, int64(0), s.Spills[0].SecondaryAddress)
	assert.Equal(t, int64(64), s.Spills[1].SecondaryAddress)
	assert.Equal(t, int64(0), s.Spills[2].SecondaryAddress)
	assert.Equal(t, int64(20), s.SecondaryPeak)

	for i := range s.Placements {
		for j := i + 1; j < len(s.Placements); j++ {
			assert.False(t, s.Placements[i].Overlaps(s.Placements[j]),
				"%+v overlaps %+v", s.Placements[i], s.Placements[j])
		}
	}
}

// TestRun_ScheduleSortedByTime tests the op list.
func TestRun_ScheduleSortedByTime(t *testing.T) {
	s, err := manage(t, testutil.ThreeBufferChain(), testutil.Config(15))
	require.NoError(t, err)

	require.Len(t, s.Schedule, len(s.Tasks))
	originals := 0
	for i, op := range s.Schedule {
		if i > 0 {
			assert.LessOrEqual(t, s.Schedule[i-1].Time, op.Time)
		}
		assert.Equal(t, s.Tasks[op.Task].Time, op.Time)
		if op.Original {
			originals++
		}
	}
	assert.Equal(t, 10, originals)
}

// TestOptimizeDataOpsSpills_DropsUnreloaded tests that an eviction whose
// buffer is never touched again produces no copies.
func TestOptimizeDataOpsSpills_DropsUnreloaded(t *testing.T) {
	b := testutil.Chain("unreloaded", 4).Buffer("a", 10).Buffer("b", 10)
	g := b.Writes(0, "a").Writes(1, "b").LiveRange("a", 0, 3).Build()

	s, err := manage(t, g, testutil.Config(10))
	require.NoError(t, err)
	assert.Empty(t, s.Spills)
	assert.Zero(t, s.CopyTasks)
	assert.Equal(t, 4, s.Makespan)
}

// TestOptimizeDataOpsSpills_Refetch tests that a buffer copied in from
// secondary memory is reloaded by repeating the copy.
func TestOptimizeDataOpsSpills_Refetch(t *testing.T) {
	b := testutil.Chain("refetch", 3).
		Declare(ir.Buffer{ID: "in", Size: 10, Memory: ir.MemorySecondary}).
		Buffer("x", 10).
		Buffer("y", 10)
	g := b.Kind(0, ir.TaskDataOp).
		Reads(0, "in").Writes(0, "x").
		Writes(1, "y").
		Reads(2, "x").
		Build()

	s, err := manage(t, g, testutil.Config(10))
	require.NoError(t, err)

	require.Len(t, s.Spills, 1)
	assert.True(t, s.Spills[0].Refetch)
	assert.Empty(t, tasksOfKind(s, ir.TaskSpillWrite))
	fills := tasksOfKind(s, ir.TaskSpillRead)
	require.Len(t, fills, 1)
	assert.Equal(t, []string{"in"}, fills[0].Reads)
	assert.Equal(t, []string{"x@fill1"}, fills[0].Writes)
	assert.Zero(t, s.SecondaryPeak)
}

// TestRun_MovedOperand tests the copies for an operand moved and reloaded
// at the time of the task that reads it.
func TestRun_MovedOperand(t *testing.T) {
	s, err := manage(t, testutil.FragmentingChain(), testutil.Config(14))
	require.NoError(t, err)

	w := findTask(t, s, "spill_write:b1")
	f := findTask(t, s, "spill_read:b1@fill1")
	reader := s.Tasks[2]
	assert.Equal(t, 2, w.Time)
	assert.Equal(t, 3, f.Time)
	assert.Equal(t, 4, reader.Time)
	assert.Equal(t, []string{"b1@fill1"}, reader.Reads)
	assert.Equal(t, 5, s.Makespan)

	require.Len(t, s.Spills, 1)
	sp := s.Spills[0]
	assert.Equal(t, 2, sp.EvictedAt)
	require.NotNil(t, sp.ReloadedAt)
	assert.Equal(t, 3, *sp.ReloadedAt)

	for i := range s.Placements {
		for j := i + 1; j < len(s.Placements); j++ {
			assert.False(t, s.Placements[i].Overlaps(s.Placements[j]),
				"%+v overlaps %+v", s.Placements[i], s.Placements[j])
		}
	}
}

// TestRun_MovedOperandRefetch tests that a moved operand produced by a
// copy from secondary memory is refetched without a spill write.
func TestRun_MovedOperandRefetch(t *testing.T) {
	b := testutil.Chain("moved-refetch", 3).
		Declare(ir.Buffer{ID: "in", Size: 3, Memory: ir.MemorySecondary}).
		Buffer("b0", 3).
		Buffer("b1", 3).
		Buffer("b2", 9)
	g := b.Writes(0, "b0").LiveRange("b0", 0, 1).
		Kind(1, ir.TaskDataOp).Reads(1, "in").Writes(1, "b1").
		Reads(2, "b1").Writes(2, "b2").
		Build()

	s, err := manage(t, g, testutil.Config(14))
	require.NoError(t, err)

	assert.Empty(t, tasksOfKind(s, ir.TaskSpillWrite))
	require.Len(t, s.Spills, 1)
	sp := s.Spills[0]
	assert.True(t, sp.Refetch)
	require.NotNil(t, sp.ReloadedAt)
	assert.Equal(t, 2, *sp.ReloadedAt)
	assert.Equal(t, 2, sp.EvictedAt)
	assert.Less(t, *sp.ReloadedAt, s.Tasks[2].Time)
}

func rereadGraph(inPlace bool) *ir.Graph {
	b := testutil.Chain("reread", 5).Buffer("x", 10).Buffer("y1", 10).Buffer("y2", 10)
	b.Writes(0, "x").Writes(1, "y1").Reads(2, "x").Writes(3, "y2").Reads(4, "x")
	if inPlace {
		b.Writes(2, "x")
	}
	return b.Build()
}

// TestRemoveRedundantSpillWrites tests that an unmodified buffer is written
// to secondary memory once.
func TestRemoveRedundantSpillWrites(t *testing.T) {
	s, err := manage(t, rereadGraph(false), testutil.Config(10))
	require.NoError(t, err)

	require.Len(t, s.Spills, 2)
	assert.Nil(t, s.Spills[0].SharedWith)
	require.NotNil(t, s.Spills[1].SharedWith)
	assert.Equal(t, 0, *s.Spills[1].SharedWith)
	assert.Equal(t, s.Spills[0].SecondaryAddress, s.Spills[1].SecondaryAddress)

	assert.Len(t, tasksOfKind(s, ir.TaskSpillWrite), 1)
	fills := tasksOfKind(s, ir.TaskSpillRead)
	require.Len(t, fills, 2)
	assert.Equal(t, []string{"x@spill0"}, fills[0].Reads)
	assert.Equal(t, []string{"x@spill0"}, fills[1].Reads)
	assert.Equal(t, []string{"x@fill2"}, fills[1].Writes)
	assert.Equal(t, []string{"x@fill2"}, s.Tasks[4].Reads)

	var slot ir.Placement
	for _, p := range s.Placements {
		if p.Memory == ir.MemorySecondary {
			slot = p
		}
	}
	assert.Equal(t, "x@spill0", slot.Buffer)
	assert.Equal(t, fills[1].Time, slot.End, "shared copy lives until the last fill")
}

// TestRemoveRedundantSpillWrites_ModifiedBuffer tests that an in-place
// update forces a second spill write.
func TestRemoveRedundantSpillWrites_ModifiedBuffer(t *testing.T) {
	s, err := manage(t, rereadGraph(true), testutil.Config(10))
	require.NoError(t, err)

	require.Len(t, s.Spills, 2)
	assert.Nil(t, s.Spills[1].SharedWith)
	assert.Len(t, tasksOfKind(s, ir.TaskSpillWrite), 2)
}

// TestInsertSpillCopyOps_SecondaryOverflow tests a secondary memory too
// small for the spilled copy.
func TestInsertSpillCopyOps_SecondaryOverflow(t *testing.T) {
	cfg := testutil.Config(15)
	cfg.Secondary = &ir.MemoryConfig{Capacity: 5, Alignment: 1}

	_, err := manage(t, testutil.ThreeBufferChain(), cfg)
	require.Error(t, err)
	assert.True(t, ir.IsCode(err, ir.ErrCodeUnsupportedSpill))
	assert.Contains(t, err.Error(), "buffer=A")
}

// TestInsertSpillCopyOps_SpillExecutor tests the configured copy executor.
func TestInsertSpillCopyOps_SpillExecutor(t *testing.T) {
	cfg := testutil.Config(15)
	cfg.SpillExecutor = "dma1"

	s, err := manage(t, testutil.ThreeBufferChain(), cfg)
	require.NoError(t, err)
	for _, task := range s.Tasks[10:] {
		assert.Equal(t, ir.ExecutorKind("dma1"), task.Executor)
	}
}
