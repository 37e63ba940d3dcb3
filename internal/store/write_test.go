package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/memsched/internal/ir"
	"github.com/roach88/memsched/internal/testutil"
)

func TestWriteRun_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	run := createTestRun(t, testutil.NewFixedRunIDGenerator(""), 15)

	seq, err := s.WriteRun(ctx, run)
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)

	got, err := s.ReadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Seq)
	assert.Equal(t, run.GraphDigest, got.GraphDigest)
	assert.Equal(t, run.PlanDigest, got.PlanDigest)
	assert.Equal(t, ir.SchedulerVersion, got.SchedulerVersion)
	assert.Equal(t, ir.IRVersion, got.IRVersion)
	assert.Equal(t, run.Config, got.Config)

	d, err := ir.PlanDigest(got.Plan)
	require.NoError(t, err)
	assert.Equal(t, run.PlanDigest, d, "stored plan hashes like the original")

	gd, err := ir.GraphDigest(got.Graph, got.Config)
	require.NoError(t, err)
	assert.Equal(t, run.GraphDigest, gd)
}

func TestWriteRun_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	run := createTestRun(t, testutil.NewFixedRunIDGenerator(""), 15)

	seq1, err := s.WriteRun(ctx, run)
	require.NoError(t, err)
	seq2, err := s.WriteRun(ctx, run)
	require.NoError(t, err)
	assert.Equal(t, seq1, seq2)

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestWriteRun_RequiresPlan(t *testing.T) {
	s := createTestStore(t)
	_, err := s.WriteRun(context.Background(), Run{ID: "x", Graph: testutil.ThreeBufferChain()})
	assert.Error(t, err)
}

func TestWriteRun_Rows(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	run := createTestRun(t, testutil.NewFixedRunIDGenerator(""), 15)
	_, err := s.WriteRun(ctx, run)
	require.NoError(t, err)

	timeline, err := s.ReadTimeline(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, timeline, len(run.Plan.Tasks))
	for i, e := range timeline {
		assert.Equal(t, run.Plan.Tasks[i].Time, e.Time)
		assert.Equal(t, run.Plan.Tasks[i].Label(), e.Name)
		assert.Equal(t, run.Plan.Tasks[i].Source, e.Source)
	}

	var writes []TimelineEntry
	for _, e := range timeline {
		if e.Kind == ir.TaskSpillWrite {
			writes = append(writes, e)
		}
	}
	require.Len(t, writes, 3)
	assert.Equal(t, []string{"A"}, writes[0].Reads)
	assert.Equal(t, []string{"A@spill0"}, writes[0].Writes)
	assert.Equal(t, -1, writes[0].Source)

	placements, err := s.ReadPlacements(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Plan.Placements, placements)

	spills, err := s.ReadSpills(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, spills, 3)
	for i, sp := range spills {
		assert.Equal(t, run.Plan.Spills[i].Buffer, sp.Buffer)
		assert.Equal(t, run.Plan.Spills[i].EvictedAt, sp.EvictedAt)
		assert.Equal(t, *run.Plan.Spills[i].ReloadedAt, *sp.ReloadedAt)
		assert.Equal(t, run.Plan.Spills[i].SecondaryAddress, sp.SecondaryAddress)
	}
}

func TestReadRun_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.ReadRun(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestReadTimeline_UnknownRun(t *testing.T) {
	s := createTestStore(t)
	entries, err := s.ReadTimeline(context.Background(), "missing")
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}
