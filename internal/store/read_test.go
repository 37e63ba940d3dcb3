package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/memsched/internal/testutil"
)

func TestListRuns_Ordered(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	empty, err := s.ListRuns(ctx)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	gen := testutil.NewFixedRunIDGenerator("")
	for _, capacity := range []int64{15, 20, 15} {
		_, err := s.WriteRun(ctx, createTestRun(t, gen, capacity))
		require.NoError(t, err)
	}

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	for i, r := range runs {
		assert.Equal(t, int64(i+1), r.Seq)
		assert.Equal(t, "three-buffer-chain", r.GraphName)
	}
	assert.Equal(t, 3, runs[0].SpillCount)
	assert.Equal(t, 0, runs[1].SpillCount)
	assert.Equal(t, int64(20), runs[1].PeakUsage)
	assert.Equal(t, runs[0].GraphDigest, runs[2].GraphDigest)
	assert.Equal(t, runs[0].PlanDigest, runs[2].PlanDigest)
	assert.NotEqual(t, runs[0].GraphDigest, runs[1].GraphDigest)
}

func TestLatestRunForGraph(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	gen := testutil.NewFixedRunIDGenerator("")

	first := createTestRun(t, gen, 15)
	_, err := s.WriteRun(ctx, first)
	require.NoError(t, err)
	_, err = s.WriteRun(ctx, createTestRun(t, gen, 20))
	require.NoError(t, err)
	_, err = s.WriteRun(ctx, createTestRun(t, gen, 15))
	require.NoError(t, err)

	id, err := s.LatestRunForGraph(ctx, first.GraphDigest)
	require.NoError(t, err)
	assert.Equal(t, "run-3", id)

	_, err = s.LatestRunForGraph(ctx, "unknown")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}
