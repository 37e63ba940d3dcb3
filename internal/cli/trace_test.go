package cli

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/memsched/internal/ir"
	"github.com/roach88/memsched/internal/store"
)

type traceResponse struct {
	Status string      `json:"status"`
	Data   TraceResult `json:"data"`
	RunID  string      `json:"run_id"`
}

func TestTraceMissingDatabaseFlag(t *testing.T) {
	_, err := executeRoot(t, "trace")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestTraceLatestRunText(t *testing.T) {
	dbPath := storedRuns(t)

	out, err := executeRoot(t, "trace", "--db", dbPath)
	require.NoError(t, err)

	assert.Contains(t, out, "Trace for run: sched-2 (three-buffer-chain)")
	assert.Contains(t, out, "Makespan: 16 (16 tasks, 6 copies)")
	assert.Contains(t, out, "Peak usage: 10 / 15 bytes")
	assert.Contains(t, out, "Timeline:")
	assert.Contains(t, out, "Placements:")
	assert.Contains(t, out, "Spills:")
	assert.Contains(t, out, "secondary")
}

func TestTraceRunWithoutSpills(t *testing.T) {
	dbPath := storedRuns(t)

	out, err := executeRoot(t, "trace", "--db", dbPath, "--run", "sched-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Trace for run: sched-1")
	assert.NotContains(t, out, "Spills:\n")
}

func TestTraceJSON(t *testing.T) {
	dbPath := storedRuns(t)

	out, err := executeRoot(t, "--format", "json", "trace", "--db", dbPath, "--run", "sched-2")
	require.NoError(t, err)

	var resp traceResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "sched-2", resp.RunID)
	assert.Len(t, resp.Data.Timeline, 16)
	assert.Len(t, resp.Data.Spills, 3)
	assert.Equal(t, 3, resp.Data.Stats.SpillCount)

	for i, e := range resp.Data.Timeline {
		assert.Equal(t, i, e.Time, "one task per logical time")
	}
}

func TestTraceBufferFilter(t *testing.T) {
	dbPath := storedRuns(t)

	out, err := executeRoot(t, "--format", "json", "trace", "--db", dbPath, "--run", "sched-2", "--buffer", "B")
	require.NoError(t, err)

	var resp traceResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))

	require.Len(t, resp.Data.Spills, 1)
	assert.Equal(t, "B", resp.Data.Spills[0].Buffer)
	assert.Equal(t, int64(64), resp.Data.Spills[0].SecondaryAddress)

	require.NotEmpty(t, resp.Data.Timeline)
	assert.Less(t, len(resp.Data.Timeline), 16)
	for _, e := range resp.Data.Timeline {
		names := append(append([]string{}, e.Reads...), e.Writes...)
		assert.True(t, anyTouches(names, "B"), "entry %d does not touch B", e.Task)
	}

	var secondary int
	for _, p := range resp.Data.Placements {
		assert.True(t, p.Root == "B" || strings.HasPrefix(p.Buffer, "B"), "placement %s", p.Buffer)
		if p.Memory == ir.MemorySecondary {
			secondary++
		}
	}
	assert.Equal(t, 1, secondary)
}

func TestTraceUnknownRun(t *testing.T) {
	dbPath := storedRuns(t)

	_, err := executeRoot(t, "trace", "--db", dbPath, "--run", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "run not found")
}

func TestTraceEmptyDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	st.Close()

	_, err = executeRoot(t, "trace", "--db", dbPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTouchesBuffer(t *testing.T) {
	assert.True(t, touchesBuffer("A", "A"))
	assert.True(t, touchesBuffer("A@fill1", "A"))
	assert.True(t, touchesBuffer("A@spill0", "A"))
	assert.False(t, touchesBuffer("AB", "A"))
	assert.False(t, touchesBuffer("B@fill1", "A"))
}
