package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/memsched/internal/depgraph"
	"github.com/roach88/memsched/internal/ir"
	"github.com/roach88/memsched/internal/testutil"
)

func TestValidateValidGraph(t *testing.T) {
	path := writeGraph(t, testutil.ThreeBufferChain())

	out, err := executeRoot(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Graph valid (10 tasks, 3 buffers)")
}

func TestValidateValidGraphJSON(t *testing.T) {
	path := writeGraph(t, testutil.ThreeBufferChain())

	out, err := executeRoot(t, "--format", "json", "validate", path)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 10, resp.Data.Tasks)
	assert.Equal(t, 3, resp.Data.Buffers)
}

func TestValidateCollectsErrors(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bad.yaml", `name: bad
tasks:
  - { index: 0, executor: compute, reads: [ghost] }
  - { index: 5, executor: compute }
buffers:
  - { id: A, size: 0 }
`)

	out, err := executeRoot(t, "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, depgraph.ErrUnknownBuffer)
	assert.Contains(t, out, depgraph.ErrTaskIndexMismatch)
	assert.Contains(t, out, depgraph.ErrInvalidBufferSize)
}

func TestValidateCycleJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "cycle.yaml", `name: cycle
tasks:
  - { index: 0, executor: compute, data_preds: [2] }
  - { index: 1, executor: compute, data_preds: [0] }
  - { index: 2, executor: compute, data_preds: [1] }
buffers: []
`)

	out, err := executeRoot(t, "--format", "json", "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(ir.ErrCodeCyclicDependency), resp.Error.Code)
	require.Len(t, resp.Data.Cycles, 1)
	assert.Len(t, resp.Data.Cycles[0].Tasks, 3)
}

func TestValidateGraph_Dealloc(t *testing.T) {
	g := testutil.Chain("dealloc", 2).Kind(1, ir.TaskDealloc).Build()

	result := ValidateGraph(g)
	assert.False(t, result.Valid)
	require.NotEmpty(t, result.Errors)
	assert.Equal(t, string(ir.ErrCodeUnsupportedIRShape), result.Errors[0].Code)
	assert.Equal(t, "tasks[1].kind", result.Errors[0].Field)
}

func TestValidateNonExistentInput(t *testing.T) {
	_, err := executeRoot(t, "validate", "/nonexistent/graph.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
