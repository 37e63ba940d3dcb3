package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/memsched/internal/ir"
)

func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario_GraphFile(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/three_buffer_chain_spill.yaml")
	require.NoError(t, err)

	assert.Equal(t, "three_buffer_chain_spill", scenario.Name)
	require.NotNil(t, scenario.Graph)
	assert.Len(t, scenario.Graph.Tasks, 10)
	assert.Equal(t, ir.LiveRange{Birth: 2, Death: 7}, scenario.Graph.LiveRanges["B"])
	assert.Equal(t, int64(15), scenario.Config.Primary.Capacity)

	require.Len(t, scenario.Assertions, 9)
	between := scenario.Assertions[3]
	assert.Equal(t, AssertSpillsBetween, between.Type)
	assert.Equal(t, []string{"A", "B"}, between.Buffers)
	assert.Equal(t, 2, *between.FromTask)
	assert.Equal(t, 5, *between.ToTask)
}

func TestLoadScenario_InlineGraph(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/two_executor_chains.yaml")
	require.NoError(t, err)

	require.Len(t, scenario.Graph.Tasks, 6)
	assert.Equal(t, ir.ExecutorDMA, scenario.Graph.Tasks[3].Executor)
	assert.Equal(t, []int{3}, scenario.Graph.Tasks[4].DataPreds)
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "typo.yaml", `
name: typo
description: "misspelled key"
graph:
  tasks: [{ index: 0, executor: compute }]
  buffers: []
config:
  primary: { capacity: 64 }
assertion:
  - type: no_overlap
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_MissingGraphFile(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "missing.yaml", `
name: missing
description: "graph file does not exist"
graph_file: nowhere.yaml
config:
  primary: { capacity: 64 }
assertions:
  - type: no_overlap
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read graph file")
}

func TestValidateScenario(t *testing.T) {
	graph := &ir.Graph{Tasks: []ir.Task{{Index: 0, Executor: ir.ExecutorCompute}}}

	tests := []struct {
		name     string
		scenario Scenario
		wantErr  string
	}{
		{
			name:     "missing name",
			scenario: Scenario{Description: "d", Graph: graph, Assertions: []Assertion{{Type: AssertNoOverlap}}},
			wantErr:  "name is required",
		},
		{
			name:     "missing description",
			scenario: Scenario{Name: "n", Graph: graph, Assertions: []Assertion{{Type: AssertNoOverlap}}},
			wantErr:  "description is required",
		},
		{
			name:     "missing graph",
			scenario: Scenario{Name: "n", Description: "d", Assertions: []Assertion{{Type: AssertNoOverlap}}},
			wantErr:  "graph or graph_file is required",
		},
		{
			name:     "both graph forms",
			scenario: Scenario{Name: "n", Description: "d", Graph: graph, GraphFile: "g.yaml", Assertions: []Assertion{{Type: AssertNoOverlap}}},
			wantErr:  "mutually exclusive",
		},
		{
			name:     "no assertions",
			scenario: Scenario{Name: "n", Description: "d", Graph: graph},
			wantErr:  "assertions list is required",
		},
		{
			name:     "spill_count without count",
			scenario: Scenario{Name: "n", Description: "d", Graph: graph, Assertions: []Assertion{{Type: AssertSpillCount}}},
			wantErr:  "non-negative count is required for spill_count",
		},
		{
			name: "spills_between without bounds",
			scenario: Scenario{Name: "n", Description: "d", Graph: graph, Assertions: []Assertion{
				{Type: AssertSpillsBetween, Count: intPtr(1)},
			}},
			wantErr: "from_task and to_task are required",
		},
		{
			name:     "same_time with one task",
			scenario: Scenario{Name: "n", Description: "d", Graph: graph, Assertions: []Assertion{{Type: AssertSameTime, Tasks: []int{0}}}},
			wantErr:  "at least two tasks",
		},
		{
			name:     "final_state without expect",
			scenario: Scenario{Name: "n", Description: "d", Graph: graph, Assertions: []Assertion{{Type: AssertFinalState, Table: "runs"}}},
			wantErr:  "expect is required for final_state",
		},
		{
			name:     "unknown type",
			scenario: Scenario{Name: "n", Description: "d", Graph: graph, Assertions: []Assertion{{Type: "peak_below"}}},
			wantErr:  `unknown assertion type "peak_below"`,
		},
		{
			name:     "valid",
			scenario: Scenario{Name: "n", Description: "d", Graph: graph, Assertions: []Assertion{{Type: AssertErrorCode, Code: "CYCLIC_DEPENDENCY"}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateScenario(&tt.scenario, false)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
