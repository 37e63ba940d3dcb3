package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithGolden(t *testing.T) {
	for _, name := range []string{
		"three_buffer_chain_slack",
		"three_buffer_chain_spill",
		"dependency_cycle",
	} {
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario("testdata/scenarios/" + name + ".yaml")
			require.NoError(t, err)
			require.NoError(t, RunWithGolden(t, scenario))
		})
	}
}

func TestSnapshot_Deterministic(t *testing.T) {
	scenario := chainScenario("determinism", 15, Assertion{Type: AssertNoOverlap})

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := Snapshot(scenario.Name, first)
	require.NoError(t, err)
	b, err := Snapshot(scenario.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestSnapshot_FailedPass(t *testing.T) {
	result := NewResult()
	result.ErrorCode = "INFEASIBLE_ALLOCATION"

	data, err := Snapshot("failed", result)
	require.NoError(t, err)
	assert.Equal(t, `{"error_code":"INFEASIBLE_ALLOCATION","scenario_name":"failed"}`, string(data))
}
