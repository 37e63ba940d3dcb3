package harness

import (
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/memsched/internal/ir"
)

// PlanSnapshot captures what a scenario's golden file pins down: the usage
// report, the timeline and the final addresses.
type PlanSnapshot struct {
	ScenarioName string
	ErrorCode    ir.ErrorCode
	Plan         *ir.Plan
}

// toCanonicalMap converts a PlanSnapshot to a map[string]any for canonical
// JSON serialization. ir.MarshalCanonical only handles maps, slices of any
// and primitives.
func (s *PlanSnapshot) toCanonicalMap() map[string]any {
	result := map[string]any{
		"scenario_name": s.ScenarioName,
	}
	if s.ErrorCode != "" {
		result["error_code"] = string(s.ErrorCode)
	}
	if s.Plan == nil {
		return result
	}

	r := s.Plan.Report
	result["report"] = map[string]any{
		"capacity":       r.Capacity,
		"copy_tasks":     r.CopyTasks,
		"makespan":       r.Makespan,
		"peak_usage":     r.PeakUsage,
		"secondary_peak": r.SecondaryPeak,
		"spill_count":    r.SpillCount,
	}

	timeline := make([]any, len(s.Plan.Schedule))
	for i, op := range s.Plan.Schedule {
		timeline[i] = fmt.Sprintf("%d %s", op.Time, s.Plan.Tasks[op.Task].Label())
	}
	result["timeline"] = timeline

	addresses := make([]any, len(s.Plan.Addresses))
	for i, a := range s.Plan.Addresses {
		addresses[i] = fmt.Sprintf("%s %s %d", a.Buffer, a.Memory, a.Offset)
	}
	result["addresses"] = addresses

	return result
}

// Snapshot returns the canonical JSON golden content for a result.
func Snapshot(scenarioName string, result *Result) ([]byte, error) {
	snapshot := PlanSnapshot{
		ScenarioName: scenarioName,
		ErrorCode:    result.ErrorCode,
		Plan:         result.Plan,
	}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its plan snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)

	return nil
}
