package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/memsched/internal/ir"
	"github.com/roach88/memsched/internal/pipeline"
	"github.com/roach88/memsched/internal/store"
	"github.com/roach88/memsched/internal/testutil"
)

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation. Run IDs
// come from a fixed generator, so stored rows are reproducible.
//
// Execution flow:
//  1. Create fresh in-memory database
//  2. Run the pass on the scenario's graph and config
//  3. Persist the plan (successful runs only)
//  4. Evaluate assertions
//
// A failed pass is not an error: it is recorded on the result so error_code
// assertions can inspect it. Errors are returned only for harness failures.
func Run(scenario *Scenario) (*Result, error) {
	if scenario.Graph == nil {
		return nil, fmt.Errorf("scenario %q has no graph", scenario.Name)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	cfg := scenario.Config.WithDefaults()

	result := NewResult()
	plan, err := pipeline.Run(ctx, scenario.Graph, cfg, pipeline.WithLogger(logger))
	if err != nil {
		result.SetFailure(err)
		logger.Info("pass failed", "scenario", scenario.Name, "code", result.ErrorCode)
	} else {
		result.SetPlan(plan)
		run, err := store.NewRun(testutil.NewFixedRunIDGenerator(scenario.Name), scenario.Graph, cfg, plan)
		if err != nil {
			return nil, fmt.Errorf("failed to build run: %w", err)
		}
		if _, err := st.WriteRun(ctx, run); err != nil {
			return nil, fmt.Errorf("failed to store run: %w", err)
		}
		result.RunID = run.ID
	}

	actx := &AssertionContext{
		Store:  st,
		Ctx:    ctx,
		Graph:  scenario.Graph,
		Config: cfg,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	if result.ErrorCode != "" && !expectsFailure(scenario.Assertions) {
		result.AddError(fmt.Sprintf("pass failed unexpectedly: %s", result.Failure))
	}

	return result, nil
}

func expectsFailure(assertions []Assertion) bool {
	for _, a := range assertions {
		if a.Type == AssertErrorCode {
			return true
		}
	}
	return false
}

// planOrError returns the plan, or an AssertionError when the pass failed.
func planOrError(result *Result, assertionType string) (*ir.Plan, error) {
	if result.Plan == nil {
		return nil, &AssertionError{
			Type:     assertionType,
			Expected: "a plan",
			Actual:   fmt.Sprintf("pass failed with %s", result.ErrorCode),
		}
	}
	return result.Plan, nil
}
