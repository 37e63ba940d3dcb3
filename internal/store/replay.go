package store

import (
	"context"
	"fmt"

	"github.com/roach88/memsched/internal/ir"
)

// PlanFunc runs the pass on a stored input. The CLI passes pipeline.Run.
type PlanFunc func(ctx context.Context, g *ir.Graph, cfg ir.Config) (*ir.Plan, error)

// Verification is the outcome of replaying a stored run.
type Verification struct {
	RunID          string   `json:"run_id"`
	GraphDigest    string   `json:"graph_digest"`
	StoredDigest   string   `json:"stored_digest"`
	ReplayedDigest string   `json:"replayed_digest"`
	Match          bool     `json:"match"`
	Differences    []string `json:"differences,omitempty"`
}

// VerifyRun re-runs the stored input of a run and compares the plan digests.
//
// A mismatch is not an error: it is reported through Verification.Match and
// Differences, which names the first diverging parts of the plan. The stored
// graph digest is checked too, so a run whose input was altered is reported
// as a mismatch.
func (s *Store) VerifyRun(ctx context.Context, runID string, plan PlanFunc) (Verification, error) {
	run, err := s.ReadRun(ctx, runID)
	if err != nil {
		return Verification{}, fmt.Errorf("verify run %s: %w", runID, err)
	}
	v := Verification{RunID: runID, GraphDigest: run.GraphDigest, StoredDigest: run.PlanDigest}

	graphDigest, err := ir.GraphDigest(run.Graph, run.Config)
	if err != nil {
		return Verification{}, fmt.Errorf("verify run %s: %w", runID, err)
	}
	if graphDigest != run.GraphDigest {
		v.Differences = append(v.Differences, "graph digest changed")
	}

	replayed, err := plan(ctx, run.Graph, run.Config)
	if err != nil {
		return Verification{}, fmt.Errorf("verify run %s: replay: %w", runID, err)
	}
	if v.ReplayedDigest, err = ir.PlanDigest(replayed); err != nil {
		return Verification{}, fmt.Errorf("verify run %s: %w", runID, err)
	}
	if v.ReplayedDigest != run.PlanDigest {
		v.Differences = append(v.Differences, diffPlans(run.Plan, replayed)...)
	}
	v.Match = len(v.Differences) == 0
	return v, nil
}

// diffPlans names the parts of two plans that differ.
func diffPlans(stored, replayed *ir.Plan) []string {
	var diffs []string
	if stored.Report != replayed.Report {
		diffs = append(diffs, fmt.Sprintf("report: stored %+v, replayed %+v", stored.Report, replayed.Report))
	}
	if len(stored.Schedule) != len(replayed.Schedule) {
		diffs = append(diffs, fmt.Sprintf("schedule: stored %d ops, replayed %d", len(stored.Schedule), len(replayed.Schedule)))
	} else {
		for i := range stored.Schedule {
			if stored.Schedule[i] != replayed.Schedule[i] {
				diffs = append(diffs, fmt.Sprintf("schedule[%d]: stored %+v, replayed %+v", i, stored.Schedule[i], replayed.Schedule[i]))
				break
			}
		}
	}
	if len(stored.Addresses) != len(replayed.Addresses) {
		diffs = append(diffs, fmt.Sprintf("addresses: stored %d, replayed %d", len(stored.Addresses), len(replayed.Addresses)))
	} else {
		for i := range stored.Addresses {
			if stored.Addresses[i] != replayed.Addresses[i] {
				diffs = append(diffs, fmt.Sprintf("addresses[%d]: stored %+v, replayed %+v", i, stored.Addresses[i], replayed.Addresses[i]))
				break
			}
		}
	}
	if len(diffs) == 0 {
		diffs = append(diffs, "plan digest differs")
	}
	return diffs
}
