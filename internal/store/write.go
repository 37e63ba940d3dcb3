package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/memsched/internal/ir"
)

// Run is one stored execution of the pass.
type Run struct {
	ID               string
	Seq              int64
	GraphDigest      string
	PlanDigest       string
	Graph            *ir.Graph
	Config           ir.Config
	Plan             *ir.Plan
	SchedulerVersion string
	IRVersion        string
}

// NewRun computes the digests of a finished run and assigns it an ID.
// Seq is assigned by WriteRun.
func NewRun(gen RunIDGenerator, g *ir.Graph, cfg ir.Config, plan *ir.Plan) (Run, error) {
	graphDigest, err := ir.GraphDigest(g, cfg)
	if err != nil {
		return Run{}, fmt.Errorf("new run: %w", err)
	}
	planDigest, err := ir.PlanDigest(plan)
	if err != nil {
		return Run{}, fmt.Errorf("new run: %w", err)
	}
	return Run{
		ID:               gen.Generate(),
		GraphDigest:      graphDigest,
		PlanDigest:       planDigest,
		Graph:            g,
		Config:           cfg,
		Plan:             plan,
		SchedulerVersion: ir.SchedulerVersion,
		IRVersion:        ir.IRVersion,
	}, nil
}

// WriteRun inserts a run with its schedule, placements and spill records in
// one transaction and returns the assigned seq.
// Uses ON CONFLICT(id) DO NOTHING for idempotency: writing the same run ID
// twice returns the seq of the first write.
func (s *Store) WriteRun(ctx context.Context, run Run) (int64, error) {
	if run.Graph == nil || run.Plan == nil {
		return 0, fmt.Errorf("write run: graph and plan are required")
	}
	graphJSON, err := marshalCanonical("graph", run.Graph)
	if err != nil {
		return 0, fmt.Errorf("write run: %w", err)
	}
	configJSON, err := marshalCanonical("config", run.Config)
	if err != nil {
		return 0, fmt.Errorf("write run: %w", err)
	}
	planJSON, err := marshalCanonical("plan", run.Plan)
	if err != nil {
		return 0, fmt.Errorf("write run: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("write run: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var existing int64
	err = tx.QueryRowContext(ctx, `SELECT seq FROM runs WHERE id = ?`, run.ID).Scan(&existing)
	if err == nil {
		return existing, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("write run: lookup: %w", err)
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM runs`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("write run: next seq: %w", err)
	}

	r := run.Plan.Report
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, seq, graph_name, graph_digest, plan_digest, graph, config, plan,
		 makespan, peak_usage, capacity, spill_count, scheduler_version, ir_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID, seq, run.Graph.Name, run.GraphDigest, run.PlanDigest,
		graphJSON, configJSON, planJSON,
		r.Makespan, r.PeakUsage, r.Capacity, r.SpillCount,
		run.SchedulerVersion, run.IRVersion,
	)
	if err != nil {
		return 0, fmt.Errorf("write run: %w", err)
	}

	if err := writeTasks(ctx, tx, run.ID, run.Plan.Tasks); err != nil {
		return 0, err
	}
	if err := writePlacements(ctx, tx, run.ID, run.Plan.Placements); err != nil {
		return 0, err
	}
	if err := writeSpills(ctx, tx, run.ID, run.Plan.Spills); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("write run: commit: %w", err)
	}
	return seq, nil
}

func writeTasks(ctx context.Context, tx *sql.Tx, runID string, tasks []ir.PlannedTask) error {
	for _, t := range tasks {
		reads, err := marshalIDs(t.Reads)
		if err != nil {
			return fmt.Errorf("write task %d: %w", t.Index, err)
		}
		writes, err := marshalIDs(t.Writes)
		if err != nil {
			return fmt.Errorf("write task %d: %w", t.Index, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO scheduled_tasks
			(run_id, task, time, name, kind, executor, source, reads, writes)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, runID, t.Index, t.Time, t.Label(), string(t.Kind), string(t.Executor), t.Source, reads, writes)
		if err != nil {
			return fmt.Errorf("write task %d: %w", t.Index, err)
		}
	}
	return nil
}

func writePlacements(ctx context.Context, tx *sql.Tx, runID string, placements []ir.Placement) error {
	for i, p := range placements {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO placements
			(run_id, idx, buffer, root, memory, address, size, start_time, end_time)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, runID, i, p.Buffer, p.Root, string(p.Memory), p.Offset, p.Size, p.Start, p.End)
		if err != nil {
			return fmt.Errorf("write placement %s: %w", p.Buffer, err)
		}
	}
	return nil
}

func writeSpills(ctx context.Context, tx *sql.Tx, runID string, spills []ir.SpillRecord) error {
	for i, sp := range spills {
		var reloadedAt, sharedWith sql.NullInt64
		if sp.ReloadedAt != nil {
			reloadedAt = sql.NullInt64{Int64: int64(*sp.ReloadedAt), Valid: true}
		}
		if sp.SharedWith != nil {
			sharedWith = sql.NullInt64{Int64: int64(*sp.SharedWith), Valid: true}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO spills
			(run_id, idx, buffer, evicted_at, reloaded_at, secondary_address, refetch, shared_with)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, runID, i, sp.Buffer, sp.EvictedAt, reloadedAt, sp.SecondaryAddress, sp.Refetch, sharedWith)
		if err != nil {
			return fmt.Errorf("write spill %s: %w", sp.Buffer, err)
		}
	}
	return nil
}
