package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/memsched/internal/ir"
)

// RunSummary is the listing view of a stored run.
type RunSummary struct {
	ID          string `json:"id"`
	Seq         int64  `json:"seq"`
	GraphName   string `json:"graph_name"`
	GraphDigest string `json:"graph_digest"`
	PlanDigest  string `json:"plan_digest"`
	Makespan    int    `json:"makespan"`
	PeakUsage   int64  `json:"peak_usage"`
	Capacity    int64  `json:"capacity"`
	SpillCount  int    `json:"spill_count"`
}

// TimelineEntry is one scheduled task of a stored run.
type TimelineEntry struct {
	Task     int         `json:"task"`
	Time     int         `json:"time"`
	Name     string      `json:"name"`
	Kind     ir.TaskKind `json:"kind"`
	Executor string      `json:"executor"`
	Source   int         `json:"source"`
	Reads    []string    `json:"reads"`
	Writes   []string    `json:"writes"`
}

// ReadRun retrieves a run with its graph, config and plan.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	var (
		run                        Run
		graphJSON, cfgJSON, planJS string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, seq, graph_digest, plan_digest, graph, config, plan, scheduler_version, ir_version
		FROM runs
		WHERE id = ?
	`, id).Scan(&run.ID, &run.Seq, &run.GraphDigest, &run.PlanDigest,
		&graphJSON, &cfgJSON, &planJS, &run.SchedulerVersion, &run.IRVersion)
	if err != nil {
		return Run{}, err
	}

	if run.Graph, err = unmarshalGraph(graphJSON); err != nil {
		return Run{}, fmt.Errorf("read run %s: %w", id, err)
	}
	if run.Config, err = unmarshalConfig(cfgJSON); err != nil {
		return Run{}, fmt.Errorf("read run %s: %w", id, err)
	}
	if run.Plan, err = unmarshalPlan(planJS); err != nil {
		return Run{}, fmt.Errorf("read run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns every stored run in seq order.
// Returns an empty slice (not nil) when the store is empty.
func (s *Store) ListRuns(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, graph_name, graph_digest, plan_digest, makespan, peak_usage, capacity, spill_count
		FROM runs
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.ID, &r.Seq, &r.GraphName, &r.GraphDigest, &r.PlanDigest,
			&r.Makespan, &r.PeakUsage, &r.Capacity, &r.SpillCount); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// LatestRunForGraph returns the ID of the most recent run of the input with
// the given graph digest. Returns sql.ErrNoRows if there is none.
func (s *Store) LatestRunForGraph(ctx context.Context, graphDigest string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM runs
		WHERE graph_digest = ?
		ORDER BY seq DESC
		LIMIT 1
	`, graphDigest).Scan(&id)
	return id, err
}

// ReadTimeline returns the scheduled tasks of a run ordered by time, then
// task index. Returns an empty slice for an unknown run.
func (s *Store) ReadTimeline(ctx context.Context, runID string) ([]TimelineEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task, time, name, kind, executor, source, reads, writes
		FROM scheduled_tasks
		WHERE run_id = ?
		ORDER BY time ASC, task ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("read timeline: %w", err)
	}
	defer rows.Close()

	entries := []TimelineEntry{}
	for rows.Next() {
		var (
			e             TimelineEntry
			kind          string
			reads, writes string
		)
		if err := rows.Scan(&e.Task, &e.Time, &e.Name, &kind, &e.Executor, &e.Source, &reads, &writes); err != nil {
			return nil, fmt.Errorf("scan timeline entry: %w", err)
		}
		e.Kind = ir.TaskKind(kind)
		if e.Reads, err = unmarshalIDs(reads); err != nil {
			return nil, err
		}
		if e.Writes, err = unmarshalIDs(writes); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline: %w", err)
	}
	return entries, nil
}

// ReadPlacements returns the placements of a run in stored order.
func (s *Store) ReadPlacements(ctx context.Context, runID string) ([]ir.Placement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT buffer, root, memory, address, size, start_time, end_time
		FROM placements
		WHERE run_id = ?
		ORDER BY idx ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("read placements: %w", err)
	}
	defer rows.Close()

	placements := []ir.Placement{}
	for rows.Next() {
		var (
			p   ir.Placement
			mem string
		)
		if err := rows.Scan(&p.Buffer, &p.Root, &mem, &p.Offset, &p.Size, &p.Start, &p.End); err != nil {
			return nil, fmt.Errorf("scan placement: %w", err)
		}
		p.Memory = ir.MemoryKind(mem)
		placements = append(placements, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate placements: %w", err)
	}
	return placements, nil
}

// ReadSpills returns the spill records of a run in stored order.
func (s *Store) ReadSpills(ctx context.Context, runID string) ([]ir.SpillRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT buffer, evicted_at, reloaded_at, secondary_address, refetch, shared_with
		FROM spills
		WHERE run_id = ?
		ORDER BY idx ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("read spills: %w", err)
	}
	defer rows.Close()

	spills := []ir.SpillRecord{}
	for rows.Next() {
		var (
			sp                     ir.SpillRecord
			reloadedAt, sharedWith sql.NullInt64
		)
		if err := rows.Scan(&sp.Buffer, &sp.EvictedAt, &reloadedAt, &sp.SecondaryAddress, &sp.Refetch, &sharedWith); err != nil {
			return nil, fmt.Errorf("scan spill: %w", err)
		}
		if reloadedAt.Valid {
			v := int(reloadedAt.Int64)
			sp.ReloadedAt = &v
		}
		if sharedWith.Valid {
			v := int(sharedWith.Int64)
			sp.SharedWith = &v
		}
		spills = append(spills, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate spills: %w", err)
	}
	return spills, nil
}
