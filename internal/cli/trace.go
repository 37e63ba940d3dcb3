package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/memsched/internal/ir"
	"github.com/roach88/memsched/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string // optional - defaults to the latest run
	Buffer   string // optional - filter to one buffer
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	RunID      string                `json:"run_id"`
	Graph      string                `json:"graph"`
	Timeline   []store.TimelineEntry `json:"timeline"`
	Placements []ir.Placement        `json:"placements"`
	Spills     []ir.SpillRecord      `json:"spills"`
	Stats      TraceStats            `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	Tasks      int   `json:"tasks"`
	CopyTasks  int   `json:"copy_tasks"`
	Makespan   int   `json:"makespan"`
	PeakUsage  int64 `json:"peak_usage"`
	Capacity   int64 `json:"capacity"`
	SpillCount int   `json:"spill_count"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the timeline of a stored plan",
		Long: `Show how a stored plan runs: the task timeline with inserted spill
copies, every buffer residency interval and the spill records.

Without --run the most recent run is shown. --buffer narrows the output to
the tasks, placements and spills touching one buffer (its copies included).

Examples:
  memsched trace --db ./memsched.db
  memsched trace --db ./memsched.db --run 0190c6e2-... --buffer B
  memsched trace --db ./memsched.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run to trace (default latest)")
	cmd.Flags().StringVar(&opts.Buffer, "buffer", "", "filter to one buffer")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	runID := opts.RunID
	if runID == "" {
		runs, err := st.ListRuns(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list runs", err)
		}
		if len(runs) == 0 {
			return NewExitError(ExitCommandError, "no runs found in database")
		}
		runID = runs[len(runs)-1].ID
	}

	run, err := st.ReadRun(ctx, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return NewExitError(ExitCommandError, fmt.Sprintf("run not found: %s", runID))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}

	timeline, err := st.ReadTimeline(ctx, runID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read timeline", err)
	}
	placements, err := st.ReadPlacements(ctx, runID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read placements", err)
	}
	spills, err := st.ReadSpills(ctx, runID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read spills", err)
	}

	r := run.Plan.Report
	result := TraceResult{
		RunID:      runID,
		Graph:      run.Plan.Graph,
		Timeline:   filterTimeline(timeline, opts.Buffer),
		Placements: filterPlacements(placements, opts.Buffer),
		Spills:     filterSpills(spills, opts.Buffer),
		Stats: TraceStats{
			Tasks:      len(timeline),
			CopyTasks:  r.CopyTasks,
			Makespan:   r.Makespan,
			PeakUsage:  r.PeakUsage,
			Capacity:   r.Capacity,
			SpillCount: r.SpillCount,
		},
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: result, RunID: runID})
	}
	outputTraceText(cmd.OutOrStdout(), result)
	return nil
}

// touchesBuffer reports whether name is buffer or one of its copies
// (A@fill1, A@spill0).
func touchesBuffer(name, buffer string) bool {
	root, _, _ := strings.Cut(name, "@")
	return root == buffer
}

func filterTimeline(entries []store.TimelineEntry, buffer string) []store.TimelineEntry {
	if buffer == "" {
		return entries
	}
	out := []store.TimelineEntry{}
	for _, e := range entries {
		if anyTouches(e.Reads, buffer) || anyTouches(e.Writes, buffer) {
			out = append(out, e)
		}
	}
	return out
}

func anyTouches(names []string, buffer string) bool {
	for _, n := range names {
		if touchesBuffer(n, buffer) {
			return true
		}
	}
	return false
}

func filterPlacements(placements []ir.Placement, buffer string) []ir.Placement {
	if buffer == "" {
		return placements
	}
	out := []ir.Placement{}
	for _, p := range placements {
		if touchesBuffer(p.Buffer, buffer) || p.Root == buffer {
			out = append(out, p)
		}
	}
	return out
}

func filterSpills(spills []ir.SpillRecord, buffer string) []ir.SpillRecord {
	if buffer == "" {
		return spills
	}
	out := []ir.SpillRecord{}
	for _, s := range spills {
		if s.Buffer == buffer {
			out = append(out, s)
		}
	}
	return out
}

// outputTraceText outputs the trace in human-readable form.
func outputTraceText(w io.Writer, result TraceResult) {
	s := result.Stats
	fmt.Fprintf(w, "Trace for run: %s (%s)\n", result.RunID, displayName(result.Graph))
	fmt.Fprintf(w, "  Makespan: %d (%d tasks, %d copies)\n", s.Makespan, s.Tasks, s.CopyTasks)
	fmt.Fprintf(w, "  Peak usage: %d / %d bytes\n", s.PeakUsage, s.Capacity)
	fmt.Fprintf(w, "  Spills: %d\n", s.SpillCount)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Timeline:")
	table := newTable(w, "TIME", "TASK", "KIND", "EXECUTOR", "READS", "WRITES")
	for _, e := range result.Timeline {
		table.Append([]string{
			fmt.Sprint(e.Time),
			taskLabel(e),
			string(e.Kind),
			e.Executor,
			strings.Join(e.Reads, ","),
			strings.Join(e.Writes, ","),
		})
	}
	table.Render()
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Placements:")
	table = newTable(w, "BUFFER", "MEMORY", "ADDRESS", "SIZE", "LIVE")
	for _, p := range result.Placements {
		table.Append([]string{
			p.Buffer,
			string(p.Memory),
			fmt.Sprint(p.Offset),
			fmt.Sprint(p.Size),
			fmt.Sprintf("%d-%d", p.Start, p.End),
		})
	}
	table.Render()

	if len(result.Spills) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Spills:")
	table = newTable(w, "BUFFER", "EVICTED", "RELOADED", "SECONDARY", "REFETCH")
	for _, sp := range result.Spills {
		reloaded := "-"
		if sp.ReloadedAt != nil {
			reloaded = fmt.Sprint(*sp.ReloadedAt)
		}
		table.Append([]string{
			sp.Buffer,
			fmt.Sprint(sp.EvictedAt),
			reloaded,
			fmt.Sprint(sp.SecondaryAddress),
			fmt.Sprint(sp.Refetch),
		})
	}
	table.Render()
}

func taskLabel(e store.TimelineEntry) string {
	if e.Name != "" {
		return e.Name
	}
	if e.Source >= 0 {
		return fmt.Sprintf("task%d", e.Source)
	}
	return fmt.Sprintf("#%d", e.Task)
}
