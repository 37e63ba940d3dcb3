package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/memsched/internal/ir"
	"github.com/roach88/memsched/internal/pipeline"
	"github.com/roach88/memsched/internal/store"
)

// ScheduleOptions holds flags for the schedule command.
type ScheduleOptions struct {
	*RootOptions
	ConfigFile        string
	Database          string
	Output            string
	Capacity          int64
	Alignment         int64
	SecondaryCapacity int64
	ForbidSpills      bool
	Priority          string
	Victim            string
	MaxSteps          int

	// RunIDs allows overriding the run ID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs store.RunIDGenerator
}

// ScheduleResult is the success payload of the schedule command.
type ScheduleResult struct {
	Graph       string         `json:"graph"`
	GraphDigest string         `json:"graph_digest"`
	PlanDigest  string         `json:"plan_digest"`
	Report      ir.UsageReport `json:"report"`
	Plan        *ir.Plan       `json:"plan,omitempty"`
}

// NewScheduleCommand creates the schedule command.
func NewScheduleCommand(rootOpts *RootOptions) *cobra.Command {
	return newScheduleCommand(&ScheduleOptions{RootOptions: rootOpts})
}

func newScheduleCommand(opts *ScheduleOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule <graph>",
		Short: "Schedule a graph and assign addresses",
		Long: `Run the memory scheduling pass on a task graph.

The graph is read from a YAML, JSON or CUE file, or a directory of CUE files.
The configuration comes from the input's "config" section (CUE only), from
--config, and finally from the individual flags, later sources winning.

With --db the plan is stored for later trace and replay.

Exit codes:
  0 - Plan produced
  1 - The pass failed (infeasible, cyclic, unsupported input)
  2 - Command error (unreadable input, invalid config, etc.)

Examples:
  memsched schedule graph.yaml --capacity 1048576
  memsched schedule graph.cue --db ./memsched.db
  memsched schedule graph.yaml --config chip.yaml -o plan.json --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchedule(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigFile, "config", "", "configuration file (yaml, json or cue)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "store the plan in this SQLite database")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the plan as JSON to this file")
	cmd.Flags().Int64Var(&opts.Capacity, "capacity", 0, "primary memory capacity in bytes")
	cmd.Flags().Int64Var(&opts.Alignment, "alignment", 0, "primary memory alignment in bytes")
	cmd.Flags().Int64Var(&opts.SecondaryCapacity, "secondary-capacity", 0, "secondary memory capacity in bytes (default unbounded)")
	cmd.Flags().BoolVar(&opts.ForbidSpills, "forbid-spills", false, "fail instead of spilling primary buffers")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "ready-task priority (critical-path|program-order)")
	cmd.Flags().StringVar(&opts.Victim, "victim", "", "spill victim order (cheapest|farthest-use)")
	cmd.Flags().IntVar(&opts.MaxSteps, "max-steps", 0, "scheduling step bound (0 = derived from the graph)")

	return cmd
}

func runSchedule(opts *ScheduleOptions, input string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	loaded, err := LoadInput(input)
	if err != nil {
		return outputLoadError(formatter, err)
	}
	formatter.VerboseLog("Loaded graph %q from %d file(s)", loaded.Graph.Name, loaded.FileCount)

	cfg, err := resolveConfig(opts, loaded, cmd)
	if err != nil {
		return outputLoadError(formatter, err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := newLogger(opts.RootOptions, formatter.GetErrWriter())

	plan, err := pipeline.Run(ctx, loaded.Graph, cfg, pipeline.WithLogger(logger))
	if err != nil {
		return outputPassError(formatter, err)
	}

	run, err := store.NewRun(runIDGenerator(opts.RunIDs), loaded.Graph, cfg, plan)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to digest plan", err)
	}

	if opts.Output != "" {
		data, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to encode plan", err)
		}
		if err := os.WriteFile(opts.Output, data, 0644); err != nil {
			_ = formatter.Error(ErrCodeWriteFailed, fmt.Sprintf("writing %s: %v", opts.Output, err), nil)
			return WrapExitError(ExitCommandError, "failed to write plan", err)
		}
		formatter.VerboseLog("Wrote plan to %s", opts.Output)
	}

	runID := ""
	if opts.Database != "" {
		st, err := store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer st.Close()
		if _, err := st.WriteRun(ctx, run); err != nil {
			return WrapExitError(ExitCommandError, "failed to store plan", err)
		}
		runID = run.ID
	}

	result := ScheduleResult{
		Graph:       plan.Graph,
		GraphDigest: run.GraphDigest,
		PlanDigest:  run.PlanDigest,
		Report:      plan.Report,
	}
	if opts.Format == "json" {
		if opts.Output == "" {
			result.Plan = plan
		}
		return writeJSON(formatter.Writer, CLIResponse{Status: "ok", Data: result, RunID: runID})
	}

	return outputScheduleText(formatter, result, plan, runID)
}

// resolveConfig layers the input's config, the --config file and the flags.
func resolveConfig(opts *ScheduleOptions, loaded *LoadResult, cmd *cobra.Command) (ir.Config, error) {
	var cfg ir.Config
	if loaded.Config != nil {
		cfg = *loaded.Config
	}
	if opts.ConfigFile != "" {
		fromFile, err := LoadConfig(opts.ConfigFile)
		if err != nil {
			return ir.Config{}, err
		}
		cfg = fromFile
	}

	flags := cmd.Flags()
	if flags.Changed("capacity") {
		cfg.Primary.Capacity = opts.Capacity
	}
	if flags.Changed("alignment") {
		cfg.Primary.Alignment = opts.Alignment
	}
	if flags.Changed("forbid-spills") {
		cfg.Primary.ForbidSpills = opts.ForbidSpills
	}
	if flags.Changed("secondary-capacity") {
		sec := ir.MemoryConfig{}
		if cfg.Secondary != nil {
			sec = *cfg.Secondary
		}
		sec.Capacity = opts.SecondaryCapacity
		cfg.Secondary = &sec
	}
	if flags.Changed("priority") {
		cfg.Priority = opts.Priority
	}
	if flags.Changed("victim") {
		cfg.Victim = opts.Victim
	}
	if flags.Changed("max-steps") {
		cfg.MaxSteps = opts.MaxSteps
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return ir.Config{}, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("invalid config: %v", err)}
	}
	return cfg, nil
}

func runIDGenerator(gen store.RunIDGenerator) store.RunIDGenerator {
	if gen == nil {
		return store.UUIDv7Generator{}
	}
	return gen
}

func outputScheduleText(formatter *OutputFormatter, result ScheduleResult, plan *ir.Plan, runID string) error {
	w := formatter.Writer
	r := result.Report

	fmt.Fprintf(w, "✓ Scheduled %s\n", displayName(result.Graph))
	fmt.Fprintf(w, "  Makespan: %d (%d copy tasks)\n", r.Makespan, r.CopyTasks)
	fmt.Fprintf(w, "  Peak usage: %d / %d bytes\n", r.PeakUsage, r.Capacity)
	fmt.Fprintf(w, "  Spills: %d\n", r.SpillCount)
	if r.SpillCount > 0 {
		fmt.Fprintf(w, "  Secondary peak: %d bytes\n", r.SecondaryPeak)
	}
	fmt.Fprintf(w, "  Plan digest: %s\n", result.PlanDigest)
	if runID != "" {
		fmt.Fprintf(w, "  Run: %s\n", runID)
	}

	if formatter.Verbose {
		fmt.Fprintln(w)
		table := newTable(w, "BUFFER", "MEMORY", "ADDRESS")
		for _, a := range plan.Addresses {
			table.Append([]string{a.Buffer, string(a.Memory), fmt.Sprint(a.Offset)})
		}
		table.Render()
	}
	return nil
}

func displayName(graph string) string {
	if graph == "" {
		return "graph"
	}
	return graph
}

// outputLoadError reports an input or config error (exit code 2).
func outputLoadError(formatter *OutputFormatter, err error) error {
	code, message := ErrCodeGeneric, err.Error()
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		code, message = loadErr.Code, loadErr.Message
	}
	_ = formatter.Error(code, message, nil)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputPassError reports a failed pass (exit code 1). Errors that carry no
// pass code, such as an invalid graph, keep their message under E001.
func outputPassError(formatter *OutputFormatter, err error) error {
	var pe *ir.PassError
	if errors.As(err, &pe) {
		details := map[string]string{}
		for k, v := range pe.Details {
			details[k] = v
		}
		if pe.Task != "" {
			details["task"] = pe.Task
		}
		if pe.Buffer != "" {
			details["buffer"] = pe.Buffer
		}
		_ = formatter.Error(string(pe.Code), pe.Message, details)
		return WrapExitError(ExitFailure, "scheduling failed", err)
	}
	_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
	return WrapExitError(ExitFailure, "scheduling failed", err)
}
