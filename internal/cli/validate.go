package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/memsched/internal/depgraph"
	"github.com/roach88/memsched/internal/ir"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid   bool                       `json:"valid"`
	Tasks   int                        `json:"tasks"`
	Buffers int                        `json:"buffers"`
	Errors  []depgraph.ValidationError `json:"errors,omitempty"`
	Cycles  []depgraph.Cycle           `json:"cycles,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <graph>",
		Short: "Validate a graph without scheduling it",
		Long: `Validate a task graph without running the scheduler.

Checks the structural contract of the graph (task indices, buffer
declarations, edges, aliases, live ranges), rejects explicit deallocation
tasks and reports every dependency cycle. All problems are collected
before reporting.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, input string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	loaded, err := LoadInput(input)
	if err != nil {
		return outputLoadError(formatter, err)
	}
	formatter.VerboseLog("Loaded graph %q from %d file(s)", loaded.Graph.Name, loaded.FileCount)

	result := ValidateGraph(loaded.Graph)
	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ Graph valid (%d tasks, %d buffers)\n", result.Tasks, result.Buffers)
	return nil
}

// ValidateGraph collects every structural error and dependency cycle of g.
func ValidateGraph(g *ir.Graph) ValidationResult {
	result := ValidationResult{Tasks: len(g.Tasks), Buffers: len(g.Buffers)}

	for i, task := range g.Tasks {
		if task.Kind == ir.TaskDealloc || task.Kind.IsSynthetic() {
			result.Errors = append(result.Errors, depgraph.ValidationError{
				Field:   fmt.Sprintf("tasks[%d].kind", i),
				Message: fmt.Sprintf("task %q has unsupported kind %q", task.Label(), task.Kind),
				Code:    string(ir.ErrCodeUnsupportedIRShape),
			})
		}
	}
	result.Errors = append(result.Errors, depgraph.Validate(g)...)
	if len(result.Errors) == 0 {
		result.Cycles = depgraph.AnalyzeCycles(g)
	}

	result.Valid = len(result.Errors) == 0 && len(result.Cycles) == 0
	return result
}

// outputValidationErrors outputs every validation error and cycle.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	count := len(result.Errors) + len(result.Cycles)

	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   result,
		}
		if len(result.Errors) > 0 {
			response.Error = &CLIError{Code: result.Errors[0].Code, Message: result.Errors[0].Message}
		} else {
			response.Error = &CLIError{Code: string(ir.ErrCodeCyclicDependency), Message: result.Cycles[0].Message}
		}
		if err := writeJSON(formatter.Writer, response); err != nil {
			return err
		}
		// Validation failures = exit code 1 (test/validation failure)
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", count))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range result.Errors {
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n", err.Code, err.Field, err.Message)
	}
	for _, c := range result.Cycles {
		fmt.Fprintf(formatter.Writer, "  %s: %s\n", ir.ErrCodeCyclicDependency, c.Message)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", count))
}
