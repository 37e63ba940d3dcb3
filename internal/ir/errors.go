package ir

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorCode categorizes pass failures. Every code is fatal: the surrounding
// compiler reports the error and halts further lowering.
type ErrorCode string

const (
	// ErrCodeInfeasibleAllocation means no ready task fits even after every
	// spill candidate was exhausted.
	ErrCodeInfeasibleAllocation ErrorCode = "INFEASIBLE_ALLOCATION"

	// ErrCodeDoubleAllocation means a buffer was committed twice.
	ErrCodeDoubleAllocation ErrorCode = "DOUBLE_ALLOCATION"

	// ErrCodeStaleFree means a buffer was freed while not allocated or still in use.
	ErrCodeStaleFree ErrorCode = "STALE_FREE"

	// ErrCodeUnsupportedSpill means a spill was required on a memory class that
	// forbids spilling.
	ErrCodeUnsupportedSpill ErrorCode = "UNSUPPORTED_SPILL"

	// ErrCodeCyclicDependency means the input graph is not a DAG.
	ErrCodeCyclicDependency ErrorCode = "CYCLIC_DEPENDENCY"

	// ErrCodeUnsupportedIRShape means the input contains an explicit deallocation.
	ErrCodeUnsupportedIRShape ErrorCode = "UNSUPPORTED_IR_SHAPE"

	// ErrCodeInvalidGraph means the input violates its structural contract.
	ErrCodeInvalidGraph ErrorCode = "INVALID_GRAPH"

	// ErrCodeInvariantViolation means reconciliation found an inconsistent plan.
	ErrCodeInvariantViolation ErrorCode = "INVARIANT_VIOLATION"
)

// PassError is the single failure type of the scheduling pass.
//
// Task and Buffer identify the offending operation or value when known.
// Details carries extra diagnostics such as capacity and peak demand.
type PassError struct {
	Code    ErrorCode
	Message string
	Task    string
	Buffer  string
	Details map[string]string
}

// Error implements the error interface.
func (e *PassError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)

	var ctx []string
	if e.Task != "" {
		ctx = append(ctx, "task="+e.Task)
	}
	if e.Buffer != "" {
		ctx = append(ctx, "buffer="+e.Buffer)
	}
	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ctx = append(ctx, k+"="+e.Details[k])
	}
	if len(ctx) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(ctx, ", "))
	}
	return b.String()
}

// Errorf builds a PassError with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *PassError {
	return &PassError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithTask sets the offending task and returns e.
func (e *PassError) WithTask(task string) *PassError {
	e.Task = task
	return e
}

// WithBuffer sets the offending buffer and returns e.
func (e *PassError) WithBuffer(buffer string) *PassError {
	e.Buffer = buffer
	return e
}

// WithDetail adds a diagnostic key/value pair and returns e.
func (e *PassError) WithDetail(key string, value any) *PassError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = fmt.Sprint(value)
	return e
}

// CodeOf returns the code of the first PassError in err's chain, or "".
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var pe *PassError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}
