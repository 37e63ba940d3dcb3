package harness

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/memsched/internal/depgraph"
	"github.com/roach88/memsched/internal/ir"
	"github.com/roach88/memsched/internal/reconcile"
	"github.com/roach88/memsched/internal/store"
)

// validIdentifier matches valid SQL identifiers (table/column names).
// Only allows alphanumeric and underscore, must start with letter or underscore.
// This prevents SQL injection via identifier interpolation.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string          // Assertion type for categorization
	Expected string          // Human-readable expected outcome
	Actual   string          // Human-readable actual outcome
	Timeline []TimelineEvent // Full timeline for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Timeline) > 0 {
		fmt.Fprintf(&buf, "\nTimeline:\n")
		for _, event := range e.Timeline {
			fmt.Fprintf(&buf, "  [%d] %s\n", event.Time, event.Task)
		}
	}

	return buf.String()
}

func assertNoOverlap(result *Result) error {
	plan, err := planOrError(result, AssertNoOverlap)
	if err != nil {
		return err
	}
	if err := reconcile.CheckOverlap(plan.Placements); err != nil {
		return &AssertionError{
			Type:     AssertNoOverlap,
			Expected: "disjoint placements",
			Actual:   err.Error(),
		}
	}
	return nil
}

func assertCapacity(result *Result, cfg ir.Config) error {
	plan, err := planOrError(result, AssertCapacity)
	if err != nil {
		return err
	}
	capacity := map[ir.MemoryKind]int64{ir.MemoryPrimary: cfg.Primary.Capacity}
	if cfg.Secondary != nil {
		capacity[ir.MemorySecondary] = cfg.Secondary.Capacity
	}
	if _, err := reconcile.CheckCapacity(plan.Placements, capacity, plan.Report.Makespan); err != nil {
		return &AssertionError{
			Type:     AssertCapacity,
			Expected: fmt.Sprintf("usage within %d bytes of primary memory", cfg.Primary.Capacity),
			Actual:   err.Error(),
			Timeline: result.Timeline,
		}
	}
	return nil
}

// assertTopological checks every dependency the analysis derives from the
// input graph, including the write-after-read edges.
func assertTopological(result *Result, g *ir.Graph) error {
	plan, err := planOrError(result, AssertTopological)
	if err != nil {
		return err
	}
	a, err := depgraph.Build(g)
	if err != nil {
		return fmt.Errorf("analyse graph: %w", err)
	}
	for v, preds := range a.Preds {
		tv, _ := plan.TimeOf(v)
		for _, u := range preds {
			tu, _ := plan.TimeOf(u)
			if tu >= tv {
				return &AssertionError{
					Type:     AssertTopological,
					Expected: fmt.Sprintf("%s before %s", g.Tasks[u].Label(), g.Tasks[v].Label()),
					Actual:   fmt.Sprintf("%s at %d, %s at %d", g.Tasks[u].Label(), tu, g.Tasks[v].Label(), tv),
					Timeline: result.Timeline,
				}
			}
		}
	}
	return nil
}

func assertMakespan(result *Result, assertion Assertion) error {
	plan, err := planOrError(result, AssertMakespan)
	if err != nil {
		return err
	}
	if plan.Report.Makespan != *assertion.Count {
		return &AssertionError{
			Type:     AssertMakespan,
			Expected: fmt.Sprintf("makespan %d", *assertion.Count),
			Actual:   fmt.Sprintf("makespan %d", plan.Report.Makespan),
			Timeline: result.Timeline,
		}
	}
	return nil
}

func assertSpillCount(result *Result, assertion Assertion) error {
	plan, err := planOrError(result, AssertSpillCount)
	if err != nil {
		return err
	}
	if len(plan.Spills) != *assertion.Count {
		return &AssertionError{
			Type:     AssertSpillCount,
			Expected: fmt.Sprintf("%d spills", *assertion.Count),
			Actual:   fmt.Sprintf("%d spills: %s", len(plan.Spills), spilledBuffers(plan.Spills)),
			Timeline: result.Timeline,
		}
	}
	return nil
}

// assertSpillsBetween counts spills of the listed buffers whose evicting task
// runs in [time(from_task), time(to_task)).
func assertSpillsBetween(result *Result, assertion Assertion) error {
	plan, err := planOrError(result, AssertSpillsBetween)
	if err != nil {
		return err
	}
	from, ok := plan.TimeOf(*assertion.FromTask)
	if !ok {
		return fmt.Errorf("spills_between: from_task %d is not in the plan", *assertion.FromTask)
	}
	to, ok := plan.TimeOf(*assertion.ToTask)
	if !ok {
		return fmt.Errorf("spills_between: to_task %d is not in the plan", *assertion.ToTask)
	}

	wanted := make(map[string]bool, len(assertion.Buffers))
	for _, b := range assertion.Buffers {
		wanted[b] = true
	}
	var matched []ir.SpillRecord
	for _, sp := range plan.Spills {
		if len(wanted) > 0 && !wanted[sp.Buffer] {
			continue
		}
		t, _ := plan.TimeOf(sp.EvictedFor)
		if from <= t && t < to {
			matched = append(matched, sp)
		}
	}
	if len(matched) != *assertion.Count {
		return &AssertionError{
			Type:     AssertSpillsBetween,
			Expected: fmt.Sprintf("%d spills in [%d,%d)", *assertion.Count, from, to),
			Actual:   fmt.Sprintf("%d spills: %s", len(matched), spilledBuffers(matched)),
			Timeline: result.Timeline,
		}
	}
	return nil
}

// assertFillBefore checks that every reload of the buffer is filled strictly
// before the task that needed it. With task set, at least one fill must also
// precede that task.
func assertFillBefore(result *Result, assertion Assertion) error {
	plan, err := planOrError(result, AssertFillBefore)
	if err != nil {
		return err
	}
	var fills []int
	for _, sp := range plan.Spills {
		if sp.Buffer != assertion.Buffer || !sp.Reloaded() {
			continue
		}
		needed, _ := plan.TimeOf(*sp.ReloadedFor)
		if *sp.ReloadedAt >= needed {
			return &AssertionError{
				Type:     AssertFillBefore,
				Expected: fmt.Sprintf("fill of %s before time %d", sp.Buffer, needed),
				Actual:   fmt.Sprintf("fill at time %d", *sp.ReloadedAt),
				Timeline: result.Timeline,
			}
		}
		fills = append(fills, *sp.ReloadedAt)
	}

	if assertion.Task == nil {
		return nil
	}
	deadline, ok := plan.TimeOf(*assertion.Task)
	if !ok {
		return fmt.Errorf("fill_before: task %d is not in the plan", *assertion.Task)
	}
	for _, t := range fills {
		if t < deadline {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertFillBefore,
		Expected: fmt.Sprintf("a fill of %s before time %d", assertion.Buffer, deadline),
		Actual:   fmt.Sprintf("fills at %v", fills),
		Timeline: result.Timeline,
	}
}

func assertSameTime(result *Result, assertion Assertion) error {
	plan, err := planOrError(result, AssertSameTime)
	if err != nil {
		return err
	}
	times := make([]int, len(assertion.Tasks))
	for i, task := range assertion.Tasks {
		t, ok := plan.TimeOf(task)
		if !ok {
			return fmt.Errorf("same_time: task %d is not in the plan", task)
		}
		times[i] = t
	}
	for _, t := range times[1:] {
		if t != times[0] {
			return &AssertionError{
				Type:     AssertSameTime,
				Expected: fmt.Sprintf("tasks %v at one time", assertion.Tasks),
				Actual:   fmt.Sprintf("times %v", times),
				Timeline: result.Timeline,
			}
		}
	}
	return nil
}

func assertErrorCode(result *Result, assertion Assertion) error {
	if string(result.ErrorCode) != assertion.Code {
		actual := "pass succeeded"
		if result.ErrorCode != "" {
			actual = result.Failure
		}
		return &AssertionError{
			Type:     AssertErrorCode,
			Expected: assertion.Code,
			Actual:   actual,
		}
	}
	return nil
}

func spilledBuffers(spills []ir.SpillRecord) string {
	if len(spills) == 0 {
		return "(none)"
	}
	parts := make([]string, len(spills))
	for i, sp := range spills {
		parts[i] = fmt.Sprintf("%s@%d", sp.Buffer, sp.EvictedAt)
	}
	return strings.Join(parts, ", ")
}

// assertFinalState checks that one stored row matches the expected values.
// Queries the table with parameterized SQL and validates expected values
// using subset semantics.
//
// Security: Table and column names are validated against a whitelist pattern
// to prevent SQL injection via identifier interpolation.
func assertFinalState(ctx context.Context, st *store.Store, assertion Assertion) error {
	if assertion.Table == "" {
		return fmt.Errorf("final_state assertion requires table name")
	}

	// Identifiers can't be parameterized
	if !validIdentifier.MatchString(assertion.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", assertion.Table, validIdentifier.String())
	}

	whereSQL, whereArgs, err := buildWhereClause(assertion.Where)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("SELECT * FROM %s", assertion.Table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	rows, err := st.Query(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}

	if !rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "row not found",
		}
	}

	values := make([]interface{}, len(columns))
	valuePtrs := make([]interface{}, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	if err := rows.Scan(valuePtrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	// Multiple matching rows would make the assertion ambiguous
	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actualRow := make(map[string]interface{})
	for i, col := range columns {
		actualRow[col] = values[i]
	}

	// Subset semantics - only check fields in Expect
	for _, key := range sortedKeys(assertion.Expect) {
		expectedValue := assertion.Expect[key]
		actualValue, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in result columns: %v", key, columns),
			}
		}

		if !stateValuesEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, expectedValue, expectedValue),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, actualValue, actualValue),
			}
		}
	}

	return nil
}

// buildWhereClause constructs parameterized WHERE clause from assertion.Where.
// Returns SQL fragment, arguments slice, and error. Keys are sorted for determinism.
//
// Security: Column names are validated against a whitelist pattern to prevent
// SQL injection via identifier interpolation.
func buildWhereClause(where map[string]interface{}) (string, []interface{}, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := sortedKeys(where)
	clauses := make([]string, 0, len(keys))
	args := make([]interface{}, 0, len(keys))

	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		clauses = append(clauses, fmt.Sprintf("%s = ?", key))
		args = append(args, toSQLValue(where[key]))
	}

	return strings.Join(clauses, " AND "), args, nil
}

// toSQLValue converts a YAML-decoded value to a SQL-compatible value.
func toSQLValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string, int, int64, bool:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]interface{}) string {
	if len(where) == 0 {
		return "(no conditions)"
	}

	keys := sortedKeys(where)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// stateValuesEqual compares expected and actual values from stored rows.
// Handles type coercion for SQLite values which may be returned as different types.
func stateValuesEqual(expected, actual interface{}) bool {
	if expected == nil && actual == nil {
		return true
	}
	if expected == nil || actual == nil {
		return false
	}

	switch exp := expected.(type) {
	case string:
		switch act := actual.(type) {
		case string:
			return exp == act
		case []byte:
			return exp == string(act)
		}
		return false
	case int:
		if actualInt, ok := actual.(int64); ok {
			return int64(exp) == actualInt
		}
		if actualInt, ok := actual.(int); ok {
			return exp == actualInt
		}
		return false
	case int64:
		if actualInt, ok := actual.(int64); ok {
			return exp == actualInt
		}
		return false
	case bool:
		if actualBool, ok := actual.(bool); ok {
			return exp == actualBool
		}
		// SQLite stores booleans as integers
		if actualInt, ok := actual.(int64); ok {
			return exp == (actualInt != 0)
		}
		return false
	}

	return reflect.DeepEqual(expected, actual)
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store  *store.Store
	Ctx    context.Context
	Graph  *ir.Graph
	Config ir.Config
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides the input graph, the configuration and
// database access for final_state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertNoOverlap:
			err = assertNoOverlap(result)
		case AssertCapacity:
			if actx == nil {
				err = fmt.Errorf("assertion[%d]: capacity requires the configuration", i)
			} else {
				err = assertCapacity(result, actx.Config)
			}
		case AssertTopological:
			if actx == nil || actx.Graph == nil {
				err = fmt.Errorf("assertion[%d]: topological requires the input graph", i)
			} else {
				err = assertTopological(result, actx.Graph)
			}
		case AssertMakespan:
			err = assertMakespan(result, assertion)
		case AssertSpillCount:
			err = assertSpillCount(result, assertion)
		case AssertSpillsBetween:
			err = assertSpillsBetween(result, assertion)
		case AssertFillBefore:
			err = assertFillBefore(result, assertion)
		case AssertSameTime:
			err = assertSameTime(result, assertion)
		case AssertErrorCode:
			err = assertErrorCode(result, assertion)
		case AssertFinalState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires database context", i)
			} else {
				err = assertFinalState(actx.Ctx, actx.Store, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
