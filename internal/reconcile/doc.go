// Package reconcile turns a spill-managed schedule into the final plan.
//
// Before anything is rewritten the schedule is checked: every original
// dependency must run strictly earlier than its dependent, placements that
// are live at the same time must not share bytes, the memory capacity must
// hold at every time and every buffer a task touches must be resident when
// the task runs. Any failure is an INVARIANT_VIOLATION.
//
// Reconciliation then orders tasks by (time, index) and regenerates the
// dependency edges: every task at one logical time depends on every task at
// the previous one. This over-approximates the original edges, which become
// redundant and are dropped, and it serializes independent tasks of adjacent
// times on purpose. Finally every buffer, view, fill copy and spill copy gets
// its address attribute.
package reconcile
