// Package spill turns the scheduler's raw evictions into concrete copy tasks.
//
// It runs three passes over the spill records of a scheduler.Result:
//
//   - OptimizeDataOpsSpills drops evictions that are never reloaded and marks
//     spills of buffers produced by a pure copy from non-primary memory as
//     refetches: the reload repeats the copy instead of reading a spilled
//     version.
//   - RemoveRedundantSpillWrites lets a later eviction of an unmodified
//     buffer reuse the secondary copy written by an earlier one.
//   - InsertSpillCopyOps assigns secondary addresses, synthesizes spill
//     write and spill read tasks, renames reloaded buffers in their later
//     consumers and renumbers logical times.
//
// The result is a Schedule in final logical time, ready for reconciliation.
package spill
