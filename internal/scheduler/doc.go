// Package scheduler implements the feasible memory scheduler: list
// scheduling of a task DAG under a fixed primary-memory capacity.
//
// The scheduler walks a logical clock. At each step it either lets a ready
// task join the current logical time (its executor is free at that time, no
// predecessor runs at that time and its buffers fit without spilling), or it
// advances the clock, frees every buffer whose alias class is dead and
// schedules the highest-priority ready task that fits, evicting live buffers
// when nothing fits otherwise. If the task's own resident operands split the
// free space, they are moved: evicted and reloaded at the same time, at a
// new address. Evictions become spill records; the spill manager turns them
// into copy tasks later.
//
// Addresses come from an alloc.Allocator keyed by allocation root. Views
// never occupy memory of their own.
//
// Scheduling is single-threaded and deterministic: identical input yields an
// identical Result.
package scheduler
