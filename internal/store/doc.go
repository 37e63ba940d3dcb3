// Package store keeps scheduling runs in SQLite so they can be listed,
// traced and replayed later.
//
// A run is one execution of the pass: the input graph and configuration,
// the plan it produced and both digests. Beside the canonical plan JSON the
// schedule, placements and spill records are stored as rows so a run can be
// inspected with plain SQL.
//
// Runs are ordered by the seq column assigned at write time, never by wall
// clock. graph_digest identifies the input (graph, config and IR version)
// and plan_digest the output; replaying a run must reproduce its
// plan_digest. Both digests come from internal/ir.
//
// The schema version lives in PRAGMA user_version. Open refuses a file
// stamped with a newer version.
package store
