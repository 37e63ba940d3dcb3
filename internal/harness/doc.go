// Package harness provides conformance testing for the memory scheduling pass.
//
// A scenario names an input graph and a configuration, runs the full pass on
// it and checks assertions against the resulting plan. Every run persists its
// plan to a fresh in-memory store so scenarios can also assert on the stored
// rows.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: three_buffer_chain_spill
//	description: "What this scenario validates"
//	graph_file: graphs/three_buffer_chain.yaml   # or an inline graph:
//	config:
//	  primary: { capacity: 15, alignment: 1 }
//	assertions:
//	  - type: no_overlap
//	  - type: capacity
//	  - type: spill_count
//	    count: 3
//	  - type: fill_before
//	    buffer: A
//	    task: 5
//	  - type: final_state
//	    table: placements
//	    where: { buffer: "A@spill0" }
//	    expect: { memory: secondary, address: 0 }
//
// # Assertion Types
//
//   - no_overlap: no two placements share bytes of one memory at one time
//   - capacity: per-time usage stays within every configured capacity
//   - topological: every dependency of the input graph is honoured
//   - makespan: the plan has exactly count logical times
//   - spill_count: the plan has exactly count spill records
//   - spills_between: count spills of the listed buffers forced by tasks
//     running in [from_task, to_task)
//   - fill_before: every reload of buffer is filled before the task needing it
//   - same_time: the listed input tasks share one logical time
//   - error_code: the pass fails with the given code
//   - final_state: a row of the stored run matches expected values
//
// # Golden Files
//
// RunWithGolden compares a canonical snapshot of the plan (usage report,
// timeline and addresses) with testdata/golden/{name}.golden.
package harness
