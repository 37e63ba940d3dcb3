// Package ir provides the intermediate representation consumed and produced by
// the memory scheduling pass.
//
// This package contains type definitions, the error taxonomy and canonical
// serialization only. All other internal packages import ir; ir imports nothing
// internal. This keeps IR the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Sizes, offsets and logical times are integers; NO float types anywhere
//   - Input graphs are never mutated by the pass; results live in Plan
//   - All JSON and YAML tags use snake_case
//   - Logical times only, never wall-clock timestamps
package ir
