// Package depgraph analyzes the collaborator-built dependency graph before
// scheduling.
//
// It validates the graph against its structural contract, rejects explicit
// deallocations and dependency cycles, and precomputes everything the
// scheduler needs: predecessor/successor sets (explicit data and control edges
// plus producer -> reader edges derived from buffers), alias roots, the tasks
// that keep each allocation root alive, a deterministic topological order and
// the longest remaining path of every task.
//
// The input graph is never mutated.
package depgraph
