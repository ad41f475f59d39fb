// Package graph provides the immutable workflow graph model: nodes with
// typed ports, data-flow connections with optional dot-path projections,
// and bounded iteration groups.
//
// Build validates the full structure up front and reports every violation
// in one pass. Analyze computes Kahn-style dependency levels used by the
// execution engine; nodes in the same level have no ordering relationship
// and may run in parallel.
package graph
