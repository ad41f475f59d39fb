// Package query batches SQL statements against one pooled connection so a
// burst of small queries costs one pool acquire instead of one per query.
//
// A Pipeline buffers added statements until the batch size is reached or
// Flush is called, then sends the whole batch over a single borrowed
// connection. Two flush strategies exist: best-effort runs every statement
// and reports success or failure per item, all-or-nothing wraps the batch
// in a transaction and rolls everything back on the first failure. Every
// result carries the index handed out at add time, so callers can map
// results back to their statements even under partial failure.
package query
