// Package resource owns pooled external resources (database handles, HTTP
// clients) behind named factories. Each named resource gets an adaptive
// connection pool: bounded outstanding borrows, min/max sizing, lifetime
// and idle eviction, periodic health checks, and demand-driven resizing.
//
// Nodes borrow a connection for a single call and must return it; the pool
// remains the sole owner of every connection it hands out.
package resource
