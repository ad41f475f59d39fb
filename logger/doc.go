// Package logger provides structured logging for the workflow runtime on
// top of zerolog. Components obtain a tagged logger via WithComponent and
// attach run/node identifiers through the standard field constants so log
// lines from one execution correlate across engine, pool, and breaker.
package logger
