// Package errors provides the unified error taxonomy for the workflow
// runtime. Every failure surfaced by the engine, the resource pool, the
// circuit breaker, or the query pipeline is a *RuntimeError carrying a
// machine-readable code, so callers can branch on the class of failure
// instead of string-matching messages.
//
//	res := engine.Execute(ctx, g, plan, nil)
//	if errors.HasCode(res.Err, errors.CodeTimeout) {
//	    // workflow deadline hit, partial result is still populated
//	}
package errors
