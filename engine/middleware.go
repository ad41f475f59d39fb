package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	flowerrors "github.com/skillsenselab/flowkit/errors"
	"github.com/skillsenselab/flowkit/logger"
	"github.com/skillsenselab/flowkit/observability"
	"github.com/skillsenselab/flowkit/resource"
)

// RunFunc is the shape of a node execution the engine dispatches.
type RunFunc func(ctx context.Context, inputs map[string]any) (map[string]any, error)

// Middleware wraps node execution. The engine applies configured
// middleware around every node run, outermost first.
type Middleware func(next RunFunc) RunFunc

// Chain applies middleware to fn, first middleware outermost.
func Chain(fn RunFunc, mws ...Middleware) RunFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		fn = mws[i](fn)
	}
	return fn
}

type ctxKey int

const (
	ctxKeyRunID ctxKey = iota
	ctxKeyNodeID
	ctxKeyWorkflowID
	ctxKeyConn
)

// RunIDFromContext returns the current run id inside a node execution.
func RunIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKeyRunID).(string)
	return id, ok
}

// NodeIDFromContext returns the executing node's id.
func NodeIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKeyNodeID).(string)
	return id, ok
}

// WorkflowIDFromContext returns the id of the workflow being executed.
func WorkflowIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKeyWorkflowID).(string)
	return id, ok
}

// ConnFromContext returns the pooled connection borrowed for this node
// invocation, when the node's policy declares a resource. The connection
// is released when the invocation returns; nodes must not retain it.
func ConnFromContext(ctx context.Context) (*resource.PooledConn, bool) {
	pc, ok := ctx.Value(ctxKeyConn).(*resource.PooledConn)
	return pc, ok
}

func withRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRunID, id)
}

func withNodeID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyNodeID, id)
}

func withWorkflowID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyWorkflowID, id)
}

func withConn(ctx context.Context, pc *resource.PooledConn) context.Context {
	return context.WithValue(ctx, ctxKeyConn, pc)
}

// WithLogging logs node start/finish with duration at debug level.
func WithLogging(log *logger.Logger) Middleware {
	return func(next RunFunc) RunFunc {
		return func(ctx context.Context, inputs map[string]any) (map[string]any, error) {
			nodeID, _ := NodeIDFromContext(ctx)
			start := time.Now()
			out, err := next(ctx, inputs)
			fields := map[string]interface{}{
				logger.FieldNodeID:   nodeID,
				logger.FieldDuration: time.Since(start).Milliseconds(),
			}
			if err != nil {
				fields[logger.FieldError] = err.Error()
				log.Debug("node run failed", fields)
				return out, err
			}
			log.Debug("node run finished", fields)
			return out, nil
		}
	}
}

// WithMetrics records every node execution on the given OpenTelemetry
// instruments: per-node counter and duration, plus error totals by code.
func WithMetrics(rm *observability.RunMetrics) Middleware {
	return func(next RunFunc) RunFunc {
		return func(ctx context.Context, inputs map[string]any) (map[string]any, error) {
			workflowID, _ := WorkflowIDFromContext(ctx)
			nodeID, _ := NodeIDFromContext(ctx)
			start := time.Now()
			out, err := next(ctx, inputs)

			status := StatusSuccess
			if err != nil {
				status = StatusFailed
				code := flowerrors.CodeNodeExecution
				if re, ok := flowerrors.AsRuntime(err); ok {
					code = re.Code
				}
				rm.RecordError(ctx, string(code), "engine")
			}
			rm.RecordNode(ctx, workflowID, nodeID, string(status), time.Since(start))
			return out, err
		}
	}
}

// WithTracing opens one span per node execution.
func WithTracing(tracer trace.Tracer) Middleware {
	return func(next RunFunc) RunFunc {
		return func(ctx context.Context, inputs map[string]any) (map[string]any, error) {
			nodeID, _ := NodeIDFromContext(ctx)
			runID, _ := RunIDFromContext(ctx)
			ctx, span := tracer.Start(ctx, "node.run", trace.WithAttributes(
				attribute.String("workflow.node_id", nodeID),
				attribute.String("workflow.run_id", runID),
			))
			defer span.End()

			out, err := next(ctx, inputs)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return out, err
		}
	}
}
