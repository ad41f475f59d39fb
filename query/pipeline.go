package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/skillsenselab/flowkit/logger"
	"github.com/skillsenselab/flowkit/metrics"
	"github.com/skillsenselab/flowkit/resource"
)

// ErrBatchAborted marks results rolled back because another statement in an
// all-or-nothing batch failed.
var ErrBatchAborted = errors.New("query: batch aborted")

// Result is the outcome of one added statement. Index is the value returned
// by Add or AddFetch for that statement.
type Result struct {
	Index        int
	Rows         []map[string]any
	RowsAffected int64
	Err          error
}

type pending struct {
	index  int
	stmt   string
	params []any
	fetch  bool
}

// Pipeline buffers statements and flushes them in batches over one pooled
// connection. Safe for concurrent use.
type Pipeline struct {
	cfg       Config
	resources *resource.Registry
	collector *metrics.Collector
	log       *logger.Logger

	mu   sync.Mutex
	buf  []pending
	done []Result
	next int
}

// NewPipeline creates a pipeline flushing against the configured pooled
// resource, which must be SQL-backed.
func NewPipeline(cfg Config, resources *resource.Registry, log *logger.Logger, collector *metrics.Collector) (*Pipeline, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if resources == nil {
		return nil, fmt.Errorf("query: resource registry is required")
	}
	if log == nil {
		log = logger.Nop()
	}
	if collector == nil {
		collector = metrics.Nop()
	}
	return &Pipeline{
		cfg:       cfg,
		resources: resources,
		collector: collector,
		log:       log.WithComponent("query"),
	}, nil
}

// Add buffers an exec-style statement (INSERT, UPDATE, DELETE, DDL) and
// returns its result index. Reaching the batch size flushes the buffer;
// the flushed results are held until the next Flush call returns them.
func (p *Pipeline) Add(ctx context.Context, stmt string, params ...any) int {
	return p.add(ctx, stmt, params, false)
}

// AddFetch buffers a row-returning statement. Its result carries the
// fetched rows as column-name keyed maps.
func (p *Pipeline) AddFetch(ctx context.Context, stmt string, params ...any) int {
	return p.add(ctx, stmt, params, true)
}

func (p *Pipeline) add(ctx context.Context, stmt string, params []any, fetch bool) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := p.next
	p.next++
	p.buf = append(p.buf, pending{index: idx, stmt: stmt, params: params, fetch: fetch})
	if len(p.buf) >= p.cfg.BatchSize {
		p.flushLocked(ctx)
	}
	return idx
}

// Pending returns the number of buffered, not yet flushed statements.
func (p *Pipeline) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

// Flush sends any buffered statements and returns every result produced
// since the previous Flush, ordered by index. Per-statement failures live
// in Result.Err; the returned error reports only batch-level aborts under
// the all-or-nothing strategy.
func (p *Pipeline) Flush(ctx context.Context) ([]Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.flushLocked(ctx)

	out := p.done
	p.done = nil
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })

	if p.cfg.Strategy == AllOrNothing {
		for _, r := range out {
			if r.Err != nil && !errors.Is(r.Err, ErrBatchAborted) {
				return out, r.Err
			}
		}
	}
	return out, nil
}

func (p *Pipeline) flushLocked(ctx context.Context) {
	if len(p.buf) == 0 {
		return
	}
	batch := p.buf
	p.buf = nil

	ctx, cancel := context.WithTimeout(ctx, p.cfg.FlushTimeout)
	defer cancel()

	var results []Result
	err := p.resources.WithConn(ctx, p.cfg.Resource, func(pc *resource.PooledConn) error {
		sqlConn, ok := pc.Conn().(*resource.SQLConn)
		if !ok {
			return fmt.Errorf("query: resource %q is not SQL-backed", p.cfg.Resource)
		}
		if p.cfg.Strategy == AllOrNothing {
			results = p.runTransactional(ctx, sqlConn.DB(), batch)
		} else {
			results = p.runBestEffort(ctx, sqlConn.DB(), batch)
		}
		return nil
	})
	if err != nil {
		// Could not borrow a connection; the whole batch fails with the
		// acquire error, still one result per statement.
		results = make([]Result, len(batch))
		for i, q := range batch {
			results[i] = Result{Index: q.index, Err: err}
		}
		p.log.Error("flush failed", logger.Fields(
			logger.FieldResource, p.cfg.Resource,
			logger.FieldError, err.Error(),
		))
	}
	p.done = append(p.done, results...)

	labels := metrics.Labels{metrics.LabelResource: p.cfg.Resource}
	p.collector.Inc(metrics.MetricQueryFlushes, labels)
	p.collector.Observe(metrics.MetricQueryBatchSize, labels, float64(len(batch)))
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (p *Pipeline) runBestEffort(ctx context.Context, db *sql.DB, batch []pending) []Result {
	results := make([]Result, len(batch))
	for i, q := range batch {
		results[i] = runOne(ctx, db, q)
	}
	return results
}

func (p *Pipeline) runTransactional(ctx context.Context, db *sql.DB, batch []pending) []Result {
	results := make([]Result, len(batch))

	abort := func(cause error, failed int) {
		for i, q := range batch {
			if i == failed {
				continue
			}
			results[i] = Result{Index: q.index, Err: fmt.Errorf("%w: %v", ErrBatchAborted, cause)}
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		abort(err, -1)
		return results
	}
	for i, q := range batch {
		results[i] = runOne(ctx, tx, q)
		if results[i].Err != nil {
			_ = tx.Rollback()
			abort(results[i].Err, i)
			return results
		}
	}
	if err := tx.Commit(); err != nil {
		abort(err, -1)
	}
	return results
}

func runOne(ctx context.Context, db execer, q pending) Result {
	res := Result{Index: q.index}
	if q.fetch {
		rows, err := db.QueryContext(ctx, q.stmt, q.params...)
		if err != nil {
			res.Err = err
			return res
		}
		res.Rows, res.Err = scanRows(rows)
		return res
	}

	out, err := db.ExecContext(ctx, q.stmt, q.params...)
	if err != nil {
		res.Err = err
		return res
	}
	// Not every driver reports affected rows; treat that as zero.
	if n, err := out.RowsAffected(); err == nil {
		res.RowsAffected = n
	}
	return res
}

func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
