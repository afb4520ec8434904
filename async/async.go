// Package async implements the dispatch engine: scheduling of
// operations onto either the worker pool or the loop thread depending
// on driver thread-affinity, and routing of completion and row
// callbacks onto either the worker thread or the loop thread depending
// on per-connection callback mode, with deep-copy of row payloads when
// crossing threads.
package async

import (
	"context"
	"errors"
	"time"

	"github.com/dbcore/dbcore/conn"
	"github.com/dbcore/dbcore/loop"
	"github.com/dbcore/dbcore/metrics"
	"github.com/dbcore/dbcore/value"
)

// ExecDoneFunc receives the terminal status and affected-row count of
// an async exec/begin/commit/rollback.
type ExecDoneFunc func(err error, affected int64)

// RowFunc receives one row of an async query. It is invoked once per
// row, in the driver's order.
type RowFunc func(row value.Row)

// QueryDoneFunc receives the terminal status and row count of an async
// query, after every RowFunc from the same query has been delivered.
type QueryDoneFunc func(err error, rows int64)

// Engine dispatches operations for connections through a shared Loop.
type Engine struct {
	loop    *loop.Loop
	metrics *metrics.Collector
}

// New creates an Engine bound to loop. A single Engine is normally
// shared by every Connection and Pool in a process, the way a single
// event loop backs every async operation.
func New(l *loop.Loop) *Engine {
	return &Engine{loop: l}
}

// SetMetrics attaches a collector; pass before submitting work.
func (e *Engine) SetMetrics(m *metrics.Collector) {
	e.metrics = m
}

// submitted records the outcome of a submission attempt and passes err
// through.
func (e *Engine) submitted(op string, err error) error {
	if e.metrics == nil {
		return err
	}
	switch {
	case err == nil:
		e.metrics.DispatchSubmitted(op, "ok")
	case errors.Is(err, conn.ErrBusy):
		e.metrics.DispatchBusyRejected(op)
		e.metrics.DispatchSubmitted(op, "busy")
	default:
		e.metrics.DispatchSubmitted(op, "error")
	}
	return err
}

// schedule posts fn to the loop thread if onLoopThread is set (the
// connection's driver requires loop-thread affinity), otherwise to the
// worker pool.
func (e *Engine) schedule(onLoopThread bool, fn func()) {
	if onLoopThread {
		e.loop.Post(fn)
	} else {
		e.loop.PostWorker(fn)
	}
}

// deliverExecDone routes an exec-shaped completion per the connection's
// callback mode: WORKER delivers inline on the thread that ran the
// driver call; LOOP delivers inline if that thread was already the
// loop thread, otherwise posts to the loop thread.
func (e *Engine) deliverExecDone(c *conn.Connection, onLoopThread bool, err error, affected int64, done ExecDoneFunc) {
	if done == nil {
		return
	}
	if c.CallbackMode() == conn.Worker || onLoopThread {
		done(err, affected)
		return
	}
	e.loop.Post(func() { done(err, affected) })
}

func (e *Engine) deliverQueryDone(c *conn.Connection, onLoopThread bool, err error, rows int64, done QueryDoneFunc) {
	if done == nil {
		return
	}
	if c.CallbackMode() == conn.Worker || onLoopThread {
		done(err, rows)
		return
	}
	e.loop.Post(func() { done(err, rows) })
}

// deliverRow routes a single row to rowCb. In WORKER mode, or when the
// driver call already ran on the loop thread, the row is handed to the
// callback inline — its TEXT/BLOB byte ranges are only borrowed for
// the callback's dynamic extent, which is safe because the driver
// result handle is still alive on this same call stack. Otherwise the
// row is deep-copied (see value.Row.Clone) and the copy posted to the
// loop thread, so the byte ranges the callback sees are never the
// driver's own buffers.
func deliverRow(loopPost func(func()), worker bool, onLoopThread bool, row value.Row, rowCb RowFunc) {
	if rowCb == nil {
		return
	}
	if worker || onLoopThread {
		rowCb(row)
		return
	}
	cp := row.Clone()
	loopPost(func() { rowCb(cp) })
}

// ExecAsync runs sql with no result set asynchronously. Busy is
// acquired synchronously before this call returns (so a concurrent
// ExecAsync submitted before done fires on the same connection
// observes conn.ErrBusy immediately), and released before done is
// invoked or posted — so done may itself submit a new op on c.
func (e *Engine) ExecAsync(ctx context.Context, c *conn.Connection, sql string, params []value.Value, done ExecDoneFunc) error {
	if sql == "" {
		return e.submitted("exec", conn.ErrInvalidArgument)
	}
	if err := c.TryBegin(); err != nil {
		return e.submitted("exec", err)
	}
	e.submitted("exec", nil)

	onLoopThread := c.RequiresLoopThread()
	e.schedule(onLoopThread, func() {
		start := time.Now()
		affected, err := c.RawExec(ctx, sql, params)
		if e.metrics != nil {
			e.metrics.ExecDuration(c.DriverKind().String(), time.Since(start))
		}
		c.End()
		e.deliverExecDone(c, onLoopThread, err, affected, done)
	})
	return nil
}

// QueryAsync runs sql and streams rows asynchronously.
func (e *Engine) QueryAsync(ctx context.Context, c *conn.Connection, sql string, params []value.Value, rowCb RowFunc, done QueryDoneFunc) error {
	if sql == "" {
		return e.submitted("query", conn.ErrInvalidArgument)
	}
	if err := c.TryBegin(); err != nil {
		return e.submitted("query", err)
	}
	e.submitted("query", nil)

	onLoopThread := c.RequiresLoopThread()
	worker := c.CallbackMode() == conn.Worker
	e.schedule(onLoopThread, func() {
		start := time.Now()
		rows, err := c.RawQuery(ctx, sql, params, func(row value.Row) error {
			deliverRow(e.loop.Post, worker, onLoopThread, row, rowCb)
			return nil
		})
		if e.metrics != nil {
			e.metrics.QueryDuration(c.DriverKind().String(), time.Since(start))
		}
		c.End()
		e.deliverQueryDone(c, onLoopThread, err, rows, done)
	})
	return nil
}

// BeginAsync, CommitAsync, and RollbackAsync use the same dispatch
// skeleton as ExecAsync, reporting an affected count of zero.
func (e *Engine) BeginAsync(ctx context.Context, c *conn.Connection, done ExecDoneFunc) error {
	return e.txAsync(ctx, c, "begin", c.RawBegin, done)
}

func (e *Engine) CommitAsync(ctx context.Context, c *conn.Connection, done ExecDoneFunc) error {
	return e.txAsync(ctx, c, "commit", c.RawCommit, done)
}

func (e *Engine) RollbackAsync(ctx context.Context, c *conn.Connection, done ExecDoneFunc) error {
	return e.txAsync(ctx, c, "rollback", c.RawRollback, done)
}

func (e *Engine) txAsync(ctx context.Context, c *conn.Connection, name string, op func(context.Context) error, done ExecDoneFunc) error {
	if err := c.TryBegin(); err != nil {
		return e.submitted(name, err)
	}
	e.submitted(name, nil)

	onLoopThread := c.RequiresLoopThread()
	e.schedule(onLoopThread, func() {
		err := op(ctx)
		c.End()
		e.deliverExecDone(c, onLoopThread, err, 0, done)
	})
	return nil
}
