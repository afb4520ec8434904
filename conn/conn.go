// Package conn implements the connection state machine: lifecycle,
// the per-connection busy invariant, auto-reconnect, and synchronous
// exec/query/transaction operations. It is the unit both the async
// dispatch engine (package async) and the pool (package pool)
// manipulate.
package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dbcore/dbcore/driver"
	"github.com/dbcore/dbcore/value"
)

// CallbackMode selects which goroutine receives completion and row
// callbacks for a connection's async operations.
type CallbackMode int

const (
	Worker CallbackMode = iota
	Loop
)

var (
	// ErrBusy is returned by TryBegin when the connection already has
	// an operation in flight.
	ErrBusy = errors.New("conn: connection busy")
	// ErrInvalidArgument covers nil SQL or a connection with no driver.
	ErrInvalidArgument = errors.New("conn: invalid argument")
	// ErrClosed is returned by any operation attempted after Disconnect.
	ErrClosed = errors.New("conn: connection closed")
)

// Connection owns a driver-specific native handle, the original
// connection string (needed to reconnect), a busy flag guarded by a
// mutex, and a callback-mode setting.
type Connection struct {
	contract driver.Contract
	conninfo string

	mu     sync.Mutex
	handle driver.Handle
	busy   bool
	closed bool
	mode   CallbackMode
}

// Connect opens conninfo through contract and returns a ready
// Connection in the Fresh, not-busy state.
func Connect(ctx context.Context, contract driver.Contract, conninfo string) (*Connection, error) {
	if contract == nil {
		return nil, ErrInvalidArgument
	}
	h, err := contract.Connect(ctx, conninfo)
	if err != nil {
		return nil, fmt.Errorf("conn: connect: %w", err)
	}
	return &Connection{
		contract: contract,
		conninfo: conninfo,
		handle:   h,
	}, nil
}

// ConnectKind resolves kind through the driver registry and connects.
// This is the client-facing selector form: the driver package for kind
// must have been imported (so its init registered a contract).
func ConnectKind(ctx context.Context, kind driver.Kind, conninfo string) (*Connection, error) {
	contract, err := driver.Lookup(kind)
	if err != nil {
		return nil, err
	}
	return Connect(ctx, contract, conninfo)
}

// Disconnect destroys the native handle. It is a no-op (and returns
// nil) if already closed — disconnect(connect(...)) must be
// observably a no-op, but the core never calls a driver's Disconnect
// twice on a live handle.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.handle.Disconnect()
}

func (c *Connection) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// RequiresLoopThread reports whether this connection's driver
// declares loop-thread affinity (see package async).
func (c *Connection) RequiresLoopThread() bool {
	return c.contract.RequiresLoopThread()
}

// DriverKind returns the driver kind this connection was opened with.
func (c *Connection) DriverKind() driver.Kind {
	return c.contract.Kind()
}

// ConnInfo returns the original connection string, needed by the
// auto-reconnect contract.
func (c *Connection) ConnInfo() string { return c.conninfo }

// LastError returns the last driver error associated with this
// connection, if any.
func (c *Connection) LastError() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", false
	}
	return c.handle.LastError()
}

// SetCallbackMode sets the callback-mode. Calling it twice with the
// same value is indistinguishable from calling it once.
func (c *Connection) SetCallbackMode(mode CallbackMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = mode
}

// CallbackMode returns the current callback-mode.
func (c *Connection) CallbackMode() CallbackMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// TryBegin atomically tests-and-sets the busy flag. It fails with
// ErrBusy if already busy, or ErrClosed if the connection was
// disconnected.
func (c *Connection) TryBegin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.busy {
		return ErrBusy
	}
	c.busy = true
	return nil
}

// End releases the busy flag. Safe to call even if not busy.
func (c *Connection) End() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false
}

// IsBusy reports the current busy state (for tests and diagnostics).
func (c *Connection) IsBusy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

func (c *Connection) withHandle(fn func(driver.Handle) error) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	h := c.handle
	c.mu.Unlock()
	return fn(h)
}

// Exec runs sql synchronously against this connection, acquiring and
// releasing busy around the driver call.
func (c *Connection) Exec(ctx context.Context, sql string, params []value.Value) (int64, error) {
	if sql == "" {
		return 0, ErrInvalidArgument
	}
	if err := c.TryBegin(); err != nil {
		return 0, err
	}
	defer c.End()

	var affected int64
	err := c.withHandle(func(h driver.Handle) error {
		var err error
		affected, err = h.Exec(ctx, sql, params)
		return err
	})
	return affected, err
}

// Query runs sql synchronously, invoking rowFn once per row in the
// driver's order.
func (c *Connection) Query(ctx context.Context, sql string, params []value.Value, rowFn driver.RowFunc) (int64, error) {
	if sql == "" {
		return 0, ErrInvalidArgument
	}
	if err := c.TryBegin(); err != nil {
		return 0, err
	}
	defer c.End()

	var rows int64
	err := c.withHandle(func(h driver.Handle) error {
		var err error
		rows, err = h.Query(ctx, sql, params, rowFn)
		return err
	})
	return rows, err
}

// Begin, Commit, and Rollback use the same busy-acquire/release
// skeleton as Exec, sending their SQL equivalent with no parameters.
func (c *Connection) Begin(ctx context.Context) error {
	if err := c.TryBegin(); err != nil {
		return err
	}
	defer c.End()
	return c.withHandle(func(h driver.Handle) error { return h.Begin(ctx) })
}

func (c *Connection) Commit(ctx context.Context) error {
	if err := c.TryBegin(); err != nil {
		return err
	}
	defer c.End()
	return c.withHandle(func(h driver.Handle) error { return h.Commit(ctx) })
}

func (c *Connection) Rollback(ctx context.Context) error {
	if err := c.TryBegin(); err != nil {
		return err
	}
	defer c.End()
	return c.withHandle(func(h driver.Handle) error { return h.Rollback(ctx) })
}

// RawExec, RawQuery, RawBegin, RawCommit, and RawRollback run the
// driver call directly against the handle without acquiring or
// releasing busy. They exist for package async, which acquires busy
// synchronously at submission time (before scheduling the op onto the
// loop or worker pool) and must release it itself, strictly before the
// op's done callback is invoked or posted. Calling these without
// already holding busy via TryBegin violates the busy invariant.
func (c *Connection) RawExec(ctx context.Context, sql string, params []value.Value) (int64, error) {
	var affected int64
	err := c.withHandle(func(h driver.Handle) error {
		var err error
		affected, err = h.Exec(ctx, sql, params)
		return err
	})
	return affected, err
}

func (c *Connection) RawQuery(ctx context.Context, sql string, params []value.Value, rowFn driver.RowFunc) (int64, error) {
	var rows int64
	err := c.withHandle(func(h driver.Handle) error {
		var err error
		rows, err = h.Query(ctx, sql, params, rowFn)
		return err
	})
	return rows, err
}

func (c *Connection) RawBegin(ctx context.Context) error {
	return c.withHandle(func(h driver.Handle) error { return h.Begin(ctx) })
}

func (c *Connection) RawCommit(ctx context.Context) error {
	return c.withHandle(func(h driver.Handle) error { return h.Commit(ctx) })
}

func (c *Connection) RawRollback(ctx context.Context) error {
	return c.withHandle(func(h driver.Handle) error { return h.Rollback(ctx) })
}

// LivenessCheckAndReconnect implements the auto-reconnect contract:
// run the driver's liveness check; on success return nil; on
// failure, disconnect and reconnect with the stored connection string.
// This must only be invoked when the connection is not busy — the pool
// holds that invariant by calling it only on connections it owns
// outside of any in-flight operation.
func (c *Connection) LivenessCheckAndReconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	h := c.handle
	c.mu.Unlock()

	if err := h.LivenessCheck(ctx); err == nil {
		return nil
	}

	// The stale handle is gone either way from here on: if the redial
	// fails, the connection is broken and must not touch the driver
	// handle again.
	if err := h.Disconnect(); err != nil {
		c.markClosed()
		return fmt.Errorf("conn: reconnect: disconnecting stale handle: %w", err)
	}

	newHandle, err := c.contract.Connect(ctx, c.conninfo)
	if err != nil {
		c.markClosed()
		return fmt.Errorf("conn: reconnect: %w", err)
	}

	c.mu.Lock()
	c.handle = newHandle
	c.mu.Unlock()
	return nil
}
