// Package drivertest provides an in-memory driver.Contract and
// driver.Handle double, so packages above the driver layer (conn,
// async, pool, health) can exercise the busy invariant, scheduling,
// and liveness/reconnect logic without a real database engine. It
// registers no Kind with package driver's global registry; callers
// construct a Contract value directly and pass it wherever a
// driver.Contract is expected.
package drivertest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dbcore/dbcore/driver"
	"github.com/dbcore/dbcore/value"
)

// ErrDown is returned by LivenessCheck for any conninfo marked down via
// FailLiveness.
var ErrDown = errors.New("drivertest: connection down")

// Contract is a fake driver.Contract. The zero value is a usable,
// always-healthy, worker-affine driver.
type Contract struct {
	Loop bool // RequiresLoopThread return value
	K    driver.Kind

	// DefaultRows seeds every Handle this Contract connects, so a test
	// can fix the result set up front without reaching into a live
	// Connection's private handle.
	DefaultRows []value.Row
	// DefaultExec seeds every Handle's Exec hook the same way.
	DefaultExec func(sqlText string, params []value.Value) (int64, error)

	mu       sync.Mutex
	down     map[string]bool // conninfo values currently refusing LivenessCheck
	opens    int32
	connects func(conninfo string) error // optional hook called from Connect
}

func (c *Contract) Kind() driver.Kind        { return c.K }
func (c *Contract) RequiresLoopThread() bool { return c.Loop }

// OnConnect installs a hook invoked from Connect; returning a non-nil
// error fails the connect.
func (c *Contract) OnConnect(fn func(conninfo string) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects = fn
}

// FailLiveness marks every future LivenessCheck against conninfo as
// failing until UnfailLiveness is called.
func (c *Contract) FailLiveness(conninfo string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down == nil {
		c.down = map[string]bool{}
	}
	c.down[conninfo] = true
}

func (c *Contract) UnfailLiveness(conninfo string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.down, conninfo)
}

func (c *Contract) isDown(conninfo string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.down[conninfo]
}

// Opens reports how many times Connect has succeeded.
func (c *Contract) Opens() int32 { return atomic.LoadInt32(&c.opens) }

// Connect implements driver.Contract.
func (c *Contract) Connect(ctx context.Context, conninfo string) (driver.Handle, error) {
	c.mu.Lock()
	fn := c.connects
	c.mu.Unlock()
	if fn != nil {
		if err := fn(conninfo); err != nil {
			return nil, err
		}
	}
	atomic.AddInt32(&c.opens, 1)
	return &Handle{contract: c, conninfo: conninfo, rows: c.DefaultRows, execFn: c.DefaultExec}, nil
}

// Handle is a fake driver.Handle. Exec and Query are driven by
// caller-installed hooks/fixtures, defaulting to a zero-affected exec
// and an empty result set.
type Handle struct {
	contract *Contract
	conninfo string

	mu      sync.Mutex
	closed  bool
	rows    []value.Row
	execFn  func(sqlText string, params []value.Value) (int64, error)
	lastErr string
}

func (h *Handle) Disconnect() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *Handle) LivenessCheck(ctx context.Context) error {
	if h.contract.isDown(h.conninfo) {
		return ErrDown
	}
	return nil
}

// SetExec installs a hook Exec calls; useful to assert on sql/params or
// to return a specific affected count/error.
func (h *Handle) SetExec(fn func(sqlText string, params []value.Value) (int64, error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.execFn = fn
}

// SetRows installs the fixed row set Query delivers.
func (h *Handle) SetRows(rows []value.Row) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rows = rows
}

func (h *Handle) Exec(ctx context.Context, sqlText string, params []value.Value) (int64, error) {
	h.mu.Lock()
	fn := h.execFn
	h.mu.Unlock()
	if fn != nil {
		return fn(sqlText, params)
	}
	return 0, nil
}

func (h *Handle) Query(ctx context.Context, sqlText string, params []value.Value, fn driver.RowFunc) (int64, error) {
	h.mu.Lock()
	rows := h.rows
	h.mu.Unlock()

	var count int64
	for _, r := range rows {
		if err := fn(r); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (h *Handle) Begin(ctx context.Context) error    { return nil }
func (h *Handle) Commit(ctx context.Context) error   { return nil }
func (h *Handle) Rollback(ctx context.Context) error { return nil }

func (h *Handle) LastError() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lastErr == "" {
		return "", false
	}
	return h.lastErr, true
}
