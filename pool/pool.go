// Package pool implements the connection pool: fixed resident
// connections plus capped transient connections, a shared FIFO waiter
// queue, liveness-validated checkout, and convenience exec/query
// operations that borrow and return a connection internally. One pool
// serves one (driver kind, connection string) pair; a process with
// several targets runs one Pool each, usually through Manager.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dbcore/dbcore/async"
	"github.com/dbcore/dbcore/conn"
	"github.com/dbcore/dbcore/driver"
	"github.com/dbcore/dbcore/loop"
	"github.com/dbcore/dbcore/metrics"
	"github.com/dbcore/dbcore/value"
)

var (
	// ErrPoolExhausted is returned by blocking checkout when no idle
	// connection exists and total+pending_temp has reached max_size.
	ErrPoolExhausted = errors.New("pool: exhausted")
	// ErrPoolDestroyed is returned by any operation on a destroyed pool.
	ErrPoolDestroyed = errors.New("pool: destroyed")
	// ErrInvalidConfig is returned by Create when initial_size is zero
	// or exceeds max_size.
	ErrInvalidConfig = errors.New("pool: initial_size must be > 0 and <= max_size")
)

// AcquireCallback receives the checked-out connection, or a non-nil
// error if the acquire ultimately failed.
type AcquireCallback func(c *conn.Connection, err error)

// ReadyCallback reports pool construction completion.
type ReadyCallback func(err error)

// waiter is a pending checkout request parked on the FIFO waiting list.
type waiter struct {
	cb AcquireCallback
}

// Stats is a point-in-time snapshot of a Pool's bookkeeping.
type Stats struct {
	InitialSize    int
	MaxSize        int
	Idle           int
	ResidentInUse  int
	TransientInUse int
	Waiting        int
	PendingTemp    int
}

// Pool owns a driver kind plus connection string, a fixed array of
// resident connections created eagerly at construction, and a bounded
// set of transient connections created on demand to serve waiters.
type Pool struct {
	contract driver.Contract
	conninfo string
	mode     conn.CallbackMode
	engine   *async.Engine
	loop     *loop.Loop
	metrics  *metrics.Collector

	initialSize int
	maxSize     int

	mu          sync.Mutex
	resident    map[*conn.Connection]struct{} // currently-alive resident connections
	idle        []*conn.Connection            // idle resident connections (subset of resident)
	transient   map[*conn.Connection]struct{} // checked-out transient connections
	waiting     []*waiter
	pendingTemp int
	destroyed   bool
}

// Create eagerly opens initialSize resident connections. If any fails
// to open, the connections opened so far are rolled back and an error
// is returned.
func Create(ctx context.Context, engine *async.Engine, l *loop.Loop, contract driver.Contract, conninfo string, mode conn.CallbackMode, initialSize, maxSize int, ready ReadyCallback) (*Pool, error) {
	if initialSize <= 0 || initialSize > maxSize {
		err := ErrInvalidConfig
		if ready != nil {
			ready(err)
		}
		return nil, err
	}

	p := &Pool{
		contract:    contract,
		conninfo:    conninfo,
		mode:        mode,
		engine:      engine,
		loop:        l,
		initialSize: initialSize,
		maxSize:     maxSize,
		resident:    make(map[*conn.Connection]struct{}, initialSize),
		transient:   make(map[*conn.Connection]struct{}),
	}

	opened := make([]*conn.Connection, 0, initialSize)
	for i := 0; i < initialSize; i++ {
		c, err := conn.Connect(ctx, contract, conninfo)
		if err != nil {
			for _, o := range opened {
				o.Disconnect()
			}
			wrapped := fmt.Errorf("pool: opening resident connection %d/%d: %w", i+1, initialSize, err)
			if ready != nil {
				ready(wrapped)
			}
			return nil, wrapped
		}
		c.SetCallbackMode(mode)
		opened = append(opened, c)
	}

	for _, c := range opened {
		p.resident[c] = struct{}{}
		p.idle = append(p.idle, c)
	}

	if ready != nil {
		ready(nil)
	}
	return p, nil
}

// SetMetrics attaches a collector; pass before checking out work.
func (p *Pool) SetMetrics(m *metrics.Collector) {
	p.metrics = m
}

func (p *Pool) residentAlive() int { return len(p.resident) }

// total is the current count of live connections the pool is
// responsible for: alive residents plus checked-out transients.
// Invariant: idle + resident-in-use + transient-in-use + pending_temp
// <= max_size, where resident-in-use = residentAlive - len(idle).
func (p *Pool) total() int {
	return p.residentAlive() + len(p.transient)
}

// AcquireAsync never blocks. It pops a healthy idle resident if one is
// available, otherwise enqueues a waiter and returns immediately; the
// waiter is served later by Release's call to serveOneWaiterLocked. No
// transient connection is ever created eagerly on the acquire path.
func (p *Pool) AcquireAsync(ctx context.Context, cb AcquireCallback) error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		if cb != nil {
			cb(nil, ErrPoolDestroyed)
		}
		return ErrPoolDestroyed
	}

	for len(p.idle) > 0 {
		c := p.popIdleLocked()
		p.mu.Unlock()
		err := c.LivenessCheckAndReconnect(ctx)
		p.mu.Lock()
		if p.destroyed {
			p.mu.Unlock()
			c.Disconnect()
			if cb != nil {
				cb(nil, ErrPoolDestroyed)
			}
			return ErrPoolDestroyed
		}
		if err != nil {
			p.dropResidentLocked(c)
			continue
		}
		p.mu.Unlock()
		if cb != nil {
			cb(c, nil)
		}
		return nil
	}

	w := &waiter{cb: cb}
	p.waiting = append(p.waiting, w)
	p.mu.Unlock()
	return nil
}

// AcquireSync may block briefly to dial a transient connection. It
// never waits for a resident to free up: if none is idle and max_size
// has been reached, it fails immediately.
func (p *Pool) AcquireSync(ctx context.Context) (*conn.Connection, error) {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return nil, ErrPoolDestroyed
	}

	for len(p.idle) > 0 {
		c := p.popIdleLocked()
		p.mu.Unlock()
		err := c.LivenessCheckAndReconnect(ctx)
		p.mu.Lock()
		if p.destroyed {
			p.mu.Unlock()
			c.Disconnect()
			return nil, ErrPoolDestroyed
		}
		if err != nil {
			p.dropResidentLocked(c)
			continue
		}
		p.mu.Unlock()
		return c, nil
	}

	if p.total()+p.pendingTemp >= p.maxSize {
		p.mu.Unlock()
		if p.metrics != nil {
			p.metrics.PoolExhausted(p.contract.Kind().String())
		}
		return nil, ErrPoolExhausted
	}
	p.pendingTemp++
	p.mu.Unlock()

	c, err := conn.Connect(ctx, p.contract, p.conninfo)

	p.mu.Lock()
	p.pendingTemp--
	if err != nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("pool: dialing transient connection: %w", err)
	}
	if p.destroyed {
		// Destroy ran while the dial was in flight.
		p.mu.Unlock()
		c.Disconnect()
		return nil, ErrPoolDestroyed
	}
	c.SetCallbackMode(p.mode)
	p.transient[c] = struct{}{}
	p.mu.Unlock()
	return c, nil
}

// popIdleLocked removes and returns the most recently released idle
// connection. Must be called with p.mu held; the caller releases the
// lock before running the liveness check.
func (p *Pool) popIdleLocked() *conn.Connection {
	n := len(p.idle)
	c := p.idle[n-1]
	p.idle = p.idle[:n-1]
	return c
}

// dropResidentLocked removes a dead resident connection from the pool
// permanently so later checkouts don't find the corpse. Must be called
// with p.mu held.
func (p *Pool) dropResidentLocked(c *conn.Connection) {
	c.Disconnect()
	delete(p.resident, c)
}

// Release returns a connection to the pool. Resident connections go
// back onto the idle list; transient connections are disconnected.
// Either way, one waiter (if any) is then served.
func (p *Pool) Release(c *conn.Connection) {
	p.mu.Lock()

	if p.destroyed {
		p.mu.Unlock()
		c.Disconnect()
		return
	}

	if _, ok := p.resident[c]; ok {
		p.idle = append(p.idle, c)
	} else {
		delete(p.transient, c)
		c.Disconnect()
	}

	p.serveOneWaiterLocked()
	p.mu.Unlock()
}

// serveOneWaiterLocked attempts to hand a connection to the head
// waiter. Must be called with p.mu held; it releases the lock around
// any call that may block or invoke user code, and always returns with
// the lock held.
func (p *Pool) serveOneWaiterLocked() {
	if len(p.waiting) == 0 {
		return
	}

	for len(p.idle) > 0 {
		c := p.popIdleLocked()
		p.mu.Unlock()
		err := c.LivenessCheckAndReconnect(context.Background())
		p.mu.Lock()
		if p.destroyed {
			// Destroy ran while the lock was dropped for the liveness
			// check; it has already failed the waiters, so just retire
			// the connection.
			if err == nil {
				p.mu.Unlock()
				c.Disconnect()
				p.mu.Lock()
			}
			return
		}
		if err != nil {
			p.dropResidentLocked(c)
			continue
		}
		if len(p.waiting) == 0 {
			// A concurrent release served the last waiter already.
			p.idle = append(p.idle, c)
			return
		}
		w := p.popWaiterLocked()
		p.mu.Unlock()
		w.cb(c, nil)
		p.mu.Lock()
		return
	}

	if p.destroyed || len(p.waiting) == 0 {
		return
	}
	if p.total()+p.pendingTemp >= p.maxSize {
		// No idle connection and no room for a transient: the waiter
		// stays queued and will be retried on the next Release.
		return
	}

	p.pendingTemp++
	w := p.popWaiterLocked()
	p.mu.Unlock()

	// The dial runs on the shared worker pool so it never blocks the
	// goroutine that called Release.
	p.loop.PostWorker(func() {
		c, err := conn.Connect(context.Background(), p.contract, p.conninfo)

		p.mu.Lock()
		p.pendingTemp--
		if err != nil {
			p.mu.Unlock()
			w.cb(nil, fmt.Errorf("pool: dialing transient connection for waiter: %w", err))
			p.mu.Lock()
			p.serveOneWaiterLocked()
			p.mu.Unlock()
			return
		}
		if p.destroyed {
			// Destroy ran while the dial was in flight.
			p.mu.Unlock()
			c.Disconnect()
			w.cb(nil, ErrPoolDestroyed)
			return
		}
		c.SetCallbackMode(p.mode)
		p.transient[c] = struct{}{}
		p.mu.Unlock()
		w.cb(c, nil)
	})

	p.mu.Lock()
}

func (p *Pool) popWaiterLocked() *waiter {
	w := p.waiting[0]
	p.waiting = p.waiting[1:]
	return w
}

// SweepIdle liveness-checks every currently idle resident connection and
// drops any that cannot be revived. It is the background counterpart to
// the liveness check AcquireAsync/AcquireSync perform lazily on
// checkout, letting package health catch a stale connection before any
// caller does.
func (p *Pool) SweepIdle(ctx context.Context) (checked, dropped int) {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return 0, 0
	}
	snapshot := make([]*conn.Connection, len(p.idle))
	copy(snapshot, p.idle)
	p.idle = p.idle[:0]
	p.mu.Unlock()

	survivors := make([]*conn.Connection, 0, len(snapshot))
	for _, c := range snapshot {
		checked++
		if err := c.LivenessCheckAndReconnect(ctx); err != nil {
			p.mu.Lock()
			p.dropResidentLocked(c)
			p.mu.Unlock()
			dropped++
			continue
		}
		survivors = append(survivors, c)
	}

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		for _, c := range survivors {
			c.Disconnect()
		}
		return checked, dropped
	}
	p.idle = append(p.idle, survivors...)
	p.mu.Unlock()
	return checked, dropped
}

// Stats returns a point-in-time snapshot of the pool's bookkeeping.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		InitialSize:    p.initialSize,
		MaxSize:        p.maxSize,
		Idle:           len(p.idle),
		ResidentInUse:  p.residentAlive() - len(p.idle),
		TransientInUse: len(p.transient),
		Waiting:        len(p.waiting),
		PendingTemp:    p.pendingTemp,
	}
}

// Destroy marks the pool destroyed, fails every queued waiter, and
// disconnects every connection it owns. Calls after the first do
// nothing.
func (p *Pool) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true

	waiting := p.waiting
	p.waiting = nil
	p.idle = nil
	resident := p.resident
	p.resident = nil
	transient := p.transient
	p.transient = nil
	p.mu.Unlock()

	for _, w := range waiting {
		w.cb(nil, ErrPoolDestroyed)
	}
	for c := range transient {
		c.Disconnect()
	}
	// resident covers the idle list plus any resident connection still
	// checked out; Disconnect is idempotent so the overlap is harmless.
	for c := range resident {
		c.Disconnect()
	}
}

// Exec checks a connection out, runs sql on it synchronously, and
// releases it.
func (p *Pool) Exec(ctx context.Context, sql string, params []value.Value) (int64, error) {
	c, err := p.AcquireSync(ctx)
	if err != nil {
		return 0, err
	}
	defer p.Release(c)
	return c.Exec(ctx, sql, params)
}

// Query checks a connection out, streams sql's rows through rowFn
// synchronously, and releases it.
func (p *Pool) Query(ctx context.Context, sql string, params []value.Value, rowFn driver.RowFunc) (int64, error) {
	c, err := p.AcquireSync(ctx)
	if err != nil {
		return 0, err
	}
	defer p.Release(c)
	return c.Query(ctx, sql, params, rowFn)
}

// ExecAsync checks out a connection, runs sql on it, releases it, and
// invokes done — the borrow-and-return convenience form of exec.
func (p *Pool) ExecAsync(ctx context.Context, sql string, params []value.Value, done async.ExecDoneFunc) error {
	return p.AcquireAsync(ctx, func(c *conn.Connection, err error) {
		if err != nil {
			if done != nil {
				done(err, 0)
			}
			return
		}
		execErr := p.engine.ExecAsync(ctx, c, sql, params, func(err error, affected int64) {
			p.Release(c)
			if done != nil {
				done(err, affected)
			}
		})
		if execErr != nil {
			p.Release(c)
			if done != nil {
				done(execErr, 0)
			}
		}
	})
}

// QueryAsync checks out a connection, runs sql on it, releases it, and
// invokes done — the borrow-and-return convenience form of query.
func (p *Pool) QueryAsync(ctx context.Context, sql string, params []value.Value, rowCb async.RowFunc, done async.QueryDoneFunc) error {
	return p.AcquireAsync(ctx, func(c *conn.Connection, err error) {
		if err != nil {
			if done != nil {
				done(err, 0)
			}
			return
		}
		queryErr := p.engine.QueryAsync(ctx, c, sql, params, rowCb, func(err error, rows int64) {
			p.Release(c)
			if done != nil {
				done(err, rows)
			}
		})
		if queryErr != nil {
			p.Release(c)
			if done != nil {
				done(queryErr, 0)
			}
		}
	})
}

// InitialSize returns the pool's configured resident size.
func (p *Pool) InitialSize() int { return p.initialSize }

// MaxSize returns the pool's configured max size.
func (p *Pool) MaxSize() int { return p.maxSize }

// CurrentSize returns the pool's current total connection count
// (alive residents plus checked-out transients).
func (p *Pool) CurrentSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total()
}

// Available returns the number of idle resident connections.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}
