package pool

import (
	"context"
	"fmt"
	"sync"

	"github.com/dbcore/dbcore/async"
	"github.com/dbcore/dbcore/conn"
	"github.com/dbcore/dbcore/driver"
	"github.com/dbcore/dbcore/loop"
	"github.com/dbcore/dbcore/metrics"
)

// NamedStats is a Stats snapshot tagged with the pool's name and
// driver kind, the shape the admin API and metrics exporter want.
type NamedStats struct {
	Name   string
	Driver driver.Kind
	Stats  Stats
}

// entry pairs a live Pool with the driver kind it was created for, so
// the manager can label metrics/API responses without re-deriving it
// from the contract on every call.
type entry struct {
	pool *Pool
	kind driver.Kind
}

// Manager owns every named pool in a process, keyed by a short pool
// name the caller assigns (not the driver kind — two pools can share a
// driver kind with different conninfo, e.g. "primary" and "analytics"
// both PGSQL).
type Manager struct {
	engine  *async.Engine
	loop    *loop.Loop
	metrics *metrics.Collector

	mu    sync.RWMutex
	pools map[string]entry
}

// NewManager creates an empty Manager bound to engine/l.
func NewManager(engine *async.Engine, l *loop.Loop) *Manager {
	return &Manager{
		engine: engine,
		loop:   l,
		pools:  make(map[string]entry),
	}
}

// SetMetrics attaches a collector passed on to every pool created from
// here on; pass before Create.
func (m *Manager) SetMetrics(mc *metrics.Collector) {
	m.metrics = mc
}

// Create builds a new pool under name and registers it. It fails if
// name is already in use or the driver kind isn't registered.
func (m *Manager) Create(ctx context.Context, name string, kind driver.Kind, conninfo string, mode conn.CallbackMode, initialSize, maxSize int) (*Pool, error) {
	m.mu.Lock()
	if _, exists := m.pools[name]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("pool: name %q already in use", name)
	}
	m.mu.Unlock()

	contract, err := driver.Lookup(kind)
	if err != nil {
		return nil, err
	}

	p, err := Create(ctx, m.engine, m.loop, contract, conninfo, mode, initialSize, maxSize, nil)
	if err != nil {
		return nil, err
	}
	if m.metrics != nil {
		p.SetMetrics(m.metrics)
	}

	m.mu.Lock()
	m.pools[name] = entry{pool: p, kind: kind}
	m.mu.Unlock()
	return p, nil
}

// Get returns the pool registered under name, if any.
func (m *Manager) Get(name string) (*Pool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.pools[name]
	if !ok {
		return nil, false
	}
	return e.pool, true
}

// Remove destroys and unregisters the pool under name. Reports false
// if no such pool existed.
func (m *Manager) Remove(name string) bool {
	m.mu.Lock()
	e, ok := m.pools[name]
	if ok {
		delete(m.pools, name)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	e.pool.Destroy()
	return true
}

// List returns every registered pool's name and driver kind.
func (m *Manager) List() map[string]driver.Kind {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]driver.Kind, len(m.pools))
	for name, e := range m.pools {
		out[name] = e.kind
	}
	return out
}

// AllStats returns a Stats snapshot for every registered pool.
func (m *Manager) AllStats() []NamedStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]NamedStats, 0, len(m.pools))
	for name, e := range m.pools {
		out = append(out, NamedStats{Name: name, Driver: e.kind, Stats: e.pool.Stats()})
	}
	return out
}

// DestroyAll destroys every registered pool, e.g. on process shutdown.
func (m *Manager) DestroyAll() {
	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[string]entry)
	m.mu.Unlock()

	for _, e := range pools {
		e.pool.Destroy()
	}
}
