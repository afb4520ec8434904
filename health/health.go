// Package health runs a periodic background sweep over every
// registered pool's idle connections, tracking a consecutive-failure
// count per pool and exposing an aggregate healthy/unhealthy status.
// The sweep rides each driver's own liveness check, so a pool is only
// classified unhealthy when the engine itself stops answering.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dbcore/dbcore/metrics"
	"github.com/dbcore/dbcore/pool"
)

// Status is the health classification of a pool.
type Status int

const (
	StatusUnknown Status = iota
	StatusHealthy
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// PoolHealth is a point-in-time health record for one registered pool.
type PoolHealth struct {
	Status              Status
	LastCheck           time.Time
	ConsecutiveFailures int
	LastError           string
}

// Checker periodically sweeps every registered pool's idle connections
// and maintains a consecutive-failure count used to classify the pool
// healthy or unhealthy.
type Checker struct {
	mu       sync.RWMutex
	pools    map[string]*pool.Pool
	statuses map[string]*PoolHealth

	metrics *metrics.Collector

	interval         time.Duration
	failureThreshold int
	checkTimeout     time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewChecker creates a Checker. interval is how often every registered
// pool is swept; failureThreshold is the number of consecutive failed
// sweeps before a pool is classified unhealthy; checkTimeout bounds
// each individual liveness check.
func NewChecker(m *metrics.Collector, interval time.Duration, failureThreshold int, checkTimeout time.Duration) *Checker {
	return &Checker{
		pools:            make(map[string]*pool.Pool),
		statuses:         make(map[string]*PoolHealth),
		metrics:          m,
		interval:         interval,
		failureThreshold: failureThreshold,
		checkTimeout:     checkTimeout,
		stopCh:           make(chan struct{}),
	}
}

// Register adds a pool to the sweep set under name. Registering the
// same name twice replaces the previous pool.
func (c *Checker) Register(name string, p *pool.Pool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pools[name] = p
	if _, ok := c.statuses[name]; !ok {
		c.statuses[name] = &PoolHealth{Status: StatusUnknown}
	}
}

// Unregister removes a pool (and its health record) from the sweep set.
func (c *Checker) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pools, name)
	delete(c.statuses, name)
	if c.metrics != nil {
		c.metrics.RemovePool(name)
	}
}

// Start begins the periodic sweep in its own goroutine.
func (c *Checker) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run()
	}()
	slog.Info("health checker started", "interval", c.interval, "threshold", c.failureThreshold)
}

// Stop stops the sweep goroutine. Safe to call multiple times.
func (c *Checker) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	slog.Info("health checker stopped")
}

func (c *Checker) run() {
	c.sweepAll()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweepAll()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Checker) sweepAll() {
	c.mu.RLock()
	snapshot := make(map[string]*pool.Pool, len(c.pools))
	for name, p := range c.pools {
		snapshot[name] = p
	}
	c.mu.RUnlock()

	const maxConcurrentSweeps = 10
	sem := make(chan struct{}, maxConcurrentSweeps)
	var wg sync.WaitGroup

	for name, p := range snapshot {
		name, p := name, p
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			start := time.Now()
			healthy, errMsg := c.sweepPool(name, p)
			elapsed := time.Since(start)
			if c.metrics != nil {
				c.metrics.HealthCheckCompleted(name, elapsed, healthy)
			}
			c.updateStatus(name, healthy, errMsg)
		}()
	}
	wg.Wait()
}

func (c *Checker) sweepPool(name string, p *pool.Pool) (healthy bool, errMsg string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.checkTimeout)
	defer cancel()

	checked, dropped := p.SweepIdle(ctx)
	if dropped == 0 {
		return true, ""
	}
	if dropped == checked {
		if c.metrics != nil {
			c.metrics.HealthCheckError(name, "all_idle_unreachable")
		}
		return false, "every idle connection failed its liveness check and was dropped"
	}
	// Some idle connections were dropped but others survived: the pool
	// is still serviceable, so this doesn't count as a failed sweep.
	return true, ""
}

func (c *Checker) updateStatus(name string, healthy bool, errMsg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ph, ok := c.statuses[name]
	if !ok {
		ph = &PoolHealth{Status: StatusUnknown}
		c.statuses[name] = ph
	}
	ph.LastCheck = time.Now()

	if healthy {
		if ph.ConsecutiveFailures > 0 {
			slog.Info("pool recovered", "pool", name, "failures", ph.ConsecutiveFailures)
		}
		ph.Status = StatusHealthy
		ph.ConsecutiveFailures = 0
		ph.LastError = ""
	} else {
		ph.ConsecutiveFailures++
		ph.LastError = errMsg
		if ph.ConsecutiveFailures >= c.failureThreshold {
			if ph.Status != StatusUnhealthy {
				slog.Warn("pool marked unhealthy", "pool", name, "failures", ph.ConsecutiveFailures, "error", errMsg)
			}
			ph.Status = StatusUnhealthy
		}
	}

	if c.metrics != nil {
		c.metrics.SetPoolHealth(name, ph.Status == StatusHealthy)
	}
}

// IsHealthy reports whether name is healthy. An unregistered or
// never-swept pool is treated as healthy.
func (c *Checker) IsHealthy(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ph, ok := c.statuses[name]
	if !ok {
		return true
	}
	return ph.Status != StatusUnhealthy
}

// GetStatus returns the health record for name.
func (c *Checker) GetStatus(name string) PoolHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ph, ok := c.statuses[name]
	if !ok {
		return PoolHealth{Status: StatusUnknown}
	}
	return *ph
}

// GetAllStatuses returns a snapshot of every registered pool's health.
func (c *Checker) GetAllStatuses() map[string]PoolHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]PoolHealth, len(c.statuses))
	for name, ph := range c.statuses {
		out[name] = *ph
	}
	return out
}

// OverallHealthy reports whether every registered pool is healthy.
func (c *Checker) OverallHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ph := range c.statuses {
		if ph.Status == StatusUnhealthy {
			return false
		}
	}
	return true
}
