// Package metrics exposes the core's Prometheus instrumentation: pool
// occupancy gauges, query/exec duration histograms, health-check
// outcomes, and async dispatch counters, all registered on a dedicated
// registry so embedders never collide with the default one.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds every Prometheus metric the core publishes.
type Collector struct {
	Registry *prometheus.Registry

	poolIdle         *prometheus.GaugeVec
	poolResidentUse  *prometheus.GaugeVec
	poolTransientUse *prometheus.GaugeVec
	poolWaiting      *prometheus.GaugeVec
	poolPendingTemp  *prometheus.GaugeVec
	poolExhausted    *prometheus.CounterVec
	poolHealth       *prometheus.GaugeVec

	queryDuration *prometheus.HistogramVec
	execDuration  *prometheus.HistogramVec

	dispatchSubmitted *prometheus.CounterVec
	dispatchRejected  *prometheus.CounterVec

	healthCheckDuration *prometheus.HistogramVec
	healthCheckErrors   *prometheus.CounterVec
}

// New creates and registers every metric on a fresh, independent
// registry. Safe to call more than once, e.g. across config reloads.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		poolIdle: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dbcore_pool_idle",
				Help: "Idle resident connections per pool",
			},
			[]string{"pool", "driver"},
		),
		poolResidentUse: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dbcore_pool_resident_in_use",
				Help: "Resident connections currently checked out per pool",
			},
			[]string{"pool", "driver"},
		),
		poolTransientUse: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dbcore_pool_transient_in_use",
				Help: "Transient connections currently checked out per pool",
			},
			[]string{"pool", "driver"},
		),
		poolWaiting: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dbcore_pool_waiting",
				Help: "Checkout requests queued on the waiter list per pool",
			},
			[]string{"pool", "driver"},
		),
		poolPendingTemp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dbcore_pool_pending_temp",
				Help: "Transient connections currently being dialed per pool",
			},
			[]string{"pool", "driver"},
		),
		poolExhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbcore_pool_exhausted_total",
				Help: "Times a blocking checkout failed because the pool was at max_size",
			},
			[]string{"driver"},
		),
		poolHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dbcore_pool_health",
				Help: "Pool health (1=healthy, 0=unhealthy)",
			},
			[]string{"pool"},
		),
		queryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dbcore_query_duration_seconds",
				Help:    "Duration of async query operations",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
			},
			[]string{"driver"},
		),
		execDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dbcore_exec_duration_seconds",
				Help:    "Duration of async exec operations",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
			},
			[]string{"driver"},
		),
		dispatchSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbcore_dispatch_submitted_total",
				Help: "Operations submitted to the async dispatch engine, by outcome",
			},
			[]string{"op", "outcome"},
		),
		dispatchRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbcore_dispatch_busy_rejected_total",
				Help: "Submissions rejected because the connection was already busy",
			},
			[]string{"op"},
		),
		healthCheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dbcore_health_check_duration_seconds",
				Help:    "Duration of pool idle-connection sweeps",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"pool", "status"},
		),
		healthCheckErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbcore_health_check_errors_total",
				Help: "Pool sweep errors by type",
			},
			[]string{"pool", "error_type"},
		),
	}

	reg.MustRegister(
		c.poolIdle,
		c.poolResidentUse,
		c.poolTransientUse,
		c.poolWaiting,
		c.poolPendingTemp,
		c.poolExhausted,
		c.poolHealth,
		c.queryDuration,
		c.execDuration,
		c.dispatchSubmitted,
		c.dispatchRejected,
		c.healthCheckDuration,
		c.healthCheckErrors,
	)

	return c
}

// UpdatePoolStats sets every occupancy gauge for pool from a Stats
// snapshot.
func (c *Collector) UpdatePoolStats(poolName, driverName string, idle, residentInUse, transientInUse, waiting, pendingTemp int) {
	c.poolIdle.WithLabelValues(poolName, driverName).Set(float64(idle))
	c.poolResidentUse.WithLabelValues(poolName, driverName).Set(float64(residentInUse))
	c.poolTransientUse.WithLabelValues(poolName, driverName).Set(float64(transientInUse))
	c.poolWaiting.WithLabelValues(poolName, driverName).Set(float64(waiting))
	c.poolPendingTemp.WithLabelValues(poolName, driverName).Set(float64(pendingTemp))
}

// PoolExhausted increments the exhaustion counter for a driver kind.
func (c *Collector) PoolExhausted(driverName string) {
	c.poolExhausted.WithLabelValues(driverName).Inc()
}

// QueryDuration observes a completed async query's duration.
func (c *Collector) QueryDuration(driverName string, d time.Duration) {
	c.queryDuration.WithLabelValues(driverName).Observe(d.Seconds())
}

// ExecDuration observes a completed async exec's duration.
func (c *Collector) ExecDuration(driverName string, d time.Duration) {
	c.execDuration.WithLabelValues(driverName).Observe(d.Seconds())
}

// DispatchSubmitted records a submission outcome ("ok", "busy", "error").
func (c *Collector) DispatchSubmitted(op, outcome string) {
	c.dispatchSubmitted.WithLabelValues(op, outcome).Inc()
}

// DispatchBusyRejected increments the busy-rejection counter for op.
func (c *Collector) DispatchBusyRejected(op string) {
	c.dispatchRejected.WithLabelValues(op).Inc()
}

// SetPoolHealth sets the pool health gauge.
func (c *Collector) SetPoolHealth(poolName string, healthy bool) {
	val := 0.0
	if healthy {
		val = 1.0
	}
	c.poolHealth.WithLabelValues(poolName).Set(val)
}

// HealthCheckCompleted records a pool sweep's duration and outcome.
func (c *Collector) HealthCheckCompleted(poolName string, d time.Duration, healthy bool) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	c.healthCheckDuration.WithLabelValues(poolName, status).Observe(d.Seconds())
}

// HealthCheckError records a pool sweep error by type.
func (c *Collector) HealthCheckError(poolName, errorType string) {
	c.healthCheckErrors.WithLabelValues(poolName, errorType).Inc()
}

// RemovePool deletes every pool-labeled metric series for a removed
// pool. Driver-labeled series (durations, exhaustion) are shared across
// pools of the same kind and stay.
func (c *Collector) RemovePool(poolName string) {
	c.poolIdle.DeletePartialMatch(prometheus.Labels{"pool": poolName})
	c.poolResidentUse.DeletePartialMatch(prometheus.Labels{"pool": poolName})
	c.poolTransientUse.DeletePartialMatch(prometheus.Labels{"pool": poolName})
	c.poolWaiting.DeletePartialMatch(prometheus.Labels{"pool": poolName})
	c.poolPendingTemp.DeletePartialMatch(prometheus.Labels{"pool": poolName})
	c.poolHealth.DeleteLabelValues(poolName)
	c.healthCheckDuration.DeletePartialMatch(prometheus.Labels{"pool": poolName})
	c.healthCheckErrors.DeletePartialMatch(prometheus.Labels{"pool": poolName})
}
