package metrics

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func gather(t *testing.T, c *Collector) []*dto.MetricFamily {
	t.Helper()
	families, err := c.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	return families
}

func gatherCount(t *testing.T, c *Collector) int {
	t.Helper()
	total := 0
	for _, f := range gather(t, c) {
		total += len(f.GetMetric())
	}
	return total
}

func findGauge(t *testing.T, c *Collector, name, poolLabel string) (float64, bool) {
	t.Helper()
	for _, f := range gather(t, c) {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "pool" && l.GetValue() == poolLabel {
					return m.GetGauge().GetValue(), true
				}
			}
		}
	}
	return 0, false
}

func TestNewRegistersOnFreshRegistry(t *testing.T) {
	// Two collectors must not collide: each owns its own registry.
	a := New()
	b := New()
	if a.Registry == b.Registry {
		t.Fatal("collectors share a registry")
	}
}

func TestUpdatePoolStatsExportsSeries(t *testing.T) {
	c := New()
	c.UpdatePoolStats("primary", "pgsql", 3, 1, 2, 0, 1)
	c.PoolExhausted("pgsql")
	c.QueryDuration("pgsql", 5*time.Millisecond)
	c.ExecDuration("pgsql", 2*time.Millisecond)
	c.DispatchSubmitted("exec", "ok")
	c.DispatchBusyRejected("exec")
	c.SetPoolHealth("primary", true)
	c.HealthCheckCompleted("primary", time.Millisecond, true)
	c.HealthCheckError("primary", "all_idle_unreachable")

	if got := gatherCount(t, c); got == 0 {
		t.Fatal("no metric series exported after updates")
	}

	if idle, ok := findGauge(t, c, "dbcore_pool_idle", "primary"); !ok || idle != 3 {
		t.Fatalf("dbcore_pool_idle{pool=primary} = (%v, %v), want 3", idle, ok)
	}
	if pending, ok := findGauge(t, c, "dbcore_pool_pending_temp", "primary"); !ok || pending != 1 {
		t.Fatalf("dbcore_pool_pending_temp{pool=primary} = (%v, %v), want 1", pending, ok)
	}
	if health, ok := findGauge(t, c, "dbcore_pool_health", "primary"); !ok || health != 1 {
		t.Fatalf("dbcore_pool_health{pool=primary} = (%v, %v), want 1", health, ok)
	}
}

func TestRemovePoolDeletesSeries(t *testing.T) {
	c := New()
	c.UpdatePoolStats("primary", "pgsql", 3, 1, 2, 0, 1)
	c.SetPoolHealth("primary", true)

	before := gatherCount(t, c)
	if before == 0 {
		t.Fatal("expected series before removal")
	}

	c.RemovePool("primary")
	if after := gatherCount(t, c); after != 0 {
		t.Fatalf("%d series survived RemovePool, want 0", after)
	}
}
