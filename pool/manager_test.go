package pool_test

import (
	"context"
	"testing"

	"github.com/dbcore/dbcore/async"
	"github.com/dbcore/dbcore/conn"
	"github.com/dbcore/dbcore/driver"
	"github.com/dbcore/dbcore/driver/drivertest"
	"github.com/dbcore/dbcore/loop"
	"github.com/dbcore/dbcore/pool"
)

func newManager(t *testing.T) *pool.Manager {
	t.Helper()
	l := loop.New(2)
	t.Cleanup(l.Stop)
	m := pool.NewManager(async.New(l), l)
	t.Cleanup(m.DestroyAll)
	return m
}

func init() {
	// The manager resolves driver kinds through the global registry;
	// back MYSQL with the in-memory fake so these tests need no real
	// engine.
	driver.Register(&drivertest.Contract{K: driver.MYSQL})
}

func TestManagerRejectsDuplicateName(t *testing.T) {
	m := newManager(t)

	if _, err := m.Create(context.Background(), "primary", driver.MYSQL, "host=a", conn.Worker, 1, 2); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Create(context.Background(), "primary", driver.MYSQL, "host=a", conn.Worker, 1, 2); err == nil {
		t.Fatal("second Create under the same name succeeded, want error")
	}
}

func TestManagerRejectsUnregisteredKind(t *testing.T) {
	m := newManager(t)

	if _, err := m.Create(context.Background(), "p", driver.DUCKDB, "x", conn.Worker, 1, 2); err == nil {
		t.Fatal("Create with an unregistered driver kind succeeded, want error")
	}
}

func TestManagerGetRemoveList(t *testing.T) {
	m := newManager(t)

	if _, err := m.Create(context.Background(), "primary", driver.MYSQL, "host=a", conn.Worker, 1, 2); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, ok := m.Get("primary"); !ok {
		t.Fatal("Get(primary) not found after Create")
	}
	if _, ok := m.Get("missing"); ok {
		t.Fatal("Get(missing) found a pool that was never created")
	}

	kinds := m.List()
	if kinds["primary"] != driver.MYSQL {
		t.Fatalf("List() = %v, want primary -> mysql", kinds)
	}

	stats := m.AllStats()
	if len(stats) != 1 || stats[0].Name != "primary" {
		t.Fatalf("AllStats() = %+v, want one entry for primary", stats)
	}

	if !m.Remove("primary") {
		t.Fatal("Remove(primary) = false, want true")
	}
	if m.Remove("primary") {
		t.Fatal("Remove should return false for an already-removed pool")
	}
}
