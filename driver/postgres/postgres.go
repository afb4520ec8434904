// Package postgres registers the PGSQL driver kind, backed by
// github.com/lib/pq.
package postgres

import (
	"context"

	_ "github.com/lib/pq"

	"github.com/dbcore/dbcore/driver"
	"github.com/dbcore/dbcore/driver/sqladapter"
)

func init() {
	driver.Register(contract{})
}

type contract struct{}

func (contract) Kind() driver.Kind { return driver.PGSQL }

// RequiresLoopThread is false: lib/pq's connection is an ordinary TCP
// socket, safe to drive from any worker goroutine.
func (contract) RequiresLoopThread() bool { return false }

// Connect accepts the native space-separated key=value conninfo
// ("host=... port=... user=... password=... dbname=..."), which is
// exactly the DSN format lib/pq accepts as-is.
func (contract) Connect(ctx context.Context, conninfo string) (driver.Handle, error) {
	return sqladapter.Open(ctx, "postgres", conninfo, sqladapter.Dialect{Name: "postgres"})
}
