// Package sqlite registers the SQLITE3 driver kind, backed by
// github.com/mattn/go-sqlite3.
package sqlite

import (
	"context"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dbcore/dbcore/driver"
	"github.com/dbcore/dbcore/driver/sqladapter"
)

func init() {
	driver.Register(contract{})
}

type contract struct{}

func (contract) Kind() driver.Kind { return driver.SQLITE3 }

// RequiresLoopThread is true: the cgo sqlite3 handle is not safe to
// touch concurrently from arbitrary goroutines without the core's own
// serialization, so every async op for this engine runs on the loop
// thread (see package async).
func (contract) RequiresLoopThread() bool { return true }

// Connect accepts a filesystem path or the sentinel ":memory:". A
// leading "file:" requests URI-style parsing, which mattn/go-sqlite3
// already understands natively in the DSN it's given.
func (contract) Connect(ctx context.Context, conninfo string) (driver.Handle, error) {
	dsn := normalizeDSN(conninfo)
	return sqladapter.Open(ctx, "sqlite3", dsn, sqladapter.Dialect{Name: "sqlite3"})
}

func normalizeDSN(conninfo string) string {
	if conninfo == "" {
		return ":memory:"
	}
	// Plain paths, ":memory:", and "file:" URIs (query parameters and
	// all) are each already in the form go-sqlite3 accepts.
	return conninfo
}
