// Package driver defines the contract every SQL engine must implement
// to be plugged into the core, and the closed enumeration of driver
// kinds the client selects from at connect time.
package driver

import (
	"context"

	"github.com/dbcore/dbcore/value"
)

// Kind is the closed set of driver kinds the core supports. New engines
// are added here and nowhere else; a Kind with no registered Contract
// is not connectable (see Register/Lookup).
type Kind int

const (
	SQLITE3 Kind = iota
	DUCKDB
	PGSQL
	MYSQL
)

func (k Kind) String() string {
	switch k {
	case SQLITE3:
		return "sqlite3"
	case DUCKDB:
		return "duckdb"
	case PGSQL:
		return "pgsql"
	case MYSQL:
		return "mysql"
	default:
		return "unknown"
	}
}

// RowFunc is invoked once per row with a callback-scoped borrow. The
// Row (and any TEXT/BLOB byte ranges within it) is valid only for the
// duration of the call; the contract implementation must not retain a
// reference to it afterward, and must not invoke RowFunc again in
// parallel or after it returns an error (a non-nil return aborts the
// query immediately).
type RowFunc func(row value.Row) error

// Handle is the driver-specific native connection produced by Connect.
// All methods run synchronously on the calling goroutine; the async
// dispatch engine is responsible for choosing which goroutine that is.
type Handle interface {
	// Disconnect destroys the native handle. The core never calls it
	// twice on the same Handle.
	Disconnect() error

	// LivenessCheck is a cheap liveness probe. Local file engines may
	// always succeed once the handle exists; network engines must
	// round-trip to the server.
	LivenessCheck(ctx context.Context) error

	// Exec runs a statement that returns no result set, returning the
	// number of affected rows when the engine reports one.
	Exec(ctx context.Context, sql string, params []value.Value) (affected int64, err error)

	// Query runs a statement and invokes fn once per row, in the
	// driver's observed order. It returns the number of rows delivered.
	Query(ctx context.Context, sql string, params []value.Value, fn RowFunc) (rows int64, err error)

	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// LastError returns the last driver error associated with this
	// handle, copied so it survives any underlying result destruction.
	LastError() (msg string, ok bool)
}

// Contract is the immutable, per-Kind record of how to reach an engine.
type Contract interface {
	Kind() Kind

	// RequiresLoopThread declares that this engine's native handle may
	// only be touched from the loop thread (see package async).
	RequiresLoopThread() bool

	// Connect opens conninfo and returns a ready-to-use Handle.
	Connect(ctx context.Context, conninfo string) (Handle, error)
}
