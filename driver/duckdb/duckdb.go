// Package duckdb registers the DUCKDB driver kind, backed by
// github.com/marcboeker/go-duckdb/v2.
package duckdb

import (
	"context"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/dbcore/dbcore/driver"
	"github.com/dbcore/dbcore/driver/sqladapter"
)

func init() {
	driver.Register(contract{})
}

type contract struct{}

func (contract) Kind() driver.Kind { return driver.DUCKDB }

// RequiresLoopThread is true: DuckDB's embedded native connection
// handle is single-thread-affine in the same way sqlite3's is.
func (contract) RequiresLoopThread() bool { return true }

// Connect accepts a filesystem path, ":memory:", or the extended form
// "path;key=value;key2=value2" with recognized keys encryption_key
// (alias password) and motherduck_token. The extended form is
// translated into go-duckdb's "?key=value" DSN query-parameter syntax.
func (contract) Connect(ctx context.Context, conninfo string) (driver.Handle, error) {
	dsn := translateDSN(conninfo)
	return sqladapter.Open(ctx, "duckdb", dsn, sqladapter.Dialect{Name: "duckdb"})
}

func translateDSN(conninfo string) string {
	if conninfo == "" {
		return ":memory:"
	}
	parts := strings.Split(conninfo, ";")
	path := parts[0]
	if path == "" {
		path = ":memory:"
	}
	if len(parts) == 1 {
		return path
	}

	var opts []string
	for _, kv := range parts[1:] {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if k == "password" {
			k = "encryption_key"
		}
		opts = append(opts, k+"="+v)
	}
	if len(opts) == 0 {
		return path
	}
	return path + "?" + strings.Join(opts, "&")
}
