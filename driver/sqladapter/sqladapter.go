// Package sqladapter implements the driver.Handle contract once, on top
// of Go's standard database/sql, so each concrete engine package only
// has to supply a registered database/sql driver name, a connection
// string translator, and a small dialect record. This is the layer
// every driver/{sqlite,duckdb,postgres,mysql} package is built on.
package sqladapter

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/dbcore/dbcore/driver"
	"github.com/dbcore/dbcore/value"
)

// Dialect captures the per-engine differences the generic adapter needs.
type Dialect struct {
	// Name is the human-readable engine name, used only in errors.
	Name string

	// TextOnlyParams is true for engines that speak a text-only wire
	// protocol: numeric and boolean parameters are converted to their
	// canonical decimal / "true"/"false" representation before binding.
	// None of the four built-in engines need this; it exists so a
	// future text-protocol driver can reuse the adapter unchanged.
	TextOnlyParams bool
}

// Handle adapts a single exclusive *sql.Conn (and the *sql.DB that
// produced it) to driver.Handle. One Handle owns exactly one physical
// connection; it never shares the underlying *sql.DB's own pool with
// another Handle.
type Handle struct {
	mu      sync.Mutex
	db      *sql.DB
	conn    *sql.Conn
	dialect Dialect
	lastErr string
}

// Open opens driverName (a database/sql driver already registered by
// the caller's blank import, e.g. github.com/mattn/go-sqlite3) against
// dsn and claims a single dedicated connection from it.
func Open(ctx context.Context, driverName, dsn string, dialect Dialect) (*Handle, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: opening %q: %w", dialect.Name, driverName, err)
	}
	// Exactly one physical connection backs this Handle: the busy
	// invariant already serializes operations at the Connection layer,
	// so database/sql's own pooling would only add a second, redundant
	// layer of connection multiplexing underneath it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: acquiring connection: %w", dialect.Name, err)
	}

	return &Handle{db: db, conn: conn, dialect: dialect}, nil
}

func (h *Handle) Disconnect() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	connErr := h.conn.Close()
	dbErr := h.db.Close()
	if connErr != nil {
		return connErr
	}
	return dbErr
}

func (h *Handle) LivenessCheck(ctx context.Context) error {
	return h.conn.PingContext(ctx)
}

func (h *Handle) Exec(ctx context.Context, sqlText string, params []value.Value) (int64, error) {
	args, err := toArgs(params, h.dialect)
	if err != nil {
		return 0, h.record(err)
	}
	// A zero-parameter exec naturally bypasses prepare/bind in
	// database/sql when the driver supports direct execution (most DDL
	// rejected by some engines' prepared-statement path goes through
	// here unprepared).
	res, err := h.conn.ExecContext(ctx, sqlText, args...)
	if err != nil {
		return 0, h.record(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		// Some engines can't report rows changed; treat as zero rather
		// than fail the exec.
		return 0, nil
	}
	return affected, nil
}

func (h *Handle) Query(ctx context.Context, sqlText string, params []value.Value, fn driver.RowFunc) (int64, error) {
	args, err := toArgs(params, h.dialect)
	if err != nil {
		return 0, h.record(err)
	}
	rows, err := h.conn.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return 0, h.record(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return 0, h.record(err)
	}

	// database/sql hands a *any destination the driver's raw bytes for
	// text columns too (lib/pq and go-sql-driver/mysql both produce
	// []byte for VARCHAR/TEXT/CHAR), so the dynamic Go type of the
	// scanned value cannot tell TEXT from BLOB. Classify each column
	// once from its reported SQL type instead.
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return 0, h.record(err)
	}
	binary := make([]bool, len(colTypes))
	for i, ct := range colTypes {
		binary[i] = isBinaryColumn(ct.DatabaseTypeName())
	}

	scanTargets := make([]any, len(cols))
	scanValues := make([]any, len(cols))
	for i := range scanTargets {
		scanTargets[i] = &scanValues[i]
	}

	var count int64
	for rows.Next() {
		if err := rows.Scan(scanTargets...); err != nil {
			return count, h.record(err)
		}
		values := make([]value.Value, len(cols))
		for i, raw := range scanValues {
			values[i] = fromDriverValue(raw, binary[i])
		}
		row, err := value.NewRow(cols, values)
		if err != nil {
			return count, h.record(err)
		}
		count++
		if err := fn(row); err != nil {
			return count, h.record(err)
		}
	}
	if err := rows.Err(); err != nil {
		return count, h.record(err)
	}
	return count, nil
}

func (h *Handle) Begin(ctx context.Context) error {
	_, err := h.conn.ExecContext(ctx, "BEGIN")
	return h.record(err)
}

func (h *Handle) Commit(ctx context.Context) error {
	_, err := h.conn.ExecContext(ctx, "COMMIT")
	return h.record(err)
}

func (h *Handle) Rollback(ctx context.Context) error {
	_, err := h.conn.ExecContext(ctx, "ROLLBACK")
	return h.record(err)
}

func (h *Handle) LastError() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lastErr == "" {
		return "", false
	}
	return h.lastErr, true
}

// record copies err's text into the handle-owned lastErr buffer, so
// it survives destruction of the driver result it came from, and maps
// the driver's own "not an error" sentinel to success.
func (h *Handle) record(err error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err == nil {
		return nil
	}
	if err.Error() == "not an error" {
		h.lastErr = ""
		return nil
	}
	h.lastErr = err.Error()
	return err
}

func toArgs(params []value.Value, d Dialect) ([]any, error) {
	if len(params) == 0 {
		return nil, nil
	}
	args := make([]any, len(params))
	for i, p := range params {
		a, err := toArg(p, d)
		if err != nil {
			return nil, fmt.Errorf("%s: binding parameter %d: %w", d.Name, i+1, err)
		}
		args[i] = a
	}
	return args, nil
}

func toArg(v value.Value, d Dialect) (any, error) {
	if d.TextOnlyParams {
		switch v.Kind {
		case value.KindNull:
			return nil, nil
		case value.KindBool:
			if v.Bool {
				return "true", nil
			}
			return "false", nil
		case value.KindI64:
			return strconv.FormatInt(v.I64, 10), nil
		case value.KindU64:
			return strconv.FormatUint(v.U64, 10), nil
		case value.KindF64:
			// 17 significant digits round-trips any float64 exactly.
			return strconv.FormatFloat(v.F64, 'g', 17, 64), nil
		case value.KindText:
			return v.Text, nil
		case value.KindBlob:
			return string(v.Blob), nil
		default:
			return nil, fmt.Errorf("unknown value kind %v", v.Kind)
		}
	}

	switch v.Kind {
	case value.KindNull:
		return nil, nil
	case value.KindI64:
		return v.I64, nil
	case value.KindU64:
		return v.U64, nil
	case value.KindF64:
		return v.F64, nil
	case value.KindBool:
		return v.Bool, nil
	case value.KindText:
		return v.Text, nil
	case value.KindBlob:
		return v.Blob, nil
	default:
		return nil, fmt.Errorf("unknown value kind %v", v.Kind)
	}
}

// fromDriverValue coerces whatever database/sql handed back (via the
// empty-interface scan path) into a value.Value. A []byte payload is
// BLOB only when the column itself is binary; text-protocol drivers
// return []byte for character columns too, and those must come back as
// TEXT so a round-tripped TEXT value keeps its kind. Unknown Go types
// are coerced to TEXT via fmt.Sprint; consumers must tolerate TEXT
// where they expected a narrower kind.
func fromDriverValue(raw any, binaryCol bool) value.Value {
	switch t := raw.(type) {
	case nil:
		return value.Null()
	case int64:
		return value.I64(t)
	case float64:
		return value.F64(t)
	case bool:
		return value.Bool(t)
	case []byte:
		if binaryCol {
			return value.Blob(append([]byte(nil), t...))
		}
		return value.Text(string(t))
	case string:
		return value.Text(t)
	default:
		return value.Text(fmt.Sprint(t))
	}
}

// isBinaryColumn classifies a column as binary from the driver-reported
// SQL type name. The four built-in engines report their blob types as
// BLOB (sqlite3, duckdb, mysql's TINYBLOB..LONGBLOB), BYTEA (postgres),
// or BINARY/VARBINARY (mysql); everything else — including an empty
// name for computed columns — is treated as character data.
func isBinaryColumn(dbTypeName string) bool {
	name := strings.ToUpper(dbTypeName)
	return strings.Contains(name, "BLOB") ||
		strings.Contains(name, "BINARY") ||
		name == "BYTEA"
}
