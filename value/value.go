// Package value defines the tagged value union and row model shared by
// every driver and consumed uniformly by the async dispatch engine and
// the pool.
package value

import "fmt"

// Kind is the closed set of value variants a driver may produce or bind.
type Kind int

const (
	KindNull Kind = iota
	KindI64
	KindU64
	KindF64
	KindBool
	KindText
	KindBlob
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "NULL"
	case KindI64:
		return "I64"
	case KindU64:
		return "U64"
	case KindF64:
		return "F64"
	case KindBool:
		return "BOOL"
	case KindText:
		return "TEXT"
	case KindBlob:
		return "BLOB"
	default:
		return "UNKNOWN"
	}
}

// Value is a tagged variant over Kind. Only the field matching Kind is
// meaningful; the others are zero. TEXT and BLOB may be borrowed views
// into driver-owned memory — see Row for the borrow-lifetime contract.
type Value struct {
	Kind Kind
	I64  int64
	U64  uint64
	F64  float64
	Bool bool
	Text string
	Blob []byte
}

func Null() Value           { return Value{Kind: KindNull} }
func I64(v int64) Value     { return Value{Kind: KindI64, I64: v} }
func U64(v uint64) Value    { return Value{Kind: KindU64, U64: v} }
func F64(v float64) Value   { return Value{Kind: KindF64, F64: v} }
func Bool(v bool) Value     { return Value{Kind: KindBool, Bool: v} }
func Text(v string) Value   { return Value{Kind: KindText, Text: v} }
func Blob(v []byte) Value   { return Value{Kind: KindBlob, Blob: v} }

// Clone returns a value whose TEXT/BLOB payload does not alias any
// driver-owned buffer. Other kinds are bit-copied already by Go's
// value semantics, so Clone is a no-op for them.
func (v Value) Clone() Value {
	switch v.Kind {
	case KindBlob:
		if v.Blob == nil {
			return v
		}
		cp := make([]byte, len(v.Blob))
		copy(cp, v.Blob)
		v.Blob = cp
		return v
	default:
		// Go strings are immutable, but a driver may have produced v.Text
		// via an unsafe cast over a reused buffer; force a fresh copy so
		// the clone is safe to retain past the driver result's lifetime.
		if v.Kind == KindText {
			v.Text = string([]byte(v.Text))
		}
		return v
	}
}

// Equal reports whether two values are equal under their Kind's
// equality rule: string equality for TEXT, byte equality for BLOB,
// exact equality for I64/U64/BOOL, and bitwise-equal-modulo-NaN for F64.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindI64:
		return v.I64 == o.I64
	case KindU64:
		return v.U64 == o.U64
	case KindBool:
		return v.Bool == o.Bool
	case KindF64:
		if v.F64 != v.F64 && o.F64 != o.F64 { // both NaN
			return true
		}
		return v.F64 == o.F64
	case KindText:
		return v.Text == o.Text
	case KindBlob:
		if len(v.Blob) != len(o.Blob) {
			return false
		}
		for i := range v.Blob {
			if v.Blob[i] != o.Blob[i] {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Row is a tuple of column names and parallel values. The invariant
// len(Names) == len(Values) is enforced by NewRow; construct directly
// only inside drivers that already uphold it.
type Row struct {
	Names  []string
	Values []Value
}

// NewRow validates and builds a Row.
func NewRow(names []string, values []Value) (Row, error) {
	if len(names) != len(values) {
		return Row{}, fmt.Errorf("value: row column/value length mismatch: %d names, %d values", len(names), len(values))
	}
	return Row{Names: names, Values: values}, nil
}

// ColumnCount returns the number of columns in the row.
func (r Row) ColumnCount() int { return len(r.Values) }

// Clone returns a Row whose Names and Values are fully owned copies,
// safe to retain past the dynamic extent of the row callback that
// received the original. This is what the async dispatch engine calls
// when a row callback must be delivered on a different thread/goroutine
// than the one the driver produced it on (see package async).
func (r Row) Clone() Row {
	names := make([]string, len(r.Names))
	copy(names, r.Names)
	values := make([]Value, len(r.Values))
	for i, v := range r.Values {
		values[i] = v.Clone()
	}
	return Row{Names: names, Values: values}
}
