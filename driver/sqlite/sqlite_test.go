package sqlite

import (
	"context"
	"testing"

	"github.com/dbcore/dbcore/driver"
	"github.com/dbcore/dbcore/value"
)

// These tests run against a real in-memory sqlite3 database, driving
// the sqladapter scan path end to end — in particular that a TEXT
// column read back through Query keeps KindText (text-protocol engines
// hand character columns to database/sql as []byte, so the adapter
// must classify by column type, not by the scanned Go type).

func openMemory(t *testing.T) driver.Handle {
	t.Helper()
	h, err := contract{}.Connect(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Connect(:memory:): %v", err)
	}
	t.Cleanup(func() { h.Disconnect() })
	return h
}

func TestTextRoundTripKeepsKind(t *testing.T) {
	h := openMemory(t)
	ctx := context.Background()

	if _, err := h.Exec(ctx, "CREATE TABLE t (id INTEGER, s TEXT)", nil); err != nil {
		t.Fatalf("CREATE TABLE: %v", err)
	}
	for _, row := range []struct {
		id int64
		s  string
	}{{1, "a"}, {2, "b"}, {3, "c"}} {
		if _, err := h.Exec(ctx, "INSERT INTO t (id, s) VALUES (?, ?)",
			[]value.Value{value.I64(row.id), value.Text(row.s)}); err != nil {
			t.Fatalf("INSERT (%d, %q): %v", row.id, row.s, err)
		}
	}

	var got []value.Row
	count, err := h.Query(ctx, "SELECT id, s FROM t ORDER BY id", nil, func(row value.Row) error {
		got = append(got, row.Clone())
		return nil
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if count != 3 {
		t.Fatalf("Query row count = %d, want 3", count)
	}

	wantTexts := []string{"a", "b", "c"}
	for i, row := range got {
		id, s := row.Values[0], row.Values[1]
		if id.Kind != value.KindI64 || id.I64 != int64(i+1) {
			t.Errorf("row %d id = %+v, want I64 %d", i, id, i+1)
		}
		if s.Kind != value.KindText {
			t.Errorf("row %d s came back as %v, want TEXT", i, s.Kind)
		}
		if !s.Equal(value.Text(wantTexts[i])) {
			t.Errorf("row %d s = %+v, want TEXT %q", i, s, wantTexts[i])
		}
	}
}

func TestBlobColumnStaysBlob(t *testing.T) {
	h := openMemory(t)
	ctx := context.Background()

	if _, err := h.Exec(ctx, "CREATE TABLE b (id INTEGER, payload BLOB)", nil); err != nil {
		t.Fatalf("CREATE TABLE: %v", err)
	}
	payload := []byte{0x00, 0xff, 0x10}
	if _, err := h.Exec(ctx, "INSERT INTO b (id, payload) VALUES (?, ?)",
		[]value.Value{value.I64(1), value.Blob(payload)}); err != nil {
		t.Fatalf("INSERT: %v", err)
	}

	var got value.Value
	if _, err := h.Query(ctx, "SELECT payload FROM b", nil, func(row value.Row) error {
		got = row.Values[0].Clone()
		return nil
	}); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got.Kind != value.KindBlob {
		t.Fatalf("payload came back as %v, want BLOB", got.Kind)
	}
	if !got.Equal(value.Blob(payload)) {
		t.Fatalf("payload = %+v, want the inserted bytes", got)
	}
}

func TestValueRoundTripLaws(t *testing.T) {
	h := openMemory(t)
	ctx := context.Background()

	if _, err := h.Exec(ctx, "CREATE TABLE v (i INTEGER, f REAL, s TEXT, n TEXT)", nil); err != nil {
		t.Fatalf("CREATE TABLE: %v", err)
	}
	want := []value.Value{value.I64(-42), value.F64(1.5), value.Text("héllo"), value.Null()}
	if _, err := h.Exec(ctx, "INSERT INTO v (i, f, s, n) VALUES (?, ?, ?, ?)", want); err != nil {
		t.Fatalf("INSERT: %v", err)
	}

	var got value.Row
	if _, err := h.Query(ctx, "SELECT i, f, s, n FROM v", nil, func(row value.Row) error {
		got = row.Clone()
		return nil
	}); err != nil {
		t.Fatalf("Query: %v", err)
	}
	for i, w := range want {
		if !got.Values[i].Equal(w) {
			t.Errorf("column %d = %+v, want %+v", i, got.Values[i], w)
		}
	}
}

func TestZeroRowQueryInvokesNoCallback(t *testing.T) {
	h := openMemory(t)
	ctx := context.Background()

	if _, err := h.Exec(ctx, "CREATE TABLE empty (s TEXT)", nil); err != nil {
		t.Fatalf("CREATE TABLE: %v", err)
	}
	calls := 0
	count, err := h.Query(ctx, "SELECT s FROM empty", nil, func(value.Row) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if count != 0 || calls != 0 {
		t.Fatalf("empty query: count=%d calls=%d, want 0/0", count, calls)
	}
}
