package conn_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dbcore/dbcore/conn"
	"github.com/dbcore/dbcore/driver/drivertest"
	"github.com/dbcore/dbcore/value"
)

func TestTryBeginRejectsConcurrentOp(t *testing.T) {
	c, err := conn.Connect(context.Background(), &drivertest.Contract{}, "x")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	if err := c.TryBegin(); err != nil {
		t.Fatalf("first TryBegin: %v", err)
	}
	if err := c.TryBegin(); !errors.Is(err, conn.ErrBusy) {
		t.Fatalf("second TryBegin = %v, want ErrBusy", err)
	}
	c.End()
	if err := c.TryBegin(); err != nil {
		t.Fatalf("TryBegin after End: %v", err)
	}
	c.End()
}

func TestDisconnectIsIdempotent(t *testing.T) {
	c, err := conn.Connect(context.Background(), &drivertest.Contract{}, "x")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("first Disconnect: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
}

func TestOperationsFailAfterDisconnect(t *testing.T) {
	c, err := conn.Connect(context.Background(), &drivertest.Contract{}, "x")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	c.Disconnect()

	if _, err := c.Exec(context.Background(), "select 1", nil); !errors.Is(err, conn.ErrClosed) {
		t.Fatalf("Exec after Disconnect = %v, want ErrClosed", err)
	}
}

func TestExecEmptySQLIsInvalidArgument(t *testing.T) {
	c, err := conn.Connect(context.Background(), &drivertest.Contract{}, "x")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	if _, err := c.Exec(context.Background(), "", nil); !errors.Is(err, conn.ErrInvalidArgument) {
		t.Fatalf("Exec(\"\") = %v, want ErrInvalidArgument", err)
	}
}

func TestLivenessCheckAndReconnectRevivesDeadConnection(t *testing.T) {
	contract := &drivertest.Contract{}
	c, err := conn.Connect(context.Background(), contract, "conninfo")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	contract.FailLiveness("conninfo")
	if err := c.LivenessCheckAndReconnect(context.Background()); err != nil {
		t.Fatalf("LivenessCheckAndReconnect with one dead handle = %v, want nil (should reconnect)", err)
	}
	if got := contract.Opens(); got != 2 {
		t.Fatalf("contract.Opens() = %d, want 2 (initial connect + reconnect)", got)
	}

	contract.UnfailLiveness("conninfo")
	if err := c.LivenessCheckAndReconnect(context.Background()); err != nil {
		t.Fatalf("LivenessCheckAndReconnect on a healthy handle = %v, want nil", err)
	}
	if got := contract.Opens(); got != 2 {
		t.Fatalf("contract.Opens() = %d after a healthy check, want unchanged at 2", got)
	}
}

func TestQueryStreamsRowsInOrder(t *testing.T) {
	rows := make([]value.Row, 0, 3)
	for _, n := range []int64{1, 2, 3} {
		r, err := value.NewRow([]string{"n"}, []value.Value{value.I64(n)})
		if err != nil {
			t.Fatalf("NewRow: %v", err)
		}
		rows = append(rows, r)
	}
	contract := &drivertest.Contract{DefaultRows: rows}
	c, err := conn.Connect(context.Background(), contract, "x")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	var got []int64
	count, err := c.Query(context.Background(), "select n", nil, func(row value.Row) error {
		got = append(got, row.Values[0].I64)
		return nil
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if count != 3 {
		t.Fatalf("Query row count = %d, want 3", count)
	}
	for i, want := range []int64{1, 2, 3} {
		if got[i] != want {
			t.Fatalf("row %d = %d, want %d (driver order must be preserved)", i, got[i], want)
		}
	}
}

func TestQueryReleasesBusyOnReturn(t *testing.T) {
	c, err := conn.Connect(context.Background(), &drivertest.Contract{}, "x")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	if _, err := c.Query(context.Background(), "select 1", nil, func(value.Row) error { return nil }); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if c.IsBusy() {
		t.Fatal("Query returned with busy still held")
	}
}

func TestTransactionOpsReleaseBusy(t *testing.T) {
	c, err := conn.Connect(context.Background(), &drivertest.Contract{}, "x")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	for name, op := range map[string]func(context.Context) error{
		"Begin": c.Begin, "Commit": c.Commit, "Rollback": c.Rollback,
	} {
		if err := op(context.Background()); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if c.IsBusy() {
			t.Fatalf("%s returned with busy still held", name)
		}
	}
}

func TestSetCallbackModeIsIdempotent(t *testing.T) {
	c, err := conn.Connect(context.Background(), &drivertest.Contract{}, "x")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	c.SetCallbackMode(conn.Loop)
	c.SetCallbackMode(conn.Loop)
	if got := c.CallbackMode(); got != conn.Loop {
		t.Fatalf("CallbackMode() = %v, want Loop", got)
	}
}
