package testutil

import (
	"context"
	"database/sql/driver"
	"testing"
)

func TestStubDBStoresAndQueriesRows(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()

	if err := conn.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	_, err := conn.ExecContext(ctx, "INSERT INTO cycles(id, version, payload) VALUES($1, $2, $3)", []driver.NamedValue{
		{Value: "c1"},
		{Value: int64(1)},
		{Value: []byte(`{}`)},
	})
	if err != nil {
		t.Fatalf("ExecContext insert: %v", err)
	}
	if len(conn.Tables["cycles"]) != 1 {
		t.Fatalf("expected cycles row to be stored, got %v", conn.Tables["cycles"])
	}

	rows, err := conn.QueryContext(ctx, "SELECT version FROM cycles WHERE id = $1", []driver.NamedValue{{Value: "c1"}})
	if err != nil {
		t.Fatalf("QueryContext: %v", err)
	}
	defer func() { _ = rows.Close() }()
	dest := make([]driver.Value, 1)
	if err := rows.Next(dest); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if dest[0] != int64(1) {
		t.Fatalf("unexpected version value: %v", dest)
	}
}

func TestStubDBConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()

	_, err := conn.ExecContext(ctx, "INSERT INTO cycles(id, version, payload) VALUES($1, $2, $3)", []driver.NamedValue{
		{Value: "c1"},
		{Value: int64(1)},
		{Value: []byte(`{}`)},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	res, err := conn.ExecContext(ctx, "UPDATE cycles SET version = $1, payload = $2 WHERE id = $3 AND version = $4", []driver.NamedValue{
		{Value: int64(2)},
		{Value: []byte(`{"v":2}`)},
		{Value: "c1"},
		{Value: int64(1)},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		t.Fatalf("expected matching update to affect 1 row, got %d", n)
	}

	// The stale predicate must match nothing: this is the compare-and-swap
	// behavior the store tests rely on.
	res, err = conn.ExecContext(ctx, "UPDATE cycles SET version = $1, payload = $2 WHERE id = $3 AND version = $4", []driver.NamedValue{
		{Value: int64(2)},
		{Value: []byte(`{}`)},
		{Value: "c1"},
		{Value: int64(1)},
	})
	if err != nil {
		t.Fatalf("stale update: %v", err)
	}
	if n, _ := res.RowsAffected(); n != 0 {
		t.Fatalf("expected stale update to affect 0 rows, got %d", n)
	}
}
