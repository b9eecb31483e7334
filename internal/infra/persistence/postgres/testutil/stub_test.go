package testutil

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestStubDBStoresAndQueriesRows(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()

	if err := conn.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	insert := "INSERT INTO documents (collection, id, accession) VALUES ($1, $2, $3)"
	args := []driver.NamedValue{{Value: "c"}, {Value: "h1"}, {Value: int64(7)}}
	if _, err := conn.ExecContext(ctx, insert, args); err != nil {
		t.Fatalf("ExecContext insert: %v", err)
	}
	_, err := conn.ExecContext(ctx, insert, args)
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		t.Fatalf("expected unique violation, got %v", err)
	}

	rows, err := conn.QueryContext(ctx, "SELECT id, accession FROM documents WHERE collection = $1 AND id IN ($2, $3)",
		[]driver.NamedValue{{Value: "c"}, {Value: "h1"}, {Value: "h9"}})
	if err != nil {
		t.Fatalf("QueryContext: %v", err)
	}
	dest := make([]driver.Value, 2)
	if err := rows.Next(dest); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if dest[0] != "h1" || dest[1] != int64(7) {
		t.Fatalf("unexpected row values: %v", dest)
	}
	_ = rows.Close()

	res, err := conn.ExecContext(ctx, "DELETE FROM documents WHERE collection = $1 AND id IN ($2)", []driver.NamedValue{{Value: "c"}, {Value: "h1"}})
	if err != nil {
		t.Fatalf("ExecContext delete: %v", err)
	}
	if n, _ := res.RowsAffected(); n != 1 || len(conn.Tables["documents"]) != 0 {
		t.Fatalf("expected row deleted, affected=%d rows=%v", n, conn.Tables["documents"])
	}
}
