// Package testutil provides a stub database for postgres store tests. It
// understands the small SQL subset issued by the sqldoc backend.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgconn"
)

var stubSeq atomic.Int64

// StubConn records statements and keeps table rows in memory.
type StubConn struct {
	Execs    []string
	Tables   map[string][]map[string]any
	Pings    int
	FailExec bool
	FailPing bool
	RowsErr  error
	// Keys names the primary key columns per table; inserts that collide
	// fail with a unique_violation unless they carry ON CONFLICT.
	Keys map[string][]string
}

// NewStubDB registers a sql.DB backed by an in-memory stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{
		Tables: make(map[string][]map[string]any),
		Keys:   map[string][]string{"documents": {"collection", "id"}},
	}
	name := fmt.Sprintf("stubpg%d", stubSeq.Add(1))
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	db.SetMaxOpenConns(1)
	return db, conn
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) {
	return d.conn, nil
}

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) { return nil, fmt.Errorf("transactions not supported") }

// Ping implements driver.Pinger.
func (c *StubConn) Ping(_ context.Context) error {
	c.Pings++
	if c.FailPing {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, fmt.Errorf("exec fail")
	}
	upper := strings.ToUpper(strings.TrimSpace(query))
	switch {
	case strings.HasPrefix(upper, "INSERT INTO"):
		return c.insert(query, args)
	case strings.HasPrefix(upper, "DELETE FROM"):
		table := strings.ToLower(strings.Fields(strings.TrimSpace(query))[2])
		var kept []map[string]any
		n := 0
		for _, row := range c.Tables[table] {
			if matchWhere(query, args, row) {
				n++
				continue
			}
			kept = append(kept, row)
		}
		c.Tables[table] = kept
		return driver.RowsAffected(n), nil
	}
	return driver.RowsAffected(0), nil
}

func (c *StubConn) insert(query string, args []driver.NamedValue) (driver.Result, error) {
	table, cols, err := parseInsert(query)
	if err != nil {
		return nil, err
	}
	if len(cols) != len(args) {
		return nil, fmt.Errorf("column/arg mismatch for %s", table)
	}
	row := make(map[string]any, len(cols))
	for i, col := range cols {
		row[col] = args[i].Value
	}
	upsert := strings.Contains(strings.ToUpper(query), "ON CONFLICT")
	keys := c.Keys[table]
	for i, existing := range c.Tables[table] {
		if len(keys) == 0 || !sameKey(keys, existing, row) {
			continue
		}
		if !upsert {
			return nil, &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}
		}
		c.Tables[table][i] = row
		return driver.RowsAffected(1), nil
	}
	c.Tables[table] = append(c.Tables[table], row)
	return driver.RowsAffected(1), nil
}

func sameKey(keys []string, a, b map[string]any) bool {
	for _, k := range keys {
		if fmt.Sprint(a[k]) != fmt.Sprint(b[k]) {
			return false
		}
	}
	return true
}

// QueryContext implements driver.QueryerContext.
func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	table, cols, err := parseSelect(query)
	if err != nil {
		return nil, err
	}
	var values [][]driver.Value
	for _, row := range c.Tables[table] {
		if !matchWhere(query, args, row) {
			continue
		}
		vals := make([]driver.Value, len(cols))
		for i, col := range cols {
			vals[i] = row[col]
		}
		values = append(values, vals)
	}
	return &stubRows{cols: cols, rows: values, err: c.RowsErr}, nil
}

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
	err  error
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}

// matchWhere evaluates "col = $n", "col IN ($a, $b)" and "col IS NULL"
// clauses joined by AND. Ordering and limits are ignored.
func matchWhere(query string, args []driver.NamedValue, row map[string]any) bool {
	lower := strings.ToLower(query)
	idx := strings.Index(lower, " where ")
	if idx == -1 {
		return true
	}
	where := query[idx+len(" where "):]
	for _, stop := range []string{" order by ", " limit "} {
		if i := strings.Index(strings.ToLower(where), stop); i != -1 {
			where = where[:i]
		}
	}
	for _, clause := range splitAnd(where) {
		clause = strings.TrimSpace(clause)
		lc := strings.ToLower(clause)
		switch {
		case strings.HasSuffix(lc, " is null"):
			col := strings.TrimSpace(clause[:len(clause)-len(" is null")])
			if row[strings.ToLower(col)] != nil {
				return false
			}
		case strings.Contains(lc, " in ("):
			i := strings.Index(lc, " in (")
			col := strings.ToLower(strings.TrimSpace(clause[:i]))
			found := false
			for _, ph := range strings.Split(strings.TrimSuffix(clause[i+len(" in ("):], ")"), ",") {
				if v, ok := placeholder(ph, args); ok && fmt.Sprint(v) == fmt.Sprint(row[col]) {
					found = true
				}
			}
			if !found {
				return false
			}
		case strings.Contains(clause, "="):
			parts := strings.SplitN(clause, "=", 2)
			col := strings.ToLower(strings.TrimSpace(parts[0]))
			v, ok := placeholder(parts[1], args)
			if !ok || fmt.Sprint(v) != fmt.Sprint(row[col]) {
				return false
			}
		}
	}
	return true
}

func splitAnd(where string) []string {
	var out []string
	for {
		i := strings.Index(strings.ToUpper(where), " AND ")
		if i == -1 {
			return append(out, where)
		}
		out = append(out, where[:i])
		where = where[i+len(" AND "):]
	}
}

func placeholder(raw string, args []driver.NamedValue) (any, bool) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "$") {
		return nil, false
	}
	n, err := strconv.Atoi(raw[1:])
	if err != nil || n < 1 || n > len(args) {
		return nil, false
	}
	return args[n-1].Value, true
}

func parseInsert(query string) (string, []string, error) {
	up := strings.ToUpper(query)
	intoIdx := strings.Index(up, "INTO ")
	if intoIdx == -1 {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	rest := strings.TrimSpace(query[intoIdx+len("INTO "):])
	open := strings.Index(rest, "(")
	closeIdx := strings.Index(rest, ")")
	if open == -1 || closeIdx == -1 || closeIdx <= open {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	table := strings.ToLower(strings.TrimSpace(rest[:open]))
	return table, splitColumns(rest[open+1 : closeIdx]), nil
}

func parseSelect(query string) (string, []string, error) {
	lower := strings.ToLower(query)
	selectPrefix := "select "
	fromToken := " from "
	if !strings.HasPrefix(lower, selectPrefix) {
		return "", nil, fmt.Errorf("cannot parse select: %s", query)
	}
	fromIdx := strings.Index(lower, fromToken)
	if fromIdx == -1 {
		return "", nil, fmt.Errorf("cannot parse select: %s", query)
	}
	cols := query[len(selectPrefix):fromIdx]
	table := strings.TrimSpace(query[fromIdx+len(fromToken):])
	if table == "" {
		return "", nil, fmt.Errorf("cannot parse select: %s", query)
	}
	return strings.ToLower(strings.Fields(table)[0]), splitColumns(cols), nil
}

func splitColumns(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.ToLower(strings.TrimSpace(part)))
	}
	return out
}
