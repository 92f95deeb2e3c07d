// Package testutil provides a stub database/sql driver for postgres store
// tests. It understands just enough SQL to replay the store's statements
// against in-memory tables, including the conditional version update.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"time"
)

// StubConn records normalized statements for the postgres store during tests.
type StubConn struct {
	Execs      []string
	Tables     map[string][]map[string]any
	FailExec   bool
	FailBegin  bool
	FailCommit bool
	RowsErr    error
	FailTables map[string]bool
}

// NewStubDB registers a sql.DB backed by an in-memory stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Tables: make(map[string][]map[string]any)}
	name := fmt.Sprintf("stubpg%d", time.Now().UnixNano())
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
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
func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger.
func (c *StubConn) Ping(_ context.Context) error {
	if c.FailExec {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// BeginTx implements driver.ConnBeginTx.
func (c *StubConn) BeginTx(_ context.Context, _ driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, fmt.Errorf("begin fail")
	}
	return &stubTx{conn: c}, nil
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
		table, cols, err := parseInsert(query)
		if err != nil {
			return nil, err
		}
		if c.FailTables != nil && c.FailTables[table] {
			return nil, fmt.Errorf("exec fail for %s", table)
		}
		if len(cols) != len(args) {
			return nil, fmt.Errorf("column/arg mismatch for %s", table)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = args[i].Value
		}
		c.Tables[table] = append(c.Tables[table], row)
		return driver.RowsAffected(1), nil
	case strings.HasPrefix(upper, "UPDATE"):
		table, sets, wheres, err := parseUpdate(query)
		if err != nil {
			return nil, err
		}
		if c.FailTables != nil && c.FailTables[table] {
			return nil, fmt.Errorf("exec fail for %s", table)
		}
		if len(sets)+len(wheres) != len(args) {
			return nil, fmt.Errorf("column/arg mismatch for %s", table)
		}
		var affected int64
		for _, row := range c.Tables[table] {
			if !matches(row, wheres, args[len(sets):]) {
				continue
			}
			for i, col := range sets {
				row[col] = args[i].Value
			}
			affected++
		}
		return driver.RowsAffected(affected), nil
	default:
		// Schema DDL and anything else is accepted without effect.
		return driver.RowsAffected(0), nil
	}
}

// QueryContext implements driver.QueryerContext.
func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if c.Tables == nil {
		c.Tables = make(map[string][]map[string]any)
	}
	table, cols, wheres, err := parseSelect(query)
	if err != nil {
		return nil, err
	}
	if c.FailTables != nil && c.FailTables[table] {
		return nil, fmt.Errorf("query fail for %s", table)
	}
	if len(wheres) != len(args) {
		return nil, fmt.Errorf("predicate/arg mismatch for %s", table)
	}
	values := make([][]driver.Value, 0, len(c.Tables[table]))
	for _, row := range c.Tables[table] {
		if !matches(row, wheres, args) {
			continue
		}
		vals := make([]driver.Value, len(cols))
		for i, col := range cols {
			vals[i] = row[col]
		}
		values = append(values, vals)
	}
	return &stubRows{
		cols: cols,
		rows: values,
		err:  c.RowsErr,
	}, nil
}

func matches(row map[string]any, wheres []string, args []driver.NamedValue) bool {
	for i, col := range wheres {
		if fmt.Sprintf("%v", row[col]) != fmt.Sprintf("%v", args[i].Value) {
			return false
		}
	}
	return true
}

type stubTx struct {
	conn *StubConn
}

func (t *stubTx) Commit() error {
	if t.conn.FailCommit {
		return fmt.Errorf("commit fail")
	}
	return nil
}
func (t *stubTx) Rollback() error { return nil }

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
	cols := splitColumns(rest[open+1 : closeIdx])
	return table, cols, nil
}

func parseUpdate(query string) (table string, sets, wheres []string, err error) {
	lower := strings.ToLower(strings.TrimSpace(query))
	if !strings.HasPrefix(lower, "update ") {
		return "", nil, nil, fmt.Errorf("cannot parse update: %s", query)
	}
	setIdx := strings.Index(lower, " set ")
	if setIdx == -1 {
		return "", nil, nil, fmt.Errorf("cannot parse update: %s", query)
	}
	table = strings.ToLower(strings.TrimSpace(query[len("update "):setIdx]))
	rest := query[setIdx+len(" set "):]
	whereIdx := strings.Index(strings.ToLower(rest), " where ")
	setClause := rest
	if whereIdx != -1 {
		setClause = rest[:whereIdx]
		for _, pred := range strings.Split(rest[whereIdx+len(" where "):], " AND ") {
			parts := strings.SplitN(pred, "=", 2)
			if len(parts) != 2 {
				return "", nil, nil, fmt.Errorf("cannot parse update predicate: %s", query)
			}
			wheres = append(wheres, strings.ToLower(strings.TrimSpace(parts[0])))
		}
	}
	for _, assign := range strings.Split(setClause, ",") {
		parts := strings.SplitN(assign, "=", 2)
		if len(parts) != 2 {
			return "", nil, nil, fmt.Errorf("cannot parse update assignment: %s", query)
		}
		sets = append(sets, strings.ToLower(strings.TrimSpace(parts[0])))
	}
	return table, sets, wheres, nil
}

func parseSelect(query string) (table string, cols, wheres []string, err error) {
	lower := strings.ToLower(query)
	selectPrefix := "select "
	fromToken := " from "
	if !strings.HasPrefix(lower, selectPrefix) {
		return "", nil, nil, fmt.Errorf("cannot parse select: %s", query)
	}
	fromIdx := strings.Index(lower, fromToken)
	if fromIdx == -1 {
		return "", nil, nil, fmt.Errorf("cannot parse select: %s", query)
	}
	cols = splitColumns(query[len(selectPrefix):fromIdx])
	rest := strings.TrimSpace(query[fromIdx+len(fromToken):])
	// Ordering is the caller's concern; rows replay in insertion order.
	if orderIdx := strings.Index(strings.ToLower(rest), " order by "); orderIdx != -1 {
		rest = strings.TrimSpace(rest[:orderIdx])
	}
	whereIdx := strings.Index(strings.ToLower(rest), " where ")
	tablePart := rest
	if whereIdx != -1 {
		tablePart = rest[:whereIdx]
		for _, pred := range strings.Split(rest[whereIdx+len(" where "):], " AND ") {
			parts := strings.SplitN(pred, "=", 2)
			if len(parts) != 2 {
				return "", nil, nil, fmt.Errorf("cannot parse select predicate: %s", query)
			}
			wheres = append(wheres, strings.ToLower(strings.TrimSpace(parts[0])))
		}
	}
	table = strings.ToLower(strings.Fields(strings.TrimSpace(tablePart))[0])
	return table, cols, wheres, nil
}

func splitColumns(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.ToLower(strings.TrimSpace(part)))
	}
	return out
}
