package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/roach88/mbfit/internal/ir"
)

// where accumulates a parameterized WHERE clause.
//
// Every value is bound as a parameter, never interpolated. A Pattern that is
// Any contributes no predicate at all, so "match anything" needs no sentinel
// value in SQL.
type where struct {
	clauses []string
	args    []any
}

// raw adds a clause verbatim with its bound arguments.
func (w *where) raw(clause string, args ...any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, args...)
}

// eq adds column = ?.
func (w *where) eq(column string, value any) {
	w.raw(column+" = ?", value)
}

// text adds column = ? unless the pattern is Any.
func (w *where) text(column string, p ir.Pattern[string]) {
	if !p.IsAny() {
		w.eq(column, p.Value())
	}
}

// flag adds column = 0|1 unless the pattern is Any.
func (w *where) flag(column string, p ir.Pattern[bool]) {
	if !p.IsAny() {
		w.eq(column, cpInt(p.Value()))
	}
}

// model pins method, basis and cp of the energies alias e.
func (w *where) model(m ir.Model) {
	w.eq("e.method", m.Method)
	w.eq("e.basis", m.Basis)
	w.eq("e.cp", cpInt(m.CP))
}

// filter applies a training-set filter over aliases e and c.
func (w *where) filter(f ir.Filter) {
	w.text("e.method", f.Method)
	w.text("e.basis", f.Basis)
	w.flag("e.cp", f.CP)
	w.text("c.tag", f.Tag)
}

// sql renders " WHERE a AND b" or "" when empty.
func (w *where) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// placeholders returns "?, ?, ?" for n parameters.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
