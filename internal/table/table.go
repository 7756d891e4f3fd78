// Package table provides a small immutable in-memory table used by the
// cleaning stages. Every operation returns a new table; inputs are never
// modified.
package table

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSchemaMismatch is returned when an expected column is absent.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrJoinCardinality is returned when a join would duplicate rows.
	ErrJoinCardinality = errors.New("join cardinality violation")
	// ErrDuplicateKey is returned when a key column holds repeated values.
	ErrDuplicateKey = errors.New("duplicate key")
)

// SchemaError lists the columns a table was expected to carry but did not.
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema mismatch: missing columns %s", strings.Join(e.Missing, ", "))
}

func (e *SchemaError) Unwrap() error { return ErrSchemaMismatch }

// Value is a nullable cell.
type Value struct {
	S     string
	Valid bool
}

// Null is the missing value.
var Null = Value{}

// Str wraps a present string value.
func Str(s string) Value { return Value{S: s, Valid: true} }

// String returns the value or "" for null.
func (v Value) String() string { return v.S }

// Table is an immutable set of named columns and rows.
type Table struct {
	columns []string
	index   map[string]int
	rows    [][]Value
}

// New builds a table. Rows must have one value per column; the slices are
// copied so the caller keeps ownership of its input.
func New(columns []string, rows [][]Value) (*Table, error) {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		if _, dup := index[c]; dup {
			return nil, fmt.Errorf("duplicate column %q", c)
		}
		index[c] = i
	}
	copied := make([][]Value, len(rows))
	for i, r := range rows {
		if len(r) != len(columns) {
			return nil, fmt.Errorf("row %d: %d values for %d columns", i, len(r), len(columns))
		}
		copied[i] = append([]Value(nil), r...)
	}
	return &Table{
		columns: append([]string(nil), columns...),
		index:   index,
		rows:    copied,
	}, nil
}

// Columns returns a copy of the column names in order.
func (t *Table) Columns() []string {
	return append([]string(nil), t.columns...)
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Has reports whether the column exists.
func (t *Table) Has(col string) bool {
	_, ok := t.index[col]
	return ok
}

// Row returns a read-only view of row i.
func (t *Table) Row(i int) Row { return Row{t: t, i: i} }

// Column returns every value of col, or nil if the column is absent.
func (t *Table) Column(col string) []Value {
	ci, ok := t.index[col]
	if !ok {
		return nil
	}
	out := make([]Value, len(t.rows))
	for i, r := range t.rows {
		out[i] = r[ci]
	}
	return out
}

// Require returns a *SchemaError naming every column in cols that t lacks.
func (t *Table) Require(cols ...string) error {
	var missing []string
	for _, c := range cols {
		if !t.Has(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return &SchemaError{Missing: missing}
	}
	return nil
}

// Select projects the named columns in the given order.
func (t *Table) Select(cols ...string) (*Table, error) {
	if err := t.Require(cols...); err != nil {
		return nil, err
	}
	idx := make([]int, len(cols))
	for i, c := range cols {
		idx[i] = t.index[c]
	}
	rows := make([][]Value, len(t.rows))
	for i, r := range t.rows {
		nr := make([]Value, len(idx))
		for j, ci := range idx {
			nr[j] = r[ci]
		}
		rows[i] = nr
	}
	return fromOwned(cols, rows), nil
}

// Rename returns a table with columns renamed per the mapping. Columns not
// in the mapping keep their names.
func (t *Table) Rename(mapping map[string]string) (*Table, error) {
	cols := make([]string, len(t.columns))
	for i, c := range t.columns {
		if to, ok := mapping[c]; ok {
			cols[i] = to
		} else {
			cols[i] = c
		}
	}
	return New(cols, t.rows)
}

// WithColumn returns a table with col set to fn(row) for every row. An
// existing column keeps its position; a new one is appended.
func (t *Table) WithColumn(col string, fn func(Row) Value) *Table {
	cols := t.columns
	ci, exists := t.index[col]
	if !exists {
		cols = append(append([]string(nil), t.columns...), col)
		ci = len(t.columns)
	}
	rows := make([][]Value, len(t.rows))
	for i, r := range t.rows {
		nr := make([]Value, len(cols))
		copy(nr, r)
		nr[ci] = fn(Row{t: t, i: i})
		rows[i] = nr
	}
	return fromOwned(cols, rows)
}

// Filter keeps the rows for which keep returns true, preserving order.
func (t *Table) Filter(keep func(Row) bool) *Table {
	var rows [][]Value
	for i, r := range t.rows {
		if keep(Row{t: t, i: i}) {
			rows = append(rows, append([]Value(nil), r...))
		}
	}
	return fromOwned(t.columns, rows)
}

// Unique returns ErrDuplicateKey if col holds a repeated non-null value.
func (t *Table) Unique(col string) error {
	if err := t.Require(col); err != nil {
		return err
	}
	ci := t.index[col]
	seen := make(map[string]struct{}, len(t.rows))
	for i, r := range t.rows {
		v := r[ci]
		if !v.Valid {
			continue
		}
		if _, dup := seen[v.S]; dup {
			return fmt.Errorf("%w: %s %q repeated at row %d", ErrDuplicateKey, col, v.S, i+1)
		}
		seen[v.S] = struct{}{}
	}
	return nil
}

func fromOwned(cols []string, rows [][]Value) *Table {
	index := make(map[string]int, len(cols))
	for i, c := range cols {
		index[c] = i
	}
	return &Table{columns: append([]string(nil), cols...), index: index, rows: rows}
}

// Row is a read-only view of one table row.
type Row struct {
	t *Table
	i int
}

// Index returns the row position within its table.
func (r Row) Index() int { return r.i }

// Get returns the value of col, or Null if the column is absent.
func (r Row) Get(col string) Value {
	ci, ok := r.t.index[col]
	if !ok {
		return Null
	}
	return r.t.rows[r.i][ci]
}
