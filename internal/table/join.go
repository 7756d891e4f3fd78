package table

import "fmt"

// LeftJoin attaches the columns of right to t, matching t[leftKey] against
// right[rightKey]. Every row of t is kept in order; rows without a match,
// including rows whose key is null, get null in each attached column. The
// right side must be unique on its key, otherwise the join would multiply
// rows and ErrJoinCardinality is returned.
func (t *Table) LeftJoin(leftKey string, right *Table, rightKey string) (*Table, error) {
	if err := t.Require(leftKey); err != nil {
		return nil, err
	}
	if err := right.Require(rightKey); err != nil {
		return nil, err
	}

	rk := right.index[rightKey]
	var attach []int
	cols := append([]string(nil), t.columns...)
	for i, c := range right.columns {
		if i == rk {
			continue
		}
		if t.Has(c) {
			return nil, fmt.Errorf("join on %s: column %q exists on both sides", leftKey, c)
		}
		attach = append(attach, i)
		cols = append(cols, c)
	}

	lookup := make(map[string]int, len(right.rows))
	for i, r := range right.rows {
		k := r[rk]
		if !k.Valid {
			continue
		}
		if prev, dup := lookup[k.S]; dup {
			return nil, fmt.Errorf("%w: %s %q matches right rows %d and %d",
				ErrJoinCardinality, rightKey, k.S, prev+1, i+1)
		}
		lookup[k.S] = i
	}

	lk := t.index[leftKey]
	rows := make([][]Value, len(t.rows))
	for i, r := range t.rows {
		nr := make([]Value, len(cols))
		copy(nr, r)
		if k := r[lk]; k.Valid {
			if ri, ok := lookup[k.S]; ok {
				for j, ci := range attach {
					nr[len(r)+j] = right.rows[ri][ci]
				}
			}
		}
		rows[i] = nr
	}
	return fromOwned(cols, rows), nil
}
