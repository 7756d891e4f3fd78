package clean

import (
	"fmt"

	"github.com/TobiSchelling/collisionclean/internal/table"
)

// Project keeps the columns named by rawNames (canonical name -> raw export
// name) and renames them to their canonical names in Columns order. Raw
// columns are matched by name; any absent one fails the stage with a
// *table.SchemaError before anything else happens. Rows without a case_id
// are dropped and counted. A repeated case_id is fatal.
func Project(raw *table.Table, rawNames map[string]string) (*table.Table, []Count, error) {
	sel := make([]string, len(Columns))
	rename := make(map[string]string, len(Columns))
	for i, c := range Columns {
		rc, ok := rawNames[c]
		if !ok || rc == "" {
			return nil, nil, fmt.Errorf("no raw column configured for %s", c)
		}
		if prev, dup := rename[rc]; dup {
			return nil, nil, fmt.Errorf("raw column %s mapped to both %s and %s", rc, prev, c)
		}
		sel[i] = rc
		rename[rc] = c
	}

	t, err := raw.Select(sel...)
	if err != nil {
		return nil, nil, err
	}
	t, err = t.Rename(rename)
	if err != nil {
		return nil, nil, err
	}

	before := t.Len()
	t = t.Filter(func(r table.Row) bool { return r.Get(ColCaseID).Valid })
	var counts []Count
	if n := before - t.Len(); n > 0 {
		counts = append(counts, Count{Predicate: "case_id missing", Rows: n})
	}

	if err := t.Unique(ColCaseID); err != nil {
		return nil, nil, err
	}
	return t, counts, nil
}
