package clean

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/TobiSchelling/collisionclean/internal/codebook"
	"github.com/TobiSchelling/collisionclean/internal/table"
)

// DeriveSeverity recodes collision_severity (0 becomes 5) and adds
// collision_severity_label and fatal. A severity outside 1..5 after
// recoding fails the stage with ErrDomain when strict is set; otherwise the
// record is dropped and counted.
func DeriveSeverity(t *table.Table, strict bool) (*table.Table, []Count, error) {
	if err := t.Require(ColCaseID, ColSeverity); err != nil {
		return nil, nil, err
	}

	bad := 0
	for i := 0; i < t.Len(); i++ {
		r := t.Row(i)
		if _, ok := severityLevel(r.Get(ColSeverity)); ok {
			continue
		}
		if strict {
			return nil, nil, fmt.Errorf("%w: collision_severity %q for case %s",
				ErrDomain, r.Get(ColSeverity).S, r.Get(ColCaseID).S)
		}
		bad++
	}

	out := t
	var counts []Count
	if bad > 0 {
		out = t.Filter(func(r table.Row) bool {
			_, ok := severityLevel(r.Get(ColSeverity))
			return ok
		})
		counts = append(counts, Count{Predicate: "collision_severity out of domain", Rows: bad})
	}

	out = out.WithColumn(ColSeverity, func(r table.Row) table.Value {
		level, _ := severityLevel(r.Get(ColSeverity))
		return table.Str(strconv.Itoa(level))
	})
	out = out.WithColumn(ColSeverityLabel, func(r table.Row) table.Value {
		level, _ := strconv.Atoi(r.Get(ColSeverity).S)
		label, _ := codebook.SeverityLabel(level)
		return table.Str(label)
	})
	out = out.WithColumn(ColFatal, func(r table.Row) table.Value {
		level, _ := strconv.Atoi(r.Get(ColSeverity).S)
		return table.Str(codebook.FatalLabel(level))
	})
	return out, counts, nil
}

func severityLevel(v table.Value) (int, bool) {
	if !v.Valid {
		return 0, false
	}
	code, err := strconv.Atoi(strings.TrimSpace(v.S))
	if err != nil {
		return 0, false
	}
	level := codebook.RecodeSeverity(code)
	if _, ok := codebook.SeverityLabel(level); !ok {
		return 0, false
	}
	return level, true
}
