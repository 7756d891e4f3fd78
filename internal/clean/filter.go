package clean

import (
	"github.com/TobiSchelling/collisionclean/internal/codebook"
	"github.com/TobiSchelling/collisionclean/internal/table"
)

// Exclusion lists the values of one column that carry no descriptive
// content.
type Exclusion struct {
	Column string
	Values []string
}

// Exclusions are the non-informative values removed by FilterDescriptive.
var Exclusions = []Exclusion{
	{Column: codebook.CollisionType.LabelColumn, Values: []string{codebook.NotStated, "Other"}},
	{Column: codebook.PCFViolation.LabelColumn, Values: []string{
		codebook.NotStated,
		"Unknown",
		"Other Equipment",
		"Other Than Driver (or Pedestrian)",
		"Other Hazardous Violation",
		"Other Improper Driving",
	}},
	{Column: codebook.Lighting.LabelColumn, Values: []string{codebook.NotStated}},
	{Column: codebook.PedestrianAction.LabelColumn, Values: []string{codebook.NotStated}},
	{Column: codebook.RoadSurface.LabelColumn, Values: []string{codebook.NotStated}},
	{Column: ColIntersectionFlag, Values: []string{"-"}},
}

// FilterDescriptive keeps only records whose every excluded column avoids
// its excluded values. A null in any of those columns also removes the
// record. Each removed record is counted once, against the first predicate
// it fails in Exclusions order.
func FilterDescriptive(t *table.Table) (*table.Table, []Count, error) {
	cols := make([]string, len(Exclusions))
	for i, e := range Exclusions {
		cols[i] = e.Column
	}
	if err := t.Require(cols...); err != nil {
		return nil, nil, err
	}

	type key struct{ col, pred string }
	hits := make(map[key]int)
	out := t.Filter(func(r table.Row) bool {
		for _, e := range Exclusions {
			v := r.Get(e.Column)
			if !v.Valid {
				hits[key{e.Column, ""}]++
				return false
			}
			for _, x := range e.Values {
				if v.S == x {
					hits[key{e.Column, x}]++
					return false
				}
			}
		}
		return true
	})

	var counts []Count
	for _, e := range Exclusions {
		if n := hits[key{e.Column, ""}]; n > 0 {
			counts = append(counts, Count{Predicate: e.Column + " is null", Rows: n})
		}
		for _, x := range e.Values {
			if n := hits[key{e.Column, x}]; n > 0 {
				counts = append(counts, Count{Predicate: e.Column + " = " + x, Rows: n})
			}
		}
	}
	return out, counts, nil
}
