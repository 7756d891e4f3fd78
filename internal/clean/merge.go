package clean

import (
	"github.com/TobiSchelling/collisionclean/internal/table"
)

// MergeGeocodes left-joins geocode results onto t by case_id, then drops the
// records left without an accuracy score. Those are the records whose
// address could not be located reliably; their count is returned. geo must
// be unique on case_id and already filtered for accuracy and jurisdiction.
func MergeGeocodes(t, geo *table.Table) (*table.Table, []Count, error) {
	if err := geo.Require(ColCaseID, ColAccuracyScore); err != nil {
		return nil, nil, err
	}
	merged, err := t.LeftJoin(ColCaseID, geo, ColCaseID)
	if err != nil {
		return nil, nil, err
	}

	before := merged.Len()
	merged = merged.Filter(func(r table.Row) bool { return r.Get(ColAccuracyScore).Valid })
	var counts []Count
	if n := before - merged.Len(); n > 0 {
		counts = append(counts, Count{Predicate: "no reliable geocode match", Rows: n})
	}
	return merged, counts, nil
}
