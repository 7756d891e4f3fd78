package clean

import (
	"fmt"

	"github.com/TobiSchelling/collisionclean/internal/codebook"
	"github.com/TobiSchelling/collisionclean/internal/table"
)

// ExpandCodes left-joins each lookup table onto t by its code column, adding
// one label column per table. Every record is kept; a code missing from its
// appendix yields a null label, which FilterDescriptive removes later. The
// returned counts are the records left with a null label per field. Joins
// touch disjoint columns, so their order does not matter.
func ExpandCodes(t *table.Table, lookups ...*codebook.LookupTable) (*table.Table, []Count, error) {
	out := t
	var unmatched []Count
	for _, lt := range lookups {
		joined, err := out.LeftJoin(lt.Field, lt.Table(), lt.Field)
		if err != nil {
			return nil, nil, fmt.Errorf("expanding %s: %w", lt.Field, err)
		}
		if joined.Len() != out.Len() {
			return nil, nil, fmt.Errorf("%w: expanding %s changed row count from %d to %d",
				table.ErrJoinCardinality, lt.Field, out.Len(), joined.Len())
		}
		out = joined

		n := 0
		for _, v := range out.Column(lt.LabelColumn) {
			if !v.Valid {
				n++
			}
		}
		if n > 0 {
			unmatched = append(unmatched, Count{Predicate: lt.Field + " unmatched", Rows: n})
		}
	}
	return out, unmatched, nil
}
