package clean

import (
	"github.com/TobiSchelling/collisionclean/internal/table"
)

// CrossStreetSeparator joins the two road names of an intersection.
const CrossStreetSeparator = " & "

// ConsolidateAddresses adds cross_street, city and state. The cross street
// is "<primary> & <secondary>", or the one road that is present. Records
// with neither road keep a null cross street and their case_ids are
// returned so they can be reported; they are not removed here.
func ConsolidateAddresses(t *table.Table, city, state string) (*table.Table, []string, error) {
	if err := t.Require(ColCaseID, ColPrimaryRoad, ColSecondaryRoad); err != nil {
		return nil, nil, err
	}

	var flagged []string
	out := t.WithColumn(ColCrossStreet, func(r table.Row) table.Value {
		v := CrossStreet(r.Get(ColPrimaryRoad), r.Get(ColSecondaryRoad))
		if !v.Valid {
			flagged = append(flagged, r.Get(ColCaseID).S)
		}
		return v
	})
	out = out.WithColumn(ColCity, func(table.Row) table.Value { return table.Str(city) })
	out = out.WithColumn(ColState, func(table.Row) table.Value { return table.Str(state) })
	return out, flagged, nil
}

// CrossStreet joins two road names.
func CrossStreet(primary, secondary table.Value) table.Value {
	switch {
	case primary.Valid && secondary.Valid:
		return table.Str(primary.S + CrossStreetSeparator + secondary.S)
	case primary.Valid:
		return primary
	case secondary.Valid:
		return secondary
	default:
		return table.Null
	}
}
