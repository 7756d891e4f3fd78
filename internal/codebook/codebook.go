// Package codebook holds the SWITRS code appendices used to turn categorical
// codes into readable labels.
package codebook

import (
	"fmt"

	"github.com/TobiSchelling/collisionclean/internal/table"
)

// NotStated is the label SWITRS uses for the "-" code in every appendix.
const NotStated = "Not Stated"

// Entry is one code and its label.
type Entry struct {
	Code  string
	Label string
}

// LookupTable maps a categorical code to its label. It is immutable once
// built and every code appears once.
type LookupTable struct {
	Field       string // code column it expands
	LabelColumn string // column the label is written to
	entries     []Entry
	labels      map[string]string
}

// NewLookupTable builds a table for field. A repeated code is reported as
// table.ErrJoinCardinality since joining on it would duplicate records.
func NewLookupTable(field, labelColumn string, entries ...Entry) (*LookupTable, error) {
	labels := make(map[string]string, len(entries))
	for _, e := range entries {
		if _, dup := labels[e.Code]; dup {
			return nil, fmt.Errorf("%w: %s code %q listed twice", table.ErrJoinCardinality, field, e.Code)
		}
		labels[e.Code] = e.Label
	}
	return &LookupTable{
		Field:       field,
		LabelColumn: labelColumn,
		entries:     append([]Entry(nil), entries...),
		labels:      labels,
	}, nil
}

func mustLookupTable(field, labelColumn string, entries ...Entry) *LookupTable {
	lt, err := NewLookupTable(field, labelColumn, entries...)
	if err != nil {
		panic(err)
	}
	return lt
}

// Label returns the label for code.
func (lt *LookupTable) Label(code string) (string, bool) {
	l, ok := lt.labels[code]
	return l, ok
}

// Entries returns the appendix in its published order.
func (lt *LookupTable) Entries() []Entry {
	return append([]Entry(nil), lt.entries...)
}

// Len returns the number of codes.
func (lt *LookupTable) Len() int { return len(lt.entries) }

// Table renders the appendix as a two-column table keyed on Field, ready to
// be joined onto a record table.
func (lt *LookupTable) Table() *table.Table {
	rows := make([][]table.Value, len(lt.entries))
	for i, e := range lt.entries {
		rows[i] = []table.Value{table.Str(e.Code), table.Str(e.Label)}
	}
	t, err := table.New([]string{lt.Field, lt.LabelColumn}, rows)
	if err != nil {
		// Field and LabelColumn are distinct for every table in this package.
		panic(err)
	}
	return t
}

// PCFViolation is the primary collision factor violation category appendix.
var PCFViolation = mustLookupTable("pcf_violation_category", "pcf_violation_label",
	Entry{"01", "Driving or Bicycling Under the Influence of Alcohol or Drug"},
	Entry{"02", "Impeding Traffic"},
	Entry{"03", "Unsafe Speed"},
	Entry{"04", "Following Too Closely"},
	Entry{"05", "Wrong Side of Road"},
	Entry{"06", "Improper Passing"},
	Entry{"07", "Unsafe Lane Change"},
	Entry{"08", "Improper Turning"},
	Entry{"09", "Automobile Right of Way"},
	Entry{"10", "Pedestrian Right of Way"},
	Entry{"11", "Pedestrian Violation"},
	Entry{"12", "Traffic Signals and Signs"},
	Entry{"13", "Hazardous Parking"},
	Entry{"14", "Lights"},
	Entry{"15", "Brakes"},
	Entry{"16", "Other Equipment"},
	Entry{"17", "Other Hazardous Violation"},
	Entry{"18", "Other Than Driver (or Pedestrian)"},
	Entry{"21", "Unsafe Starting or Backing"},
	Entry{"22", "Other Improper Driving"},
	Entry{"23", "Pedestrian or Other Under the Influence of Alcohol or Drug"},
	Entry{"24", "Fell Asleep"},
	Entry{"00", "Unknown"},
	Entry{"-", NotStated},
)

// Lighting is the lighting condition appendix.
var Lighting = mustLookupTable("lighting", "lighting_label",
	Entry{"A", "Daylight"},
	Entry{"B", "Dusk - Dawn"},
	Entry{"C", "Dark - Street Lights"},
	Entry{"D", "Dark - No Street Lights"},
	Entry{"E", "Dark - Street Lights Not Functioning"},
	Entry{"-", NotStated},
)

// RoadSurface is the road surface condition appendix.
var RoadSurface = mustLookupTable("road_surface", "road_surface_label",
	Entry{"A", "Dry"},
	Entry{"B", "Wet"},
	Entry{"C", "Snowy or Icy"},
	Entry{"D", "Slippery (Muddy, Oily, etc.)"},
	Entry{"-", NotStated},
)

// PedestrianAction is the pedestrian action appendix.
var PedestrianAction = mustLookupTable("pedestrian_action", "pedestrian_action_label",
	Entry{"A", "No Pedestrian Involved"},
	Entry{"B", "Crossing in Crosswalk at Intersection"},
	Entry{"C", "Crossing in Crosswalk Not at Intersection"},
	Entry{"D", "Crossing Not in Crosswalk"},
	Entry{"E", "In Road, Including Shoulder"},
	Entry{"F", "Not in Road"},
	Entry{"G", "Approaching/Leaving School Bus"},
	Entry{"-", NotStated},
)

// CollisionType is the type of collision appendix.
var CollisionType = mustLookupTable("type_of_collision", "type_of_collision_label",
	Entry{"A", "Head-On"},
	Entry{"B", "Sideswipe"},
	Entry{"C", "Rear End"},
	Entry{"D", "Broadside"},
	Entry{"E", "Hit Object"},
	Entry{"F", "Overturned"},
	Entry{"G", "Vehicle/Pedestrian"},
	Entry{"H", "Other"},
	Entry{"-", NotStated},
)

// All returns the five categorical appendices.
func All() []*LookupTable {
	return []*LookupTable{PCFViolation, Lighting, RoadSurface, PedestrianAction, CollisionType}
}
