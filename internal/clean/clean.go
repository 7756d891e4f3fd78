// Package clean implements the stages that turn a raw collision export into
// the analysis table: projection, address consolidation, geocode merge,
// severity derivation, code expansion and descriptive-value filtering.
//
// Each stage takes a table and returns a new one together with the number
// of rows it removed, per predicate.
package clean

import "errors"

// ErrDomain is returned when a value falls outside its enumerated domain.
var ErrDomain = errors.New("value outside domain")

// Canonical column names.
const (
	ColCaseID           = "case_id"
	ColAccidentYear     = "accident_year"
	ColPrimaryRoad      = "primary_road"
	ColSecondaryRoad    = "secondary_road"
	ColIntersectionFlag = "intersection_flag"
	ColWeather          = "weather"
	ColSeverity         = "collision_severity"
	ColPCFViolation     = "pcf_violation_category"
	ColLighting         = "lighting"
	ColRoadSurface      = "road_surface"
	ColPedestrianAction = "pedestrian_action"
	ColCollisionType    = "type_of_collision"

	ColCrossStreet   = "cross_street"
	ColCity          = "city"
	ColState         = "state"
	ColAccuracyScore = "accuracy_score"
	ColSeverityLabel = "collision_severity_label"
	ColFatal         = "fatal"
)

// Columns is the projected record layout, in output order.
var Columns = []string{
	ColCaseID,
	ColAccidentYear,
	ColPrimaryRoad,
	ColSecondaryRoad,
	ColIntersectionFlag,
	ColWeather,
	ColSeverity,
	ColPCFViolation,
	ColLighting,
	ColRoadSurface,
	ColPedestrianAction,
	ColCollisionType,
}

// Count is a number of rows attributed to a named predicate.
type Count struct {
	Predicate string
	Rows      int
}

// Total sums the rows over counts.
func Total(counts []Count) int {
	n := 0
	for _, c := range counts {
		n += c.Rows
	}
	return n
}
