// Package geocode locates collision cross streets through an external
// geocoding service and filters the matches that can be trusted.
package geocode

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/TobiSchelling/collisionclean/internal/table"
)

var (
	// ErrExternalService is returned when the geocoding service cannot
	// produce results for a batch.
	ErrExternalService = errors.New("geocoding service failure")
	// ErrTransient marks a service failure that may succeed on a later run
	// (rate limiting, 5xx, network errors).
	ErrTransient = errors.New("transient failure")
)

// Address is one record to geocode.
type Address struct {
	CaseID      string
	CrossStreet string
	City        string
	State       string
}

// Query renders the address as sent to the service.
func (a Address) Query() string {
	return a.CrossStreet + ", " + a.City + ", " + a.State
}

// Result is the geocode match for one case.
type Result struct {
	CaseID        string
	Latitude      float64
	Longitude     float64
	AccuracyScore float64
	AccuracyType  string
	Zip           string
	County        string
}

// Geocoder resolves addresses. Addresses without a match are absent from
// results. skipped lists the case_ids whose match came back malformed; for
// those the service gave no verdict, so they must not be taken as misses.
type Geocoder interface {
	Geocode(ctx context.Context, addrs []Address) (results []Result, skipped []string, err error)
}

// Result table columns.
const (
	ColCaseID        = "case_id"
	ColCrossStreet   = "cross_street"
	ColCity          = "city"
	ColState         = "state"
	ColLatitude      = "latitude"
	ColLongitude     = "longitude"
	ColAccuracyScore = "accuracy_score"
	ColAccuracyType  = "accuracy_type"
	ColZip           = "zip"
	ColCounty        = "county"
)

// ResultColumns is the layout of the intermediate results file.
var ResultColumns = []string{
	ColCaseID, ColLatitude, ColLongitude, ColAccuracyScore, ColAccuracyType, ColZip, ColCounty,
}

// Addresses lists the geocodable records of t, which must carry case_id,
// cross_street, city and state. Records with a null cross street are
// skipped.
func Addresses(t *table.Table) ([]Address, error) {
	if err := t.Require(ColCaseID, ColCrossStreet, ColCity, ColState); err != nil {
		return nil, err
	}
	var out []Address
	for i := 0; i < t.Len(); i++ {
		r := t.Row(i)
		cs := r.Get(ColCrossStreet)
		if !cs.Valid {
			continue
		}
		out = append(out, Address{
			CaseID:      r.Get(ColCaseID).S,
			CrossStreet: cs.S,
			City:        r.Get(ColCity).S,
			State:       r.Get(ColState).S,
		})
	}
	return out, nil
}

// FilterStats counts the results removed by Filter.
type FilterStats struct {
	NonDeliverable int // accuracy score of exactly zero
	BelowThreshold int // below the threshold or not a number
	ExcludedCounty int
}

// Filter keeps the results that are reliable enough to merge: a non-zero
// accuracy score of at least minAccuracy, outside every excluded county.
// County names compare case-insensitively.
func Filter(results []Result, minAccuracy float64, excludeCounties []string) ([]Result, FilterStats) {
	excluded := make(map[string]struct{}, len(excludeCounties))
	for _, c := range excludeCounties {
		excluded[strings.ToLower(strings.TrimSpace(c))] = struct{}{}
	}

	var stats FilterStats
	var kept []Result
	for _, r := range results {
		switch {
		case r.AccuracyScore == 0:
			stats.NonDeliverable++
		case !(r.AccuracyScore >= minAccuracy):
			stats.BelowThreshold++
		default:
			if _, out := excluded[strings.ToLower(strings.TrimSpace(r.County))]; out {
				stats.ExcludedCounty++
				continue
			}
			kept = append(kept, r)
		}
	}
	return kept, stats
}

// ResultsTable renders results in ResultColumns layout. Floats are written
// in their shortest exact form so the output is stable across runs.
func ResultsTable(results []Result) (*table.Table, error) {
	rows := make([][]table.Value, len(results))
	for i, r := range results {
		rows[i] = []table.Value{
			table.Str(r.CaseID),
			table.Str(formatFloat(r.Latitude)),
			table.Str(formatFloat(r.Longitude)),
			table.Str(formatFloat(r.AccuracyScore)),
			optional(r.AccuracyType),
			optional(r.Zip),
			optional(r.County),
		}
	}
	return table.New(ResultColumns, rows)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func optional(s string) table.Value {
	if s == "" {
		return table.Null
	}
	return table.Str(s)
}
