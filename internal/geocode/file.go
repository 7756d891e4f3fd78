package geocode

import (
	"fmt"
	"log"
	"strconv"

	"github.com/TobiSchelling/collisionclean/internal/table"
)

// WriteAddressesFile writes addrs as case_id, cross_street, city, state for
// upload to a spreadsheet geocoder. The geocoded sheet it returns can be
// read back with ReadResultsFile.
func WriteAddressesFile(path string, addrs []Address) error {
	rows := make([][]table.Value, len(addrs))
	for i, a := range addrs {
		rows[i] = []table.Value{
			table.Str(a.CaseID), table.Str(a.CrossStreet), table.Str(a.City), table.Str(a.State),
		}
	}
	t, err := table.New([]string{ColCaseID, ColCrossStreet, ColCity, ColState}, rows)
	if err != nil {
		return err
	}
	return t.WriteCSVFile(path)
}

// WriteResultsFile writes results in ResultColumns layout.
func WriteResultsFile(path string, results []Result) error {
	t, err := ResultsTable(results)
	if err != nil {
		return err
	}
	return t.WriteCSVFile(path)
}

// ReadResultsFile loads an intermediate results file. Header names are
// normalized, so a Geocodio spreadsheet export ("Accuracy Score",
// "Latitude", "County", ...) loads as-is as long as it kept the case_id
// column. Rows without a parseable accuracy score in [0, 1] (NaN included)
// are skipped and counted; they are treated as unmatched.
func ReadResultsFile(path string) ([]Result, int, error) {
	t, err := table.ReadCSVFile(path, table.ReadOptions{
		NAValues:        []string{"", "NA"},
		NormalizeHeader: true,
	})
	if err != nil {
		return nil, 0, err
	}
	if err := t.Require(ColCaseID, ColAccuracyScore); err != nil {
		return nil, 0, fmt.Errorf("%s: %w", path, err)
	}

	var results []Result
	skipped := 0
	for i := 0; i < t.Len(); i++ {
		r := t.Row(i)
		caseID := r.Get(ColCaseID)
		score, ok := parseFloat(r.Get(ColAccuracyScore))
		if !caseID.Valid || !ok || !(score >= 0 && score <= 1) {
			skipped++
			continue
		}
		lat, _ := parseFloat(r.Get(ColLatitude))
		lng, _ := parseFloat(r.Get(ColLongitude))
		results = append(results, Result{
			CaseID:        caseID.S,
			Latitude:      lat,
			Longitude:     lng,
			AccuracyScore: score,
			AccuracyType:  r.Get(ColAccuracyType).S,
			Zip:           r.Get(ColZip).S,
			County:        r.Get(ColCounty).S,
		})
	}
	if skipped > 0 {
		log.Printf("Skipped %d unusable rows in %s", skipped, path)
	}
	return results, skipped, nil
}

func parseFloat(v table.Value) (float64, bool) {
	if !v.Valid {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.S, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
