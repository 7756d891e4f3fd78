package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/TobiSchelling/collisionclean/internal/clean"
	"github.com/TobiSchelling/collisionclean/internal/config"
	"github.com/TobiSchelling/collisionclean/internal/database"
	"github.com/TobiSchelling/collisionclean/internal/geocode"
	"github.com/TobiSchelling/collisionclean/internal/table"
)

const exportHeader = "CASE_ID,ACCIDENT_YEAR,JURIS,PRIMARY_RD,SECONDARY_RD,INTERSECTION,WEATHER_1," +
	"COLLISION_SEVERITY,PCF_VIOL_CATEGORY,LIGHTING,ROAD_SURFACE,PED_ACTION,TYPE_OF_COLLISION"

// Four records: one clean survivor, one with a non-descriptive violation,
// one with a poor geocode and one without road names.
var exportRows = []string{
	"1,2019,3801,MARKET ST,5TH ST,Y,A,0,03,A,A,A,C",
	"2,2019,3801,MISSION ST,16TH ST,Y,A,2,22,A,A,A,C",
	"3,2019,3801,GEARY BLVD,ARGUELLO BLVD,Y,A,1,03,A,A,A,C",
	"4,2019,3801,,,N,A,3,03,A,A,A,C",
}

type fakeGeocoder struct {
	results map[string]geocode.Result
	err     error
	calls   int
}

func (f *fakeGeocoder) Geocode(_ context.Context, addrs []geocode.Address) ([]geocode.Result, []string, error) {
	f.calls++
	if f.err != nil {
		return nil, nil, f.err
	}
	var out []geocode.Result
	for _, a := range addrs {
		if r, ok := f.results[a.CaseID]; ok {
			r.CaseID = a.CaseID
			out = append(out, r)
		}
	}
	return out, nil, nil
}

func newFakeGeocoder() *fakeGeocoder {
	match := func(lat, lng, acc float64) geocode.Result {
		return geocode.Result{
			Latitude: lat, Longitude: lng, AccuracyScore: acc,
			AccuracyType: "intersection", Zip: "94103", County: "San Francisco County",
		}
	}
	return &fakeGeocoder{results: map[string]geocode.Result{
		"1": match(37.7825, -122.4078, 0.9),
		"2": match(37.7650, -122.4194, 1),
		"3": match(37.7811, -122.4590, 0.3),
	}}
}

func testConfig(t *testing.T, input string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	in := filepath.Join(dir, "collisions.csv")
	if err := os.WriteFile(in, []byte(input), 0o644); err != nil {
		t.Fatalf("failed to write input: %v", err)
	}
	return &config.Config{
		Input:    config.Input{Path: in},
		Output:   config.Output{Path: filepath.Join(dir, "out", "collisions_clean.csv"), DataDir: dir},
		Location: config.Location{City: "San Francisco", State: "CA"},
		Geocode: config.Geocode{
			ResultsFile:     filepath.Join(dir, "coordinates_geocodio.csv"),
			AddressesFile:   filepath.Join(dir, "addresses.csv"),
			MinAccuracy:     0.52,
			ExcludeCounties: []string{"San Mateo County"},
		},
		Cleaning: config.Cleaning{NAValues: []string{"", "NA"}},
		Columns:  config.DefaultColumns(),
	}
}

func exportCSV(header string, rows ...string) string {
	return header + "\n" + strings.Join(rows, "\n") + "\n"
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunEndToEnd(t *testing.T) {
	cfg := testConfig(t, "\ufeff"+exportCSV(exportHeader, exportRows...))
	db := openTestDB(t)
	geo := newFakeGeocoder()

	result, err := New(cfg, db, geo).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RowsIn != 4 || result.RowsOut != 1 {
		t.Errorf("expected 4 in / 1 out, got %d / %d", result.RowsIn, result.RowsOut)
	}
	if len(result.Steps) != 6 {
		t.Errorf("expected 6 steps, got %d", len(result.Steps))
	}
	if dropped := sumCounts(result.Counts()); dropped != result.RowsIn-result.RowsOut {
		t.Errorf("expected drops to account for %d records, got %d", result.RowsIn-result.RowsOut, dropped)
	}

	out, err := table.ReadCSVFile(cfg.Output.Path, table.ReadOptions{})
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	if out.Len() != 1 {
		t.Fatalf("expected 1 output record, got %d", out.Len())
	}
	row := out.Row(0)
	want := map[string]string{
		clean.ColCaseID:        "1",
		clean.ColSeverity:      "5",
		clean.ColSeverityLabel: "Property Damage Only",
		clean.ColFatal:         "Non-Fatal",
		clean.ColCrossStreet:   "MARKET ST & 5TH ST",
		clean.ColAccuracyScore: "0.9",
		"pcf_violation_label":  "Unsafe Speed",
		"lighting_label":       "Daylight",
	}
	for col, v := range want {
		if got := row.Get(col).S; got != v {
			t.Errorf("%s: expected %q, got %q", col, v, got)
		}
	}

	if _, err := os.Stat(cfg.Geocode.ResultsFile); err != nil {
		t.Errorf("expected results file to be written: %v", err)
	}
	unaddr, err := os.ReadFile(cfg.UnaddressablePath())
	if err != nil {
		t.Fatalf("expected unaddressable file: %v", err)
	}
	if string(unaddr) != "case_id\n4\n" {
		t.Errorf("unexpected unaddressable file %q", unaddr)
	}

	run, err := db.GetRun(result.RunID)
	if err != nil || run == nil {
		t.Fatalf("expected run in ledger, got %v, %v", run, err)
	}
	if run.Status != database.RunSucceeded || run.RowsOut != 1 {
		t.Errorf("unexpected ledger entry %+v", run)
	}
	counts, _ := db.GetRunCounts(result.RunID)
	if sumCounts(counts) != 3 {
		t.Errorf("expected 3 dropped records in ledger, got %+v", counts)
	}
}

func TestRunDropsLowAccuracyGeocode(t *testing.T) {
	cfg := testConfig(t, exportCSV(exportHeader, exportRows[2]))
	result, err := New(cfg, nil, newFakeGeocoder()).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RowsOut != 0 {
		t.Errorf("expected the 0.3 accuracy record to be dropped, got %d rows", result.RowsOut)
	}
	geocodeStep := result.Steps[1]
	if len(geocodeStep.Dropped) != 1 || geocodeStep.Dropped[0].Rows != 1 {
		t.Errorf("expected one geocode drop, got %+v", geocodeStep.Dropped)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	cfg := testConfig(t, exportCSV(exportHeader, exportRows...))
	geo := newFakeGeocoder()
	p := New(cfg, openTestDB(t), geo)

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first, err := os.ReadFile(cfg.Output.Path)
	if err != nil {
		t.Fatalf("reading first output: %v", err)
	}

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	second, err := os.ReadFile(cfg.Output.Path)
	if err != nil {
		t.Fatalf("reading second output: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Errorf("expected byte-identical output:\n%s\n---\n%s", first, second)
	}
	if geo.calls != 1 {
		t.Errorf("expected the second run to use the results file, geocoder called %d times", geo.calls)
	}
}

func TestRunSchemaMismatchWritesNothing(t *testing.T) {
	header := strings.Replace(exportHeader, ",PED_ACTION", "", 1)
	cfg := testConfig(t, exportCSV(header, "1,2019,3801,MARKET ST,5TH ST,Y,A,0,03,A,A,C"))
	db := openTestDB(t)
	geo := newFakeGeocoder()

	result, err := New(cfg, db, geo).Run(context.Background())
	if !errors.Is(err, table.ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
	var se *table.SchemaError
	if !errors.As(err, &se) || len(se.Missing) != 1 || se.Missing[0] != "PED_ACTION" {
		t.Errorf("expected PED_ACTION reported missing, got %v", err)
	}
	if geo.calls != 0 {
		t.Error("expected no geocoding on a schema mismatch")
	}
	if _, err := os.Stat(cfg.Output.Path); !os.IsNotExist(err) {
		t.Error("expected no output file")
	}

	run, _ := db.GetRun(result.RunID)
	if run == nil || run.Status != database.RunFailed || run.Error == nil {
		t.Fatalf("expected failed run in ledger, got %+v", run)
	}
}

func TestRunExportFailureLeavesNoSideFile(t *testing.T) {
	cfg := testConfig(t, exportCSV(exportHeader, exportRows...))
	db := openTestDB(t)
	// A non-empty directory where the output belongs makes the final rename fail.
	if err := os.MkdirAll(filepath.Join(cfg.Output.Path, "keep"), 0o755); err != nil {
		t.Fatal(err)
	}

	result, err := New(cfg, db, newFakeGeocoder()).Run(context.Background())
	if err == nil {
		t.Fatal("expected the export to fail")
	}
	if _, err := os.Stat(cfg.UnaddressablePath()); !os.IsNotExist(err) {
		t.Error("expected no unaddressable.csv after a failed export")
	}
	entries, _ := os.ReadDir(filepath.Dir(cfg.Output.Path))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("expected staged files cleaned up, found %s", e.Name())
		}
	}

	run, _ := db.GetRun(result.RunID)
	if run == nil || run.Status != database.RunFailed {
		t.Fatalf("expected failed run in ledger, got %+v", run)
	}
}

func TestRunGeocoderFailure(t *testing.T) {
	cfg := testConfig(t, exportCSV(exportHeader, exportRows...))
	geo := &fakeGeocoder{err: fmt.Errorf("%w: 503", geocode.ErrExternalService)}

	_, err := New(cfg, nil, geo).Run(context.Background())
	if !errors.Is(err, geocode.ErrExternalService) {
		t.Fatalf("expected external service error, got %v", err)
	}
	for _, path := range []string{cfg.Output.Path, cfg.Geocode.ResultsFile} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("expected %s not to be written", path)
		}
	}
}

func TestRunWithoutGeocoderNeedsResultsFile(t *testing.T) {
	cfg := testConfig(t, exportCSV(exportHeader, exportRows...))
	_, err := New(cfg, nil, nil).Run(context.Background())
	if !errors.Is(err, geocode.ErrExternalService) {
		t.Fatalf("expected external service error, got %v", err)
	}

	results := []geocode.Result{{CaseID: "1", Latitude: 37.7825, Longitude: -122.4078, AccuracyScore: 1}}
	if err := geocode.WriteResultsFile(cfg.Geocode.ResultsFile, results); err != nil {
		t.Fatalf("failed to write results: %v", err)
	}
	result, err := New(cfg, nil, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RowsOut != 1 {
		t.Errorf("expected 1 record from the results file, got %d", result.RowsOut)
	}
}

func TestDryRunWritesNothing(t *testing.T) {
	cfg := testConfig(t, exportCSV(exportHeader, exportRows...))
	db := openTestDB(t)
	geo := newFakeGeocoder()

	result := New(cfg, db, geo).DryRun()
	if err := result.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Steps) != 6 {
		t.Errorf("expected 6 steps, got %d", len(result.Steps))
	}
	if !strings.Contains(result.Steps[1].Summary, "3 would be sent") {
		t.Errorf("unexpected geocode summary %q", result.Steps[1].Summary)
	}
	if geo.calls != 0 {
		t.Error("expected no geocoding in a dry run")
	}
	if _, err := os.Stat(cfg.Output.Path); !os.IsNotExist(err) {
		t.Error("expected no output file")
	}
	runs, _ := db.GetAllRuns()
	if len(runs) != 0 {
		t.Errorf("expected no recorded runs, got %d", len(runs))
	}
}

func TestExportAddresses(t *testing.T) {
	cfg := testConfig(t, exportCSV(exportHeader, exportRows...))

	n, flagged, err := New(cfg, nil, nil).ExportAddresses()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 || len(flagged) != 1 || flagged[0] != "4" {
		t.Errorf("expected 3 addresses and case 4 flagged, got %d %v", n, flagged)
	}
	data, err := os.ReadFile(cfg.Geocode.AddressesFile)
	if err != nil {
		t.Fatalf("failed to read addresses: %v", err)
	}
	if !strings.HasPrefix(string(data), "case_id,cross_street,city,state\n1,MARKET ST & 5TH ST,San Francisco,CA\n") {
		t.Errorf("unexpected addresses file:\n%s", data)
	}
}

func TestGeocodeWritesResultsFile(t *testing.T) {
	cfg := testConfig(t, exportCSV(exportHeader, exportRows...))

	sent, matched, err := New(cfg, nil, newFakeGeocoder()).Geocode(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sent != 3 || matched != 3 {
		t.Errorf("expected 3 sent / 3 matched, got %d / %d", sent, matched)
	}
	results, _, err := geocode.ReadResultsFile(cfg.Geocode.ResultsFile)
	if err != nil {
		t.Fatalf("failed to read results: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("expected 3 results, got %d", len(results))
	}
}

func TestMarkdownReport(t *testing.T) {
	cfg := testConfig(t, exportCSV(exportHeader, exportRows...))
	result, err := New(cfg, nil, newFakeGeocoder()).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	md := result.Markdown()
	for _, want := range []string{
		"# Run " + result.RunID,
		"**Records out:** 1",
		"| Filter |",
		"1 records had no road names",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("expected report to contain %q:\n%s", want, md)
		}
	}

	counts := map[string]int{}
	for _, c := range result.Counts() {
		counts[c.Stage+": "+c.Predicate] = c.Rows
	}
	if counts["Filter: pcf_violation_label = Other Improper Driving"] != 1 {
		t.Errorf("expected one Other Improper Driving drop, got %v", counts)
	}
	if counts["Geocode: no reliable geocode match"] != 2 {
		t.Errorf("expected two geocode drops, got %v", counts)
	}
}

func sumCounts(counts []database.RunCount) int {
	n := 0
	for _, c := range counts {
		n += c.Rows
	}
	return n
}
