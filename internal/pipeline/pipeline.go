package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"

	"github.com/TobiSchelling/collisionclean/internal/clean"
	"github.com/TobiSchelling/collisionclean/internal/codebook"
	"github.com/TobiSchelling/collisionclean/internal/config"
	"github.com/TobiSchelling/collisionclean/internal/database"
	"github.com/TobiSchelling/collisionclean/internal/geocode"
	"github.com/TobiSchelling/collisionclean/internal/table"
)

// Step names, in execution order.
const (
	StepLoad     = "Load"
	StepGeocode  = "Geocode"
	StepSeverity = "Severity"
	StepExpand   = "Expand"
	StepFilter   = "Filter"
	StepExport   = "Export"
)

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	// Dropped counts the rows the step removed, per predicate.
	Dropped []clean.Count
	Err     error
}

// Result holds the results of a full pipeline run.
type Result struct {
	RunID         string
	InputPath     string
	OutputPath    string
	RowsIn        int
	RowsOut       int
	Steps         []StepResult
	Unaddressable []string
	DryRun        bool
}

// Err returns the error of the failed step, if any.
func (r *Result) Err() error {
	for _, s := range r.Steps {
		if s.Err != nil {
			return s.Err
		}
	}
	return nil
}

// Counts flattens the per-step drop counts into ledger rows.
func (r *Result) Counts() []database.RunCount {
	var out []database.RunCount
	for _, s := range r.Steps {
		for _, c := range s.Dropped {
			out = append(out, database.RunCount{RunID: r.RunID, Stage: s.Name, Predicate: c.Predicate, Rows: c.Rows})
		}
	}
	return out
}

// Pipeline runs the 6-step cleaning pipeline.
type Pipeline struct {
	cfg      *config.Config
	db       *database.DB
	geocoder geocode.Geocoder
}

// New creates a new pipeline. db records runs and may be nil. geocoder is
// only used when the geocode results file does not exist yet.
func New(cfg *config.Config, db *database.DB, geocoder geocode.Geocoder) *Pipeline {
	return &Pipeline{cfg: cfg, db: db, geocoder: geocoder}
}

// Run executes the full pipeline. Any failing step aborts the run before
// the output is written; the returned Result still describes the steps
// that ran.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	r := &Result{
		RunID:      uuid.NewString(),
		InputPath:  p.cfg.Input.Path,
		OutputPath: p.cfg.Output.Path,
	}
	if p.db != nil {
		if err := p.db.StartRun(r.RunID, r.InputPath, r.OutputPath); err != nil {
			return r, fmt.Errorf("recording run: %w", err)
		}
	}

	err := p.run(ctx, r)
	p.record(r, err)
	return r, err
}

func (p *Pipeline) run(ctx context.Context, r *Result) error {
	// Step 1: Load and project
	log.Println("Step 1/6: Loading collision export...")
	t, step := p.runLoad(r)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return step.Err
	}

	// Step 2: Geocode
	log.Println("Step 2/6: Geocoding cross streets...")
	t, step = p.runGeocode(ctx, t, r)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return step.Err
	}

	// Step 3: Severity
	log.Println("Step 3/6: Deriving severity labels...")
	out, dropped, err := clean.DeriveSeverity(t, p.cfg.Cleaning.Strict)
	step = stepResult(StepSeverity, t, out, dropped, err)
	r.Steps = append(r.Steps, step)
	if err != nil {
		return step.Err
	}
	t = out

	// Step 4: Expand codes
	log.Println("Step 4/6: Expanding categorical codes...")
	t, step = p.runExpand(t)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return step.Err
	}

	// Step 5: Filter
	log.Println("Step 5/6: Filtering non-descriptive values...")
	out, dropped, err = clean.FilterDescriptive(t)
	step = stepResult(StepFilter, t, out, dropped, err)
	r.Steps = append(r.Steps, step)
	if err != nil {
		return step.Err
	}
	t = out

	// Step 6: Export
	log.Println("Step 6/6: Writing output...")
	step = p.runExport(t, r)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return step.Err
	}
	r.RowsOut = t.Len()
	return nil
}

func (p *Pipeline) runLoad(r *Result) (*table.Table, StepResult) {
	raw, err := p.readInput()
	if err != nil {
		return nil, StepResult{Name: StepLoad, Err: err}
	}
	r.RowsIn = raw.Len()
	t, dropped, err := clean.Project(raw, p.cfg.Columns.Raw())
	if err != nil {
		return nil, StepResult{Name: StepLoad, Err: fmt.Errorf("projecting %s: %w", p.cfg.Input.Path, err)}
	}
	logDropped(StepLoad, dropped)
	return t, StepResult{
		Name:    StepLoad,
		Summary: fmt.Sprintf("Read %d records, kept %d columns", raw.Len(), len(t.Columns())),
		Dropped: dropped,
	}
}

func (p *Pipeline) runGeocode(ctx context.Context, t *table.Table, r *Result) (*table.Table, StepResult) {
	fail := func(err error) (*table.Table, StepResult) {
		return nil, StepResult{Name: StepGeocode, Err: err}
	}

	t, flagged, err := clean.ConsolidateAddresses(t, p.cfg.Location.City, p.cfg.Location.State)
	if err != nil {
		return fail(err)
	}
	r.Unaddressable = flagged
	if len(flagged) > 0 {
		log.Printf("%d records have no road names and cannot be geocoded", len(flagged))
	}

	results, source, err := p.loadResults(ctx, t)
	if err != nil {
		return fail(err)
	}
	kept, stats := geocode.Filter(results, p.cfg.Geocode.MinAccuracy, p.cfg.Geocode.ExcludeCounties)
	log.Printf("Geocode matches from %s: %d usable, %d non-deliverable, %d below %.2f, %d in excluded counties",
		source, len(kept), stats.NonDeliverable, stats.BelowThreshold, p.cfg.Geocode.MinAccuracy, stats.ExcludedCounty)

	geo, err := geocode.ResultsTable(kept)
	if err != nil {
		return fail(err)
	}
	out, dropped, err := clean.MergeGeocodes(t, geo)
	if err != nil {
		return fail(fmt.Errorf("merging geocodes: %w", err))
	}
	logDropped(StepGeocode, dropped)
	return out, StepResult{
		Name: StepGeocode,
		Summary: fmt.Sprintf("%d of %d records located (%d matches from %s, %d unaddressable)",
			out.Len(), t.Len(), len(kept), source, len(flagged)),
		Dropped: dropped,
	}
}

// loadResults reads the geocode results file when it exists. Otherwise it
// queries the geocoder and writes the file for later runs.
func (p *Pipeline) loadResults(ctx context.Context, t *table.Table) ([]geocode.Result, string, error) {
	path := p.cfg.Geocode.ResultsFile
	if _, err := os.Stat(path); err == nil {
		results, _, err := geocode.ReadResultsFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("reading geocode results: %w", err)
		}
		return results, path, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, "", fmt.Errorf("checking geocode results: %w", err)
	}

	results, err := p.geocodeTable(ctx, t)
	if err != nil {
		return nil, "", err
	}
	if err := geocode.WriteResultsFile(path, results); err != nil {
		return nil, "", fmt.Errorf("writing geocode results: %w", err)
	}
	log.Printf("Wrote %d geocode results to %s", len(results), path)
	return results, "geocoding service", nil
}

func (p *Pipeline) geocodeTable(ctx context.Context, t *table.Table) ([]geocode.Result, error) {
	if p.geocoder == nil {
		return nil, fmt.Errorf("%w: no results file at %s and no geocoder configured",
			geocode.ErrExternalService, p.cfg.Geocode.ResultsFile)
	}
	addrs, err := geocode.Addresses(t)
	if err != nil {
		return nil, err
	}
	log.Printf("Geocoding %d addresses", len(addrs))
	results, skipped, err := p.geocoder.Geocode(ctx, addrs)
	if err != nil {
		return nil, fmt.Errorf("geocoding: %w", err)
	}
	if len(skipped) > 0 {
		log.Printf("Skipped %d malformed geocode matches", len(skipped))
	}
	return results, nil
}

func (p *Pipeline) runExpand(t *table.Table) (*table.Table, StepResult) {
	out, unmatched, err := clean.ExpandCodes(t, codebook.All()...)
	if err != nil {
		return nil, StepResult{Name: StepExpand, Err: err}
	}
	for _, c := range unmatched {
		log.Printf("  %s: %d records", c.Predicate, c.Rows)
	}
	return out, StepResult{
		Name:    StepExpand,
		Summary: fmt.Sprintf("Added %d label columns, %d codes unmatched", len(codebook.All()), clean.Total(unmatched)),
	}
}

// runExport stages both files before replacing either, so a failed write
// leaves neither the output nor the unaddressable list behind.
func (p *Pipeline) runExport(t *table.Table, r *Result) StepResult {
	side, err := p.stageUnaddressable(r.Unaddressable)
	if err != nil {
		return StepResult{Name: StepExport, Err: err}
	}
	out, err := t.StageCSVFile(p.cfg.Output.Path)
	if err != nil {
		side.Discard()
		return StepResult{Name: StepExport, Err: fmt.Errorf("writing output: %w", err)}
	}
	if err := out.Commit(); err != nil {
		side.Discard()
		return StepResult{Name: StepExport, Err: fmt.Errorf("writing output: %w", err)}
	}
	if err := side.Commit(); err != nil {
		return StepResult{Name: StepExport, Err: fmt.Errorf("writing unaddressable records: %w", err)}
	}
	return StepResult{
		Name:    StepExport,
		Summary: fmt.Sprintf("Wrote %d records to %s", t.Len(), p.cfg.Output.Path),
	}
}

func (p *Pipeline) stageUnaddressable(caseIDs []string) (*table.StagedFile, error) {
	rows := make([][]table.Value, len(caseIDs))
	for i, id := range caseIDs {
		rows[i] = []table.Value{table.Str(id)}
	}
	t, err := table.New([]string{clean.ColCaseID}, rows)
	if err != nil {
		return nil, err
	}
	staged, err := t.StageCSVFile(p.cfg.UnaddressablePath())
	if err != nil {
		return nil, fmt.Errorf("writing unaddressable records: %w", err)
	}
	return staged, nil
}

// record stores the outcome of a run in the ledger. Ledger failures are
// logged, not returned, so they never mask the run's own error.
func (p *Pipeline) record(r *Result, runErr error) {
	if p.db == nil {
		return
	}
	status := database.RunSucceeded
	var errMsg *string
	if runErr != nil {
		status = database.RunFailed
		msg := runErr.Error()
		errMsg = &msg
	}
	if err := p.db.InsertRunCounts(r.Counts()); err != nil {
		log.Printf("Warning: recording counts for run %s: %v", r.RunID, err)
	}
	if err := p.db.FinishRun(r.RunID, status, r.RowsIn, r.RowsOut, errMsg, r.Markdown()); err != nil {
		log.Printf("Warning: recording run %s: %v", r.RunID, err)
	}
}

// DryRun loads the input and reports what a run would do without
// geocoding, writing output or recording anything.
func (p *Pipeline) DryRun() *Result {
	r := &Result{InputPath: p.cfg.Input.Path, OutputPath: p.cfg.Output.Path, DryRun: true}

	t, step := p.runLoad(r)
	step.Summary = "[dry-run] " + step.Summary
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	t, flagged, err := clean.ConsolidateAddresses(t, p.cfg.Location.City, p.cfg.Location.State)
	if err != nil {
		r.Steps = append(r.Steps, StepResult{Name: StepGeocode, Err: err})
		return r
	}
	r.Unaddressable = flagged
	addrs, _ := geocode.Addresses(t)
	var summary string
	if _, err := os.Stat(p.cfg.Geocode.ResultsFile); err == nil {
		summary = fmt.Sprintf("[dry-run] %d addresses, results file %s will be merged", len(addrs), p.cfg.Geocode.ResultsFile)
	} else {
		summary = fmt.Sprintf("[dry-run] %d addresses, %d would be sent to the geocoding service", len(addrs), p.uncached(addrs))
	}
	r.Steps = append(r.Steps, StepResult{
		Name:    StepGeocode,
		Summary: fmt.Sprintf("%s (%d unaddressable)", summary, len(flagged)),
	})

	r.Steps = append(r.Steps,
		StepResult{Name: StepSeverity, Summary: "[dry-run] Would recode severity 0 as 5 and add labels"},
		StepResult{Name: StepExpand, Summary: fmt.Sprintf("[dry-run] Would join %d lookup tables", len(codebook.All()))},
		StepResult{Name: StepFilter, Summary: fmt.Sprintf("[dry-run] Would apply %d exclusion predicates", len(clean.Exclusions))},
		StepResult{Name: StepExport, Summary: fmt.Sprintf("[dry-run] Would write %s", p.cfg.Output.Path)},
	)
	return r
}

// uncached counts the addresses missing from the geocode cache.
func (p *Pipeline) uncached(addrs []geocode.Address) int {
	if p.db == nil {
		return len(addrs)
	}
	n := 0
	for _, a := range addrs {
		if _, found, err := p.db.GetGeocode(a.Query()); err != nil || !found {
			n++
		}
	}
	return n
}

// ExportAddresses writes the geocodable addresses to the configured
// addresses file and returns how many were written and the case_ids that
// had no road names.
func (p *Pipeline) ExportAddresses() (int, []string, error) {
	addrs, flagged, err := p.addresses()
	if err != nil {
		return 0, nil, err
	}
	if err := geocode.WriteAddressesFile(p.cfg.Geocode.AddressesFile, addrs); err != nil {
		return 0, nil, fmt.Errorf("writing addresses: %w", err)
	}
	return len(addrs), flagged, nil
}

// Geocode queries the geocoder for every address and overwrites the
// results file. It returns the number of addresses sent and matched.
func (p *Pipeline) Geocode(ctx context.Context) (sent, matched int, err error) {
	addrs, _, err := p.addresses()
	if err != nil {
		return 0, 0, err
	}
	if p.geocoder == nil {
		return 0, 0, fmt.Errorf("%w: no geocoder configured", geocode.ErrExternalService)
	}
	results, skipped, err := p.geocoder.Geocode(ctx, addrs)
	if err != nil {
		return len(addrs), 0, fmt.Errorf("geocoding: %w", err)
	}
	if len(skipped) > 0 {
		log.Printf("Skipped %d malformed geocode matches", len(skipped))
	}
	if err := geocode.WriteResultsFile(p.cfg.Geocode.ResultsFile, results); err != nil {
		return len(addrs), len(results), fmt.Errorf("writing geocode results: %w", err)
	}
	return len(addrs), len(results), nil
}

func (p *Pipeline) addresses() ([]geocode.Address, []string, error) {
	raw, err := p.readInput()
	if err != nil {
		return nil, nil, err
	}
	t, _, err := clean.Project(raw, p.cfg.Columns.Raw())
	if err != nil {
		return nil, nil, fmt.Errorf("projecting %s: %w", p.cfg.Input.Path, err)
	}
	t, flagged, err := clean.ConsolidateAddresses(t, p.cfg.Location.City, p.cfg.Location.State)
	if err != nil {
		return nil, nil, err
	}
	addrs, err := geocode.Addresses(t)
	if err != nil {
		return nil, nil, err
	}
	return addrs, flagged, nil
}

func (p *Pipeline) readInput() (*table.Table, error) {
	t, err := table.ReadCSVFile(p.cfg.Input.Path, table.ReadOptions{NAValues: p.cfg.Cleaning.NAValues})
	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	return t, nil
}

func stepResult(name string, in, out *table.Table, dropped []clean.Count, err error) StepResult {
	if err != nil {
		return StepResult{Name: name, Err: err}
	}
	logDropped(name, dropped)
	return StepResult{
		Name:    name,
		Summary: fmt.Sprintf("Kept %d of %d records", out.Len(), in.Len()),
		Dropped: dropped,
	}
}

func logDropped(stage string, counts []clean.Count) {
	for _, c := range counts {
		log.Printf("  %s: dropped %d records (%s)", stage, c.Rows, c.Predicate)
	}
}
