package database

// Run status values.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Run is one pipeline execution.
type Run struct {
	ID             string
	InputPath      string
	OutputPath     string
	Status         string
	RowsIn         int
	RowsOut        int
	Error          *string
	ReportMarkdown *string
	StartedAt      *string
	FinishedAt     *string
}

// RunCount is the number of rows a predicate removed during a run stage.
type RunCount struct {
	RunID     string
	Stage     string
	Predicate string
	Rows      int
}

// Stats contains aggregate ledger statistics.
type Stats struct {
	Runs           int
	SucceededRuns  int
	FailedRuns     int
	CachedGeocodes int
	CachedMatches  int
	LastRun        *Run
}
