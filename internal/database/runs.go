package database

import (
	"database/sql"
)

// StartRun records a run as running.
func (db *DB) StartRun(id, inputPath, outputPath string) error {
	_, err := db.conn.Exec(
		`INSERT INTO runs (id, input_path, output_path, status) VALUES (?, ?, ?, ?)`,
		id, inputPath, outputPath, RunRunning,
	)
	return err
}

// FinishRun stores the outcome of a run.
func (db *DB) FinishRun(id, status string, rowsIn, rowsOut int, errMsg *string, report string) error {
	_, err := db.conn.Exec(
		`UPDATE runs SET status = ?, rows_in = ?, rows_out = ?, error = ?, report_markdown = ?,
		finished_at = datetime('now') WHERE id = ?`,
		status, rowsIn, rowsOut, errMsg, report, id,
	)
	return err
}

// InsertRunCounts stores the per-predicate row counts of one stage.
func (db *DB) InsertRunCounts(counts []RunCount) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	for _, c := range counts {
		if _, err := tx.Exec(
			`INSERT INTO run_counts (run_id, stage, predicate, row_count) VALUES (?, ?, ?, ?)`,
			c.RunID, c.Stage, c.Predicate, c.Rows,
		); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// GetRun returns a run by ID, or nil if it does not exist.
func (db *DB) GetRun(id string) (*Run, error) {
	row := db.conn.QueryRow(
		`SELECT id, input_path, output_path, status, rows_in, rows_out, error, report_markdown,
		started_at, finished_at FROM runs WHERE id = ?`, id,
	)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// GetAllRuns returns all runs, newest first.
func (db *DB) GetAllRuns() ([]Run, error) {
	rows, err := db.conn.Query(
		`SELECT id, input_path, output_path, status, rows_in, rows_out, error, report_markdown,
		started_at, finished_at FROM runs ORDER BY started_at DESC, rowid DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// GetRunCounts returns the counts recorded for a run in insertion order.
func (db *DB) GetRunCounts(runID string) ([]RunCount, error) {
	rows, err := db.conn.Query(
		`SELECT run_id, stage, predicate, row_count FROM run_counts WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []RunCount
	for rows.Next() {
		var c RunCount
		if err := rows.Scan(&c.RunID, &c.Stage, &c.Predicate, &c.Rows); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// GetStats returns aggregate ledger statistics.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}

	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM runs", &s.Runs},
		{"SELECT COUNT(*) FROM runs WHERE status = 'succeeded'", &s.SucceededRuns},
		{"SELECT COUNT(*) FROM runs WHERE status = 'failed'", &s.FailedRuns},
		{"SELECT COUNT(*) FROM geocode_cache", &s.CachedGeocodes},
		{"SELECT COUNT(*) FROM geocode_cache WHERE matched = 1", &s.CachedMatches},
	}

	for _, q := range queries {
		if err := db.conn.QueryRow(q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}

	runs, err := db.GetAllRuns()
	if err != nil {
		return nil, err
	}
	if len(runs) > 0 {
		s.LastRun = &runs[0]
	}
	return s, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var r Run
	if err := s.Scan(&r.ID, &r.InputPath, &r.OutputPath, &r.Status, &r.RowsIn, &r.RowsOut,
		&r.Error, &r.ReportMarkdown, &r.StartedAt, &r.FinishedAt); err != nil {
		return nil, err
	}
	return &r, nil
}
