package table

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ReadOptions controls how CSV cells become values.
type ReadOptions struct {
	// NAValues are cell contents read as null after trimming.
	NAValues []string
	// NormalizeHeader lowercases header names and replaces spaces with
	// underscores.
	NormalizeHeader bool
}

// ReadCSV parses a CSV stream with a header row. A UTF-8 BOM on the first
// header cell is ignored. Short rows are padded with nulls.
func ReadCSV(r io.Reader, opts ReadOptions) (*Table, error) {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("csv has no header row")
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	cols := make([]string, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if opts.NormalizeHeader {
			h = NormalizeName(h)
		}
		cols[i] = h
	}

	na := make(map[string]struct{}, len(opts.NAValues))
	for _, v := range opts.NAValues {
		na[v] = struct{}{}
	}

	var rows [][]Value
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading line %d: %w", line, err)
		}
		if len(rec) > len(cols) {
			return nil, fmt.Errorf("line %d: %d fields for %d columns", line, len(rec), len(cols))
		}
		row := make([]Value, len(cols))
		for i, cell := range rec {
			cell = strings.TrimSpace(cell)
			if _, isNA := na[cell]; isNA {
				continue
			}
			row[i] = Str(cell)
		}
		rows = append(rows, row)
	}
	return New(cols, rows)
}

// ReadCSVFile opens path and parses it with ReadCSV.
func ReadCSVFile(path string, opts ReadOptions) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := ReadCSV(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// WriteCSV writes the header and all rows. Null values are written empty.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.columns); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	rec := make([]string, len(t.columns))
	for i, r := range t.rows {
		for j, v := range r {
			rec[j] = v.S
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("writing row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSVFile writes the table to path atomically: the data goes to a
// temporary file in the same directory which then replaces path. On error
// path is left untouched.
func (t *Table) WriteCSVFile(path string) error {
	f, err := t.StageCSVFile(path)
	if err != nil {
		return err
	}
	return f.Commit()
}

// StagedFile is a fully written temporary file waiting to replace its
// target. Exactly one of Commit or Discard should be called.
type StagedFile struct {
	tmp  string
	path string
}

// StageCSVFile writes the table to a temporary file next to path without
// touching path itself.
func (t *Table) StageCSVFile(path string) (*StagedFile, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	staged := &StagedFile{tmp: tmp.Name(), path: path}

	if err := t.WriteCSV(tmp); err != nil {
		tmp.Close()
		staged.Discard()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		staged.Discard()
		return nil, fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(staged.tmp, 0o644); err != nil {
		staged.Discard()
		return nil, fmt.Errorf("setting permissions: %w", err)
	}
	return staged, nil
}

// Path is the file the staged data will replace.
func (f *StagedFile) Path() string { return f.path }

// Commit moves the staged data into place. The temporary file is removed
// whether or not the rename succeeds.
func (f *StagedFile) Commit() error {
	if err := os.Rename(f.tmp, f.path); err != nil {
		f.Discard()
		return fmt.Errorf("replacing %s: %w", f.path, err)
	}
	return nil
}

// Discard removes the staged data and leaves the target untouched.
func (f *StagedFile) Discard() {
	os.Remove(f.tmp)
}

// NormalizeName lowercases s and turns spaces and dashes into underscores,
// so "Accuracy Score" and "accuracy_score" name the same column.
func NormalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}
