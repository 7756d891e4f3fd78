package table

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func mustTable(t *testing.T, cols []string, rows ...[]Value) *Table {
	t.Helper()
	tbl, err := New(cols, rows)
	if err != nil {
		t.Fatalf("failed to build table: %v", err)
	}
	return tbl
}

func TestNewRejectsRaggedRows(t *testing.T) {
	_, err := New([]string{"a", "b"}, [][]Value{{Str("1")}})
	if err == nil {
		t.Fatal("expected error for short row")
	}
}

func TestNewRejectsDuplicateColumns(t *testing.T) {
	if _, err := New([]string{"a", "a"}, nil); err == nil {
		t.Fatal("expected error for duplicate column")
	}
}

func TestSelectMissingColumns(t *testing.T) {
	tbl := mustTable(t, []string{"a", "b"}, []Value{Str("1"), Str("2")})

	_, err := tbl.Select("a", "c", "d")
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
	var se *SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("expected *SchemaError, got %T", err)
	}
	if len(se.Missing) != 2 || se.Missing[0] != "c" || se.Missing[1] != "d" {
		t.Errorf("expected missing [c d], got %v", se.Missing)
	}
}

func TestSelectReordersAndLeavesInputAlone(t *testing.T) {
	tbl := mustTable(t, []string{"a", "b", "c"}, []Value{Str("1"), Str("2"), Str("3")})

	out, err := tbl.Select("c", "a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.Join(out.Columns(), ","); got != "c,a" {
		t.Errorf("expected columns c,a, got %s", got)
	}
	if out.Row(0).Get("c").S != "3" {
		t.Errorf("expected c=3, got %q", out.Row(0).Get("c").S)
	}
	if len(tbl.Columns()) != 3 {
		t.Error("expected input table to keep its columns")
	}
}

func TestWithColumnIsCopyOnWrite(t *testing.T) {
	tbl := mustTable(t, []string{"a"}, []Value{Str("x")}, []Value{Null})

	out := tbl.WithColumn("a", func(r Row) Value {
		if !r.Get("a").Valid {
			return Str("filled")
		}
		return r.Get("a")
	})
	out = out.WithColumn("b", func(r Row) Value { return Str(r.Get("a").S + "!") })

	if tbl.Row(1).Get("a").Valid {
		t.Error("expected original table to be unchanged")
	}
	if out.Row(1).Get("a").S != "filled" {
		t.Errorf("expected filled, got %q", out.Row(1).Get("a").S)
	}
	if out.Row(0).Get("b").S != "x!" {
		t.Errorf("expected x!, got %q", out.Row(0).Get("b").S)
	}
	if got := strings.Join(out.Columns(), ","); got != "a,b" {
		t.Errorf("expected columns a,b, got %s", got)
	}
}

func TestFilterPreservesOrder(t *testing.T) {
	tbl := mustTable(t, []string{"n"},
		[]Value{Str("1")}, []Value{Str("2")}, []Value{Str("3")}, []Value{Str("4")})

	out := tbl.Filter(func(r Row) bool { return r.Get("n").S != "2" })
	if out.Len() != 3 {
		t.Fatalf("expected 3 rows, got %d", out.Len())
	}
	for i, want := range []string{"1", "3", "4"} {
		if got := out.Row(i).Get("n").S; got != want {
			t.Errorf("row %d: expected %s, got %s", i, want, got)
		}
	}
}

func TestUnique(t *testing.T) {
	tbl := mustTable(t, []string{"id"}, []Value{Str("1")}, []Value{Null}, []Value{Null})
	if err := tbl.Unique("id"); err != nil {
		t.Errorf("nulls should not count as duplicates: %v", err)
	}

	tbl = mustTable(t, []string{"id"}, []Value{Str("1")}, []Value{Str("1")})
	if err := tbl.Unique("id"); !errors.Is(err, ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}
}

func TestLeftJoinKeepsUnmatchedRows(t *testing.T) {
	left := mustTable(t, []string{"id", "code"},
		[]Value{Str("1"), Str("A")},
		[]Value{Str("2"), Str("Z")},
		[]Value{Str("3"), Null},
	)
	right := mustTable(t, []string{"code", "label"},
		[]Value{Str("A"), Str("Alpha")},
		[]Value{Str("B"), Str("Beta")},
	)

	out, err := left.LeftJoin("code", right, "code")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Len() != 3 {
		t.Fatalf("expected 3 rows, got %d", out.Len())
	}
	if got := out.Row(0).Get("label"); got != Str("Alpha") {
		t.Errorf("expected Alpha, got %+v", got)
	}
	if out.Row(1).Get("label").Valid {
		t.Error("expected null label for unmatched code")
	}
	if out.Row(2).Get("label").Valid {
		t.Error("expected null label for null code")
	}
	if got := strings.Join(out.Columns(), ","); got != "id,code,label" {
		t.Errorf("unexpected columns %s", got)
	}
}

func TestLeftJoinDuplicateRightKey(t *testing.T) {
	left := mustTable(t, []string{"code"}, []Value{Str("A")})
	right := mustTable(t, []string{"code", "label"},
		[]Value{Str("A"), Str("Alpha")},
		[]Value{Str("A"), Str("Again")},
	)

	_, err := left.LeftJoin("code", right, "code")
	if !errors.Is(err, ErrJoinCardinality) {
		t.Fatalf("expected ErrJoinCardinality, got %v", err)
	}
}

func TestLeftJoinColumnCollision(t *testing.T) {
	left := mustTable(t, []string{"code", "label"}, []Value{Str("A"), Str("x")})
	right := mustTable(t, []string{"code", "label"}, []Value{Str("A"), Str("Alpha")})

	if _, err := left.LeftJoin("code", right, "code"); err == nil {
		t.Fatal("expected error for colliding column")
	}
}

func TestReadCSV(t *testing.T) {
	input := "\ufeffCase ID,Name,Score\n1, Ann ,0.9\n2,NA,\n3,Bo\n"
	tbl, err := ReadCSV(strings.NewReader(input), ReadOptions{
		NAValues:        []string{"", "NA"},
		NormalizeHeader: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.Join(tbl.Columns(), ","); got != "case_id,name,score" {
		t.Errorf("unexpected columns %s", got)
	}
	if tbl.Len() != 3 {
		t.Fatalf("expected 3 rows, got %d", tbl.Len())
	}
	if tbl.Row(0).Get("name").S != "Ann" {
		t.Errorf("expected trimmed Ann, got %q", tbl.Row(0).Get("name").S)
	}
	if tbl.Row(1).Get("name").Valid || tbl.Row(1).Get("score").Valid {
		t.Error("expected NA and empty cells to be null")
	}
	if tbl.Row(2).Get("score").Valid {
		t.Error("expected short row to be padded with null")
	}
}

func TestReadCSVEmpty(t *testing.T) {
	if _, err := ReadCSV(strings.NewReader(""), ReadOptions{}); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestWriteCSVFileRoundTrip(t *testing.T) {
	tbl := mustTable(t, []string{"id", "label"},
		[]Value{Str("1"), Str("Rear End")},
		[]Value{Str("2"), Null},
		[]Value{Str("3"), Str("Dark, No Lights")},
	)

	path := filepath.Join(t.TempDir(), "out", "clean.csv")
	if err := tbl.WriteCSVFile(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	want := "id,label\n1,Rear End\n2,\n3,\"Dark, No Lights\"\n"
	if string(data) != want {
		t.Errorf("unexpected output:\n%s", data)
	}

	var buf bytes.Buffer
	if err := tbl.WriteCSV(&buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.String() != want {
		t.Error("expected WriteCSV and WriteCSVFile to agree")
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected only the output file, found %d entries", len(entries))
	}
}

func TestStageCSVFileDiscard(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clean.csv")
	os.WriteFile(path, []byte("old\n"), 0o644)

	tbl := mustTable(t, []string{"id"}, []Value{Str("1")})
	staged, err := tbl.StageCSVFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	staged.Discard()

	data, _ := os.ReadFile(path)
	if string(data) != "old\n" {
		t.Errorf("expected target untouched, got %q", data)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected the temp file removed, found %d entries", len(entries))
	}
}

func TestStagedCommitFailureCleansUp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clean.csv")
	// A non-empty directory at the target makes the rename fail.
	os.MkdirAll(filepath.Join(path, "keep"), 0o755)

	tbl := mustTable(t, []string{"id"}, []Value{Str("1")})
	staged, err := tbl.StageCSVFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := staged.Commit(); err == nil {
		t.Fatal("expected commit over a directory to fail")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected the temp file removed, found %d entries", len(entries))
	}
}

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"Accuracy Score": "accuracy_score",
		" Zip ":          "zip",
		"accuracy-type":  "accuracy_type",
		"case_id":        "case_id",
	}
	for in, want := range cases {
		if got := NormalizeName(in); got != want {
			t.Errorf("NormalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}
