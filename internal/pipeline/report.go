package pipeline

import (
	"fmt"
	"strings"
)

// Markdown renders the run as a markdown report for the ledger. Per-predicate
// drop counts are stored separately as run counts.
func (r *Result) Markdown() string {
	var b strings.Builder

	title := "Run " + r.RunID
	if r.DryRun {
		title = "Dry run"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "- **Input:** `%s`\n", r.InputPath)
	fmt.Fprintf(&b, "- **Output:** `%s`\n", r.OutputPath)
	fmt.Fprintf(&b, "- **Records in:** %d\n", r.RowsIn)
	if err := r.Err(); err != nil {
		fmt.Fprintf(&b, "- **Failed:** %s\n", err)
	} else if !r.DryRun {
		fmt.Fprintf(&b, "- **Records out:** %d\n", r.RowsOut)
	}

	b.WriteString("\n## Steps\n\n")
	b.WriteString("| Step | Result |\n|---|---|\n")
	for _, s := range r.Steps {
		summary := s.Summary
		if s.Err != nil {
			summary = "**error:** " + s.Err.Error()
		}
		fmt.Fprintf(&b, "| %s | %s |\n", s.Name, escapeCell(summary))
	}

	if n := len(r.Unaddressable); n > 0 {
		fmt.Fprintf(&b, "\n%d records had no road names and were not geocoded.\n", n)
	}
	return b.String()
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
