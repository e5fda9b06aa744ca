package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/JakeFAU/posterwatch/internal/scanner"
)

// TextWriter renders a compact, terminal-friendly report.
type TextWriter struct {
	output io.Writer
}

// NewTextWriter creates a TextWriter.
func NewTextWriter(output io.Writer) *TextWriter {
	return &TextWriter{output: output}
}

// Write renders every entry followed by the summary line.
func (w *TextWriter) Write(run scanner.Run) (int, error) {
	var sb strings.Builder
	for i, e := range run.Entries {
		sb.WriteString(FormatEntry(i, e))
		sb.WriteByte('\n')
	}
	sb.WriteString(FormatSummary(Summarize(run)))
	sb.WriteByte('\n')
	n, err := io.WriteString(w.output, sb.String())
	if err != nil {
		return n, fmt.Errorf("write text report: %w", err)
	}
	return n, nil
}

// FormatEntry renders one scan row. The CLI prints these live.
func FormatEntry(index int, e scanner.Entry) string {
	name := e.Title
	if name == "" {
		name = e.ResourceID
	}
	line := fmt.Sprintf("%4d  %-7s  %-32s  %s", index+1, strings.ToUpper(string(e.Status)), truncate(name, 32), e.URL)
	if e.Status.Terminal() && e.Duration > 0 {
		line += fmt.Sprintf("  (%s)", e.Duration.Round(time.Millisecond))
	}
	if e.Error != "" {
		line += "  " + e.Error
	}
	return line
}

// FormatSummary renders the aggregate line.
func FormatSummary(s Summary) string {
	line := fmt.Sprintf("scan %s: %d total, %d ok, %d errors", s.RunID, s.Total, s.Ok, s.Errors)
	if s.Pending > 0 {
		line += fmt.Sprintf(", %d not checked", s.Pending)
	}
	if s.Canceled {
		line += " (canceled)"
	}
	if s.Elapsed > 0 {
		line += fmt.Sprintf(" in %s", s.Elapsed.Round(time.Millisecond))
	}
	return line
}
