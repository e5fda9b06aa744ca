package report

import (
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/JakeFAU/posterwatch/internal/scanner"
)

// MarkdownWriter renders a shareable Markdown report.
type MarkdownWriter struct {
	output io.Writer
}

// NewMarkdownWriter creates a MarkdownWriter.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{output: output}
}

// Write renders header, summary, failures, and the full entry table.
func (w *MarkdownWriter) Write(run scanner.Run) (int, error) {
	md := markdown.NewMarkdown(w.output)
	s := Summarize(run)

	md.H1("Poster Health Report")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Run", "`" + run.ID + "`"},
			{"Started", run.StartedAt.Format(time.RFC3339)},
			{"Status", statusLabel(run)},
			{"Elapsed", s.Elapsed.Round(time.Millisecond).String()},
		},
	})
	md.PlainText("")

	w.writeSummary(md, s)
	w.writeFailures(md, run)
	w.writeEntries(md, run)

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeSummary(md *markdown.Markdown, s Summary) {
	md.H2("Summary")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Status", "Count"},
		Rows: [][]string{
			{"Ok", strconv.Itoa(s.Ok)},
			{"Error", strconv.Itoa(s.Errors)},
			{"Not checked", strconv.Itoa(s.Pending)},
			{"**Total**", "**" + strconv.Itoa(s.Total) + "**"},
		},
	})
	md.PlainText("")

	if s.Total > 0 {
		chart := piechart.NewPieChart(io.Discard, piechart.WithTitle("Poster availability"), piechart.WithShowData(true))
		if s.Ok > 0 {
			chart.LabelAndIntValue("Ok", uint64(s.Ok))
		}
		if s.Errors > 0 {
			chart.LabelAndIntValue("Error", uint64(s.Errors))
		}
		if s.Pending > 0 {
			chart.LabelAndIntValue("Not checked", uint64(s.Pending))
		}
		md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
		md.PlainText("")
	}

	switch {
	case s.Canceled:
		md.Warningf("Scan was canceled; %d poster(s) were not checked.", s.Pending)
	case s.Errors > 0:
		md.Cautionf("%d of %d poster(s) are unreachable at their origin URL.", s.Errors, s.Total)
	case s.Total == 0:
		md.Note("The catalog had no posters to check.")
	default:
		md.Tip("Every poster is reachable.")
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeFailures(md *markdown.Markdown, run scanner.Run) {
	var failed []string
	for _, e := range run.Entries {
		if e.Status == scanner.StatusError {
			failed = append(failed, label(e)+": "+e.Error)
		}
	}
	if len(failed) == 0 {
		return
	}
	md.H2("Failures")
	md.PlainText("")
	md.BulletList(failed...)
	md.PlainText("")
}

func (w *MarkdownWriter) writeEntries(md *markdown.Markdown, run scanner.Run) {
	md.H2("Posters")
	md.PlainText("")
	if len(run.Entries) == 0 {
		md.PlainText("No posters scanned.")
		return
	}
	rows := make([][]string, len(run.Entries))
	for i, e := range run.Entries {
		dur := "-"
		if e.Duration > 0 {
			dur = e.Duration.Round(time.Millisecond).String()
		}
		rows[i] = []string{
			strconv.Itoa(i + 1),
			label(e),
			strings.ToUpper(string(e.Status)),
			dur,
			truncate(e.URL, 60),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"#", "Poster", "Status", "Time", "Origin URL"},
		Rows:   rows,
	})
}

func label(e scanner.Entry) string {
	if e.Title != "" {
		return e.Title
	}
	if e.ResourceID != "" {
		return e.ResourceID
	}
	return "(untitled)"
}
