// Package report renders scan runs as text, JSON, or Markdown and exports
// them to a blob store.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/JakeFAU/posterwatch/internal/scanner"
)

// Writer renders a scan run to its destination.
type Writer interface {
	Write(run scanner.Run) (int, error)
}

// Format names a report rendering.
type Format string

// Supported formats.
const (
	FormatText     Format = "text"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatJSON, FormatMarkdown:
		return f, nil
	case "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unknown report format %q (want text, json, or markdown)", s)
	}
}

// NewWriter returns the Writer for format.
func NewWriter(format Format, output io.Writer) (Writer, error) {
	switch format {
	case FormatText:
		return NewTextWriter(output), nil
	case FormatJSON:
		return NewJSONWriter(output, WithPrettyPrint()), nil
	case FormatMarkdown:
		return NewMarkdownWriter(output), nil
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}
}

// Summary condenses a run into counts.
type Summary struct {
	RunID      string        `json:"run_id"`
	Total      int           `json:"total"`
	Ok         int           `json:"ok"`
	Errors     int           `json:"errors"`
	Pending    int           `json:"pending"`
	Canceled   bool          `json:"canceled"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at,omitzero"`
	Elapsed    time.Duration `json:"elapsed_ns"`
}

// Summarize computes the Summary of run.
func Summarize(run scanner.Run) Summary {
	counts := run.Counts()
	s := Summary{
		RunID:      run.ID,
		Total:      len(run.Entries),
		Ok:         counts[scanner.StatusOk],
		Errors:     counts[scanner.StatusError],
		Pending:    counts[scanner.StatusPending] + counts[scanner.StatusTesting],
		Canceled:   run.Canceled,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
	}
	if run.Done() {
		s.Elapsed = run.FinishedAt.Sub(run.StartedAt)
	}
	return s
}

func statusLabel(run scanner.Run) string {
	switch {
	case run.Canceled:
		return "canceled"
	case run.Done():
		return "complete"
	default:
		return "running"
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
