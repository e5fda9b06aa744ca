package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/JakeFAU/posterwatch/internal/scanner"
)

// Document is the JSON report shape.
type Document struct {
	Summary Summary     `json:"summary"`
	Run     scanner.Run `json:"run"`
}

// JSONWriter renders the run and its summary as JSON.
type JSONWriter struct {
	output io.Writer
	indent string
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithPrettyPrint indents output by two spaces.
func WithPrettyPrint() JSONWriterOption {
	return func(w *JSONWriter) { w.indent = "  " }
}

// NewJSONWriter creates a JSONWriter.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{output: output}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write encodes the document followed by a newline.
func (w *JSONWriter) Write(run scanner.Run) (int, error) {
	var (
		b   []byte
		err error
	)
	doc := Document{Summary: Summarize(run), Run: run}
	if w.indent != "" {
		b, err = json.MarshalIndent(doc, "", w.indent)
	} else {
		b, err = json.Marshal(doc)
	}
	if err != nil {
		return 0, fmt.Errorf("encode report: %w", err)
	}
	b = append(b, '\n')
	n, err := w.output.Write(b)
	if err != nil {
		return n, fmt.Errorf("write json report: %w", err)
	}
	return n, nil
}
