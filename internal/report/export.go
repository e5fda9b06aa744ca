package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/JakeFAU/posterwatch/internal/poster"
	"github.com/JakeFAU/posterwatch/internal/scanner"
)

// Exporter writes finished runs to a blob store under a prefix.
type Exporter struct {
	store  poster.BlobStore
	prefix string
}

// NewExporter returns an Exporter writing to store.
func NewExporter(store poster.BlobStore, prefix string) *Exporter {
	return &Exporter{store: store, prefix: prefix}
}

// Export uploads <prefix>/<run-id>.json and <prefix>/<run-id>.md and returns
// the URI of the JSON document.
func (e *Exporter) Export(ctx context.Context, run scanner.Run) (string, error) {
	if e == nil || e.store == nil {
		return "", errors.New("report exporter has no blob store")
	}
	if run.ID == "" {
		return "", errors.New("run id is required")
	}

	var js bytes.Buffer
	if _, err := NewJSONWriter(&js, WithPrettyPrint()).Write(run); err != nil {
		return "", err
	}
	uri, err := e.store.PutObject(ctx, path.Join(e.prefix, run.ID+".json"), "application/json", &js)
	if err != nil {
		return "", fmt.Errorf("export json report: %w", err)
	}

	var md bytes.Buffer
	if _, err := NewMarkdownWriter(&md).Write(run); err != nil {
		return "", err
	}
	if _, err := e.store.PutObject(ctx, path.Join(e.prefix, run.ID+".md"), "text/markdown; charset=utf-8", &md); err != nil {
		return "", fmt.Errorf("export markdown report: %w", err)
	}
	return uri, nil
}
