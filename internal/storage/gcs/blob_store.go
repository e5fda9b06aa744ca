// Package gcs provides a report BlobStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the bucket and optional object prefix.
type Config struct {
	Bucket string `mapstructure:"bucket" yaml:"bucket"`
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
}

// writerFactory opens an object writer; it is the seam tests replace.
type writerFactory func(ctx context.Context, bucket, object, contentType string) io.WriteCloser

// BlobStore writes artifacts to a configured GCS bucket.
type BlobStore struct {
	open   writerFactory
	bucket string
	prefix string
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	return newWithFactory(func(ctx context.Context, bucket, object, contentType string) io.WriteCloser {
		w := client.Bucket(bucket).Object(object).NewWriter(ctx)
		if contentType != "" {
			w.ContentType = contentType
		}
		return w
	}, cfg)
}

func newWithFactory(open writerFactory, cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("bucket name is required")
	}
	return &BlobStore{
		open:   open,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// PutObject uploads data and returns a gs:// URI. The upload is committed
// only when the writer closes cleanly.
func (s *BlobStore) PutObject(ctx context.Context, name string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("path is required")
	}
	object := strings.TrimPrefix(name, "/")
	if s.prefix != "" {
		object = path.Join(s.prefix, object)
	}

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w := s.open(wctx, s.bucket, object, contentType)
	if _, err := io.Copy(w, r); err != nil {
		// Cancelling before Close aborts the upload.
		cancel()
		_ = w.Close()
		return "", fmt.Errorf("upload gs://%s/%s: %w", s.bucket, object, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize gs://%s/%s: %w", s.bucket, object, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, object), nil
}
