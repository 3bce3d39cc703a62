// Package gcs archives run artifacts in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the bucket and optional object prefix.
type Config struct {
	Bucket string
	// Prefix is prepended to every object path.
	Prefix string
}

// BlobStore writes artifacts to a configured GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// NewClient opens a storage client with application default credentials.
func NewClient(ctx context.Context) (*storage.Client, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return client, nil
}

// PutObject uploads data to the configured bucket and returns a gs:// URI. The
// object is only committed when the writer closes cleanly.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	name := s.objectPath(path)
	if name == "" {
		return "", fmt.Errorf("path is required")
	}
	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	// latest/ objects are rewritten every run.
	w.CacheControl = "no-cache"
	if _, err := io.Copy(w, r); err != nil {
		return "", errors.Join(fmt.Errorf("upload %s: %w", name, err), w.Close())
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("commit %s: %w", name, err)
	}
	return s.URI(path), nil
}

// URI is the gs:// location PutObject writes path to.
func (s *BlobStore) URI(path string) string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, s.objectPath(path))
}

func (s *BlobStore) objectPath(path string) string {
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" {
		return ""
	}
	if s.prefix == "" {
		return path
	}
	return s.prefix + "/" + path
}
