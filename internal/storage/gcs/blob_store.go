// Package gcs archives digests in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config names the target bucket. CacheControl is stamped on every object when set.
type Config struct {
	Bucket       string
	CacheControl string
}

// BlobStore uploads rendered digests as single-request objects.
type BlobStore struct {
	client *storage.Client
	cfg    Config
}

// New wraps an existing client.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	switch {
	case client == nil:
		return nil, errors.New("gcs: storage client is required")
	case cfg.Bucket == "":
		return nil, errors.New("gcs: bucket name is required")
	}
	return &BlobStore{client: client, cfg: cfg}, nil
}

// PutObject uploads r to path and returns the gs:// URI of the new object.
func (s *BlobStore) PutObject(ctx context.Context, path, contentType string, r io.Reader) (string, error) {
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	if path == "" {
		return "", errors.New("gcs: object path is required")
	}

	w := s.client.Bucket(s.cfg.Bucket).Object(path).NewWriter(ctx)
	// Digests are small; one multipart request instead of a resumable session.
	w.ChunkSize = 0
	w.ContentType = contentType
	w.CacheControl = s.cfg.CacheControl
	w.Metadata = map[string]string{"generator": "marketupdate"}

	_, copyErr := io.Copy(w, r)
	closeErr := w.Close()
	if copyErr != nil {
		return "", fmt.Errorf("upload gs://%s/%s: %w", s.cfg.Bucket, path, errors.Join(copyErr, closeErr))
	}
	if closeErr != nil {
		return "", fmt.Errorf("finalize gs://%s/%s: %w", s.cfg.Bucket, path, closeErr)
	}
	return "gs://" + s.cfg.Bucket + "/" + path, nil
}

// Close releases the underlying client.
func (s *BlobStore) Close() error {
	return s.client.Close()
}
