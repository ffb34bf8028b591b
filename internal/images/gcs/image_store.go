// Package gcs provides an ImageStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the parameters required to resolve image refs.
type Config struct {
	Bucket string
}

// ImageStore reads listing images from a configured GCS bucket. Refs are
// either bare object paths or gs://bucket/path URIs.
type ImageStore struct {
	client *storage.Client
	bucket string
}

// New creates a GCS-backed image store.
func New(client *storage.Client, cfg Config) (*ImageStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &ImageStore{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// GetImage downloads the object the ref points at.
func (s *ImageStore) GetImage(ctx context.Context, ref string) ([]byte, error) {
	bucket, path, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	reader, err := s.client.Bucket(bucket).Object(path).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open object %s: %w", ref, err)
	}
	defer reader.Close() //nolint:errcheck

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", ref, err)
	}
	return data, nil
}

func (s *ImageStore) resolve(ref string) (bucket, path string, err error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", "", fmt.Errorf("image ref is required")
	}
	if rest, ok := strings.CutPrefix(ref, "gs://"); ok {
		bucket, path, ok = strings.Cut(rest, "/")
		if !ok || path == "" {
			return "", "", fmt.Errorf("malformed gs uri %q", ref)
		}
		return bucket, path, nil
	}
	return s.bucket, ref, nil
}
