// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/JakeFAU/hk-epaper-ingest/internal/epaper"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	// ProjectID enables bucket creation when the bucket does not exist.
	ProjectID string
}

// BlobStore writes page images to a configured GCS bucket.
type BlobStore struct {
	client    *storage.Client
	bucket    string
	projectID string
}

var _ epaper.BlobStore = (*BlobStore)(nil)

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		client:    client,
		bucket:    cfg.Bucket,
		projectID: cfg.ProjectID,
	}, nil
}

// EnsureBucket verifies the bucket exists, creating it when a project ID is configured.
func (s *BlobStore) EnsureBucket(ctx context.Context) error {
	_, err := s.client.Bucket(s.bucket).Attrs(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrBucketNotExist) || s.projectID == "" {
		return fmt.Errorf("%w: bucket %s attrs: %w", epaper.ErrStorage, s.bucket, err)
	}
	if err := s.client.Bucket(s.bucket).Create(ctx, s.projectID, nil); err != nil {
		return fmt.Errorf("%w: create bucket %s: %w", epaper.ErrStorage, s.bucket, err)
	}
	return nil
}

// PutObject uploads data to the configured bucket and returns a gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, key string, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key is required")
	}
	writer := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("%w: write object: %w (close writer: %v)", epaper.ErrStorage, err, closeErr)
		}
		return "", fmt.Errorf("%w: write object: %w", epaper.ErrStorage, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("%w: close writer: %w", epaper.ErrStorage, err)
	}
	return s.uri(key), nil
}

// Exists reports whether key is present in the bucket.
func (s *BlobStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrObjectNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("%w: attrs %s: %w", epaper.ErrStorage, key, err)
	}
}

// GetObject downloads the object stored at key.
func (s *BlobStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	reader, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("object %s: %w", key, epaper.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: open %s: %w", epaper.ErrStorage, key, err)
	}
	defer func() { _ = reader.Close() }()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", epaper.ErrStorage, key, err)
	}
	return data, nil
}

// DeleteObject removes key; deleting a missing object is reported as epaper.ErrNotFound.
func (s *BlobStore) DeleteObject(ctx context.Context, key string) error {
	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrObjectNotExist):
		return fmt.Errorf("object %s: %w", key, epaper.ErrNotFound)
	default:
		return fmt.Errorf("%w: delete %s: %w", epaper.ErrStorage, key, err)
	}
}

// List returns every object whose name starts with prefix.
func (s *BlobStore) List(ctx context.Context, prefix string) ([]epaper.ObjectInfo, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var out []epaper.ObjectInfo
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: list %s: %w", epaper.ErrStorage, prefix, err)
		}
		out = append(out, epaper.ObjectInfo{
			Key:          attrs.Name,
			URI:          s.uri(attrs.Name),
			Size:         attrs.Size,
			LastModified: attrs.Updated,
			ContentType:  attrs.ContentType,
		})
	}
	return out, nil
}

func (s *BlobStore) uri(key string) string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, key)
}
