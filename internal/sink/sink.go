// Package sink composes deterministic page keys and stores page images in a blob store.
package sink

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/hk-epaper-ingest/internal/epaper"
)

// Sink is the only writer of page images. Keys are publisher/YYYY/MM/DD/NNN.ext below an
// optional prefix.
type Sink struct {
	store  epaper.BlobStore
	prefix string
	logger *zap.Logger
}

// New wraps store. prefix may be empty.
func New(store epaper.BlobStore, prefix string, logger *zap.Logger) (*Sink, error) {
	if store == nil {
		return nil, fmt.Errorf("sink: blob store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &Sink{store: store, prefix: prefix, logger: logger}, nil
}

// Key returns the full object key for a page.
func (s *Sink) Key(key epaper.PageKey) string {
	return s.prefix + key.String()
}

// Store uploads data under key, overwriting any prior value, and returns the object URI.
func (s *Sink) Store(ctx context.Context, key epaper.PageKey, data []byte) (string, error) {
	name := s.Key(key)
	uri, err := s.store.PutObject(ctx, name, contentType(key.Ext), data)
	if err != nil {
		s.logger.Error("upload failed", zap.String("key", name), zap.Error(err))
		if !errors.Is(err, epaper.ErrStorage) {
			err = fmt.Errorf("%w: %w", epaper.ErrStorage, err)
		}
		return "", err
	}
	s.logger.Info("uploaded page", zap.String("key", name), zap.String("uri", uri), zap.Int("bytes", len(data)))
	return uri, nil
}

// Exists reports whether the page is already stored.
func (s *Sink) Exists(ctx context.Context, key epaper.PageKey) (bool, error) {
	ok, err := s.store.Exists(ctx, s.Key(key))
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", s.Key(key), err)
	}
	return ok, nil
}

// Get downloads one stored page.
func (s *Sink) Get(ctx context.Context, key epaper.PageKey) ([]byte, error) {
	data, err := s.store.GetObject(ctx, s.Key(key))
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", s.Key(key), err)
	}
	return data, nil
}

// List returns the stored pages of a publisher narrowed by optional year, month and day. Keys
// are reported without the sink prefix.
func (s *Sink) List(ctx context.Context, publisher string, year, month, day int) ([]epaper.ObjectInfo, error) {
	objects, err := s.store.List(ctx, s.prefix+epaper.ListPrefix(publisher, year, month, day))
	if err != nil {
		return nil, err
	}
	for i := range objects {
		objects[i].Key = strings.TrimPrefix(objects[i].Key, s.prefix)
	}
	return objects, nil
}

// PurgeDate deletes every stored page of one issue and returns how many were removed.
func (s *Sink) PurgeDate(ctx context.Context, publisher string, date time.Time) (int, error) {
	prefix := s.prefix + epaper.DatePrefix(publisher, date)
	objects, err := s.store.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	deleted := 0
	var errs []error
	for _, obj := range objects {
		if err := s.store.DeleteObject(ctx, obj.Key); err != nil {
			if errors.Is(err, epaper.ErrNotFound) {
				continue
			}
			s.logger.Error("delete failed", zap.String("key", obj.Key), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		deleted++
		s.logger.Info("deleted page", zap.String("key", obj.Key))
	}
	return deleted, errors.Join(errs...)
}

func contentType(ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ct := mime.TypeByExtension("." + ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
