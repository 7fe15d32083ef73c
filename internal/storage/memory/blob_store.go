// Package memory stores page images in-memory for development and dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/hk-epaper-ingest/internal/epaper"
)

type object struct {
	data        []byte
	contentType string
	modified    time.Time
}

// BlobStore stores page images in-memory and returns pseudo URIs.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string]object
	puts    int
	now     func() time.Time
}

var _ epaper.BlobStore = (*BlobStore)(nil)

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{
		objects: make(map[string]object),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// PutObject persists a copy of the content and returns a URI.
func (s *BlobStore) PutObject(_ context.Context, key string, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = object{data: append([]byte(nil), data...), contentType: contentType, modified: s.now()}
	s.puts++
	return uri(key), nil
}

// Exists reports whether key is stored.
func (s *BlobStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok, nil
}

// GetObject returns a copy of the stored content.
func (s *BlobStore) GetObject(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", key, epaper.ErrNotFound)
	}
	return append([]byte(nil), obj.data...), nil
}

// DeleteObject removes key.
func (s *BlobStore) DeleteObject(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return fmt.Errorf("object %s: %w", key, epaper.ErrNotFound)
	}
	delete(s.objects, key)
	return nil
}

// List returns the objects whose keys start with prefix, sorted by key.
func (s *BlobStore) List(_ context.Context, prefix string) ([]epaper.ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []epaper.ObjectInfo
	for key, obj := range s.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, epaper.ObjectInfo{
			Key:          key,
			URI:          uri(key),
			Size:         int64(len(obj.data)),
			LastModified: obj.modified,
			ContentType:  obj.contentType,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Keys returns every stored key in sorted order.
func (s *BlobStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Puts returns the number of PutObject calls, overwrites included.
func (s *BlobStore) Puts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}

func uri(key string) string {
	return "memory://" + key
}
