// Package memory serves images from an in-memory map for development and
// tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// ImageStore holds image bytes keyed by ref.
type ImageStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewImageStore creates an empty in-memory image store.
func NewImageStore() *ImageStore {
	return &ImageStore{data: make(map[string][]byte)}
}

// Put stores image bytes under the given ref.
func (s *ImageStore) Put(ref string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[ref] = append([]byte(nil), data...)
}

// GetImage returns the stored bytes or an error for unknown refs.
func (s *ImageStore) GetImage(_ context.Context, ref string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[ref]
	if !ok {
		return nil, fmt.Errorf("image %q not found", ref)
	}
	return append([]byte(nil), data...), nil
}
