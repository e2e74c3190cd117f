// Package memory stores image objects in-memory for development and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/hxlab/bookmirror/internal/ingest"
)

// Store keeps uploaded objects in a map keyed by object key.
type Store struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewStore creates an empty in-memory object store.
func NewStore() *Store {
	return &Store{objects: make(map[string][]byte)}
}

// Upload records the object and reports its size.
func (s *Store) Upload(_ context.Context, _ ingest.StorageAccount, key string, _ string, data []byte) (ingest.UploadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
	return ingest.UploadResult{Key: key, Bytes: int64(len(data))}, nil
}

// DeletePrefix removes every object whose key starts with prefix.
func (s *Store) DeletePrefix(_ context.Context, _ ingest.StorageAccount, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			delete(s.objects, key)
		}
	}
	return nil
}

// Keys returns the stored object keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// KeysWithPrefix returns the stored keys under prefix in sorted order.
func (s *Store) KeysWithPrefix(prefix string) []string {
	var keys []string
	for _, key := range s.Keys() {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Object returns the stored bytes for key.
func (s *Store) Object(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key]
	return data, ok
}
