// Package memblob is an in-memory blob.Store used by tests and by
// control-plane deployments with no blob bucket configured; image bytes
// are not persisted past process lifetime.
package memblob

import (
	"context"
	"fmt"
	"sync"
)

// Store implements blob.Store over a process-local map.
type Store struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// New returns an empty Store.
func New() *Store {
	return &Store{objects: make(map[string][]byte)}
}

func (s *Store) Put(ctx context.Context, tenantID, faceID string, raw []byte) (string, error) {
	ref := fmt.Sprintf("mem://%s/%s", tenantID, faceID)
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(raw))
	copy(cp, raw)
	s.objects[ref] = cp
	return ref, nil
}

func (s *Store) Get(ctx context.Context, imageRef string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.objects[imageRef]
	if !ok {
		return nil, fmt.Errorf("memblob: no object at %s", imageRef)
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return cp, nil
}

func (s *Store) Delete(ctx context.Context, imageRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, imageRef)
	return nil
}
