package remote

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when no container bytes exist for the given id.
var ErrNotFound = errors.New("container not found")

// InMemorySync is a process-local RemoteSync keeping pushed container bytes
// in a map guarded by an RWMutex. Data is copied on push and pull to avoid
// accidental external mutation of internal buffers. Push is
// last-writer-wins, matching the persistence model.
type InMemorySync struct {
	mu         sync.RWMutex
	containers map[string][]byte
}

// NewInMemorySync returns an empty in-memory sync point.
func NewInMemorySync() *InMemorySync {
	return &InMemorySync{containers: make(map[string][]byte)}
}

// Push stores (or overwrites) the serialized container bytes.
func (s *InMemorySync) Push(ctx context.Context, containerID string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.containers[containerID] = cp
	return nil
}

// Pull returns a copy of the stored container bytes or ErrNotFound.
func (s *InMemorySync) Pull(ctx context.Context, containerID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.containers[containerID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}
