package memory

import (
	"context"
	"sync"
)

// InMemoryStore is a simple in-process memory table for local/dev use.
type InMemoryStore struct {
	mu    sync.RWMutex
	notes map[string]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{notes: make(map[string]string)}
}

func (s *InMemoryStore) Get(_ context.Context, identity string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	note, ok := s.notes[identity]
	return note, ok, nil
}

func (s *InMemoryStore) Upsert(_ context.Context, identity, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[identity] = note
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
