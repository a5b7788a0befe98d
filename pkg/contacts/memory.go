// Package contacts provides contact record storage implementations behind
// protocol.ContactStore.
package contacts

import (
	"context"
	"slices"
	"sync"
)

// MemoryStore is an in-memory contact store for tests and local
// development. Field paths are stored flat, dot-separated.
type MemoryStore struct {
	mu     sync.RWMutex
	fields map[string]map[string]any
	tags   map[string][]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		fields: make(map[string]map[string]any),
		tags:   make(map[string][]string),
	}
}

func (s *MemoryStore) GetField(_ context.Context, contactID, path string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.fields[contactID][path], nil
}

func (s *MemoryStore) SetField(_ context.Context, contactID, path string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fields[contactID] == nil {
		s.fields[contactID] = make(map[string]any)
	}

	s.fields[contactID][path] = value

	return nil
}

func (s *MemoryStore) AddTag(_ context.Context, contactID, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slices.Contains(s.tags[contactID], tag) {
		return nil
	}

	s.tags[contactID] = append(s.tags[contactID], tag)

	return nil
}

func (s *MemoryStore) RemoveTag(_ context.Context, contactID, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tags[contactID] = slices.DeleteFunc(s.tags[contactID], func(existing string) bool {
		return existing == tag
	})

	return nil
}

func (s *MemoryStore) Fields(_ context.Context, contactID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]any, len(s.fields[contactID]))

	for k, v := range s.fields[contactID] {
		out[k] = v
	}

	return out, nil
}

// Tags returns a copy of a contact's tags.
func (s *MemoryStore) Tags(contactID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.tags[contactID])
}
