package snippetstore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemStore is an in-memory [Store] for tests and for running without a
// database (empty DSN in the config).
type MemStore struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{defs: make(map[string]Definition)}
}

// Create implements [Store].
func (s *MemStore) Create(_ context.Context, def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.defs[def.ID]; exists {
		return fmt.Errorf("snippetstore: definition %q already exists", def.ID)
	}
	now := time.Now()
	def.CreatedAt, def.UpdatedAt = now, now
	s.defs[def.ID] = *def
	return nil
}

// Get implements [Store]. Returns (nil, nil) if not found.
func (s *MemStore) Get(_ context.Context, id string) (*Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.defs[id]
	if !ok {
		return nil, nil
	}
	return &def, nil
}

// Update implements [Store].
func (s *MemStore) Update(_ context.Context, def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.defs[def.ID]
	if !ok {
		return errNotFound(def.ID)
	}
	def.CreatedAt = prev.CreatedAt
	def.UpdatedAt = time.Now()
	s.defs[def.ID] = *def
	return nil
}

// Delete implements [Store].
func (s *MemStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.defs, id)
	return nil
}

// List implements [Store].
func (s *MemStore) List(_ context.Context, kind string) ([]Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Definition, 0, len(s.defs))
	for _, def := range s.defs {
		if kind == "" || def.Kind == kind {
			out = append(out, def)
		}
	}
	return out, nil
}

// Upsert implements [Store].
func (s *MemStore) Upsert(_ context.Context, def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if prev, ok := s.defs[def.ID]; ok {
		def.CreatedAt = prev.CreatedAt
	} else {
		def.CreatedAt = now
	}
	def.UpdatedAt = now
	s.defs[def.ID] = *def
	return nil
}
