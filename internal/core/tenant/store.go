// Package tenant holds read-mostly tenant-keyed configuration.
package tenant

import (
	"maps"
	"sync"
	"sync/atomic"
)

// Store is a copy-on-write map from tenant id to configuration. Readers load an
// immutable snapshot and never block; writers replace whole entries.
type Store[T any] struct {
	snapshot atomic.Pointer[map[string]T]
	writeMu  sync.Mutex
	fallback T
}

func NewStore[T any](fallback T) *Store[T] {
	s := &Store[T]{fallback: fallback}
	empty := map[string]T{}
	s.snapshot.Store(&empty)
	return s
}

func (s *Store[T]) Get(tenantID string) (T, bool) {
	current := *s.snapshot.Load()
	v, ok := current[tenantID]
	return v, ok
}

// Resolve returns the tenant entry or the default configuration.
func (s *Store[T]) Resolve(tenantID string) T {
	if v, ok := s.Get(tenantID); ok {
		return v
	}
	return s.fallback
}

func (s *Store[T]) Default() T {
	return s.fallback
}

func (s *Store[T]) Replace(tenantID string, value T) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := maps.Clone(*s.snapshot.Load())
	next[tenantID] = value
	s.snapshot.Store(&next)
}

func (s *Store[T]) Delete(tenantID string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := maps.Clone(*s.snapshot.Load())
	delete(next, tenantID)
	s.snapshot.Store(&next)
}

// ReplaceAll swaps the whole tenant map in one step.
func (s *Store[T]) ReplaceAll(entries map[string]T) {
	next := maps.Clone(entries)
	if next == nil {
		next = map[string]T{}
	}
	s.writeMu.Lock()
	s.snapshot.Store(&next)
	s.writeMu.Unlock()
}

func (s *Store[T]) Len() int {
	return len(*s.snapshot.Load())
}
