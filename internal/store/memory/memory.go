package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/bassista/go_lanatus/internal/logger"
	"github.com/bassista/go_lanatus/internal/repository"
)

// Store is an in-process repository.Store. It is the store behind
// store.type=memory and the default fixture in tests.
// Values are stored as given; V should not share mutable memory with callers.
type Store[K comparable, V any] struct {
	mu      sync.RWMutex
	records map[K]repository.Record[V]
	// last is the highest version ever issued per key, so a deleted and
	// recreated record never reuses a version.
	last    map[K]repository.Version
	fetches int
}

func New[K comparable, V any]() *Store[K, V] {
	return &Store[K, V]{records: map[K]repository.Record[V]{}, last: map[K]repository.Version{}}
}

// commit stores value under the next version; caller holds the lock.
func (s *Store[K, V]) commit(key K, value V) repository.Version {
	next := s.last[key] + 1
	s.last[key] = next
	s.records[key] = repository.Record[V]{Value: value, Version: next}
	return next
}

func (s *Store[K, V]) Fetch(ctx context.Context, key K) (repository.Record[V], bool, error) {
	if err := ctx.Err(); err != nil {
		return repository.Record[V]{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	rec, ok := s.records[key]
	logger.WithKey("memory-store", key).Tracef("fetch: found=%v version=%d", ok, rec.Version)
	return rec, ok, nil
}

func (s *Store[K, V]) CompareAndWrite(ctx context.Context, key K, expected repository.Version, value V) (repository.Version, error) {
	if err := ctx.Err(); err != nil {
		return repository.NoVersion, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.records[key].Version
	if current != expected {
		logger.WithKey("memory-store", key).Debugf("compare-and-write conflict: expected %d, stored %d", expected, current)
		return repository.NoVersion, fmt.Errorf("expected version %d, stored %d: %w", expected, current, repository.ErrConflict)
	}
	next := s.commit(key, value)
	logger.WithKey("memory-store", key).Debugf("committed version %d", next)
	return next, nil
}

// Put writes value unconditionally, as another writer would, and returns the new version.
func (s *Store[K, V]) Put(key K, value V) repository.Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(key, value)
}

// Delete removes key as another writer would.
func (s *Store[K, V]) Delete(key K) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
}

// Fetches returns how many Fetch calls were served.
func (s *Store[K, V]) Fetches() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetches
}

// Len returns the number of stored records.
func (s *Store[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
