// Package storage provides entry store implementations backing the grant
// registry: in-memory, redis and postgres. The core consumes them only
// through domain.EntryStore.
package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ipede/uma-auth-service/internal/domain"
)

// timedEntry wraps a value with its expiry for TTL tracking
type timedEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e *timedEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore implements domain.EntryStore with an in-process map. It is
// thread-safe and suitable for development and single-node deployments;
// CasPut is linearizable because every mutation runs under one mutex.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*timedEntry

	cleanupInterval time.Duration
	cleaning        atomic.Bool
	stopCleanup     chan struct{}
	cleanupDone     chan struct{}
}

// MemoryStoreOption configures a MemoryStore instance
type MemoryStoreOption func(*MemoryStore)

// WithCleanupInterval sets a custom cleanup interval
func WithCleanupInterval(interval time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.cleanupInterval = interval
	}
}

// NewMemoryStore creates the store and starts the background cleanup goroutine
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		entries:         make(map[string]*timedEntry),
		cleanupInterval: time.Minute,
		stopCleanup:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.cleanupLoop()
	return s
}

// Get returns the value for key, or domain.ErrEntryNotFound on a miss or an
// expired entry
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	if !ok || entry.expired(time.Now()) {
		return nil, domain.ErrEntryNotFound
	}
	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, nil
}

// Put stores value under key with the given TTL; zero TTL means no expiry
func (s *MemoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = newEntry(value, ttl)
	return nil
}

// Delete removes key
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// CasPut stores value only if key is absent (expired entries count as
// absent). Exactly one of any set of concurrent callers wins.
func (s *MemoryStore) CasPut(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.entries[key]; ok && !entry.expired(time.Now()) {
		return false, nil
	}
	s.entries[key] = newEntry(value, ttl)
	return true, nil
}

// Close stops the cleanup goroutine and waits for it to finish
func (s *MemoryStore) Close() {
	close(s.stopCleanup)
	<-s.cleanupDone
}

// cleanupLoop periodically drops expired entries. The CompareAndSwap guard
// skips a tick if the previous sweep is still running, so overlapping runs
// never stack.
func (s *MemoryStore) cleanupLoop() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			if !s.cleaning.CompareAndSwap(false, true) {
				continue
			}
			s.removeExpired()
			s.cleaning.Store(false)
		}
	}
}

func (s *MemoryStore) removeExpired() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.entries {
		if entry.expired(now) {
			delete(s.entries, key)
		}
	}
}

func newEntry(value []byte, ttl time.Duration) *timedEntry {
	entry := &timedEntry{value: make([]byte, len(value))}
	copy(entry.value, value)
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	return entry
}
