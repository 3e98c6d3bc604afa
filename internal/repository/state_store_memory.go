package repository

import (
	"context"
	"sync"
	"time"
)

const defaultSweepInterval = time.Minute

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStateStore keeps state in process memory for a single instance.
// A background sweeper drops expired keys; Close stops it.
type MemoryStateStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time

	stop      chan struct{}
	closeOnce sync.Once
}

// NewMemoryStateStore creates a store that sweeps expired keys every minute.
func NewMemoryStateStore() *MemoryStateStore {
	s := newMemoryStateStore(time.Now)
	go s.sweepEvery(defaultSweepInterval)
	return s
}

func newMemoryStateStore(now func() time.Time) *MemoryStateStore {
	return &MemoryStateStore{
		entries: make(map[string]memEntry),
		now:     now,
		stop:    make(chan struct{}),
	}
}

func (s *MemoryStateStore) sweepEvery(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep removes every expired entry and returns how many were dropped.
func (s *MemoryStateStore) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	dropped := 0
	for key, entry := range s.entries {
		if entry.expired(now) {
			delete(s.entries, key)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of stored entries, expired or not.
func (s *MemoryStateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close stops the sweeper. It is safe to call more than once.
func (s *MemoryStateStore) Close() error {
	s.closeOnce.Do(func() { close(s.stop) })
	return nil
}

func (s *MemoryStateStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := memEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = entry
	return nil
}

func (s *MemoryStateStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	if entry.expired(s.now()) {
		delete(s.entries, key)
		return nil, nil
	}
	return entry.value, nil
}

func (s *MemoryStateStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
