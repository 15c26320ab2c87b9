// Package cache provides the TTL caches that sit in front of the odds vendor.
//
// Memory is a process-local map with lazy expiry. Redis shares entries across
// replicas so that several instances spend one vendor quota between them.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/XavierBriggs/Pythia/pkg/contracts"
)

var _ contracts.Cache = (*Memory)(nil)

type entry struct {
	value     []byte
	expiresAt time.Time // zero => no TTL
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Memory is an in-process TTL cache.
// Expired entries are dropped when read; there is no background sweep.
type Memory struct {
	mu         sync.RWMutex
	entries    map[string]entry
	maxEntries int
	now        func() time.Time
}

// MemoryOption configures a Memory cache.
type MemoryOption func(*Memory)

// WithMaxEntries bounds the number of stored keys. Zero means unbounded.
func WithMaxEntries(n int) MemoryOption {
	return func(m *Memory) {
		m.maxEntries = n
	}
}

// WithClock replaces time.Now, mainly for expiry tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates an empty in-memory cache
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		entries: make(map[string]entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the value for key if present and not expired
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	now := m.now()

	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if e.expired(now) {
		m.mu.Lock()
		// Re-check: a concurrent Set may have refreshed the key.
		if cur, ok := m.entries[key]; ok && cur.expired(now) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, false
	}

	return e.value, true
}

// Set stores value under key for ttl
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	now := m.now()

	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[key]; !exists && m.maxEntries > 0 && len(m.entries) >= m.maxEntries {
		m.evictLocked(now)
	}

	m.entries[key] = e
}

// Invalidate removes key
func (m *Memory) Invalidate(_ context.Context, key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

// Len returns the number of stored entries, including expired ones not yet read
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// evictLocked makes room for one entry: expired entries go first,
// otherwise the entry closest to expiry is dropped. Caller holds mu.
func (m *Memory) evictLocked(now time.Time) {
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
		}
	}
	if len(m.entries) < m.maxEntries {
		return
	}

	var (
		victim   string
		victimAt time.Time
		found    bool
	)
	for k, e := range m.entries {
		if e.expiresAt.IsZero() {
			continue
		}
		if !found || e.expiresAt.Before(victimAt) {
			victim, victimAt, found = k, e.expiresAt, true
		}
	}
	if !found {
		// Only non-expiring entries left; drop an arbitrary one.
		for k := range m.entries {
			victim = k
			break
		}
	}
	delete(m.entries, victim)
}
