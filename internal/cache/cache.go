// Package cache provides the small process-local caches used by the sync
// pipeline. They are performance aids only; losing them is always safe.
package cache

import (
	"sync"
	"time"
)

// Cache is a keyed store with per-entry expiry. A zero ttl never expires.
type Cache[V any] interface {
	Get(key string) (V, bool)
	Set(key string, value V, ttl time.Duration)
}

type entry[V any] struct {
	value   V
	expires time.Time
}

// Memory is an in-memory Cache safe for concurrent use.
type Memory[V any] struct {
	mu    sync.RWMutex
	items map[string]entry[V]
	now   func() time.Time
}

// NewMemory creates an empty in-memory cache.
func NewMemory[V any]() *Memory[V] {
	return &Memory[V]{
		items: make(map[string]entry[V]),
		now:   time.Now,
	}
}

// Get returns the cached value for key if present and not expired.
func (m *Memory[V]) Get(key string) (V, bool) {
	m.mu.RLock()
	e, ok := m.items[key]
	m.mu.RUnlock()

	if !ok {
		var zero V
		return zero, false
	}
	if !e.expires.IsZero() && m.now().After(e.expires) {
		m.mu.Lock()
		delete(m.items, key)
		m.mu.Unlock()
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key.
func (m *Memory[V]) Set(key string, value V, ttl time.Duration) {
	e := entry[V]{value: value}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.items[key] = e
	m.mu.Unlock()
}

// Len returns the number of entries, including expired ones not yet evicted.
func (m *Memory[V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
