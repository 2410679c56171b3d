package kv

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a process-local KV backend, the Go counterpart of the
// original implementation's MemoryStorage. Used for STORAGE_BACKEND=memory
// (tests, single-process local dev); not shared across replicas.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]memoryEntry
	windows  map[string][]time.Time
}

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		windows: make(map[string][]time.Time),
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return "", false, nil
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(m.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = m.entryFor(value, ttl)
	return nil
}

func (m *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok {
		if e.expiresAt.IsZero() || !time.Now().After(e.expiresAt) {
			return false, nil
		}
	}
	m.entries[key] = m.entryFor(value, ttl)
	return true, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	delete(m.windows, key)
	return nil
}

func (m *MemoryStore) DeletePrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
		}
	}
	return nil
}

func (m *MemoryStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if ok && !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		ok = false
	}
	var n int64
	if ok {
		n, _ = strconv.ParseInt(e.value, 10, 64)
	}
	n++
	ttlToUse := ttl
	if ok && !e.expiresAt.IsZero() {
		ttlToUse = time.Until(e.expiresAt)
	}
	m.entries[key] = m.entryFor(strconv.FormatInt(n, 10), ttlToUse)
	return n, nil
}

func (m *MemoryStore) SlidingWindowAllow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	cutoff := now.Add(-window)

	kept := m.windows[key][:0]
	for _, t := range m.windows[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	allowed := len(kept) < limit
	kept = append(kept, now)
	m.windows[key] = kept
	return allowed, nil
}

// Len reports the number of entries currently held, expired or not — used
// only by pkg/scheduler's housekeeping sweep metric, not part of the Store
// contract.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *MemoryStore) entryFor(value string, ttl time.Duration) memoryEntry {
	if ttl <= 0 {
		return memoryEntry{value: value}
	}
	return memoryEntry{value: value, expiresAt: time.Now().Add(ttl)}
}
