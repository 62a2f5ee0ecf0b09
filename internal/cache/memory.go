package cache

import (
	"context"
	"sync"
	"time"

	"github.com/helioquant/horizon/internal/domain"
)

type memoryEntry struct {
	rec     *domain.ForecastRecord
	expires time.Time
}

// Memory is the in-process cache used when no Redis address is
// configured. Expired entries are dropped lazily on read.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemory creates an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get returns the cached record for key if present and unexpired.
func (m *Memory) Get(_ context.Context, key string) (*domain.ForecastRecord, bool, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if m.now().After(entry.expires) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return nil, false, nil
	}
	return entry.rec, true, nil
}

// Set stores rec under key unless a live entry already exists.
func (m *Memory) Set(_ context.Context, key string, rec *domain.ForecastRecord, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.entries[key]; ok && m.now().Before(entry.expires) {
		return nil
	}
	m.entries[key] = memoryEntry{rec: rec, expires: m.now().Add(ttl)}
	return nil
}

// Len reports the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
