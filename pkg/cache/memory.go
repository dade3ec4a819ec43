package cache

import (
	"sync"
	"time"
)

// Memory is an in-process cache.
type Memory struct {
	settings
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemory(opts ...Option) *Memory {
	return &Memory{settings: newSettings(opts), entries: map[string]Entry{}}
}

func (m *Memory) Get(key string) (string, bool, error) {
	m.maybeCollect(m.GC)
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || e.Expired(m.now()) {
		return "", false, nil
	}
	return e.Artifact, true, nil
}

func (m *Memory) Set(key, artifact string, lifetime time.Duration) error {
	if lifetime <= 0 {
		return nil
	}
	m.maybeCollect(m.GC)
	m.mu.Lock()
	m.entries[key] = Entry{Key: key, Artifact: artifact, CreatedAt: m.now(), Lifetime: lifetime}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Has(key string) (bool, error) {
	_, ok, err := m.Get(key)
	return ok, err
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Flush() error {
	m.mu.Lock()
	m.entries = map[string]Entry{}
	m.mu.Unlock()
	return nil
}

// GC removes expired entries and returns how many were removed.
func (m *Memory) GC() (int, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, e := range m.entries {
		if e.Expired(now) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
