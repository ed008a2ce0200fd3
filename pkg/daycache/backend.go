package daycache

import (
	"context"
	"sync"
)

// Backend is the storage behind a Store. Implementations must be safe for
// concurrent use.
type Backend interface {
	// Name labels metrics and logs ("memory", "redis").
	Name() string

	// Load returns the entry for key or ErrCacheMiss.
	Load(ctx context.Context, key Key) (*Entry, error)

	// Save replaces the entry for key.
	Save(ctx context.Context, key Key, entry *Entry) error

	// Delete removes keys; missing keys are ignored.
	Delete(ctx context.Context, keys ...Key) error

	// Keys lists every stored key.
	Keys(ctx context.Context) ([]Key, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
}

// MemoryBackend keeps entries in a map owned by the process.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[Key]*Entry
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[Key]*Entry)}
}

func (m *MemoryBackend) Name() string { return "memory" }

func (m *MemoryBackend) Load(_ context.Context, key Key) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return e.clone(), nil
}

func (m *MemoryBackend) Save(_ context.Context, key Key, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = entry.clone()
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, keys ...Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

func (m *MemoryBackend) Keys(_ context.Context) ([]Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]Key, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	return keys, nil
}

func (m *MemoryBackend) Ping(context.Context) error { return nil }

// Len returns the number of stored entries.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
