package session

import (
	"context"
	"sync"

	"ragchat/internal/domain"
)

// MemoryStore keeps sessions for the lifetime of the process.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]domain.State
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]domain.State)}
}

func (m *MemoryStore) Name() string { return "memory" }

// Get returns a copy of the thread's state.
func (m *MemoryStore) Get(_ context.Context, threadID string) (domain.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[threadID].Clone(), nil
}

// Apply updates the thread's state and returns a copy of the result.
func (m *MemoryStore) Apply(_ context.Context, threadID string, d Delta) (domain.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := d.ApplyTo(m.sessions[threadID])
	m.sessions[threadID] = next
	return next.Clone(), nil
}

func (m *MemoryStore) Close() error { return nil }
