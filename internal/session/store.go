package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound indicates no session exists for the requested thread id.
var ErrNotFound = errors.New("session not found")

// Store persists session state keyed by thread id.
//
// Stores must provide read-your-writes consistency for a single thread id.
// Concurrent drivers of the same thread must be serialized by the caller.
type Store interface {
	// Load retrieves the state for a thread, or ErrNotFound.
	Load(ctx context.Context, threadID string) (*State, error)

	// Save persists the state for a thread, replacing any prior snapshot.
	Save(ctx context.Context, threadID string, st *State) error

	// Close releases store resources.
	Close() error
}

// MemoryStore keeps snapshots in process memory. It is the default backend
// for CLI runs and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*State
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*State)}
}

// Load returns a deep copy of the stored state.
func (m *MemoryStore) Load(_ context.Context, threadID string) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.sessions[threadID]
	if !ok {
		return nil, ErrNotFound
	}
	return st.Clone(), nil
}

// Save stores a deep copy of the state.
func (m *MemoryStore) Save(_ context.Context, threadID string, st *State) error {
	if st == nil {
		return errors.New("state is required")
	}
	cp := st.Clone()
	cp.UpdatedAt = time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[threadID] = cp
	return nil
}

// Close is a no-op for the memory store.
func (m *MemoryStore) Close() error { return nil }
