package state

import (
	"context"
	"sync"

	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/core"
)

// MemoryStore keeps threads in process memory. Threads are lost on exit.
type MemoryStore struct {
	settings
	mu      sync.Mutex
	threads map[string]*core.Thread
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		settings: newSettings(opts),
		threads:  make(map[string]*core.Thread),
	}
}

// CreateThread implements core.ThreadStore.
func (m *MemoryStore) CreateThread(_ context.Context, toolName, parentID string, initialContext map[string]interface{}) (string, error) {
	t := m.newThread(toolName, parentID, initialContext)
	m.mu.Lock()
	m.threads[t.ThreadID] = t
	m.mu.Unlock()
	return t.ThreadID, nil
}

// GetThread implements core.ThreadStore.
func (m *MemoryStore) GetThread(_ context.Context, id string) (*core.Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.lookup(id)
	return t.Clone(), nil
}

// AddTurn implements core.ThreadStore.
func (m *MemoryStore) AddTurn(_ context.Context, id string, turns ...core.Turn) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.lookup(id)
	if t == nil {
		return false, nil
	}
	return m.appendTurns(t, turns...), nil
}

// lookup returns the live thread, evicting it if expired. Callers hold mu.
func (m *MemoryStore) lookup(id string) *core.Thread {
	t, ok := m.threads[id]
	if !ok {
		return nil
	}
	if m.expired(t) {
		delete(m.threads, id)
		return nil
	}
	return t
}

// Len returns the number of stored threads, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.threads)
}

// Close implements core.ThreadStore.
func (m *MemoryStore) Close() error {
	return nil
}

var _ core.ThreadStore = (*MemoryStore)(nil)
