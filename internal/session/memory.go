package session

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	session     Session
	retainUntil time.Time
}

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

func key(classID, token string) string { return classID + "\x00" + token }

// Save stores s and drops entries whose retention ended before s was issued.
func (m *MemoryStore) Save(_ context.Context, s Session, retainUntil time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.entries {
		if e.retainUntil.Before(s.IssuedAt) {
			delete(m.entries, k)
		}
	}
	m.entries[key(s.ClassID, s.Token)] = memoryEntry{session: s, retainUntil: retainUntil}
	return nil
}

// Get returns the session or ErrNotFound.
func (m *MemoryStore) Get(_ context.Context, classID, token string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key(classID, token)]
	if !ok {
		return Session{}, ErrNotFound
	}
	return e.session, nil
}

// Len reports how many sessions are retained.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
