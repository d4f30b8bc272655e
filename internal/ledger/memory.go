package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type recordKey struct {
	student, class, date string
}

// Memory is an in-process ledger. A single mutex serializes appends.
type Memory struct {
	mu      sync.RWMutex
	index   map[recordKey]int
	records []Record
}

// NewMemory creates an empty ledger.
func NewMemory() *Memory {
	return &Memory{index: make(map[recordKey]int)}
}

// HasMarked reports whether a record exists for the key.
func (m *Memory) HasMarked(_ context.Context, studentID, classID, date string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.index[recordKey{studentID, classID, date}]
	return ok, nil
}

// Append inserts r if its key is free.
func (m *Memory) Append(_ context.Context, r Record) (bool, error) {
	if err := r.validate(); err != nil {
		return false, err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	if r.Status == "" {
		r.Status = StatusPresent
	}
	k := recordKey{r.StudentID, r.ClassID, r.Date}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.index[k]; ok {
		return false, nil
	}
	m.index[k] = len(m.records)
	m.records = append(m.records, r)
	return true, nil
}

// Query returns copies of matching records in insertion order.
func (m *Memory) Query(_ context.Context, f Filter) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, r := range m.records {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}
