package audit

import (
	"context"
	"sync"

	"github.com/mbd888/fraudgate/internal/fraud"
)

// MemoryStore is an in-memory append-only Store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
	byTx    map[string][]int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byTx: make(map[string][]int)}
}

func (m *MemoryStore) Append(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byTx[rec.TxID] = append(m.byTx[rec.TxID], len(m.records))
	m.records = append(m.records, rec)
	return nil
}

func (m *MemoryStore) ListByTx(_ context.Context, txID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx := m.byTx[txID]
	out := make([]Record, 0, len(idx))
	for _, i := range idx {
		out = append(out, m.records[i])
	}
	return out, nil
}

func (m *MemoryStore) ListRecent(_ context.Context, action fraud.Action, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		if action == "" || m.records[i].Result.Action == action {
			out = append(out, m.records[i])
		}
	}
	return out, nil
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
