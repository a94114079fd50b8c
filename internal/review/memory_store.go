package review

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	items       map[string]*Item
	resolutions map[string][]Resolution
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:       make(map[string]*Item),
		resolutions: make(map[string][]Resolution),
	}
}

func (m *MemoryStore) Enqueue(_ context.Context, item Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[item.TxID]; ok {
		return nil
	}
	item.Status = StatusPending
	m.items[item.TxID] = &item
	return nil
}

func (m *MemoryStore) Get(_ context.Context, txID string) (*Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[txID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *item
	return &cp, nil
}

func (m *MemoryStore) Pending(_ context.Context, limit int) ([]Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Item
	for _, item := range m.items {
		if item.Status == StatusPending {
			out = append(out, *item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EnqueuedAt.Equal(out[j].EnqueuedAt) {
			return out[i].TxID < out[j].TxID
		}
		return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Resolve(_ context.Context, res Resolution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[res.TxID]
	if !ok {
		return ErrNotFound
	}
	if item.Status != StatusPending {
		return ErrAlreadyResolved
	}
	resolvedAt := res.ResolvedAt
	item.Status = StatusResolved
	item.FinalDecision = res.FinalDecision
	item.ResolvedAt = &resolvedAt
	m.resolutions[res.TxID] = append(m.resolutions[res.TxID], res)
	return nil
}

func (m *MemoryStore) Resolutions(_ context.Context, txID string) ([]Resolution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Resolution, len(m.resolutions[txID]))
	copy(out, m.resolutions[txID])
	return out, nil
}
