package kvstore

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
// A single mutex makes each call atomic, matching the guarantees of the
// Redis implementation within one process.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]*memItem
	now   func() time.Time
}

type memItem struct {
	value     string
	list      [][]byte
	expiresAt time.Time // zero = no expiry
}

// NewMemoryStore creates an in-memory key-value store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]*memItem),
		now:   time.Now,
	}
}

// WithClock overrides the clock used for expiry (tests).
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
	return s
}

// get returns the live item at key, evicting it if expired (caller holds lock).
func (s *MemoryStore) get(key string) *memItem {
	it, ok := s.items[key]
	if !ok {
		return nil
	}
	if !it.expiresAt.IsZero() && !s.now().Before(it.expiresAt) {
		delete(s.items, key)
		return nil
	}
	return it
}

func (s *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func (s *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.get(key) != nil {
		return false, nil
	}
	s.items[key] = &memItem{value: value, expiresAt: s.expiry(ttl)}
	return true, nil
}

func (s *MemoryStore) IncrWindow(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it := s.get(key)
	if it == nil {
		s.items[key] = &memItem{value: "1", expiresAt: s.expiry(window)}
		return 1, nil
	}
	n, _ := strconv.ParseInt(it.value, 10, 64)
	n++
	it.value = strconv.FormatInt(n, 10)
	return n, nil
}

func (s *MemoryStore) IncrBy(_ context.Context, delta int64, ttl time.Duration, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		it := s.get(key)
		if it == nil {
			it = &memItem{value: "0"}
			s.items[key] = it
		}
		n, _ := strconv.ParseInt(it.value, 10, 64)
		it.value = strconv.FormatInt(n+delta, 10)
		it.expiresAt = s.expiry(ttl)
	}
	return nil
}

func (s *MemoryStore) Sum(_ context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, key := range keys {
		if it := s.get(key); it != nil {
			n, _ := strconv.ParseInt(it.value, 10, 64)
			total += n
		}
	}
	return total, nil
}

func (s *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it := s.get(key)
	if it == nil {
		it = &memItem{value: "0"}
		s.items[key] = it
	}
	n, _ := strconv.ParseInt(it.value, 10, 64)
	n++
	it.value = strconv.FormatInt(n, 10)
	return n, nil
}

func (s *MemoryStore) PushTrim(_ context.Context, key string, value []byte, max int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it := s.get(key)
	if it == nil {
		it = &memItem{}
		s.items[key] = it
	}
	v := make([]byte, len(value))
	copy(v, value)
	it.list = append([][]byte{v}, it.list...)
	if max > 0 && len(it.list) > max {
		it.list = it.list[:max]
	}
	return nil
}

func (s *MemoryStore) Range(_ context.Context, key string, limit int) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it := s.get(key)
	if it == nil || limit <= 0 {
		return nil, nil
	}
	n := min(limit, len(it.list))
	out := make([][]byte, n)
	for i := 0; i < n; i++ {
		out[i] = append([]byte(nil), it.list[i]...)
	}
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
