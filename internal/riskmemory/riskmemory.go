// Package riskmemory keeps short-lived per-identity risk counters. Bad
// outcomes raise the counter for both sender and receiver; each raise renews
// the TTL, so an identity stays "warm" while it keeps misbehaving.
package riskmemory

import (
	"context"
	"fmt"
	"time"

	"github.com/mbd888/fraudgate/internal/kvstore"
	"github.com/mbd888/fraudgate/internal/metrics"
)

// DefaultTTL is how long an identity's risk is remembered after its last raise.
const DefaultTTL = time.Hour

// Memory reads and raises risk counters.
type Memory struct {
	kv  kvstore.Store
	ttl time.Duration
}

// New creates a Memory. A non-positive ttl selects DefaultTTL.
func New(kv kvstore.Store, ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{kv: kv, ttl: ttl}
}

// SenderKey is the counter key for a sending identity.
func SenderKey(id string) string { return "risk:sender:" + id }

// ReceiverKey is the counter key for a receiving identity.
func ReceiverKey(id string) string { return "risk:receiver:" + id }

// Increase adds delta to both the sender and receiver counters in one
// transaction.
func (m *Memory) Increase(ctx context.Context, senderID, receiverID string, delta int) error {
	if delta <= 0 {
		return nil
	}
	if err := m.kv.IncrBy(ctx, int64(delta), m.ttl, SenderKey(senderID), ReceiverKey(receiverID)); err != nil {
		metrics.KVErrorsTotal.WithLabelValues("risk_memory_increase").Inc()
		return fmt.Errorf("riskmemory: increase: %w", err)
	}
	return nil
}

// Read returns the combined remembered risk of sender and receiver. Absent
// or expired entries read as zero.
func (m *Memory) Read(ctx context.Context, senderID, receiverID string) (int64, error) {
	n, err := m.kv.Sum(ctx, SenderKey(senderID), ReceiverKey(receiverID))
	if err != nil {
		metrics.KVErrorsTotal.WithLabelValues("risk_memory_read").Inc()
		return 0, fmt.Errorf("riskmemory: read: %w", err)
	}
	return n, nil
}
