package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mbd888/fraudgate/internal/fraud"
	"github.com/mbd888/fraudgate/internal/kvstore"
)

// KV keys shared with the analytics read side.
const (
	HotCacheKey    = "audit:hot"
	DeadLetterKey  = "audit:dead_letter"
	TotalKey       = "stats:total"
	decisionPrefix = "stats:decision:"

	DefaultHotCacheSize = 1000
	deadLetterMax       = 10000
)

// DecisionKey is the counter key for one decision.
func DecisionKey(a fraud.Action) string { return decisionPrefix + string(a) }

// HotCache keeps the most recent records in a capped KV list, newest first.
type HotCache struct {
	kv   kvstore.Store
	size int
}

// NewHotCache creates a hot cache capped at size (DefaultHotCacheSize when
// size <= 0).
func NewHotCache(kv kvstore.Store, size int) *HotCache {
	if size <= 0 {
		size = DefaultHotCacheSize
	}
	return &HotCache{kv: kv, size: size}
}

// Push prepends rec.
func (h *HotCache) Push(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit: marshal hot record: %w", err)
	}
	return h.kv.PushTrim(ctx, HotCacheKey, data, h.size)
}

// Recent returns up to limit records, newest first. Entries that fail to
// decode are skipped.
func (h *HotCache) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 || limit > h.size {
		limit = h.size
	}
	raw, err := h.kv.Range(ctx, HotCacheKey, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(raw))
	for _, b := range raw {
		var rec Record
		if err := json.Unmarshal(b, &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Stats is a snapshot of the decision counters.
type Stats struct {
	Total      int64                  `json:"total"`
	ByDecision map[fraud.Action]int64 `json:"by_decision"`
}

// Counters maintains the total and per-decision counters in the KV store.
type Counters struct {
	kv kvstore.Store
}

// NewCounters creates counters backed by kv.
func NewCounters(kv kvstore.Store) *Counters {
	return &Counters{kv: kv}
}

// Record counts one decision.
func (c *Counters) Record(ctx context.Context, a fraud.Action) error {
	if _, err := c.kv.Incr(ctx, TotalKey); err != nil {
		return err
	}
	_, err := c.kv.Incr(ctx, DecisionKey(a))
	return err
}

// Snapshot reads every counter.
func (c *Counters) Snapshot(ctx context.Context) (Stats, error) {
	total, err := c.kv.Sum(ctx, TotalKey)
	if err != nil {
		return Stats{}, err
	}
	s := Stats{Total: total, ByDecision: make(map[fraud.Action]int64, len(fraud.Actions))}
	for _, a := range fraud.Actions {
		n, err := c.kv.Sum(ctx, DecisionKey(a))
		if err != nil {
			return Stats{}, err
		}
		s.ByDecision[a] = n
	}
	return s, nil
}
