// Package guard implements the pre-scoring checks that can short-circuit a
// decision: duplicate transaction IDs and per-sender burst velocity.
//
// Both checks are single atomic operations on the shared key-value store.
// A store failure never trips a guard; it is logged, counted and the
// transaction proceeds to scoring.
package guard

import (
	"context"
	"log/slog"
	"time"

	"github.com/mbd888/fraudgate/internal/kvstore"
	"github.com/mbd888/fraudgate/internal/metrics"
)

// Config holds guard tuning.
type Config struct {
	DedupTTL       time.Duration // how long a tx_id is remembered
	VelocityWindow time.Duration // per-sender counting window
	VelocityMax    int64         // counts above this trip the guard
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		DedupTTL:       300 * time.Second,
		VelocityWindow: 60 * time.Second,
		VelocityMax:    5,
	}
}

// Guard runs duplicate and velocity checks against a kvstore.Store.
type Guard struct {
	kv     kvstore.Store
	cfg    Config
	logger *slog.Logger
}

// New creates a Guard.
func New(kv kvstore.Store, cfg Config, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{kv: kv, cfg: cfg, logger: logger}
}

// DedupKey is the key recording that a tx_id has been seen.
func DedupKey(txID string) string { return "tx:" + txID }

// VelocityKey is the per-sender transaction counter key.
func VelocityKey(senderID string) string { return "user:" + senderID + ":tx_count" }

// CheckDuplicate reports whether txID was already seen within the dedup TTL.
// The first caller for an id wins; the TTL is not re-armed by later calls.
func (g *Guard) CheckDuplicate(ctx context.Context, txID string) (bool, error) {
	set, err := g.kv.SetNX(ctx, DedupKey(txID), "1", g.cfg.DedupTTL)
	if err != nil {
		metrics.KVErrorsTotal.WithLabelValues("dedup").Inc()
		g.logger.Warn("dedup check failed, failing open", "tx_id", txID, "error", err)
		return false, err
	}
	if !set {
		metrics.GuardTripsTotal.WithLabelValues("duplicate").Inc()
		return true, nil
	}
	return false, nil
}

// CheckVelocity counts one transaction for senderID and reports whether the
// sender has exceeded VelocityMax within the current window.
func (g *Guard) CheckVelocity(ctx context.Context, senderID string) (bool, error) {
	n, err := g.kv.IncrWindow(ctx, VelocityKey(senderID), g.cfg.VelocityWindow)
	if err != nil {
		metrics.KVErrorsTotal.WithLabelValues("velocity").Inc()
		g.logger.Warn("velocity check failed, failing open", "sender_id", senderID, "error", err)
		return false, err
	}
	if n > g.cfg.VelocityMax {
		metrics.GuardTripsTotal.WithLabelValues("velocity").Inc()
		return true, nil
	}
	return false, nil
}
