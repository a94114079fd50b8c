// Package analytics is the read side of the audit pipeline: decision
// counters, the hot cache of recent records and recent blocks from the
// durable store.
package analytics

import (
	"context"
	"math"
	"time"

	"github.com/mbd888/fraudgate/internal/audit"
	"github.com/mbd888/fraudgate/internal/fraud"
)

// Counters reads the decision counters.
type Counters interface {
	Snapshot(ctx context.Context) (audit.Stats, error)
}

// Recent reads the hot cache.
type Recent interface {
	Recent(ctx context.Context, limit int) ([]audit.Record, error)
}

// Stats is the headline summary.
type Stats struct {
	TotalTransactions  int64   `json:"total_transactions"`
	FraudTransactions  int64   `json:"fraud_transactions"`
	ReviewTransactions int64   `json:"review_transactions"`
	FraudRate          float64 `json:"fraud_rate"`
}

// Transaction is the dashboard row for one decision.
type Transaction struct {
	TxID       string       `json:"tx_id"`
	SenderID   string       `json:"sender_id"`
	ReceiverID string       `json:"receiver_id"`
	Amount     float64      `json:"amount"`
	Decision   fraud.Action `json:"decision"`
	RiskScore  int          `json:"risk_score"`
	Confidence float64      `json:"confidence"`
	Factors    []string     `json:"top_risk_factors,omitempty"`
	FailOpen   bool         `json:"fail_open,omitempty"`
	Timestamp  time.Time    `json:"timestamp"`
}

func toTransaction(rec audit.Record) Transaction {
	return Transaction{
		TxID:       rec.TxID,
		SenderID:   rec.Transaction.SenderID,
		ReceiverID: rec.Transaction.ReceiverID,
		Amount:     rec.Transaction.Amount,
		Decision:   rec.Result.Action,
		RiskScore:  rec.Result.RiskScore,
		Confidence: rec.Result.Confidence,
		Factors:    fraud.FactorNames(rec.Result.Factors),
		FailOpen:   rec.Result.FailOpen,
		Timestamp:  rec.Result.DecidedAt,
	}
}

// Service answers analytics queries.
type Service struct {
	counters Counters
	recent   Recent
	store    audit.Store
}

// NewService creates an analytics service.
func NewService(counters Counters, recent Recent, store audit.Store) *Service {
	return &Service{counters: counters, recent: recent, store: store}
}

// Stats returns totals and the fraud (BLOCK) rate as a percentage rounded
// to two decimals.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	snap, err := s.counters.Snapshot(ctx)
	if err != nil {
		return Stats{}, err
	}
	out := Stats{
		TotalTransactions:  snap.Total,
		FraudTransactions:  snap.ByDecision[fraud.ActionBlock],
		ReviewTransactions: snap.ByDecision[fraud.ActionReview],
	}
	if out.TotalTransactions > 0 {
		rate := float64(out.FraudTransactions) / float64(out.TotalTransactions) * 100
		out.FraudRate = math.Round(rate*100) / 100
	}
	return out, nil
}

// DecisionSplit returns per-decision counts keyed by decision name.
func (s *Service) DecisionSplit(ctx context.Context) (map[fraud.Action]int64, error) {
	snap, err := s.counters.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[fraud.Action]int64, len(fraud.Actions))
	for _, a := range fraud.Actions {
		out[a] = snap.ByDecision[a]
	}
	return out, nil
}

// Transactions returns the most recent decisions from the hot cache.
func (s *Service) Transactions(ctx context.Context, limit int) ([]Transaction, error) {
	recs, err := s.recent.Recent(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Transaction, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toTransaction(rec))
	}
	return out, nil
}

// RecentBlocks returns the newest BLOCK decisions from the durable store.
func (s *Service) RecentBlocks(ctx context.Context, limit int) ([]Transaction, error) {
	recs, err := s.store.ListRecent(ctx, fraud.ActionBlock, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Transaction, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toTransaction(rec))
	}
	return out, nil
}
