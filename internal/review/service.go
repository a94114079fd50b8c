package review

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mbd888/fraudgate/internal/fraud"
	"github.com/mbd888/fraudgate/internal/metrics"
	"github.com/mbd888/fraudgate/internal/validation"
)

// DefaultBlockMemoryDelta is added to both parties' risk memory when a
// reviewer confirms fraud.
const DefaultBlockMemoryDelta = 25

// Memory is the per-identity risk memory.
type Memory interface {
	Increase(ctx context.Context, senderID, receiverID string, delta int) error
}

// ResolveRequest is a reviewer's verdict.
type ResolveRequest struct {
	FinalDecision string `json:"final_decision" binding:"required"`
	Reviewer      string `json:"reviewer"`
	Note          string `json:"note"`
}

// Service implements the review workflow.
type Service struct {
	store  Store
	memory Memory
	delta  int
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a review service. memory may be nil.
func NewService(store Store, memory Memory, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		memory: memory,
		delta:  DefaultBlockMemoryDelta,
		logger: logger,
		now:    time.Now,
	}
}

// Enqueue adds a REVIEW decision to the queue. Other decisions are ignored.
func (s *Service) Enqueue(ctx context.Context, tx fraud.Transaction, r fraud.DecisionResult) error {
	if r.Action != fraud.ActionReview {
		return nil
	}
	item := Item{
		TxID:       r.TxID,
		SenderID:   tx.SenderID,
		ReceiverID: tx.ReceiverID,
		Amount:     tx.Amount,
		RiskScore:  r.RiskScore,
		Confidence: r.Confidence,
		MLScore:    r.MLScore,
		Factors:    fraud.FactorNames(r.Factors),
		Status:     StatusPending,
		DecidedAt:  r.DecidedAt,
		EnqueuedAt: s.now().UTC(),
	}
	if err := s.store.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("review: enqueue %s: %w", r.TxID, err)
	}
	return nil
}

// Pending lists unresolved items, oldest first.
func (s *Service) Pending(ctx context.Context, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = defaultPendingLimit
	}
	return s.store.Pending(ctx, limit)
}

// Get returns one item.
func (s *Service) Get(ctx context.Context, txID string) (*Item, error) {
	return s.store.Get(ctx, txID)
}

// Resolve closes a pending item. A BLOCK verdict raises risk memory for
// both parties; a memory failure is logged and does not undo the
// resolution.
func (s *Service) Resolve(ctx context.Context, txID string, req ResolveRequest) (*Resolution, error) {
	decision, ok := fraud.ParseAction(req.FinalDecision)
	if !ok || decision == fraud.ActionReview {
		return nil, ErrInvalidDecision
	}
	if errs := validation.Validate(
		validation.MaxLength("reviewer", req.Reviewer, maxReviewerLength),
		validation.MaxLength("note", req.Note, validation.MaxStringLength),
	); len(errs) > 0 {
		return nil, errs
	}

	item, err := s.store.Get(ctx, txID)
	if err != nil {
		return nil, err
	}

	res := Resolution{
		ID:            uuid.NewString(),
		TxID:          txID,
		FinalDecision: decision,
		ActualLabel:   LabelFor(decision),
		Reviewer:      validation.SanitizeString(req.Reviewer, maxReviewerLength),
		Note:          validation.SanitizeString(req.Note, validation.MaxStringLength),
		ResolvedAt:    s.now().UTC(),
	}
	if err := s.store.Resolve(ctx, res); err != nil {
		return nil, err
	}
	metrics.ReviewResolutionsTotal.WithLabelValues(string(decision)).Inc()

	if decision == fraud.ActionBlock && s.memory != nil {
		if err := s.memory.Increase(ctx, item.SenderID, item.ReceiverID, s.delta); err != nil {
			s.logger.Warn("risk memory increase failed after review", "tx_id", txID, "error", err)
		}
	}

	s.logger.Info("review resolved",
		"tx_id", txID, "final_decision", decision, "actual_label", res.ActualLabel)
	return &res, nil
}

// Resolutions returns the resolution history for txID.
func (s *Service) Resolutions(ctx context.Context, txID string) ([]Resolution, error) {
	return s.store.Resolutions(ctx, txID)
}
