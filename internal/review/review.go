// Package review holds REVIEW decisions until a human closes them out as
// ALLOW or BLOCK.
//
// Items arrive from the audit pipeline. A resolution never edits the audit
// log: it marks the queue item resolved and appends a separate resolution
// row carrying the ground-truth label used for model quality tracking.
package review

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/fraudgate/internal/fraud"
)

var (
	ErrNotFound        = errors.New("review: item not found")
	ErrAlreadyResolved = errors.New("review: item already resolved")
	ErrInvalidDecision = errors.New("review: final decision must be ALLOW or BLOCK")
)

const (
	maxReviewerLength   = 128
	defaultPendingLimit = 100
)

// Status is the lifecycle state of a review item.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusResolved Status = "RESOLVED"
)

// Ground-truth labels recorded with a resolution.
const (
	LabelFraud      = "FRAUD"
	LabelLegitimate = "LEGITIMATE"
)

// Item is a compact projection of a REVIEW decision.
type Item struct {
	TxID          string       `json:"tx_id"`
	SenderID      string       `json:"sender_id"`
	ReceiverID    string       `json:"receiver_id"`
	Amount        float64      `json:"amount"`
	RiskScore     int          `json:"risk_score"`
	Confidence    float64      `json:"confidence"`
	MLScore       *float64     `json:"ml_score,omitempty"`
	Factors       []string     `json:"top_risk_factors"`
	Status        Status       `json:"status"`
	FinalDecision fraud.Action `json:"final_decision,omitempty"`
	DecidedAt     time.Time    `json:"decided_at"`
	EnqueuedAt    time.Time    `json:"enqueued_at"`
	ResolvedAt    *time.Time   `json:"resolved_at,omitempty"`
}

// Resolution is an append-only record of a human verdict.
type Resolution struct {
	ID            string       `json:"id"`
	TxID          string       `json:"tx_id"`
	FinalDecision fraud.Action `json:"final_decision"`
	ActualLabel   string       `json:"actual_label"`
	Reviewer      string       `json:"reviewer,omitempty"`
	Note          string       `json:"note,omitempty"`
	ResolvedAt    time.Time    `json:"resolved_at"`
}

// LabelFor maps a final decision to its ground-truth label.
func LabelFor(a fraud.Action) string {
	if a == fraud.ActionBlock {
		return LabelFraud
	}
	return LabelLegitimate
}

// Store persists the review queue.
type Store interface {
	// Enqueue adds a pending item. Enqueuing a tx id twice is a no-op.
	Enqueue(ctx context.Context, item Item) error
	Get(ctx context.Context, txID string) (*Item, error)
	// Pending returns unresolved items, oldest first.
	Pending(ctx context.Context, limit int) ([]Item, error)
	// Resolve closes a pending item and appends res. It returns
	// ErrNotFound or ErrAlreadyResolved without writing anything.
	Resolve(ctx context.Context, res Resolution) error
	Resolutions(ctx context.Context, txID string) ([]Resolution, error)
}
