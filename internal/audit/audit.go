// Package audit is the asynchronous consumer of finalized decisions.
//
// The decision path hands each result to Pipeline.Submit, which never
// blocks. A single consumer goroutine then persists the record to the
// append-only Store and fans it out to the hot cache, the review queue, the
// decision counters, risk memory and the outbound event sinks.
//
// Delivery is at-most-once across a crash: an item that was dequeued but not
// yet committed when the process dies is lost. A graceful shutdown drains
// what is already queued within a grace period.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mbd888/fraudgate/internal/fraud"
)

var (
	ErrQueueFull = errors.New("audit: queue full")
	ErrStopped   = errors.New("audit: pipeline stopped")
	ErrNotFound  = errors.New("audit: record not found")
)

// PersistenceError reports that a record could not be written to the
// durable store after retries.
type PersistenceError struct {
	TxID string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("audit: persist %s: %v", e.TxID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Record is one immutable audit entry: the transaction as received and the
// result as returned to the caller.
type Record struct {
	ID          string               `json:"id"`
	TxID        string               `json:"tx_id"`
	Transaction fraud.Transaction    `json:"transaction"`
	Result      fraud.DecisionResult `json:"result"`
	IngestedAt  time.Time            `json:"ingested_at"`
}

// NewRecord builds a record with a fresh id.
func NewRecord(tx fraud.Transaction, r fraud.DecisionResult, now time.Time) Record {
	return Record{
		ID:          uuid.NewString(),
		TxID:        r.TxID,
		Transaction: tx,
		Result:      r,
		IngestedAt:  now.UTC(),
	}
}

// Store is the durable, append-only audit log. Records are never updated or
// deleted.
type Store interface {
	Append(ctx context.Context, rec Record) error
	// ListByTx returns every record for txID, oldest first.
	ListByTx(ctx context.Context, txID string) ([]Record, error)
	// ListRecent returns the newest records, newest first. An empty action
	// matches every decision.
	ListRecent(ctx context.Context, action fraud.Action, limit int) ([]Record, error)
}
