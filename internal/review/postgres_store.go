package review

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mbd888/fraudgate/internal/fraud"
)

// PostgresStore persists the review queue to review_items and the
// append-only review_resolutions table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed review store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Enqueue(ctx context.Context, item Item) error {
	factors, err := json.Marshal(item.Factors)
	if err != nil {
		return fmt.Errorf("review: marshal factors: %w", err)
	}
	var mlScore sql.NullFloat64
	if item.MLScore != nil {
		mlScore = sql.NullFloat64{Float64: *item.MLScore, Valid: true}
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO review_items (
			tx_id, sender_id, receiver_id, amount, risk_score, confidence,
			ml_score, factors, status, decided_at, enqueued_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (tx_id) DO NOTHING
	`,
		item.TxID, item.SenderID, item.ReceiverID,
		decimal.NewFromFloat(item.Amount).Round(2),
		item.RiskScore, item.Confidence, mlScore, factors,
		string(StatusPending), item.DecidedAt, item.EnqueuedAt,
	)
	return err
}

const itemColumns = `tx_id, sender_id, receiver_id, amount, risk_score, confidence,
	ml_score, factors, status, final_decision, decided_at, enqueued_at, resolved_at`

func (p *PostgresStore) Get(ctx context.Context, txID string) (*Item, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM review_items WHERE tx_id = $1`, txID)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (p *PostgresStore) Pending(ctx context.Context, limit int) ([]Item, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM review_items
		WHERE status = $1
		ORDER BY enqueued_at ASC, tx_id ASC
		LIMIT $2
	`, string(StatusPending), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}

// Resolve updates the queue item and inserts the resolution in one
// transaction. The conditional UPDATE makes concurrent resolutions of the
// same item race-free: only one sees a pending row.
func (p *PostgresStore) Resolve(ctx context.Context, res Resolution) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE review_items
		SET status = $2, final_decision = $3, resolved_at = $4
		WHERE tx_id = $1 AND status = $5
	`, res.TxID, string(StatusResolved), string(res.FinalDecision), res.ResolvedAt, string(StatusPending))
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM review_items WHERE tx_id = $1)`, res.TxID,
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrAlreadyResolved
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO review_resolutions (id, tx_id, final_decision, actual_label, reviewer, note, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, res.ID, res.TxID, string(res.FinalDecision), res.ActualLabel, res.Reviewer, res.Note, res.ResolvedAt); err != nil {
		return err
	}

	return tx.Commit()
}

func (p *PostgresStore) Resolutions(ctx context.Context, txID string) ([]Resolution, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, tx_id, final_decision, actual_label, reviewer, note, resolved_at
		FROM review_resolutions
		WHERE tx_id = $1
		ORDER BY resolved_at ASC
	`, txID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []Resolution{}
	for rows.Next() {
		var (
			r        Resolution
			decision string
		)
		if err := rows.Scan(&r.ID, &r.TxID, &decision, &r.ActualLabel, &r.Reviewer, &r.Note, &r.ResolvedAt); err != nil {
			return nil, err
		}
		r.FinalDecision = fraud.Action(decision)
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(s scanner) (*Item, error) {
	var (
		item       Item
		amount     decimal.Decimal
		mlScore    sql.NullFloat64
		factors    []byte
		status     string
		final      sql.NullString
		resolvedAt sql.NullTime
	)
	if err := s.Scan(
		&item.TxID, &item.SenderID, &item.ReceiverID, &amount, &item.RiskScore, &item.Confidence,
		&mlScore, &factors, &status, &final, &item.DecidedAt, &item.EnqueuedAt, &resolvedAt,
	); err != nil {
		return nil, err
	}
	item.Amount = amount.InexactFloat64()
	item.Status = Status(status)
	if mlScore.Valid {
		v := mlScore.Float64
		item.MLScore = &v
	}
	if final.Valid {
		item.FinalDecision = fraud.Action(final.String)
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		item.ResolvedAt = &t
	}
	if len(factors) > 0 {
		if err := json.Unmarshal(factors, &item.Factors); err != nil {
			return nil, fmt.Errorf("review: decode factors: %w", err)
		}
	}
	return &item, nil
}
