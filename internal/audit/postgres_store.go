package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mbd888/fraudgate/internal/fraud"
)

// PostgresStore persists audit records to the audit_log table. The table
// has no UPDATE or DELETE path; see migrations/00001_audit_log.sql.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed audit store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Append inserts one record. The full transaction and result are kept as
// JSONB; the commonly queried columns are denormalized next to them.
func (p *PostgresStore) Append(ctx context.Context, rec Record) error {
	txJSON, err := json.Marshal(rec.Transaction)
	if err != nil {
		return fmt.Errorf("audit: marshal transaction: %w", err)
	}
	resJSON, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("audit: marshal result: %w", err)
	}

	var mlScore sql.NullFloat64
	if rec.Result.MLScore != nil {
		mlScore = sql.NullFloat64{Float64: *rec.Result.MLScore, Valid: true}
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO audit_log (
			id, tx_id, sender_id, receiver_id, amount, decision, risk_score,
			confidence, ml_score, ml_status, decided_by, fail_open,
			engine_version, policy_version, latency_ms, transaction, result,
			decided_at, ingested_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`,
		rec.ID, rec.TxID, rec.Transaction.SenderID, rec.Transaction.ReceiverID,
		decimal.NewFromFloat(rec.Transaction.Amount).Round(2),
		string(rec.Result.Action), rec.Result.RiskScore, rec.Result.Confidence,
		mlScore, string(rec.Result.MLStatus), rec.Result.DecidedBy, rec.Result.FailOpen,
		rec.Result.EngineVersion, rec.Result.PolicyVersion, rec.Result.LatencyMs,
		txJSON, resJSON, rec.Result.DecidedAt, rec.IngestedAt,
	)
	return err
}

func (p *PostgresStore) ListByTx(ctx context.Context, txID string) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, tx_id, transaction, result, ingested_at
		FROM audit_log
		WHERE tx_id = $1
		ORDER BY ingested_at ASC, id ASC
	`, txID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

func (p *PostgresStore) ListRecent(ctx context.Context, action fraud.Action, limit int) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, tx_id, transaction, result, ingested_at
		FROM audit_log
		WHERE ($1 = '' OR decision = $1)
		ORDER BY ingested_at DESC, id DESC
		LIMIT $2
	`, string(action), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var (
			rec             Record
			txJSON, resJSON []byte
		)
		if err := rows.Scan(&rec.ID, &rec.TxID, &txJSON, &resJSON, &rec.IngestedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(txJSON, &rec.Transaction); err != nil {
			return nil, fmt.Errorf("audit: decode transaction %s: %w", rec.ID, err)
		}
		if err := json.Unmarshal(resJSON, &rec.Result); err != nil {
			return nil, fmt.Errorf("audit: decode result %s: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
