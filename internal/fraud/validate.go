package fraud

import (
	"math"

	"github.com/mbd888/fraudgate/internal/validation"
)

// MaxIdentifierLength bounds tx, sender and receiver identifiers.
const MaxIdentifierLength = 128

// MaxAmount bounds a transaction amount. It keeps amounts exact to the
// cent in a float64 and well inside the audit log's NUMERIC(20,2) column.
const MaxAmount = 1e13

// Validate rejects malformed transactions before they enter the decision
// path. A nil return means the transaction is well formed.
func (tx Transaction) Validate() error {
	errs := validation.Validate(
		validation.Required("tx_id", tx.TxID),
		validation.ValidIdentifier("tx_id", tx.TxID),
		validation.MaxLength("tx_id", tx.TxID, MaxIdentifierLength),
		validation.Required("sender_id", tx.SenderID),
		validation.ValidIdentifier("sender_id", tx.SenderID),
		validation.MaxLength("sender_id", tx.SenderID, MaxIdentifierLength),
		validation.Required("receiver_id", tx.ReceiverID),
		validation.ValidIdentifier("receiver_id", tx.ReceiverID),
		validation.MaxLength("receiver_id", tx.ReceiverID, MaxIdentifierLength),
		validation.Positive("amount", tx.Amount),
		validation.Finite("amount", tx.Amount),
		validation.AtMost("amount", tx.Amount, MaxAmount),
		validation.InRange("geo_risk_score", tx.GeoRiskScore, 0, 100),
		validation.NonNegative("failed_pin_attempts", tx.FailedPinAttempts),
		validation.NonNegative("account_age_days", tx.AccountAgeDays),
		validation.NonNegative("device_velocity", tx.DeviceVelocity),
		validation.NonNegative("tx_velocity_5m", tx.TxVelocity5m),
		validation.InRange("avg_tx_30d", tx.AvgTx30d, 0, math.MaxFloat64),
		validation.InRange("high_value_ratio", tx.HighValueRatio, 0, math.MaxFloat64),
	)
	if len(errs) > 0 {
		return errs
	}
	return nil
}
