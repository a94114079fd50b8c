// Package risk implements deterministic rule scoring for payment transactions.
//
// Each signal contributes at most one tier (the highest that applies) to an
// additive 0..100 score. Trust signals subtract, with their combined
// reduction capped. Every contribution is reported as a named factor so a
// decision can always be explained.
package risk

import "github.com/mbd888/fraudgate/internal/fraud"

// Rule factor names.
const (
	FactorHighAmount          = "HIGH_AMOUNT"
	FactorMediumAmount        = "MEDIUM_AMOUNT"
	FactorFailedPinHigh       = "FAILED_PIN_HIGH"
	FactorFailedPinMed        = "FAILED_PIN_MED"
	FactorHighGeo             = "HIGH_GEO"
	FactorMediumGeo           = "MEDIUM_GEO"
	FactorNewAccount          = "NEW_ACCOUNT"
	FactorRecentAccount       = "RECENT_ACCOUNT"
	FactorFirstTimePayee      = "FIRST_TIME_PAYEE"
	FactorHighTxVelocity      = "HIGH_TX_VELOCITY"
	FactorMediumTxVelocity    = "MEDIUM_TX_VELOCITY"
	FactorDeviceChange        = "DEVICE_CHANGE"
	FactorAmountSpike         = "AMOUNT_SPIKE"
	FactorOldAccountTrust     = "OLD_ACCOUNT_TRUST"
	FactorNormalSpendBehavior = "NORMAL_SPEND_BEHAVIOR"
)

// Assessment is the output of rule scoring.
type Assessment struct {
	RiskScore  int                `json:"risk_score"`
	Confidence float64            `json:"confidence"`
	Factors    []fraud.RiskFactor `json:"factors"`
}

// Weights is a complete, versioned rule table: thresholds and deltas.
type Weights struct {
	Version string

	HighAmount, MediumAmount           float64
	HighAmountDelta, MediumAmountDelta int

	FailedPinHigh, FailedPinMed           int
	FailedPinHighDelta, FailedPinMedDelta int

	HighGeo, MediumGeo           float64
	HighGeoDelta, MediumGeoDelta int

	NewAccountDays, RecentAccountDays   int
	NewAccountDelta, RecentAccountDelta int

	FirstTimePayeeDelta int

	HighTxVelocity, MediumTxVelocity           int
	HighTxVelocityDelta, MediumTxVelocityDelta int

	DeviceChange      int
	DeviceChangeDelta int

	SpikeMultiplier  float64
	AmountSpikeDelta int

	TrustedAccountDays  int
	OldAccountTrust     int
	NormalSpendTrust    int
	MaxTrustReduction   int
	ConfidenceScoreSpan float64
}

// DefaultWeights returns the rules-v1 table.
func DefaultWeights() Weights {
	return Weights{
		Version: "rules-v1",

		HighAmount: 20000, MediumAmount: 10000,
		HighAmountDelta: 40, MediumAmountDelta: 20,

		FailedPinHigh: 3, FailedPinMed: 2,
		FailedPinHighDelta: 30, FailedPinMedDelta: 15,

		HighGeo: 80, MediumGeo: 50,
		HighGeoDelta: 30, MediumGeoDelta: 15,

		NewAccountDays: 30, RecentAccountDays: 90,
		NewAccountDelta: 25, RecentAccountDelta: 10,

		FirstTimePayeeDelta: 20,

		HighTxVelocity: 5, MediumTxVelocity: 3,
		HighTxVelocityDelta: 25, MediumTxVelocityDelta: 15,

		DeviceChange: 5, DeviceChangeDelta: 20,

		SpikeMultiplier: 3, AmountSpikeDelta: 20,

		TrustedAccountDays:  365,
		OldAccountTrust:     10,
		NormalSpendTrust:    10,
		MaxTrustReduction:   20,
		ConfidenceScoreSpan: 125,
	}
}
