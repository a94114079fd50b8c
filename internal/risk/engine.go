package risk

import (
	"math"

	"github.com/mbd888/fraudgate/internal/fraud"
)

// Scorer applies a Weights table to transactions. It holds no mutable state
// and is safe for concurrent use.
type Scorer struct {
	w Weights
}

// NewScorer creates a scorer for the given rule table.
func NewScorer(w Weights) *Scorer {
	if w.ConfidenceScoreSpan <= 0 {
		w.ConfidenceScoreSpan = DefaultWeights().ConfidenceScoreSpan
	}
	return &Scorer{w: w}
}

// Version returns the rule table version.
func (s *Scorer) Version() string { return s.w.Version }

// Score evaluates tx. Pure: identical input yields identical output.
func (s *Scorer) Score(tx fraud.Transaction) Assessment {
	w := s.w
	factors := make([]fraud.RiskFactor, 0, 10)
	add := func(name string, delta int) {
		factors = append(factors, fraud.RiskFactor{Name: name, Delta: delta})
	}

	total := 0
	addRisk := func(name string, delta int) {
		total += delta
		add(name, delta)
	}

	switch {
	case tx.Amount >= w.HighAmount:
		addRisk(FactorHighAmount, w.HighAmountDelta)
	case tx.Amount >= w.MediumAmount:
		addRisk(FactorMediumAmount, w.MediumAmountDelta)
	}

	switch {
	case tx.FailedPinAttempts >= w.FailedPinHigh:
		addRisk(FactorFailedPinHigh, w.FailedPinHighDelta)
	case tx.FailedPinAttempts >= w.FailedPinMed:
		addRisk(FactorFailedPinMed, w.FailedPinMedDelta)
	}

	switch {
	case tx.GeoRiskScore >= w.HighGeo:
		addRisk(FactorHighGeo, w.HighGeoDelta)
	case tx.GeoRiskScore >= w.MediumGeo:
		addRisk(FactorMediumGeo, w.MediumGeoDelta)
	}

	switch {
	case tx.AccountAgeDays < w.NewAccountDays:
		addRisk(FactorNewAccount, w.NewAccountDelta)
	case tx.AccountAgeDays < w.RecentAccountDays:
		addRisk(FactorRecentAccount, w.RecentAccountDelta)
	}

	if tx.FirstTimePayee {
		addRisk(FactorFirstTimePayee, w.FirstTimePayeeDelta)
	}

	switch {
	case tx.TxVelocity5m >= w.HighTxVelocity:
		addRisk(FactorHighTxVelocity, w.HighTxVelocityDelta)
	case tx.TxVelocity5m >= w.MediumTxVelocity:
		addRisk(FactorMediumTxVelocity, w.MediumTxVelocityDelta)
	}

	if tx.DeviceVelocity >= w.DeviceChange {
		addRisk(FactorDeviceChange, w.DeviceChangeDelta)
	}

	if tx.AvgTx30d > 0 && tx.Amount > w.SpikeMultiplier*tx.AvgTx30d {
		addRisk(FactorAmountSpike, w.AmountSpikeDelta)
	}

	// Trust signals. The combined reduction is capped, and each factor
	// reports what it actually contributed after the cap.
	trust := 0
	addTrust := func(name string, amount int) {
		remaining := w.MaxTrustReduction - trust
		if remaining <= 0 {
			return
		}
		amount = min(amount, remaining)
		trust += amount
		add(name, -amount)
	}
	if tx.AccountAgeDays > w.TrustedAccountDays {
		addTrust(FactorOldAccountTrust, w.OldAccountTrust)
	}
	if tx.AvgTx30d > 0 && tx.Amount <= tx.AvgTx30d {
		addTrust(FactorNormalSpendBehavior, w.NormalSpendTrust)
	}

	score := fraud.ClampScore(total - trust)
	fraud.SortFactors(factors)

	return Assessment{
		RiskScore:  score,
		Confidence: s.Confidence(score),
		Factors:    factors,
	}
}

// Confidence maps a risk score to the policy's confidence that an ALLOW is
// safe: 1 - score/span, floored at the minimum and rounded to 2 places.
func (s *Scorer) Confidence(score int) float64 {
	c := 1 - float64(score)/s.w.ConfidenceScoreSpan
	c = math.Max(fraud.MinConfidence, c)
	return fraud.ClampConfidence(fraud.Round2(c))
}
