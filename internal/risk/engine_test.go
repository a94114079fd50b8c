package risk

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/fraudgate/internal/fraud"
)

func baseTx() fraud.Transaction {
	return fraud.Transaction{
		TxID:       "tx-1",
		SenderID:   "alice@okbank",
		ReceiverID: "bob@okbank",
		Timestamp:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestScore_Scenarios(t *testing.T) {
	s := NewScorer(DefaultWeights())

	tests := []struct {
		name       string
		mutate     func(*fraud.Transaction)
		score      int
		confidence float64
		factors    []string
	}{
		{
			name: "established sender, normal spend",
			mutate: func(tx *fraud.Transaction) {
				tx.Amount = 300
				tx.AccountAgeDays = 800
				tx.AvgTx30d = 500
			},
			score:      0,
			confidence: 1.0,
			factors:    []string{FactorOldAccountTrust, FactorNormalSpendBehavior},
		},
		{
			name: "recent account paying a new payee",
			mutate: func(tx *fraud.Transaction) {
				tx.Amount = 9000
				tx.AccountAgeDays = 60
				tx.FirstTimePayee = true
			},
			score:      30,
			confidence: 0.76,
			factors:    []string{FactorFirstTimePayee, FactorRecentAccount},
		},
		{
			name: "large amount, pin failures, risky geo, new account",
			mutate: func(tx *fraud.Transaction) {
				tx.Amount = 50000
				tx.FailedPinAttempts = 4
				tx.GeoRiskScore = 90
				tx.AccountAgeDays = 5
			},
			score:      100,
			confidence: 0.2,
			factors:    []string{FactorHighAmount, FactorFailedPinHigh, FactorHighGeo, FactorNewAccount},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tx := baseTx()
			tc.mutate(&tx)
			a := s.Score(tx)
			assert.Equal(t, tc.score, a.RiskScore)
			assert.InDelta(t, tc.confidence, a.Confidence, 1e-9)
			assert.Equal(t, tc.factors, fraud.FactorNames(a.Factors))
		})
	}
}

func TestScore_HighestTierOnly(t *testing.T) {
	s := NewScorer(DefaultWeights())

	tests := []struct {
		name   string
		mutate func(*fraud.Transaction)
		factor string
		delta  int
	}{
		{"medium amount", func(tx *fraud.Transaction) { tx.Amount = 10000 }, FactorMediumAmount, 20},
		{"high amount", func(tx *fraud.Transaction) { tx.Amount = 20000 }, FactorHighAmount, 40},
		{"two pin failures", func(tx *fraud.Transaction) { tx.FailedPinAttempts = 2 }, FactorFailedPinMed, 15},
		{"three pin failures", func(tx *fraud.Transaction) { tx.FailedPinAttempts = 3 }, FactorFailedPinHigh, 30},
		{"medium geo", func(tx *fraud.Transaction) { tx.GeoRiskScore = 50 }, FactorMediumGeo, 15},
		{"high geo", func(tx *fraud.Transaction) { tx.GeoRiskScore = 80 }, FactorHighGeo, 30},
		{"new account", func(tx *fraud.Transaction) { tx.AccountAgeDays = 29 }, FactorNewAccount, 25},
		{"medium velocity", func(tx *fraud.Transaction) { tx.TxVelocity5m = 3 }, FactorMediumTxVelocity, 15},
		{"high velocity", func(tx *fraud.Transaction) { tx.TxVelocity5m = 7 }, FactorHighTxVelocity, 25},
		{"device change", func(tx *fraud.Transaction) { tx.DeviceVelocity = 5 }, FactorDeviceChange, 20},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tx := baseTx()
			tx.Amount = 100
			tx.AccountAgeDays = 200
			tc.mutate(&tx)

			a := s.Score(tx)
			require.Len(t, a.Factors, 1, "factors: %v", a.Factors)
			assert.Equal(t, tc.factor, a.Factors[0].Name)
			assert.Equal(t, tc.delta, a.Factors[0].Delta)
			assert.Equal(t, tc.delta, a.RiskScore)
		})
	}
}

func TestScore_AmountSpike(t *testing.T) {
	s := NewScorer(DefaultWeights())
	tx := baseTx()
	tx.AccountAgeDays = 200
	tx.AvgTx30d = 1000
	tx.Amount = 3500

	a := s.Score(tx)
	assert.Equal(t, []string{FactorAmountSpike}, fraud.FactorNames(a.Factors))
	assert.Equal(t, 20, a.RiskScore)

	tx.Amount = 3000 // exactly 3x is not a spike
	a = s.Score(tx)
	assert.Empty(t, a.Factors)
}

func TestScore_TrustCapped(t *testing.T) {
	w := DefaultWeights()
	w.OldAccountTrust = 15
	w.NormalSpendTrust = 15
	s := NewScorer(w)

	tx := baseTx()
	tx.Amount = 100
	tx.AvgTx30d = 200
	tx.AccountAgeDays = 400
	tx.FirstTimePayee = true
	tx.DeviceVelocity = 9

	a := s.Score(tx)
	// 20 + 20 risk, trust 15 + 5 (capped at 20).
	assert.Equal(t, 20, a.RiskScore)
	var trust int
	for _, f := range a.Factors {
		if f.Delta < 0 {
			trust += f.Delta
		}
	}
	assert.Equal(t, -20, trust)
}

func TestScore_Idempotent(t *testing.T) {
	s := NewScorer(DefaultWeights())
	tx := baseTx()
	tx.Amount = 15000
	tx.GeoRiskScore = 60
	tx.FailedPinAttempts = 2
	tx.TxVelocity5m = 4

	first := s.Score(tx)
	second := s.Score(tx)
	assert.Equal(t, first, second)
}

func TestScore_RangeInvariants(t *testing.T) {
	s := NewScorer(DefaultWeights())
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 2000; i++ {
		tx := baseTx()
		tx.Amount = rng.Float64() * 100000
		tx.GeoRiskScore = rng.Float64() * 100
		tx.FailedPinAttempts = rng.Intn(8)
		tx.AccountAgeDays = rng.Intn(2000)
		tx.DeviceVelocity = rng.Intn(20)
		tx.TxVelocity5m = rng.Intn(20)
		tx.AvgTx30d = rng.Float64() * 20000
		tx.FirstTimePayee = rng.Intn(2) == 1
		tx.HighValueRatio = rng.Float64()

		a := s.Score(tx)
		require.GreaterOrEqual(t, a.RiskScore, 0)
		require.LessOrEqual(t, a.RiskScore, 100)
		require.GreaterOrEqual(t, a.Confidence, 0.05)
		require.LessOrEqual(t, a.Confidence, 1.0)
		for j := 1; j < len(a.Factors); j++ {
			require.GreaterOrEqual(t, abs(a.Factors[j-1].Delta), abs(a.Factors[j].Delta))
		}
	}
}

func TestConfidence(t *testing.T) {
	s := NewScorer(DefaultWeights())
	assert.Equal(t, 1.0, s.Confidence(0))
	assert.Equal(t, 0.76, s.Confidence(30))
	assert.Equal(t, 0.44, s.Confidence(70))
	assert.Equal(t, 0.2, s.Confidence(100))
	assert.Equal(t, "rules-v1", s.Version())
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
