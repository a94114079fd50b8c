package fraud

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/fraudgate/internal/validation"
)

func validTx() Transaction {
	return Transaction{
		TxID:       "tx-1",
		Amount:     250,
		SenderID:   "alice@okbank",
		ReceiverID: "bob@okbank",
		Timestamp:  time.Now(),
	}
}

func TestParseAction(t *testing.T) {
	a, ok := ParseAction(" block ")
	require.True(t, ok)
	assert.Equal(t, ActionBlock, a)

	_, ok = ParseAction("STEP_UP_AUTH")
	assert.False(t, ok)
}

func TestSortFactors_ByMagnitudeStable(t *testing.T) {
	factors := []RiskFactor{
		{Name: "FIRST_TIME_PAYEE", Delta: 20},
		{Name: "HIGH_AMOUNT", Delta: 40},
		{Name: "OLD_ACCOUNT_TRUST", Delta: -10},
		{Name: "AMOUNT_SPIKE", Delta: 20},
		{Name: "NORMAL_SPEND_BEHAVIOR", Delta: -30},
	}
	SortFactors(factors)
	assert.Equal(t, []string{
		"HIGH_AMOUNT", "NORMAL_SPEND_BEHAVIOR", "FIRST_TIME_PAYEE", "AMOUNT_SPIKE", "OLD_ACCOUNT_TRUST",
	}, FactorNames(factors))
}

func TestDecisionResult_Clamp(t *testing.T) {
	ml := math.NaN()
	r := DecisionResult{RiskScore: 140, Confidence: 0.01, MLScore: &ml}
	r.Clamp()
	assert.Equal(t, 100, r.RiskScore)
	assert.Equal(t, 0.05, r.Confidence)
	assert.Equal(t, 0.0, *r.MLScore)

	r = DecisionResult{RiskScore: -5, Confidence: 3}
	r.Clamp()
	assert.Equal(t, 0, r.RiskScore)
	assert.Equal(t, 1.0, r.Confidence)
}

func TestDecisionResult_SerializesDecisionField(t *testing.T) {
	r := DecisionResult{TxID: "tx-1", Action: ActionReview, RiskScore: 50, Confidence: 0.6}
	b, err := json.Marshal(r)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "REVIEW", m["decision"])
	_, hasAction := m["action"]
	assert.False(t, hasAction)
}

func TestTransaction_Validate(t *testing.T) {
	require.NoError(t, validTx().Validate())

	tx := validTx()
	tx.Amount = 0
	tx.SenderID = ""
	tx.GeoRiskScore = 120
	err := tx.Validate()
	require.Error(t, err)

	var verrs validation.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	fields := map[string]bool{}
	for _, e := range verrs {
		fields[e.Field] = true
	}
	assert.True(t, fields["amount"])
	assert.True(t, fields["sender_id"])
	assert.True(t, fields["geo_risk_score"])
}

func TestTransaction_ValidateAmountCeiling(t *testing.T) {
	tx := validTx()
	tx.Amount = MaxAmount
	require.NoError(t, tx.Validate())

	tx.Amount = 1e18
	var verrs validation.ValidationErrors
	require.ErrorAs(t, tx.Validate(), &verrs)
	require.Len(t, verrs, 1)
	assert.Equal(t, "amount", verrs[0].Field)
	assert.Equal(t, "exceeds maximum", verrs[0].Message)
}
