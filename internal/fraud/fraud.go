// Package fraud defines the transaction and decision contract shared by the
// decision path, the audit pipeline, the review queue and every outbound
// surface (HTTP, event sinks, realtime feed).
//
// There is exactly one schema. The Go field is Action, but on every wire
// and storage surface it is serialized as "decision".
package fraud

import (
	"math"
	"sort"
	"strings"
	"time"
)

// Action is the verdict rendered for a transaction.
type Action string

const (
	ActionAllow  Action = "ALLOW"
	ActionReview Action = "REVIEW"
	ActionBlock  Action = "BLOCK"
)

// Actions lists every valid action in increasing severity.
var Actions = []Action{ActionAllow, ActionReview, ActionBlock}

// ParseAction normalizes s into an Action.
func ParseAction(s string) (Action, bool) {
	switch Action(strings.ToUpper(strings.TrimSpace(s))) {
	case ActionAllow:
		return ActionAllow, true
	case ActionReview:
		return ActionReview, true
	case ActionBlock:
		return ActionBlock, true
	}
	return "", false
}

// Factor names emitted by the engine.
const (
	FactorDuplicate       = "DUPLICATE_TRANSACTION"
	FactorVelocityGuard   = "HIGH_TX_VELOCITY"
	FactorHistoricalRisk  = "HISTORICAL_RISK"
	FactorMLHighRisk      = "ML_HIGH_RISK"
	FactorMLMediumRisk    = "ML_MEDIUM_RISK"
	FactorLatencyFailOpen = "LATENCY_FAIL_OPEN"
	FactorFailOpen        = "FAIL_OPEN"
)

// Score and confidence bounds.
const (
	MinRiskScore  = 0
	MaxRiskScore  = 100
	MinConfidence = 0.05
	MaxConfidence = 1.0
)

// Transaction is a payment submitted for a decision. It is passed by value
// and never modified after validation.
type Transaction struct {
	TxID              string    `json:"tx_id"`
	Amount            float64   `json:"amount"`
	SenderID          string    `json:"sender_id"`
	ReceiverID        string    `json:"receiver_id"`
	GeoRiskScore      float64   `json:"geo_risk_score"`
	FailedPinAttempts int       `json:"failed_pin_attempts"`
	AccountAgeDays    int       `json:"account_age_days"`
	DeviceVelocity    int       `json:"device_velocity"`
	TxVelocity5m      int       `json:"tx_velocity_5m"`
	AvgTx30d          float64   `json:"avg_tx_30d"`
	FirstTimePayee    bool      `json:"first_time_payee"`
	HighValueRatio    float64   `json:"high_value_ratio"`
	Timestamp         time.Time `json:"timestamp"`
}

// RiskFactor is one unit of explanation: a named, signed contribution.
type RiskFactor struct {
	Name  string `json:"name"`
	Delta int    `json:"delta"`
}

// SortFactors orders factors by |delta| descending. Ties keep their
// original order so explanations stay deterministic.
func SortFactors(factors []RiskFactor) {
	sort.SliceStable(factors, func(i, j int) bool {
		return abs(factors[i].Delta) > abs(factors[j].Delta)
	})
}

// FactorNames returns the factor names in order.
func FactorNames(factors []RiskFactor) []string {
	names := make([]string, len(factors))
	for i, f := range factors {
		names[i] = f.Name
	}
	return names
}

// MLStatus reports how the risk amplifier call went.
type MLStatus string

const (
	MLStatusOK          MLStatus = "OK"
	MLStatusUnavailable MLStatus = "UNAVAILABLE"
	MLStatusError       MLStatus = "ERROR"
)

// Which stage of the decision path rendered the action.
const (
	DecidedByDuplicateGuard = "DUPLICATE_GUARD"
	DecidedByVelocityGuard  = "VELOCITY_GUARD"
	DecidedByAmplifier      = "AMPLIFIER"
	DecidedByRules          = "RULES"
	DecidedByFailOpen       = "FAIL_OPEN"
)

// DecisionResult is produced exactly once per transaction on the
// synchronous path and never mutated afterwards.
type DecisionResult struct {
	TxID          string       `json:"tx_id"`
	Action        Action       `json:"decision"`
	RiskScore     int          `json:"risk_score"`
	Confidence    float64      `json:"confidence"`
	MLScore       *float64     `json:"ml_score,omitempty"`
	MLStatus      MLStatus     `json:"ml_status,omitempty"`
	ModelVersion  string       `json:"model_version,omitempty"`
	Factors       []RiskFactor `json:"top_risk_factors,omitempty"`
	DecidedBy     string       `json:"decided_by"`
	EngineVersion string       `json:"engine_version"`
	PolicyVersion string       `json:"policy_version"`
	LatencyMs     float64      `json:"latency_ms"`
	DecidedAt     time.Time    `json:"timestamp"`
	FailOpen      bool         `json:"fail_open,omitempty"`
}

// Clamp forces RiskScore and Confidence into their documented ranges.
func (r *DecisionResult) Clamp() {
	r.RiskScore = ClampScore(r.RiskScore)
	r.Confidence = ClampConfidence(r.Confidence)
	if r.MLScore != nil {
		v := ClampUnit(*r.MLScore)
		r.MLScore = &v
	}
}

// IsGuardShortCircuit reports whether a guard, not scoring, produced r.
func (r *DecisionResult) IsGuardShortCircuit() bool {
	return r.DecidedBy == DecidedByDuplicateGuard || r.DecidedBy == DecidedByVelocityGuard
}

// HasFactor reports whether a factor with the given name is present.
func (r *DecisionResult) HasFactor(name string) bool {
	for _, f := range r.Factors {
		if f.Name == name {
			return true
		}
	}
	return false
}

// ClampScore bounds a risk score to [0, 100].
func ClampScore(score int) int {
	if score < MinRiskScore {
		return MinRiskScore
	}
	if score > MaxRiskScore {
		return MaxRiskScore
	}
	return score
}

// ClampConfidence bounds a confidence to [0.05, 1.0]. NaN maps to the floor.
func ClampConfidence(c float64) float64 {
	if math.IsNaN(c) || c < MinConfidence {
		return MinConfidence
	}
	if c > MaxConfidence {
		return MaxConfidence
	}
	return c
}

// ClampUnit bounds v to [0, 1]. NaN and Inf map to 0.
func ClampUnit(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
