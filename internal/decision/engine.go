// Package decision combines guard, rule and amplifier outputs into a single
// ALLOW / REVIEW / BLOCK verdict under a fixed authority order:
//
//  1. guard short-circuits (duplicate, velocity)
//  2. amplifier override (high ⇒ BLOCK, medium ⇒ REVIEW)
//  3. rule thresholds
//
// The engine owns the fail-open contract. Any fault on the synchronous path
// is converted once, in Decide, into an ALLOW; an overrun of the latency
// ceiling downgrades a scored decision to ALLOW. Callers never see an
// internal error.
package decision

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/mbd888/fraudgate/internal/amplifier"
	"github.com/mbd888/fraudgate/internal/fraud"
	"github.com/mbd888/fraudgate/internal/logging"
	"github.com/mbd888/fraudgate/internal/metrics"
	"github.com/mbd888/fraudgate/internal/risk"
	"github.com/mbd888/fraudgate/internal/traces"
)

// Guard short-circuits a decision before scoring.
type Guard interface {
	CheckDuplicate(ctx context.Context, txID string) (bool, error)
	CheckVelocity(ctx context.Context, senderID string) (bool, error)
}

// Memory is the per-identity risk memory.
type Memory interface {
	Read(ctx context.Context, senderID, receiverID string) (int64, error)
	Increase(ctx context.Context, senderID, receiverID string, delta int) error
}

// Scorer is the deterministic rule scorer.
type Scorer interface {
	Score(tx fraud.Transaction) risk.Assessment
	Confidence(score int) float64
}

// Amplifier is the probabilistic risk amplifier.
type Amplifier interface {
	Predict(ctx context.Context, tx fraud.Transaction) amplifier.Prediction
}

// Auditor accepts finalized decisions for asynchronous processing. Submit
// must not block.
type Auditor interface {
	Submit(tx fraud.Transaction, result fraud.DecisionResult) error
}

// AuditStatus reports what happened to the audit hand-off.
type AuditStatus string

const (
	AuditAccepted AuditStatus = "ACCEPTED"
	AuditRejected AuditStatus = "REJECTED"
	AuditDisabled AuditStatus = "DISABLED"
)

// Config holds the policy constants.
type Config struct {
	MLBlockThreshold   float64
	MLReviewThreshold  float64
	AllowMaxScore      int
	AllowMinConfidence float64
	ReviewMaxScore     int
	LatencyCeiling     time.Duration

	// VelocityMemoryDelta is added to both parties' risk memory when the
	// velocity guard trips.
	VelocityMemoryDelta int
	// HistoricalRiskCap bounds the HISTORICAL_RISK contribution.
	HistoricalRiskCap int

	EngineVersion string
	PolicyVersion string
	// ModelVersion is stamped on results the amplifier actually scored.
	ModelVersion  string
}

// DefaultConfig returns the production policy.
func DefaultConfig() Config {
	return Config{
		MLBlockThreshold:    0.85,
		MLReviewThreshold:   0.45,
		AllowMaxScore:       30,
		AllowMinConfidence:  0.75,
		ReviewMaxScore:      70,
		LatencyCeiling:      45 * time.Millisecond,
		VelocityMemoryDelta: 30,
		HistoricalRiskCap:   30,
		EngineVersion:       "fraudgate-1.0.0",
		PolicyVersion:       "policy-v1",
	}
}

// Guard short-circuit outcomes.
const (
	duplicateScore      = 95
	duplicateConfidence = 0.99
	velocityScore       = 90
	velocityConfidence  = 0.95

	failOpenConfidence = 0.5
)

// Outcome is what Decide hands back to the transport layer.
type Outcome struct {
	Result      fraud.DecisionResult
	AuditStatus AuditStatus
}

// Option configures an Engine.
type Option func(*Engine)

// WithAuditor sets the audit hand-off.
func WithAuditor(a Auditor) Option {
	return func(e *Engine) { e.auditor = a }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine renders decisions. It is stateless; all shared state lives behind
// Guard and Memory.
type Engine struct {
	cfg       Config
	guard     Guard
	memory    Memory
	scorer    Scorer
	amplifier Amplifier
	auditor   Auditor
	now       func() time.Time
	logger    *slog.Logger
}

// NewEngine creates a decision engine.
func NewEngine(cfg Config, g Guard, m Memory, s Scorer, a Amplifier, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg,
		guard:     g,
		memory:    m,
		scorer:    s,
		amplifier: a,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the engine's policy.
func (e *Engine) Config() Config { return e.cfg }

// Evaluate validates tx and decides it. Validation failures are returned as
// errors and never fail open.
func (e *Engine) Evaluate(ctx context.Context, tx fraud.Transaction, receivedAt time.Time) (Outcome, error) {
	if err := tx.Validate(); err != nil {
		return Outcome{}, err
	}
	return e.DecideSince(ctx, tx, receivedAt), nil
}

// Decide renders a decision for an already validated transaction, timing
// from now.
func (e *Engine) Decide(ctx context.Context, tx fraud.Transaction) Outcome {
	return e.DecideSince(ctx, tx, e.now())
}

// DecideSince renders a decision, measuring latency from receivedAt. It is
// the single fail-open boundary of the synchronous path.
func (e *Engine) DecideSince(ctx context.Context, tx fraud.Transaction, receivedAt time.Time) Outcome {
	ctx, span := traces.StartSpan(ctx, "decision.Decide", traces.TxID(tx.TxID))
	defer span.End()

	result, err := e.safeDecide(ctx, tx)
	if err != nil {
		traces.RecordError(span, err)
		result = e.failOpen(tx, err)
	}

	// A duplicate stays blocked whatever the latency; everything else,
	// velocity trips included, is downgraded past the ceiling.
	elapsed := e.now().Sub(receivedAt)
	if elapsed > e.cfg.LatencyCeiling && result.DecidedBy != fraud.DecidedByDuplicateGuard && !result.FailOpen {
		result = e.latencyFailOpen(tx.TxID, result)
	}

	result.TxID = tx.TxID
	result.EngineVersion = e.cfg.EngineVersion
	result.PolicyVersion = e.cfg.PolicyVersion
	if result.MLStatus == fraud.MLStatusOK {
		result.ModelVersion = e.cfg.ModelVersion
	}
	result.LatencyMs = float64(elapsed.Microseconds()) / 1000
	result.DecidedAt = receivedAt.UTC()
	result.Clamp()

	metrics.DecisionsTotal.WithLabelValues(string(result.Action)).Inc()
	metrics.DecisionLatency.Observe(elapsed.Seconds())
	span.SetAttributes(
		traces.Decision(string(result.Action)),
		traces.RiskScore(result.RiskScore),
		traces.MLStatus(string(result.MLStatus)),
		traces.FailOpen(result.FailOpen),
	)

	logging.L(ctx).Debug("decision rendered",
		"tx_id", tx.TxID,
		"decision", result.Action,
		"risk_score", result.RiskScore,
		"decided_by", result.DecidedBy,
		"latency_ms", result.LatencyMs,
	)

	return Outcome{Result: result, AuditStatus: e.submit(tx, result)}
}

// safeDecide runs decide and converts a panic into ErrInternal.
func (e *Engine) safeDecide(ctx context.Context, tx fraud.Transaction) (result fraud.DecisionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", fraud.ErrInternal, r)
		}
	}()
	return e.decide(ctx, tx)
}

func (e *Engine) decide(ctx context.Context, tx fraud.Transaction) (fraud.DecisionResult, error) {
	if r, ok := e.checkGuards(ctx, tx); ok {
		return r, nil
	}

	assessment := e.scorer.Score(tx)
	factors := assessment.Factors
	score := assessment.RiskScore
	confidence := assessment.Confidence

	if hist := e.historicalRisk(ctx, tx); hist > 0 {
		factors = append(factors, fraud.RiskFactor{Name: fraud.FactorHistoricalRisk, Delta: hist})
		score = fraud.ClampScore(score + hist)
		confidence = e.scorer.Confidence(score)
	}

	pred := amplifier.Prediction{Status: fraud.MLStatusUnavailable}
	if e.amplifier != nil {
		pred = e.amplifier.Predict(ctx, tx)
	}
	if pred.Err != nil {
		logging.L(ctx).Debug("amplifier gave no signal", "tx_id", tx.TxID, "ml_status", pred.Status, "error", pred.Err)
	}
	mlScore := 0.0
	if pred.Status == fraud.MLStatusOK {
		mlScore = fraud.ClampUnit(pred.Score)
	}

	result := fraud.DecisionResult{
		MLScore:  &mlScore,
		MLStatus: pred.Status,
	}

	mlPoints := int(math.Round(mlScore * 100))
	switch {
	case mlScore >= e.cfg.MLBlockThreshold:
		result.Action = fraud.ActionBlock
		result.DecidedBy = fraud.DecidedByAmplifier
		factors = append(factors, fraud.RiskFactor{Name: fraud.FactorMLHighRisk, Delta: mlPoints})
		score = max(score, mlPoints)
		confidence = e.scorer.Confidence(score)
	case mlScore >= e.cfg.MLReviewThreshold:
		result.Action = fraud.ActionReview
		result.DecidedBy = fraud.DecidedByAmplifier
		factors = append(factors, fraud.RiskFactor{Name: fraud.FactorMLMediumRisk, Delta: mlPoints})
		score = max(score, mlPoints)
		confidence = e.scorer.Confidence(score)
	default:
		result.Action = e.ruleAction(score, confidence)
		result.DecidedBy = fraud.DecidedByRules
	}

	fraud.SortFactors(factors)
	result.Factors = factors
	result.RiskScore = score
	result.Confidence = confidence
	return result, nil
}

// ruleAction applies the rule thresholds.
func (e *Engine) ruleAction(score int, confidence float64) fraud.Action {
	switch {
	case score <= e.cfg.AllowMaxScore && confidence >= e.cfg.AllowMinConfidence:
		return fraud.ActionAllow
	case score <= e.cfg.ReviewMaxScore:
		return fraud.ActionReview
	default:
		return fraud.ActionBlock
	}
}

// checkGuards runs the duplicate then velocity guard. Guard store errors
// are already logged by the guard and treated as "not tripped".
func (e *Engine) checkGuards(ctx context.Context, tx fraud.Transaction) (fraud.DecisionResult, bool) {
	if e.guard == nil {
		return fraud.DecisionResult{}, false
	}

	if dup, _ := e.guard.CheckDuplicate(ctx, tx.TxID); dup {
		return fraud.DecisionResult{
			Action:     fraud.ActionBlock,
			RiskScore:  duplicateScore,
			Confidence: duplicateConfidence,
			Factors:    []fraud.RiskFactor{{Name: fraud.FactorDuplicate, Delta: duplicateScore}},
			DecidedBy:  fraud.DecidedByDuplicateGuard,
		}, true
	}

	if tripped, _ := e.guard.CheckVelocity(ctx, tx.SenderID); tripped {
		if e.memory != nil {
			if err := e.memory.Increase(ctx, tx.SenderID, tx.ReceiverID, e.cfg.VelocityMemoryDelta); err != nil {
				logging.L(ctx).Warn("risk memory increase failed", "tx_id", tx.TxID, "error", err)
			}
		}
		return fraud.DecisionResult{
			Action:     fraud.ActionBlock,
			RiskScore:  velocityScore,
			Confidence: velocityConfidence,
			Factors:    []fraud.RiskFactor{{Name: fraud.FactorVelocityGuard, Delta: velocityScore}},
			DecidedBy:  fraud.DecidedByVelocityGuard,
		}, true
	}

	return fraud.DecisionResult{}, false
}

// historicalRisk reads risk memory, capped. A read failure counts as zero.
func (e *Engine) historicalRisk(ctx context.Context, tx fraud.Transaction) int {
	if e.memory == nil {
		return 0
	}
	v, err := e.memory.Read(ctx, tx.SenderID, tx.ReceiverID)
	if err != nil {
		logging.L(ctx).Warn("risk memory read failed", "tx_id", tx.TxID, "error", err)
		return 0
	}
	if v <= 0 {
		return 0
	}
	return int(min(v, int64(e.cfg.HistoricalRiskCap)))
}

// failOpen is the one conversion from an internal fault to a safe result.
func (e *Engine) failOpen(tx fraud.Transaction, cause error) fraud.DecisionResult {
	metrics.FailOpenTotal.WithLabelValues("internal").Inc()
	e.logger.Error("decision failed open", "tx_id", tx.TxID, "error", cause)

	return fraud.DecisionResult{
		Action:     fraud.ActionAllow,
		RiskScore:  0,
		Confidence: failOpenConfidence,
		MLStatus:   fraud.MLStatusError,
		Factors:    []fraud.RiskFactor{{Name: fraud.FactorFailOpen, Delta: 0}},
		DecidedBy:  fraud.DecidedByFailOpen,
		FailOpen:   true,
	}
}

// latencyFailOpen downgrades a scored result to ALLOW. The original score
// and factors are kept for audit; the downgrade factor is appended last.
func (e *Engine) latencyFailOpen(txID string, r fraud.DecisionResult) fraud.DecisionResult {
	metrics.FailOpenTotal.WithLabelValues("latency").Inc()
	e.logger.Warn("latency ceiling exceeded, failing open",
		"tx_id", txID, "original_decision", r.Action, "error", fraud.ErrLatencyExceeded)

	factors := make([]fraud.RiskFactor, 0, len(r.Factors)+1)
	factors = append(factors, r.Factors...)
	r.Factors = append(factors, fraud.RiskFactor{Name: fraud.FactorLatencyFailOpen, Delta: 0})
	r.Action = fraud.ActionAllow
	r.FailOpen = true
	return r
}

// submit hands the result to the auditor without blocking.
func (e *Engine) submit(tx fraud.Transaction, result fraud.DecisionResult) AuditStatus {
	if e.auditor == nil {
		return AuditDisabled
	}
	if err := e.auditor.Submit(tx, result); err != nil {
		e.logger.Warn("audit submission rejected", "tx_id", tx.TxID, "error", err)
		return AuditRejected
	}
	return AuditAccepted
}
