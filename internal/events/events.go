// Package events publishes finalized decisions to outbound sinks: the
// structured log, Kafka, Google Pub/Sub and the realtime hub. Sinks are
// fire-and-forget from the decision path's point of view; only the audit
// consumer calls them.
package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mbd888/fraudgate/internal/circuitbreaker"
	"github.com/mbd888/fraudgate/internal/fraud"
	"github.com/mbd888/fraudgate/internal/metrics"
)

// Severity tags an event for alert routing.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// TypeDecision is the only event type published today.
const TypeDecision = "decision"

// DecisionEvent is the outbound representation of one decision.
type DecisionEvent struct {
	ID         string       `json:"id"`
	Type       string       `json:"type"`
	Severity   Severity     `json:"severity"`
	TxID       string       `json:"tx_id"`
	SenderID   string       `json:"sender_id"`
	ReceiverID string       `json:"receiver_id"`
	Amount     float64      `json:"amount"`
	Decision   fraud.Action `json:"decision"`
	RiskScore  int          `json:"risk_score"`
	Confidence float64      `json:"confidence"`
	MLScore    *float64     `json:"ml_score,omitempty"`
	Factors    []string     `json:"top_risk_factors,omitempty"`
	DecidedBy  string       `json:"decided_by"`
	FailOpen   bool         `json:"fail_open,omitempty"`
	Timestamp  time.Time    `json:"timestamp"`
}

// NewDecisionEvent builds the event for a decided transaction.
func NewDecisionEvent(tx fraud.Transaction, r fraud.DecisionResult) DecisionEvent {
	return DecisionEvent{
		ID:         uuid.NewString(),
		Type:       TypeDecision,
		Severity:   SeverityFor(r),
		TxID:       r.TxID,
		SenderID:   tx.SenderID,
		ReceiverID: tx.ReceiverID,
		Amount:     tx.Amount,
		Decision:   r.Action,
		RiskScore:  r.RiskScore,
		Confidence: r.Confidence,
		MLScore:    r.MLScore,
		Factors:    fraud.FactorNames(r.Factors),
		DecidedBy:  r.DecidedBy,
		FailOpen:   r.FailOpen,
		Timestamp:  r.DecidedAt,
	}
}

// SeverityFor maps a result to an alert severity. BLOCK is critical; REVIEW
// and any fail-open are warnings.
func SeverityFor(r fraud.DecisionResult) Severity {
	switch {
	case r.Action == fraud.ActionBlock:
		return SeverityCritical
	case r.Action == fraud.ActionReview, r.FailOpen:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Emitter publishes decision events to one sink.
type Emitter interface {
	Emit(ctx context.Context, ev DecisionEvent) error
	Close() error
}

type namedEmitter struct {
	name string
	Emitter
}

// MultiEmitter fans an event out to every registered sink. A failing sink
// does not stop delivery to the others. With a breaker set, a sink that keeps
// failing is skipped until its circuit half-opens, so a dead broker costs
// the audit consumer nothing per item.
type MultiEmitter struct {
	sinks   []namedEmitter
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

// NewMultiEmitter creates an empty fan-out emitter.
func NewMultiEmitter(logger *slog.Logger) *MultiEmitter {
	return &MultiEmitter{logger: logger}
}

// SetBreaker guards every sink with b, keyed "sink:<name>".
func (m *MultiEmitter) SetBreaker(b *circuitbreaker.Breaker) { m.breaker = b }

// Add registers a sink under name. Names label metrics.
func (m *MultiEmitter) Add(name string, e Emitter) {
	if e == nil {
		return
	}
	m.sinks = append(m.sinks, namedEmitter{name: name, Emitter: e})
}

// Len returns the number of registered sinks.
func (m *MultiEmitter) Len() int { return len(m.sinks) }

// Emit delivers ev to every sink and joins the failures.
func (m *MultiEmitter) Emit(ctx context.Context, ev DecisionEvent) error {
	var errs []error
	for _, s := range m.sinks {
		err := m.call(s.name, func() error { return s.Emit(ctx, ev) })
		switch {
		case errors.Is(err, circuitbreaker.ErrOpen):
			metrics.EventsPublishedTotal.WithLabelValues(s.name, "skipped").Inc()
		case err != nil:
			metrics.EventsPublishedTotal.WithLabelValues(s.name, "error").Inc()
			m.logger.Warn("event emit failed", "sink", s.name, "tx_id", ev.TxID, "error", err)
			errs = append(errs, err)
		default:
			metrics.EventsPublishedTotal.WithLabelValues(s.name, "ok").Inc()
		}
	}
	return errors.Join(errs...)
}

// call runs fn through the sink's circuit when a breaker is set.
func (m *MultiEmitter) call(name string, fn func() error) error {
	if m.breaker == nil {
		return fn()
	}
	return m.breaker.Execute("sink:"+name, fn)
}

// Close closes every sink.
func (m *MultiEmitter) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogEmitter writes events to the structured log. BLOCK decisions are
// logged at warn level so log-based alerting picks them up.
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter creates a log sink.
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	return &LogEmitter{logger: logger}
}

// Emit logs the event.
func (e *LogEmitter) Emit(ctx context.Context, ev DecisionEvent) error {
	level := slog.LevelInfo
	if ev.Severity == SeverityCritical {
		level = slog.LevelWarn
	}
	e.logger.Log(ctx, level, "decision event",
		"event_id", ev.ID,
		"tx_id", ev.TxID,
		"decision", ev.Decision,
		"severity", ev.Severity,
		"risk_score", ev.RiskScore,
		"decided_by", ev.DecidedBy,
	)
	return nil
}

// Close is a no-op.
func (e *LogEmitter) Close() error { return nil }
