// Package amplifier wraps an optional fraud model behind a call that never
// fails the caller. A missing model, a bad output, a panic or a blown
// inference budget all come back as a Prediction with score 0 and a status
// saying what went wrong; the decision policy treats those as "no signal".
package amplifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/mbd888/fraudgate/internal/circuitbreaker"
	"github.com/mbd888/fraudgate/internal/fraud"
	"github.com/mbd888/fraudgate/internal/metrics"
)

// DefaultBudget bounds a single inference.
const DefaultBudget = 10 * time.Millisecond

const breakerKey = "amplifier"

// ErrBudgetExceeded is reported when inference outlives its budget.
var ErrBudgetExceeded = errors.New("amplifier: inference budget exceeded")

// Prediction is the outcome of one amplifier call. Err says why a call
// gave no signal; it is nil when Status is OK.
type Prediction struct {
	Score     float64        `json:"score"`
	LatencyMs float64        `json:"latency_ms"`
	Status    fraud.MLStatus `json:"status"`
	Err       error          `json:"-"`
}

// Option configures an Amplifier.
type Option func(*Amplifier)

// WithBudget overrides DefaultBudget.
func WithBudget(d time.Duration) Option {
	return func(a *Amplifier) {
		if d > 0 {
			a.budget = d
		}
	}
}

// WithBreaker guards inference with a circuit breaker.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(a *Amplifier) { a.breaker = b }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Amplifier) { a.logger = l }
}

// Amplifier serializes access to a Classifier and normalizes its output.
type Amplifier struct {
	clf     Classifier
	mu      sync.Mutex // held only around clf.Predict
	budget  time.Duration
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

// New creates an Amplifier. clf may be nil, in which case every call
// reports UNAVAILABLE.
func New(clf Classifier, opts ...Option) *Amplifier {
	a := &Amplifier{
		clf:    clf,
		budget: DefaultBudget,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Available reports whether a model is loaded.
func (a *Amplifier) Available() bool { return a != nil && a.clf != nil }

// ModelVersion returns the loaded model's version, or "unavailable".
func (a *Amplifier) ModelVersion() string {
	if !a.Available() {
		return "unavailable"
	}
	return a.clf.Version()
}

type inference struct {
	score float64
	err   error
}

// Predict scores tx. It never returns an error and never panics.
func (a *Amplifier) Predict(ctx context.Context, tx fraud.Transaction) Prediction {
	start := time.Now()
	pred := a.predict(ctx, tx)
	pred.LatencyMs = float64(time.Since(start).Microseconds()) / 1000

	metrics.AmplifierPredictionsTotal.WithLabelValues(string(pred.Status)).Inc()
	metrics.AmplifierLatency.Observe(time.Since(start).Seconds())
	return pred
}

func (a *Amplifier) predict(ctx context.Context, tx fraud.Transaction) Prediction {
	if !a.Available() {
		return Prediction{Status: fraud.MLStatusUnavailable, Err: fraud.ErrModelUnavailable}
	}
	// A caller that already gave up must not consume a half-open probe.
	if err := ctx.Err(); err != nil {
		return Prediction{Status: fraud.MLStatusError, Err: err}
	}
	if a.breaker != nil && !a.breaker.Allow(breakerKey) {
		return Prediction{Status: fraud.MLStatusUnavailable, Err: fmt.Errorf("%w: %w", fraud.ErrModelUnavailable, circuitbreaker.ErrOpen)}
	}

	features := Features(tx)
	if n := a.clf.InputSize(); n != len(features) {
		err := fmt.Errorf("%w: model expects %d features, contract has %d", ErrShape, n, len(features))
		a.fail(tx.TxID, err)
		return Prediction{Status: fraud.MLStatusError, Err: err}
	}

	done := make(chan inference, 1)
	go func() {
		done <- a.infer(features)
	}()

	timer := time.NewTimer(a.budget)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.err != nil {
			a.fail(tx.TxID, res.err)
			return Prediction{Status: fraud.MLStatusError, Err: res.err}
		}
		a.succeed()
		return Prediction{Score: res.score, Status: fraud.MLStatusOK}
	case <-timer.C:
		// The inference goroutine finishes on its own and its result is
		// dropped into the buffered channel.
		a.fail(tx.TxID, ErrBudgetExceeded)
		return Prediction{Status: fraud.MLStatusError, Err: ErrBudgetExceeded}
	case <-ctx.Done():
		// The caller gave up, the classifier did not fail. Its own outcome
		// settles the circuit once it lands.
		go a.settle(tx.TxID, done)
		return Prediction{Status: fraud.MLStatusError, Err: ctx.Err()}
	}
}

// settle records the outcome of an inference whose caller went away.
func (a *Amplifier) settle(txID string, done <-chan inference) {
	budget := time.NewTimer(a.budget)
	defer budget.Stop()

	select {
	case res := <-done:
		if res.err != nil {
			a.fail(txID, res.err)
			return
		}
		a.succeed()
	case <-budget.C:
		a.fail(txID, ErrBudgetExceeded)
	}
}

// infer runs the classifier under the mutex and normalizes its output.
func (a *Amplifier) infer(features []float32) (res inference) {
	defer func() {
		if r := recover(); r != nil {
			res = inference{err: fmt.Errorf("amplifier: classifier panic: %v", r)}
		}
	}()

	out, err := a.locked(features)
	if err != nil {
		return inference{err: err}
	}

	score, err := Normalize(out)
	return inference{score: score, err: err}
}

func (a *Amplifier) locked(features []float32) ([]float32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.clf.Predict(features)
}

func (a *Amplifier) succeed() {
	if a.breaker != nil {
		a.breaker.RecordSuccess(breakerKey)
	}
}

func (a *Amplifier) fail(txID string, err error) {
	if a.breaker != nil {
		a.breaker.RecordFailure(breakerKey)
	}
	a.logger.Warn("risk amplifier failed", "tx_id", txID, "error", err)
}

// Normalize maps raw classifier output to a fraud probability in [0, 1].
// A two-class output uses index 1; a single output uses index 0.
func Normalize(out []float32) (float64, error) {
	var p float64
	switch {
	case len(out) >= 2:
		p = float64(out[1])
	case len(out) == 1:
		p = float64(out[0])
	default:
		return 0, fmt.Errorf("%w: empty output", ErrShape)
	}
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return 0, errors.New("amplifier: non-finite output")
	}
	return fraud.ClampUnit(p), nil
}
