package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/fraudgate/internal/circuitbreaker"
	"github.com/mbd888/fraudgate/internal/fraud"
	"github.com/mbd888/fraudgate/internal/logging"
)

func blockResult() (fraud.Transaction, fraud.DecisionResult) {
	ml := 0.97
	tx := fraud.Transaction{TxID: "tx-1", Amount: 50000, SenderID: "erin", ReceiverID: "frank"}
	r := fraud.DecisionResult{
		TxID:       "tx-1",
		Action:     fraud.ActionBlock,
		RiskScore:  100,
		Confidence: 0.2,
		MLScore:    &ml,
		Factors: []fraud.RiskFactor{
			{Name: "ML_HIGH_RISK", Delta: 97},
			{Name: "HIGH_AMOUNT", Delta: 40},
		},
		DecidedBy: fraud.DecidedByAmplifier,
		DecidedAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	return tx, r
}

type recordingEmitter struct {
	mu     sync.Mutex
	err    error
	calls  int
	events []DecisionEvent
	closed bool
}

func (r *recordingEmitter) Emit(_ context.Context, ev DecisionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingEmitter) Close() error {
	r.closed = true
	return nil
}

func TestSeverityFor(t *testing.T) {
	tests := []struct {
		name   string
		result fraud.DecisionResult
		want   Severity
	}{
		{"block", fraud.DecisionResult{Action: fraud.ActionBlock}, SeverityCritical},
		{"review", fraud.DecisionResult{Action: fraud.ActionReview}, SeverityWarning},
		{"fail open allow", fraud.DecisionResult{Action: fraud.ActionAllow, FailOpen: true}, SeverityWarning},
		{"allow", fraud.DecisionResult{Action: fraud.ActionAllow}, SeverityInfo},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SeverityFor(tc.result))
		})
	}
}

func TestNewDecisionEvent(t *testing.T) {
	tx, r := blockResult()
	ev := NewDecisionEvent(tx, r)

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, TypeDecision, ev.Type)
	assert.Equal(t, SeverityCritical, ev.Severity)
	assert.Equal(t, "erin", ev.SenderID)
	assert.Equal(t, []string{"ML_HIGH_RISK", "HIGH_AMOUNT"}, ev.Factors)
	assert.Equal(t, r.DecidedAt, ev.Timestamp)

	data, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"decision":"BLOCK"`)
}

func TestMultiEmitter_ContinuesPastFailingSink(t *testing.T) {
	m := NewMultiEmitter(logging.Discard())
	bad := &recordingEmitter{err: errors.New("broker down")}
	good := &recordingEmitter{}
	m.Add("bad", bad)
	m.Add("good", good)
	m.Add("nil", nil)
	assert.Equal(t, 2, m.Len())

	tx, r := blockResult()
	err := m.Emit(context.Background(), NewDecisionEvent(tx, r))
	assert.Error(t, err)
	assert.Len(t, good.events, 1)

	require.NoError(t, m.Close())
	assert.True(t, bad.closed)
	assert.True(t, good.closed)
}

func TestMultiEmitter_BreakerSkipsDeadSink(t *testing.T) {
	m := NewMultiEmitter(logging.Discard())
	m.SetBreaker(circuitbreaker.New(2, time.Hour))
	bad := &recordingEmitter{err: errors.New("broker down")}
	good := &recordingEmitter{}
	m.Add("bad", bad)
	m.Add("good", good)

	tx, r := blockResult()
	for i := 0; i < 5; i++ {
		_ = m.Emit(context.Background(), NewDecisionEvent(tx, r))
	}

	assert.Equal(t, 2, bad.calls, "circuit opens after two failures")
	assert.Len(t, good.events, 5)
	assert.NoError(t, m.Emit(context.Background(), NewDecisionEvent(tx, r)), "skipped sinks are not errors")
}

func TestMultiEmitter_SinkRecoversAfterOpenDuration(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	b := circuitbreaker.New(1, time.Minute).WithClock(func() time.Time { return now })
	m := NewMultiEmitter(logging.Discard())
	m.SetBreaker(b)
	flaky := &recordingEmitter{err: errors.New("broker down")}
	m.Add("kafka", flaky)

	tx, r := blockResult()
	ev := NewDecisionEvent(tx, r)
	assert.Error(t, m.Emit(context.Background(), ev))
	assert.Equal(t, circuitbreaker.StateOpen, b.State("sink:kafka"))

	require.NoError(t, m.Emit(context.Background(), ev))
	assert.Equal(t, 1, flaky.calls, "open circuit skips the sink")

	flaky.err = nil
	now = now.Add(time.Minute)
	require.NoError(t, m.Emit(context.Background(), ev))
	assert.Equal(t, 2, flaky.calls)
	assert.Len(t, flaky.events, 1)
	assert.Equal(t, circuitbreaker.StateClosed, b.State("sink:kafka"))
}

func TestLogEmitter(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogEmitter(logging.NewWithWriter(&buf, "info", "json"))

	tx, r := blockResult()
	require.NoError(t, e.Emit(context.Background(), NewDecisionEvent(tx, r)))
	assert.Contains(t, buf.String(), `"level":"WARN"`)
	assert.Contains(t, buf.String(), `"tx_id":"tx-1"`)
}

func TestKafkaEmitter_Sends(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var ev DecisionEvent
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		if ev.TxID != "tx-1" || ev.Decision != fraud.ActionBlock {
			return errors.New("unexpected payload")
		}
		return nil
	})

	k := NewKafkaEmitterWithProducer(sp, "fraud-decisions", logging.Discard())
	tx, r := blockResult()
	require.NoError(t, k.Emit(context.Background(), NewDecisionEvent(tx, r)))
	require.NoError(t, k.Close())
}

func TestKafkaEmitter_SendFailure(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	k := NewKafkaEmitterWithProducer(sp, "fraud-decisions", logging.Discard())
	tx, r := blockResult()
	err := k.Emit(context.Background(), NewDecisionEvent(tx, r))
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, k.Close())
}
