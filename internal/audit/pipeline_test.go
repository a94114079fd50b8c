package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/fraudgate/internal/events"
	"github.com/mbd888/fraudgate/internal/fraud"
	"github.com/mbd888/fraudgate/internal/kvstore"
	"github.com/mbd888/fraudgate/internal/logging"
	"github.com/mbd888/fraudgate/internal/retry"
	"github.com/mbd888/fraudgate/internal/riskmemory"
)

type flakyStore struct {
	*MemoryStore
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyStore) Append(ctx context.Context, rec Record) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return errors.New("connection reset by peer")
	}
	return f.MemoryStore.Append(ctx, rec)
}

type fakeReviews struct {
	mu    sync.Mutex
	panic bool
	items []string
}

func (f *fakeReviews) Enqueue(_ context.Context, _ fraud.Transaction, r fraud.DecisionResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panic {
		f.panic = false
		panic("review queue corrupted")
	}
	f.items = append(f.items, r.TxID)
	return nil
}

func (f *fakeReviews) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []events.DecisionEvent
}

func (f *fakeEmitter) Emit(_ context.Context, ev events.DecisionEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeEmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func decided(id string, action fraud.Action, decidedBy string) (fraud.Transaction, fraud.DecisionResult) {
	tx := fraud.Transaction{TxID: id, Amount: 120.5, SenderID: "s-" + id, ReceiverID: "r-" + id}
	r := fraud.DecisionResult{
		TxID:       id,
		Action:     action,
		RiskScore:  50,
		Confidence: 0.6,
		DecidedBy:  decidedBy,
		DecidedAt:  time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	return tx, r
}

type harness struct {
	store    *MemoryStore
	kv       *kvstore.MemoryStore
	memory   *riskmemory.Memory
	reviews  *fakeReviews
	emitter  *fakeEmitter
	counters *Counters
	hot      *HotCache
	pipeline *Pipeline
}

func newHarness(t *testing.T, store Store, cfg Config) *harness {
	t.Helper()
	kv := kvstore.NewMemoryStore()
	h := &harness{
		kv:       kv,
		memory:   riskmemory.New(kv, time.Hour),
		reviews:  &fakeReviews{},
		emitter:  &fakeEmitter{},
		counters: NewCounters(kv),
		hot:      NewHotCache(kv, 3),
	}
	if ms, ok := store.(*MemoryStore); ok {
		h.store = ms
	}
	h.pipeline = NewPipeline(store, cfg,
		WithHotCache(h.hot),
		WithCounters(h.counters),
		WithReviewQueue(h.reviews),
		WithMemory(h.memory),
		WithEmitter(h.emitter),
		WithDeadLetters(kv),
		WithLogger(logging.Discard()),
	)
	return h
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Retry = retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	return cfg
}

func runPipeline(t *testing.T, p *Pipeline) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	return func() {
		cancel()
		<-done
	}
}

func waitProcessed(t *testing.T, p *Pipeline, n int64) {
	t.Helper()
	require.Eventually(t, func() bool { return p.Processed() >= n }, 2*time.Second, 5*time.Millisecond)
}

func TestSubmit_QueueFullNeverBlocks(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 2
	p := NewPipeline(NewMemoryStore(), cfg, WithLogger(logging.Discard()))

	tx, r := decided("tx-1", fraud.ActionAllow, fraud.DecidedByRules)
	require.NoError(t, p.Submit(tx, r))
	require.NoError(t, p.Submit(tx, r))

	start := time.Now()
	err := p.Submit(tx, r)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 2, p.Len())
}

func TestPipeline_FansOutToEveryStage(t *testing.T) {
	h := newHarness(t, NewMemoryStore(), testConfig())
	stop := runPipeline(t, h.pipeline)

	items := []struct {
		id        string
		action    fraud.Action
		decidedBy string
	}{
		{"tx-allow", fraud.ActionAllow, fraud.DecidedByRules},
		{"tx-review", fraud.ActionReview, fraud.DecidedByAmplifier},
		{"tx-block", fraud.ActionBlock, fraud.DecidedByRules},
		{"tx-dup", fraud.ActionBlock, fraud.DecidedByDuplicateGuard},
	}
	for _, it := range items {
		tx, r := decided(it.id, it.action, it.decidedBy)
		require.NoError(t, h.pipeline.Submit(tx, r))
	}
	waitProcessed(t, h.pipeline, int64(len(items)))
	stop()

	ctx := context.Background()
	assert.Equal(t, 4, h.store.Len())
	assert.Equal(t, []string{"tx-review"}, h.reviews.items)
	assert.Equal(t, 4, h.emitter.count())
	assert.Equal(t, int64(0), h.pipeline.Failed())

	stats, err := h.counters.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Total)
	assert.Equal(t, int64(2), stats.ByDecision[fraud.ActionBlock])
	assert.Equal(t, int64(1), stats.ByDecision[fraud.ActionReview])

	recent, err := h.hot.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 3, "hot cache is capped")
	assert.Equal(t, "tx-dup", recent[0].TxID)

	blockMem, err := h.memory.Read(ctx, "s-tx-block", "r-tx-block")
	require.NoError(t, err)
	assert.Equal(t, int64(50), blockMem, "+25 on sender and receiver")

	dupMem, err := h.memory.Read(ctx, "s-tx-dup", "r-tx-dup")
	require.NoError(t, err)
	assert.Equal(t, int64(0), dupMem, "guard blocks are not raised again")
}

func TestPipeline_RetriesTransientStoreFailures(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), failures: 2}
	h := newHarness(t, store, testConfig())
	stop := runPipeline(t, h.pipeline)

	tx, r := decided("tx-flaky", fraud.ActionAllow, fraud.DecidedByRules)
	require.NoError(t, h.pipeline.Submit(tx, r))
	waitProcessed(t, h.pipeline, 1)
	stop()

	assert.Equal(t, 1, store.Len())
	assert.Equal(t, 3, store.calls)
	assert.Equal(t, int64(0), h.pipeline.Failed())
}

func TestPipeline_PersistenceFailureIsDeadLettered(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), failures: 3}
	h := newHarness(t, store, testConfig())
	stop := runPipeline(t, h.pipeline)

	tx, r := decided("tx-lost", fraud.ActionAllow, fraud.DecidedByRules)
	require.NoError(t, h.pipeline.Submit(tx, r))
	tx2, r2 := decided("tx-next", fraud.ActionAllow, fraud.DecidedByRules)
	require.NoError(t, h.pipeline.Submit(tx2, r2))
	waitProcessed(t, h.pipeline, 2)
	stop()

	assert.Equal(t, int64(1), h.pipeline.Failed())
	assert.Equal(t, 1, store.Len(), "the loop continues after a failed item")
	assert.Equal(t, 2, h.emitter.count(), "later stages still run")

	dls, err := h.pipeline.DeadLetters(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, dls, 1)
	assert.Equal(t, "tx-lost", dls[0].Record.TxID)
	assert.Equal(t, []string{StageStore}, dls[0].Stages)
	assert.Contains(t, dls[0].Error, "connection reset")
}

func TestPipeline_UnstoredItemSkipsProjections(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), failures: 3}
	h := newHarness(t, store, testConfig())
	stop := runPipeline(t, h.pipeline)

	tx, r := decided("tx-review-lost", fraud.ActionReview, fraud.DecidedByAmplifier)
	require.NoError(t, h.pipeline.Submit(tx, r))
	waitProcessed(t, h.pipeline, 1)
	stop()

	ctx := context.Background()
	assert.Zero(t, h.reviews.count(), "an unstored item is not queued for review")
	assert.Equal(t, 1, h.emitter.count())

	stats, err := h.counters.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Total)

	recent, err := h.hot.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, recent)

	dls, err := h.pipeline.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dls, 1)
	assert.Equal(t, "tx-review-lost", dls[0].Record.TxID)
	assert.Equal(t, []string{StageStore}, dls[0].Stages)
}

func TestPipeline_UnstoredBlockStillRaisesMemory(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), failures: 3}
	h := newHarness(t, store, testConfig())
	stop := runPipeline(t, h.pipeline)

	tx, r := decided("tx-block-lost", fraud.ActionBlock, fraud.DecidedByRules)
	require.NoError(t, h.pipeline.Submit(tx, r))
	waitProcessed(t, h.pipeline, 1)
	stop()

	mem, err := h.memory.Read(context.Background(), "s-tx-block-lost", "r-tx-block-lost")
	require.NoError(t, err)
	assert.Equal(t, int64(50), mem)
	assert.Equal(t, int64(1), h.pipeline.Failed())
}

func TestPipeline_PanicContainedToItem(t *testing.T) {
	h := newHarness(t, NewMemoryStore(), testConfig())
	h.reviews.panic = true
	stop := runPipeline(t, h.pipeline)

	for i := 0; i < 2; i++ {
		tx, r := decided(fmt.Sprintf("tx-rev-%d", i), fraud.ActionReview, fraud.DecidedByRules)
		require.NoError(t, h.pipeline.Submit(tx, r))
	}
	waitProcessed(t, h.pipeline, 2)
	stop()

	assert.Equal(t, int64(1), h.pipeline.Failed())
	assert.Equal(t, 1, h.reviews.count())

	dls, err := h.pipeline.DeadLetters(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, dls, 1)
	assert.Equal(t, []string{StagePanic}, dls[0].Stages)
}

func TestPipeline_DrainsOnShutdown(t *testing.T) {
	h := newHarness(t, NewMemoryStore(), testConfig())
	for i := 0; i < 50; i++ {
		tx, r := decided(fmt.Sprintf("tx-%d", i), fraud.ActionAllow, fraud.DecidedByRules)
		require.NoError(t, h.pipeline.Submit(tx, r))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.pipeline.Run(ctx)

	assert.Equal(t, 50, h.store.Len())
	assert.Equal(t, 0, h.pipeline.Len())

	tx, r := decided("tx-late", fraud.ActionAllow, fraud.DecidedByRules)
	assert.ErrorIs(t, h.pipeline.Submit(tx, r), ErrStopped)
}

func TestPersistenceError_Unwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := error(&PersistenceError{TxID: "tx-1", Err: cause})
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "tx-1")

	var perr *PersistenceError
	assert.True(t, errors.As(err, &perr))
}
