package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/mbd888/fraudgate/internal/events"
	"github.com/mbd888/fraudgate/internal/fraud"
	"github.com/mbd888/fraudgate/internal/kvstore"
	"github.com/mbd888/fraudgate/internal/metrics"
	"github.com/mbd888/fraudgate/internal/retry"
	"github.com/mbd888/fraudgate/internal/traces"
)

// ReviewQueue receives REVIEW decisions for human triage.
type ReviewQueue interface {
	Enqueue(ctx context.Context, tx fraud.Transaction, r fraud.DecisionResult) error
}

// Memory is the per-identity risk memory raised on BLOCK.
type Memory interface {
	Increase(ctx context.Context, senderID, receiverID string, delta int) error
}

// Emitter publishes decision events.
type Emitter interface {
	Emit(ctx context.Context, ev events.DecisionEvent) error
}

// Pipeline stage names, used as metric labels and in dead letters.
const (
	StageStore    = "store"
	StageHotCache = "hot_cache"
	StageReview   = "review"
	StageCounters = "counters"
	StageMemory   = "memory"
	StageEmit     = "emit"
	StagePanic    = "panic"
)

// Config bounds the pipeline.
type Config struct {
	QueueSize        int
	DrainTimeout     time.Duration
	StageTimeout     time.Duration
	BlockMemoryDelta int
	Retry            retry.Policy
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:        10000,
		DrainTimeout:     5 * time.Second,
		StageTimeout:     2 * time.Second,
		BlockMemoryDelta: 25,
		Retry:            retry.DefaultPolicy(),
	}
}

// DeadLetter is an item that failed one or more stages.
type DeadLetter struct {
	Record Record    `json:"record"`
	Stages []string  `json:"stages"`
	Error  string    `json:"error"`
	At     time.Time `json:"at"`
}

type item struct {
	tx     fraud.Transaction
	result fraud.DecisionResult
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithHotCache enables the hot cache stage.
func WithHotCache(h *HotCache) Option { return func(p *Pipeline) { p.hot = h } }

// WithCounters enables the counters stage.
func WithCounters(c *Counters) Option { return func(p *Pipeline) { p.counters = c } }

// WithReviewQueue enables the review stage.
func WithReviewQueue(q ReviewQueue) Option { return func(p *Pipeline) { p.reviews = q } }

// WithMemory enables the BLOCK risk memory stage.
func WithMemory(m Memory) Option { return func(p *Pipeline) { p.memory = m } }

// WithEmitter enables the event stage.
func WithEmitter(e Emitter) Option { return func(p *Pipeline) { p.emitter = e } }

// WithDeadLetters records failed items to a capped KV list.
func WithDeadLetters(kv kvstore.Store) Option { return func(p *Pipeline) { p.deadLetters = kv } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(p *Pipeline) { p.logger = l } }

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

// Pipeline is a bounded queue with one consumer.
type Pipeline struct {
	cfg   Config
	queue chan item
	store Store

	hot         *HotCache
	counters    *Counters
	reviews     ReviewQueue
	memory      Memory
	emitter     Emitter
	deadLetters kvstore.Store

	logger *slog.Logger
	now    func() time.Time

	stopped   atomic.Bool
	processed atomic.Int64
	failed    atomic.Int64
}

// NewPipeline creates a pipeline persisting to store. Optional stages are
// enabled with options.
func NewPipeline(store Store, cfg Config, opts ...Option) *Pipeline {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	p := &Pipeline{
		cfg:    cfg,
		queue:  make(chan item, cfg.QueueSize),
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit enqueues a decided transaction. It never blocks: a full queue
// returns ErrQueueFull.
func (p *Pipeline) Submit(tx fraud.Transaction, r fraud.DecisionResult) error {
	if p.stopped.Load() {
		return ErrStopped
	}
	select {
	case p.queue <- item{tx: tx, result: r}:
		metrics.AuditQueueDepth.Set(float64(len(p.queue)))
		return nil
	default:
		metrics.AuditEnqueueRejectedTotal.Inc()
		return ErrQueueFull
	}
}

// Len returns the number of queued items.
func (p *Pipeline) Len() int { return len(p.queue) }

// Processed returns how many items were fully handled, successful or not.
func (p *Pipeline) Processed() int64 { return p.processed.Load() }

// Failed returns how many items failed at least one stage.
func (p *Pipeline) Failed() int64 { return p.failed.Load() }

// Run consumes the queue until ctx is cancelled, then drains what is left
// within the drain timeout. Call in a goroutine.
func (p *Pipeline) Run(ctx context.Context) {
	p.logger.Info("audit pipeline started", "queue_size", cap(p.queue))
	for {
		select {
		case <-ctx.Done():
			p.stopped.Store(true)
			p.drain()
			return
		case it := <-p.queue:
			metrics.AuditQueueDepth.Set(float64(len(p.queue)))
			p.safeProcess(ctx, it)
		}
	}
}

func (p *Pipeline) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.DrainTimeout)
	defer cancel()

	drained := 0
	for {
		select {
		case <-ctx.Done():
			p.logger.Warn("audit drain deadline reached", "drained", drained, "dropped", len(p.queue))
			return
		case it := <-p.queue:
			p.safeProcess(ctx, it)
			drained++
		default:
			metrics.AuditQueueDepth.Set(0)
			p.logger.Info("audit pipeline stopped", "drained", drained)
			return
		}
	}
}

// safeProcess runs every stage for one item. A panic is contained to the
// item.
func (p *Pipeline) safeProcess(ctx context.Context, it item) {
	rec := NewRecord(it.tx, it.result, p.now())
	defer p.processed.Add(1)

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic in audit pipeline",
				"tx_id", rec.TxID, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			metrics.AuditStageFailuresTotal.WithLabelValues(StagePanic).Inc()
			metrics.AuditItemsTotal.WithLabelValues("panic").Inc()
			p.failed.Add(1)
			p.deadLetter(rec, []string{StagePanic}, fmt.Errorf("panic: %v", r))
		}
	}()

	failures, firstErr := p.process(ctx, rec, it)
	if len(failures) > 0 {
		metrics.AuditItemsTotal.WithLabelValues("failed").Inc()
		p.failed.Add(1)
		p.deadLetter(rec, failures, firstErr)
		return
	}
	metrics.AuditItemsTotal.WithLabelValues("ok").Inc()
}

// process runs the stages in order and collects failures for the dead
// letter. The hot cache, review and counter stages project the stored
// record, so they are skipped when the store fails and run again when the
// dead letter is replayed. Memory and emit always run.
func (p *Pipeline) process(ctx context.Context, rec Record, it item) ([]string, error) {
	var (
		failures []string
		firstErr error
	)
	fail := func(stage string, err error) {
		metrics.AuditStageFailuresTotal.WithLabelValues(stage).Inc()
		p.logger.Warn("audit stage failed", "stage", stage, "tx_id", rec.TxID, "error", err)
		failures = append(failures, stage)
		if firstErr == nil {
			firstErr = err
		}
	}

	if err := p.persist(ctx, rec); err != nil {
		fail(StageStore, err)
	} else {
		p.project(ctx, it, rec, fail)
	}

	// Guard short-circuits already raised memory on the synchronous path.
	if p.memory != nil && it.result.Action == fraud.ActionBlock && !it.result.IsGuardShortCircuit() {
		if err := p.stage(ctx, func(sctx context.Context) error {
			return p.memory.Increase(sctx, it.tx.SenderID, it.tx.ReceiverID, p.cfg.BlockMemoryDelta)
		}); err != nil {
			fail(StageMemory, err)
		}
	}

	if p.emitter != nil {
		ev := events.NewDecisionEvent(it.tx, it.result)
		if err := p.stage(ctx, func(sctx context.Context) error { return p.emitter.Emit(sctx, ev) }); err != nil {
			fail(StageEmit, err)
		}
	}

	return failures, firstErr
}

// project feeds a stored record to the read-side stages.
func (p *Pipeline) project(ctx context.Context, it item, rec Record, fail func(string, error)) {
	if p.hot != nil {
		if err := p.stage(ctx, func(sctx context.Context) error { return p.hot.Push(sctx, rec) }); err != nil {
			fail(StageHotCache, err)
		}
	}

	if p.reviews != nil && it.result.Action == fraud.ActionReview {
		if err := p.stage(ctx, func(sctx context.Context) error {
			return p.reviews.Enqueue(sctx, it.tx, it.result)
		}); err != nil {
			fail(StageReview, err)
		}
	}

	if p.counters != nil {
		if err := p.stage(ctx, func(sctx context.Context) error {
			return p.counters.Record(sctx, it.result.Action)
		}); err != nil {
			fail(StageCounters, err)
		}
	}
}

// persist appends rec with retries. Exhausted retries become a
// PersistenceError.
func (p *Pipeline) persist(ctx context.Context, rec Record) error {
	ctx, span := traces.StartSpan(ctx, "audit.Persist", traces.TxID(rec.TxID))
	defer span.End()

	err := p.cfg.Retry.Do(ctx, func() error {
		return p.stage(ctx, func(sctx context.Context) error { return p.store.Append(sctx, rec) })
	})
	if err != nil {
		perr := &PersistenceError{TxID: rec.TxID, Err: err}
		traces.RecordError(span, perr)
		return perr
	}
	return nil
}

// stage bounds a single stage call. The stage context is detached from the
// consumer's cancellation so the drain can finish in-flight writes.
func (p *Pipeline) stage(ctx context.Context, fn func(context.Context) error) error {
	timeout := p.cfg.StageTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().StageTimeout
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	return fn(sctx)
}

func (p *Pipeline) deadLetter(rec Record, stages []string, cause error) {
	if p.deadLetters == nil {
		return
	}
	dl := DeadLetter{Record: rec, Stages: stages, At: p.now().UTC()}
	if cause != nil {
		dl.Error = cause.Error()
	}
	data, err := json.Marshal(dl)
	if err != nil {
		return
	}
	if err := p.stage(context.Background(), func(sctx context.Context) error {
		return p.deadLetters.PushTrim(sctx, DeadLetterKey, data, deadLetterMax)
	}); err != nil {
		p.logger.Error("dead letter write failed", "tx_id", rec.TxID, "error", err)
	}
}

// DeadLetters returns up to limit dead letters, newest first.
func (p *Pipeline) DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	if p.deadLetters == nil {
		return nil, nil
	}
	raw, err := p.deadLetters.Range(ctx, DeadLetterKey, limit)
	if err != nil {
		return nil, err
	}
	out := make([]DeadLetter, 0, len(raw))
	for _, b := range raw {
		var dl DeadLetter
		if err := json.Unmarshal(b, &dl); err == nil {
			out = append(out, dl)
		}
	}
	return out, nil
}
