// Package pipeline wires the orchestrator, batch processor, and store into a
// runnable reconciliation engine with runtime controls.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/facility-cli/internal/batch"
	"github.com/sells-group/facility-cli/internal/config"
	"github.com/sells-group/facility-cli/internal/fallback"
	"github.com/sells-group/facility-cli/internal/model"
	"github.com/sells-group/facility-cli/internal/monitoring"
	"github.com/sells-group/facility-cli/internal/reconcile"
	"github.com/sells-group/facility-cli/internal/resilience"
	"github.com/sells-group/facility-cli/internal/search"
	"github.com/sells-group/facility-cli/internal/store"
)

// ErrBusy is returned when Run is called while another run is in progress.
var ErrBusy = eris.New("pipeline: a run is already in progress")

// StrategySpec registers a fallback strategy.
type StrategySpec struct {
	Strategy fallback.Strategy
	Priority int
	Enabled  bool
}

// Deps are the collaborators an Engine is built from. Store may be nil.
type Deps struct {
	Store      store.Store
	Adapters   []search.Adapter
	Strategies []StrategySpec
}

// RunResult is the outcome of one engine run.
type RunResult struct {
	RunID       string                  `json:"run_id,omitempty"`
	Records     []model.CanonicalRecord `json:"records"`
	Batch       batch.Result            `json:"batch"`
	Unresolved  int                     `json:"unresolved"`
	DLQEnqueued int                     `json:"dlq_enqueued"`
}

// Engine resolves entity lists end to end.
type Engine struct {
	cfg       *config.Config
	store     store.Store
	monitor   *monitoring.Monitor
	retry     *resilience.RetryManager
	fallbacks *fallback.Manager
	search    *search.Orchestrator
	batches   *batch.Processor

	maxInFlight int
	nowFunc     func() time.Time
	running     atomic.Bool
}

type options struct {
	sleep resilience.Sleeper
	delay func(lo, hi time.Duration) time.Duration
}

// Option customizes an Engine.
type Option func(*options)

// WithSleeper replaces every pacing and backoff sleep.
func WithSleeper(s resilience.Sleeper) Option {
	return func(o *options) { o.sleep = s }
}

// WithDelay replaces every randomized delay generator.
func WithDelay(fn func(lo, hi time.Duration) time.Duration) Option {
	return func(o *options) { o.delay = fn }
}

// New builds an Engine from cfg and deps.
func New(cfg *config.Config, deps Deps, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, eris.New("pipeline: nil config")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	monitor := monitoring.NewMonitor()
	breakers := resilience.NewBreakerSet(resilience.FromCircuitConfig(cfg.Circuit))

	retryOpts := []resilience.RetryOption{resilience.WithMonitor(monitor)}
	if o.sleep != nil {
		retryOpts = append(retryOpts, resilience.WithSleeper(o.sleep))
	}
	retry := resilience.NewRetryManager(
		resilience.FromRetryConfig(cfg.Retry, cfg.Engine.RateLimitCooldownMs),
		breakers,
		retryOpts...,
	)

	fallbacks := fallback.NewManager(retry, cfg.Engine.AcceptedMinConfidence)
	for _, s := range deps.Strategies {
		fallbacks.Register(s.Strategy, s.Priority)
		if !s.Enabled {
			_ = fallbacks.Disable(s.Strategy.Name())
		}
	}

	minDelay, maxDelay := cfg.Engine.InterRequestDelay.Bounds()
	searchOpts := []search.Option{search.WithMonitor(monitor)}
	batchOpts := []batch.Option{batch.WithMonitor(monitor)}
	if o.sleep != nil {
		searchOpts = append(searchOpts, search.WithSleeper(o.sleep))
		batchOpts = append(batchOpts, batch.WithSleeper(o.sleep))
	}
	if o.delay != nil {
		searchOpts = append(searchOpts, search.WithDelay(o.delay))
		batchOpts = append(batchOpts, batch.WithDelay(o.delay))
	}

	orch, err := search.New(search.Config{
		HighConfidence:    cfg.Engine.HighConfidenceThreshold,
		MinDelay:          minDelay,
		MaxDelay:          maxDelay,
		RateLimitCooldown: time.Duration(cfg.Engine.RateLimitCooldownMs) * time.Millisecond,
		Parallel:          cfg.Engine.Parallel,
		MaxInFlight:       cfg.Engine.MaxInFlight,
		MaxFallbacks:      cfg.Engine.MaxFallbacksPerEntity,
	}, deps.Adapters, retry, fallbacks, reconcile.NewValidator(), searchOpts...)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: build orchestrator")
	}

	maxInFlight := cfg.Engine.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 1
	}

	return &Engine{
		cfg:         cfg,
		store:       deps.Store,
		monitor:     monitor,
		retry:       retry,
		fallbacks:   fallbacks,
		search:      orch,
		batches:     batch.NewProcessor(batch.FromConfig(cfg.Engine), batchOpts...),
		maxInFlight: maxInFlight,
		nowFunc:     time.Now,
	}, nil
}

// Run resolves entities, persists the run and its records when a store is
// configured, and dead-letters entities that ended on a fallback record.
func (e *Engine) Run(ctx context.Context, entities []model.Entity) (*RunResult, error) {
	return e.run(ctx, entities, e.cfg.DLQ.Enabled)
}

func (e *Engine) run(ctx context.Context, entities []model.Entity, enqueue bool) (*RunResult, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer e.running.Store(false)

	log := zap.L().With(zap.Int("entities", len(entities)))
	out := &RunResult{}

	if e.store != nil {
		run, err := e.store.CreateRun(ctx, len(entities))
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: create run")
		}
		out.RunID = run.ID
		log = log.With(zap.String("run_id", run.ID))
	}
	log.Info("pipeline: run starting",
		zap.Strings("adapters", e.search.Adapters()),
		zap.Int("batch_size", e.batches.BatchSize()),
	)

	causes := &sync.Map{}
	res := e.batches.Run(ctx, entities, e.processBatch(causes))
	out.Records = res.Records
	out.Batch = res

	for i, rec := range res.Records {
		if _, ok := causes.Load(entities[i].Key()); ok || rec.IsFallback() {
			out.Unresolved++
		}
	}

	status := model.RunStatusComplete
	if res.Cancelled {
		status = model.RunStatusCancelled
	}

	if e.store != nil {
		// Persist even when ctx was cancelled mid-run.
		pctx := context.WithoutCancel(ctx)
		if err := e.store.SaveRecords(pctx, out.RunID, res.Records, entities); err != nil {
			log.Error("pipeline: save records failed", zap.Error(err))
			status = model.RunStatusFailed
		}
		if enqueue {
			out.DLQEnqueued = e.enqueueFailures(pctx, out.RunID, entities, res.Records, causes)
		}
		if err := e.store.CompleteRun(pctx, out.RunID, status, runStats(res)); err != nil {
			log.Warn("pipeline: complete run failed", zap.Error(err))
		}
	}

	log.Info("pipeline: run finished",
		zap.String("status", string(status)),
		zap.Int("unresolved", out.Unresolved),
		zap.Int("dlq_enqueued", out.DLQEnqueued),
		zap.Duration("elapsed", res.ProcessingTime),
	)
	return out, nil
}

// processBatch resolves a batch with at most maxInFlight entities in flight.
// The batch fails when the context is cancelled or more than half of its
// entities came back unresolved.
func (e *Engine) processBatch(causes *sync.Map) batch.ProcessFunc {
	return func(ctx context.Context, chunk []model.Entity) ([]model.CanonicalRecord, error) {
		out := make([]model.CanonicalRecord, len(chunk))
		var unresolved atomic.Int32

		var g errgroup.Group
		g.SetLimit(e.maxInFlight)
		for i, ent := range chunk {
			g.Go(func() error {
				rec, err := e.search.Resolve(ctx, ent)
				out[i] = rec
				if err != nil {
					unresolved.Add(1)
					causes.Store(ent.Key(), err)
				} else {
					causes.Delete(ent.Key())
				}
				return nil
			})
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "pipeline: batch cancelled")
		}
		if n := int(unresolved.Load()); n*2 > len(chunk) {
			return nil, eris.Errorf("pipeline: %d of %d entities unresolved", n, len(chunk))
		}
		return out, nil
	}
}

func runStats(res batch.Result) *model.RunStats {
	return &model.RunStats{
		TotalBatches:      res.TotalBatches,
		SuccessfulBatches: res.SuccessfulBatches,
		FailedBatches:     res.FailedBatches,
		AverageBatchSize:  res.AverageBatchSize,
		ProcessingTimeMs:  res.ProcessingTimeMs(),
		Degraded:          res.Degraded,
		Fallbacks:         res.Fallbacks,
	}
}

// Running reports whether a run is in progress.
func (e *Engine) Running() bool { return e.running.Load() }

// Adapters returns the adapter names in query order.
func (e *Engine) Adapters() []string { return e.search.Adapters() }

// SetBatchSize overrides the current batch size.
func (e *Engine) SetBatchSize(n int) error { return e.batches.SetBatchSize(n) }

// SetMaxConsecutiveFailures changes the failure count that halves the batch size.
func (e *Engine) SetMaxConsecutiveFailures(n int) error {
	return e.batches.SetMaxConsecutiveFailures(n)
}

// SetHighConfidence changes the early-exit threshold.
func (e *Engine) SetHighConfidence(v float64) error {
	if v < 0 || v > 1 {
		return eris.Errorf("pipeline: confidence %v outside [0, 1]", v)
	}
	e.search.SetHighConfidence(v)
	return nil
}

// EnableStrategy puts a fallback strategy back in rotation.
func (e *Engine) EnableStrategy(name string) error { return e.fallbacks.Enable(name) }

// DisableStrategy takes a fallback strategy out of rotation.
func (e *Engine) DisableStrategy(name string) error { return e.fallbacks.Disable(name) }

// ReorderStrategies sorts fallback strategies by success ratio.
func (e *Engine) ReorderStrategies() []string { return e.fallbacks.ReorderBySuccess() }

// Strategies reports the registered fallback strategies.
func (e *Engine) Strategies() []fallback.StrategyStatus { return e.fallbacks.Strategies() }

// ResetStats clears monitor counters, retry metrics, batch statistics, and
// fallback history. Circuit breaker state is kept.
func (e *Engine) ResetStats() {
	e.monitor.Reset()
	e.retry.ResetMetrics()
	e.batches.ResetStats()
	e.fallbacks.ResetHistory()
	zap.L().Info("pipeline: stats reset")
}

// ResetCircuits closes every circuit breaker.
func (e *Engine) ResetCircuits() {
	e.retry.Breakers().ResetAll()
}

// Snapshot returns the monitor snapshot with circuit and retry health attached.
func (e *Engine) Snapshot() *monitoring.Snapshot {
	snap := e.monitor.Snapshot()
	snap.OpenCircuits = e.retry.Breakers().Open()
	snap.RetriesExhausted = e.retry.Metrics().Exhausted
	return snap
}
