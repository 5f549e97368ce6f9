package search

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/facility-cli/internal/fallback"
	"github.com/sells-group/facility-cli/internal/model"
	"github.com/sells-group/facility-cli/internal/monitoring"
	"github.com/sells-group/facility-cli/internal/reconcile"
	"github.com/sells-group/facility-cli/internal/resilience"
)

type fakeAdapter struct {
	name  string
	calls atomic.Int32
	fn    func(ctx context.Context, e model.Entity) (model.RawSourceResult, error)
}

func (a *fakeAdapter) Name() string { return a.name }
func (a *fakeAdapter) Query(ctx context.Context, e model.Entity) (model.RawSourceResult, error) {
	a.calls.Add(1)
	return a.fn(ctx, e)
}

func returning(name string, conf float64, f model.Facts) *fakeAdapter {
	return &fakeAdapter{name: name, fn: func(_ context.Context, e model.Entity) (model.RawSourceResult, error) {
		return model.RawSourceResult{Facts: f, Name: e.Name, Confidence: conf}, nil
	}}
}

func failingAdapter(name string, err error) *fakeAdapter {
	return &fakeAdapter{name: name, fn: func(_ context.Context, _ model.Entity) (model.RawSourceResult, error) {
		return model.RawSourceResult{}, err
	}}
}

type fakeStrategy struct {
	name string
	res  model.RawSourceResult
	err  error
	hits atomic.Int32
}

func (s *fakeStrategy) Name() string    { return s.name }
func (s *fakeStrategy) Available() bool { return true }
func (s *fakeStrategy) Execute(_ context.Context, _ fallback.Context) (model.RawSourceResult, error) {
	s.hits.Add(1)
	return s.res, s.err
}

type sleepLog struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepLog) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func testRetry() *resilience.RetryManager {
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxRetries = 2
	breakers := resilience.NewBreakerSet(resilience.CircuitBreakerConfig{FailureThreshold: 1000})
	return resilience.NewRetryManager(cfg, breakers, resilience.WithSleeper(func(ctx context.Context, _ time.Duration) error {
		return ctx.Err()
	}))
}

func newTestOrchestrator(t *testing.T, cfg Config, adapters []Adapter, fb *fallback.Manager) (*Orchestrator, *sleepLog) {
	t.Helper()
	sl := &sleepLog{}
	o, err := New(cfg, adapters, testRetry(), fb, reconcile.NewValidator(),
		WithSleeper(sl.sleep),
		WithDelay(func(lo, _ time.Duration) time.Duration { return lo }),
	)
	require.NoError(t, err)
	return o, sl
}

var entity = model.Entity{ID: "e1", Name: "Iron Gym", Address: "Seoul", Phone: "02-000-0000"}

func TestNew_NoAdapters(t *testing.T) {
	_, err := New(DefaultConfig(), nil, nil, nil, nil)
	assert.ErrorIs(t, err, ErrNoAdapters)
}

func TestResolve_CrossValidates(t *testing.T) {
	a := returning("a", 0.5, model.Facts{Phone: "02-123-4567"})
	b := returning("b", 0.5, model.Facts{Phone: "02-999-0000"})
	c := returning("c", 0.5, model.Facts{Phone: "02-123-4567"})
	o, sl := newTestOrchestrator(t, DefaultConfig(), []Adapter{a, b, c}, nil)

	rec, err := o.Resolve(context.Background(), entity)
	require.NoError(t, err)
	assert.Equal(t, "02-123-4567", rec.Phone)
	assert.Equal(t, "cross_validated_3_sources", rec.Source)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, sl.delays)
}

func TestResolve_EarlyExit(t *testing.T) {
	a := returning("a", 0.3, model.Facts{Phone: "02-123-4567"})
	b := returning("b", 0.8, model.Facts{Phone: "02-123-4567"})
	c := returning("c", 0.5, model.Facts{Phone: "02-123-4567"})
	o, _ := newTestOrchestrator(t, DefaultConfig(), []Adapter{a, b, c}, nil)

	rec, err := o.Resolve(context.Background(), entity)
	require.NoError(t, err)
	assert.Zero(t, c.calls.Load())
	assert.Equal(t, 2, rec.SourceCount)
}

func TestResolve_ThresholdIsExclusive(t *testing.T) {
	a := returning("a", 0.7, model.Facts{Phone: "1"})
	b := returning("b", 0.2, model.Facts{Phone: "1"})
	o, _ := newTestOrchestrator(t, DefaultConfig(), []Adapter{a, b}, nil)

	_, err := o.Resolve(context.Background(), entity)
	require.NoError(t, err)
	assert.Equal(t, int32(1), b.calls.Load())

	o.SetHighConfidence(0.6)
	b.calls.Store(0)
	_, _ = o.Resolve(context.Background(), entity)
	assert.Zero(t, b.calls.Load())
}

func TestResolve_AllFail(t *testing.T) {
	a := failingAdapter("a", errors.New("down"))
	b := failingAdapter("b", resilience.Permanent(errors.New("blocked page")))

	retry := testRetry()
	fb := fallback.NewManager(retry, 0.1)
	s1 := &fakeStrategy{name: "stored_record", err: resilience.Permanent(errors.New("none"))}
	s2 := &fakeStrategy{name: "name_variant", res: model.RawSourceResult{Name: "Iron Gym", Confidence: 0.05}}
	fb.Register(s1, 1)
	fb.Register(s2, 2)

	o, _ := newTestOrchestrator(t, DefaultConfig(), []Adapter{a, b}, fb)

	rec, err := o.Resolve(context.Background(), entity)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnresolved)
	assert.Equal(t, model.SourceFallbackErrorRecovery, rec.Source)
	assert.LessOrEqual(t, rec.Confidence, model.FallbackConfidence)
	assert.Equal(t, "Iron Gym", rec.Name)
	assert.Equal(t, "Seoul", rec.Address)
	assert.Equal(t, "e1", rec.EntityID)
	// Only one fallback run per entity by default.
	assert.Equal(t, int32(1), s1.hits.Load())
	assert.Equal(t, int32(2), a.calls.Load())
	assert.Equal(t, int32(1), b.calls.Load())
}

func TestResolve_FallbackFillsIn(t *testing.T) {
	a := failingAdapter("a", errors.New("down"))
	b := returning("b", 0.4, model.Facts{Phone: "02-123-4567"})

	fb := fallback.NewManager(testRetry(), 0.1)
	s := &fakeStrategy{name: "stored_record", res: model.RawSourceResult{
		Facts: model.Facts{Phone: "02-123-4567"}, Name: "Iron Gym", Confidence: 0.45,
	}}
	fb.Register(s, 1)

	o, _ := newTestOrchestrator(t, DefaultConfig(), []Adapter{a, b}, fb)
	rec, err := o.Resolve(context.Background(), entity)
	require.NoError(t, err)
	assert.Equal(t, "02-123-4567", rec.Phone)
	assert.Equal(t, 2, rec.SourceCount)
	// base is the first contributing result: the fallback at 0.45
	assert.InDelta(t, 0.75, rec.Confidence, 0.001)
}

func TestResolve_EmptyResultIsNotUsable(t *testing.T) {
	a := returning("a", 0.9, model.Facts{})
	o, _ := newTestOrchestrator(t, DefaultConfig(), []Adapter{a}, nil)

	rec, err := o.Resolve(context.Background(), entity)
	assert.ErrorIs(t, err, ErrUnresolved)
	assert.Equal(t, model.SourceFallbackErrorRecovery, rec.Source)
	assert.Equal(t, int32(1), a.calls.Load())
}

func TestResolve_RateLimitCooldown(t *testing.T) {
	a := failingAdapter("a", resilience.NewRateLimitError(errors.New("429"), 429, 0))
	b := returning("b", 0.5, model.Facts{Phone: "1"})
	mon := monitoring.NewMonitor()

	cfg := DefaultConfig()
	cfg.RateLimitCooldown = 30 * time.Second
	sl := &sleepLog{}
	o, err := New(cfg, []Adapter{a, b}, testRetry(), nil, nil,
		WithSleeper(sl.sleep),
		WithDelay(func(lo, _ time.Duration) time.Duration { return lo }),
		WithMonitor(mon),
	)
	require.NoError(t, err)

	_, err = o.Resolve(context.Background(), entity)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{30 * time.Second}, sl.delays)
	assert.Equal(t, 30*time.Second, mon.Snapshot().Labels["rate_limit_cooldown"].WaitTime)
}

func TestResolve_CancelledStopsBetweenAdapters(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &fakeAdapter{name: "a", fn: func(_ context.Context, e model.Entity) (model.RawSourceResult, error) {
		cancel()
		return model.RawSourceResult{Facts: model.Facts{Phone: "1"}, Name: e.Name, Confidence: 0.3}, nil
	}}
	b := returning("b", 0.5, model.Facts{Phone: "1"})
	o, _ := newTestOrchestrator(t, DefaultConfig(), []Adapter{a, b}, nil)

	rec, err := o.Resolve(ctx, entity)
	require.NoError(t, err)
	assert.Zero(t, b.calls.Load())
	assert.Equal(t, 1, rec.SourceCount)
}

func TestResolve_Parallel(t *testing.T) {
	a := returning("a", 0.5, model.Facts{Phone: "02-123-4567", OpenTime: "06:00"})
	b := failingAdapter("b", resilience.Permanent(errors.New("bad")))
	c := returning("c", 0.4, model.Facts{Phone: "02-123-4567", OpenTime: "06:00"})

	cfg := DefaultConfig()
	cfg.Parallel = true
	cfg.MaxInFlight = 3
	o, sl := newTestOrchestrator(t, cfg, []Adapter{a, b, c}, nil)

	rec, err := o.Resolve(context.Background(), entity)
	require.NoError(t, err)
	assert.Equal(t, "02-123-4567", rec.Phone)
	assert.Equal(t, "06:00", rec.OpenTime)
	assert.Equal(t, 2, rec.SourceCount)
	// 0.5 base from adapter order, not completion order
	assert.InDelta(t, 0.9, rec.Confidence, 0.001)
	assert.Empty(t, sl.delays)
}

func TestResolve_ParallelFallback(t *testing.T) {
	a := failingAdapter("a", resilience.Permanent(errors.New("bad")))
	fb := fallback.NewManager(testRetry(), 0.1)
	s := &fakeStrategy{name: "jina_search", res: model.RawSourceResult{
		Facts: model.Facts{Phone: "1"}, Name: "Iron Gym", Confidence: 0.3,
	}}
	fb.Register(s, 1)

	cfg := DefaultConfig()
	cfg.Parallel = true
	o, _ := newTestOrchestrator(t, cfg, []Adapter{a}, fb)

	rec, err := o.Resolve(context.Background(), entity)
	require.NoError(t, err)
	assert.Equal(t, "cross_validated_1_sources", rec.Source)
	assert.Equal(t, int32(1), s.hits.Load())
}

func TestAdapters(t *testing.T) {
	o, _ := newTestOrchestrator(t, DefaultConfig(), []Adapter{returning("x", 0, model.Facts{}), returning("y", 0, model.Facts{})}, nil)
	assert.Equal(t, []string{"x", "y"}, o.Adapters())
}
