package pipeline

import (
	"context"
	"sync/atomic"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/facility-cli/internal/fallback"
	"github.com/sells-group/facility-cli/internal/model"
	"github.com/sells-group/facility-cli/internal/resilience"
	"github.com/sells-group/facility-cli/internal/store"
)

// --- Store Mock ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateRun(ctx context.Context, entities int) (*model.Run, error) {
	args := m.Called(ctx, entities)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *mockStore) CompleteRun(ctx context.Context, runID string, status model.RunStatus, stats *model.RunStats) error {
	args := m.Called(ctx, runID, status, stats)
	return args.Error(0)
}

func (m *mockStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *mockStore) ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Run), args.Error(1)
}

func (m *mockStore) SaveRecords(ctx context.Context, runID string, records []model.CanonicalRecord, entities []model.Entity) error {
	args := m.Called(ctx, runID, records, entities)
	return args.Error(0)
}

func (m *mockStore) LatestRecord(ctx context.Context, entityKey string) (*model.CanonicalRecord, error) {
	args := m.Called(ctx, entityKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CanonicalRecord), args.Error(1)
}

func (m *mockStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *mockStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]resilience.DLQEntry), args.Error(1)
}

func (m *mockStore) UpdateDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *mockStore) RemoveDLQ(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockStore) CountDLQ(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) Migrate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// --- Adapter fake ---

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

// --- Strategy fake ---

type fakeStrategy struct {
	name string
	fn   func(e model.Entity) (model.RawSourceResult, error)
}

func (s *fakeStrategy) Name() string    { return s.name }
func (s *fakeStrategy) Available() bool { return true }

func (s *fakeStrategy) Execute(_ context.Context, fc fallback.Context) (model.RawSourceResult, error) {
	return s.fn(fc.Entity)
}
