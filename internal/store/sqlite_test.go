package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/facility-cli/internal/config"
	"github.com/sells-group/facility-cli/internal/model"
	"github.com/sells-group/facility-cli/internal/resilience"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
}

// --- Runs ---

func TestSQLite_RunLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, 12)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusRunning, run.Status)

	stats := &model.RunStats{TotalBatches: 2, SuccessfulBatches: 1, FailedBatches: 1, AverageBatchSize: 6, Fallbacks: 1}
	require.NoError(t, st.CompleteRun(ctx, run.ID, model.RunStatusComplete, stats))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, got.Status)
	assert.Equal(t, 12, got.Entities)
	require.NotNil(t, got.Stats)
	assert.Equal(t, 1, got.Stats.Fallbacks)
	assert.InDelta(t, 6.0, got.Stats.AverageBatchSize, 0.001)
}

func TestSQLite_GetRun_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.GetRun(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_CompleteRun_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.CompleteRun(context.Background(), "missing", model.RunStatusFailed, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_ListRuns(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a, err := st.CreateRun(ctx, 1)
	require.NoError(t, err)
	_, err = st.CreateRun(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, st.CompleteRun(ctx, a.ID, model.RunStatusCancelled, &model.RunStats{}))

	all, err := st.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	cancelled, err := st.ListRuns(ctx, RunFilter{Status: model.RunStatusCancelled})
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, a.ID, cancelled[0].ID)

	limited, err := st.ListRuns(ctx, RunFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

// --- Records ---

func TestSQLite_SaveAndLatestRecord(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, 2)
	require.NoError(t, err)

	entities := []model.Entity{{ID: "g1", Name: "Iron Gym"}, {ID: "g2", Name: "Blue Pool"}}
	old := time.Now().UTC().Add(-time.Hour)
	records := []model.CanonicalRecord{
		{EntityID: "g1", Name: "Iron Gym", Confidence: 0.8, Source: "cross_validated_2_sources",
			Facts: model.Facts{Phone: "02-123-4567"}, ResolvedAt: old},
		model.FallbackRecord(entities[1], model.SourceFallbackErrorRecovery, model.MinimalConfidence),
	}
	require.NoError(t, st.SaveRecords(ctx, run.ID, records, entities))

	newer := records[0]
	newer.Phone = "02-765-4321"
	newer.ResolvedAt = time.Now().UTC()
	require.NoError(t, st.SaveRecords(ctx, run.ID, []model.CanonicalRecord{newer}, entities[:1]))

	got, err := st.LatestRecord(ctx, "g1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "02-765-4321", got.Phone)

	// Fallback records are never returned.
	got, err = st.LatestRecord(ctx, "g2")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_SaveRecords_LengthMismatch(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.SaveRecords(context.Background(), "r", []model.CanonicalRecord{{Name: "x"}}, nil)
	require.Error(t, err)
}

func TestSQLite_SaveRecords_Empty(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.SaveRecords(context.Background(), "r", nil, nil))
}

// --- Dead letter queue ---

func dlqEntry(id, errType string, due time.Time) resilience.DLQEntry {
	return resilience.DLQEntry{
		ID:           id,
		RunID:        "run-1",
		Entity:       model.Entity{ID: id, Name: "Gym " + id},
		Source:       model.SourceFallbackErrorRecovery,
		Confidence:   0.05,
		Error:        "search: entity unresolved",
		ErrorType:    errType,
		MaxRetries:   3,
		NextRetryAt:  due,
		CreatedAt:    time.Now(),
		LastFailedAt: time.Now(),
	}
}

func TestSQLite_DLQ_EnqueueAndList(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.EnqueueDLQ(ctx, dlqEntry("a", resilience.ErrorTypeExhausted, time.Now().Add(-time.Minute))))
	require.NoError(t, st.EnqueueDLQ(ctx, dlqEntry("b", resilience.ErrorTypeRateLimited, time.Now().Add(time.Hour))))

	all, err := st.ListDLQ(ctx, resilience.DLQFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "Gym a", all[0].Entity.Name)
	assert.Equal(t, "run-1", all[0].RunID)

	due, err := st.ListDLQ(ctx, resilience.DLQFilter{DueBy: time.Now()})
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "a", due[0].ID)

	rl, err := st.ListDLQ(ctx, resilience.DLQFilter{ErrorType: resilience.ErrorTypeRateLimited})
	require.NoError(t, err)
	require.Len(t, rl, 1)
	assert.Equal(t, "b", rl[0].ID)

	n, err := st.CountDLQ(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSQLite_DLQ_UpdateAndExhaust(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	e := dlqEntry("a", resilience.ErrorTypeTransient, time.Now().Add(-time.Minute))
	e.MaxRetries = 1
	require.NoError(t, st.EnqueueDLQ(ctx, e))

	e.MarkFailed(errors.New("still down"), time.Now().Add(-2*time.Hour))
	require.NoError(t, st.UpdateDLQ(ctx, e))

	// retry_count reached max_retries: no longer due
	due, err := st.ListDLQ(ctx, resilience.DLQFilter{DueBy: time.Now()})
	require.NoError(t, err)
	assert.Empty(t, due)

	all, err := st.ListDLQ(ctx, resilience.DLQFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 1, all[0].RetryCount)
	assert.Equal(t, "still down", all[0].Error)
}

func TestSQLite_DLQ_UpdateMissing(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.UpdateDLQ(context.Background(), dlqEntry("nope", "transient", time.Now()))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_DLQ_Remove(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.EnqueueDLQ(ctx, dlqEntry("a", "transient", time.Now())))
	require.NoError(t, st.RemoveDLQ(ctx, "a"))

	n, err := st.CountDLQ(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLite_DLQ_EnqueueGeneratesID(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	e := dlqEntry("", "transient", time.Now())
	require.NoError(t, st.EnqueueDLQ(ctx, e))
	all, err := st.ListDLQ(ctx, resilience.DLQFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.NotEmpty(t, all[0].ID)
}

// --- Open ---

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.StoreConfig{Driver: "none"})
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = Open(ctx, config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.NoError(t, s.Close())

	_, err = Open(ctx, config.StoreConfig{Driver: "mysql"})
	assert.Error(t, err)
}
