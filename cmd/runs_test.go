package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/facility-cli/internal/model"
)

var runsBase = time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)

func TestWriteRunTable(t *testing.T) {
	runs := []model.Run{
		{
			ID:       "abc12345-6789-0000-0000-000000000000",
			Status:   model.RunStatusComplete,
			Entities: 40,
			Stats: &model.RunStats{
				TotalBatches:      4,
				SuccessfulBatches: 3,
				FailedBatches:     1,
				Degraded:          6,
				ProcessingTimeMs:  125_000,
			},
			CreatedAt: runsBase,
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Status:    model.RunStatusRunning,
			Entities:  5,
			CreatedAt: runsBase.Add(-time.Hour),
		},
	}

	var buf bytes.Buffer
	writeRunTable(&buf, runs)

	out := buf.String()
	assert.Contains(t, out, "BATCHES OK")
	assert.Contains(t, out, "abc12345")
	assert.NotContains(t, out, "abc12345-6789")
	assert.Contains(t, out, "3/4")
	assert.Contains(t, out, "2m5s")
	assert.Contains(t, out, "running")
	assert.Contains(t, out, "2025-06-15 10:30")
}

func TestWriteRunDetail(t *testing.T) {
	run := &model.Run{
		ID:       "abc12345-6789-0000-0000-000000000000",
		Status:   model.RunStatusCancelled,
		Entities: 12,
		Stats: &model.RunStats{
			TotalBatches: 3, SuccessfulBatches: 2, FailedBatches: 1,
			AverageBatchSize: 4, Degraded: 2, Fallbacks: 1, ProcessingTimeMs: 1500,
		},
		CreatedAt: runsBase,
		UpdatedAt: runsBase.Add(2 * time.Second),
	}

	var buf bytes.Buffer
	writeRunDetail(&buf, run)

	out := buf.String()
	assert.Contains(t, out, run.ID)
	assert.Contains(t, out, "cancelled")
	assert.Contains(t, out, "3 total, 2 ok, 1 failed")
	assert.Contains(t, out, "4.0")
	assert.Contains(t, out, "1.5s")
}

func TestWriteRunDetail_NoStats(t *testing.T) {
	var buf bytes.Buffer
	writeRunDetail(&buf, &model.Run{ID: "r1", Status: model.RunStatusRunning, CreatedAt: runsBase})
	assert.NotContains(t, buf.String(), "Batches:")
}

func TestSummarizeRuns(t *testing.T) {
	runs := []model.Run{
		{Status: model.RunStatusComplete, Entities: 10, CreatedAt: runsBase,
			Stats: &model.RunStats{TotalBatches: 2, FailedBatches: 0, Degraded: 1, Fallbacks: 1, ProcessingTimeMs: 60_000}},
		{Status: model.RunStatusComplete, Entities: 20, CreatedAt: runsBase,
			Stats: &model.RunStats{TotalBatches: 4, FailedBatches: 2, Degraded: 3, ProcessingTimeMs: 120_000}},
		{Status: model.RunStatusCancelled, Entities: 5, CreatedAt: runsBase},
		{Status: model.RunStatusRunning, Entities: 2, CreatedAt: runsBase},
		{Status: model.RunStatusFailed, Entities: 100, CreatedAt: runsBase.Add(-30 * 24 * time.Hour)},
	}

	s := summarizeRuns(runs, runsBase.Add(-24*time.Hour))
	assert.Equal(t, 4, s.Runs)
	assert.Equal(t, 2, s.ByStatus[model.RunStatusComplete])
	assert.Equal(t, 1, s.ByStatus[model.RunStatusCancelled])
	assert.Zero(t, s.ByStatus[model.RunStatusFailed])
	assert.Equal(t, 37, s.Entities)
	assert.Equal(t, 4, s.Degraded)
	assert.Equal(t, 1, s.Fallbacks)
	assert.InDelta(t, 4.0/6.0, s.BatchSuccessRate(), 1e-9)
	assert.Equal(t, 90*time.Second, s.AvgProcessing())

	all := summarizeRuns(runs, time.Time{})
	assert.Equal(t, 5, all.Runs)
	assert.Equal(t, 1, all.ByStatus[model.RunStatusFailed])
}

func TestSummarizeRuns_Empty(t *testing.T) {
	s := summarizeRuns(nil, time.Time{})
	assert.Zero(t, s.Runs)
	assert.Zero(t, s.BatchSuccessRate())
	assert.Zero(t, s.AvgProcessing())
}

func TestWriteRunSummary(t *testing.T) {
	s := runSummary{
		Runs:         3,
		ByStatus:     map[model.RunStatus]int{model.RunStatusComplete: 2, model.RunStatusFailed: 1},
		Entities:     30,
		Batches:      4,
		Failed:       1,
		ProcessingMs: 91_000,
		timed:        2,
	}

	var buf bytes.Buffer
	writeRunSummary(&buf, s)

	out := buf.String()
	assert.Contains(t, out, "Runs:")
	assert.Contains(t, out, "complete:")
	assert.NotContains(t, out, "cancelled:")
	assert.Contains(t, out, "75.0%")
	assert.Contains(t, out, "45.5s")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789-0000-0000-000000000000"))
	assert.Equal(t, "short", truncateID("short"))
}
