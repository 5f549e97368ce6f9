package model

import "time"

// RunStatus represents the current state of a batch run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusComplete  RunStatus = "complete"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one invocation of the batch processor over an entity list.
type Run struct {
	ID        string    `json:"id"`
	Status    RunStatus `json:"status"`
	Entities  int       `json:"entities"`
	Stats     *RunStats `json:"stats,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RunStats is the aggregate outcome persisted with a finished run.
type RunStats struct {
	TotalBatches      int     `json:"total_batches"`
	SuccessfulBatches int     `json:"successful_batches"`
	FailedBatches     int     `json:"failed_batches"`
	AverageBatchSize  float64 `json:"average_batch_size"`
	ProcessingTimeMs  int64   `json:"processing_time_ms"`
	Degraded          int     `json:"degraded"`
	Fallbacks         int     `json:"fallbacks"`
}
