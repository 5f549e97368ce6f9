package resilience

import (
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/facility-cli/internal/model"
)

// Error classes recorded on dead letter entries.
const (
	ErrorTypeTransient   = "transient"
	ErrorTypeRateLimited = "rate_limited"
	ErrorTypePermanent   = "permanent"
	ErrorTypeExhausted   = "exhausted"
)

// DLQEntry is an entity whose run ended on a fallback record.
type DLQEntry struct {
	ID           string       `json:"id"`
	RunID        string       `json:"run_id,omitempty"`
	Entity       model.Entity `json:"entity"`
	Source       string       `json:"source"`
	Confidence   float64      `json:"confidence"`
	Error        string       `json:"error"`
	ErrorType    string       `json:"error_type"`
	RetryCount   int          `json:"retry_count"`
	MaxRetries   int          `json:"max_retries"`
	NextRetryAt  time.Time    `json:"next_retry_at"`
	CreatedAt    time.Time    `json:"created_at"`
	LastFailedAt time.Time    `json:"last_failed_at"`
}

// DLQFilter specifies criteria for querying the dead letter queue.
type DLQFilter struct {
	ErrorType string `json:"error_type,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	// DueBy limits results to entries whose NextRetryAt is not after it.
	DueBy time.Time `json:"due_by,omitempty"`
}

// NewDLQEntry builds an entry for an entity whose final record is rec.
func NewDLQEntry(runID string, e model.Entity, rec model.CanonicalRecord, cause error, maxRetries int, now time.Time) DLQEntry {
	msg := rec.Source
	if cause != nil {
		msg = cause.Error()
	}
	return DLQEntry{
		ID:           uuid.NewString(),
		RunID:        runID,
		Entity:       e,
		Source:       rec.Source,
		Confidence:   rec.Confidence,
		Error:        msg,
		ErrorType:    ClassifyError(cause),
		MaxRetries:   maxRetries,
		NextRetryAt:  now.Add(RetryBackoff(0)),
		CreatedAt:    now,
		LastFailedAt: now,
	}
}

// CanRetry returns true if this entry hasn't exceeded its max retry count.
func (e *DLQEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// MarkFailed records another failed retry at now.
func (e *DLQEntry) MarkFailed(cause error, now time.Time) {
	e.RetryCount++
	e.LastFailedAt = now
	e.NextRetryAt = now.Add(RetryBackoff(e.RetryCount))
	if cause != nil {
		e.Error = cause.Error()
		e.ErrorType = ClassifyError(cause)
	}
}

// RetryBackoff is the wait before dead letter retry n: 5m, 10m, 20m, ...
// capped at 24h.
func RetryBackoff(n int) time.Duration {
	d := 5 * time.Minute
	for i := 0; i < n && d < 24*time.Hour; i++ {
		d *= 2
	}
	if d > 24*time.Hour {
		d = 24 * time.Hour
	}
	return d
}

// ClassifyError names the class of err. A nil error means every source came
// back empty, which is treated as exhaustion.
func ClassifyError(err error) string {
	switch {
	case err == nil, IsExhausted(err) && !IsRateLimited(err) && !IsPermanent(err):
		return ErrorTypeExhausted
	case IsRateLimited(err):
		return ErrorTypeRateLimited
	case IsPermanent(err):
		return ErrorTypePermanent
	case IsTransient(err):
		return ErrorTypeTransient
	default:
		return ErrorTypePermanent
	}
}
