package pipeline

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/facility-cli/internal/model"
	"github.com/sells-group/facility-cli/internal/resilience"
)

// DLQResult summarises a dead letter retry pass.
type DLQResult struct {
	Attempted int `json:"attempted"`
	Resolved  int `json:"resolved"`
	Failed    int `json:"failed"`
	// Exhausted counts entries that used their last retry.
	Exhausted int `json:"exhausted"`
}

// enqueueFailures dead-letters every attempted entity whose record is a
// fallback at or below the fallback confidence ceiling.
func (e *Engine) enqueueFailures(ctx context.Context, runID string, entities []model.Entity, records []model.CanonicalRecord, causes *sync.Map) int {
	n := 0
	for i, rec := range records {
		if !rec.IsFallback() || rec.Source == model.SourceNotProcessed || rec.Confidence > model.FallbackConfidence {
			continue
		}
		var cause error
		if v, ok := causes.Load(entities[i].Key()); ok {
			cause, _ = v.(error)
		}
		entry := resilience.NewDLQEntry(runID, entities[i], rec, cause, e.cfg.DLQ.MaxRetries, e.nowFunc())
		if err := e.store.EnqueueDLQ(ctx, entry); err != nil {
			zap.L().Warn("pipeline: enqueue dlq failed", zap.String("entity", entities[i].Name), zap.Error(err))
			continue
		}
		n++
	}
	return n
}

// RetryDLQ re-runs up to limit due dead letter entries. Resolved entries are
// removed; the rest are rescheduled with a longer backoff.
func (e *Engine) RetryDLQ(ctx context.Context, limit int) (*DLQResult, error) {
	if e.store == nil {
		return nil, eris.New("pipeline: dlq retry requires a store")
	}
	entries, err := e.store.ListDLQ(ctx, resilience.DLQFilter{DueBy: e.nowFunc(), Limit: limit})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: list dlq")
	}
	out := &DLQResult{Attempted: len(entries)}
	if len(entries) == 0 {
		return out, nil
	}

	entities := make([]model.Entity, len(entries))
	for i, en := range entries {
		entities[i] = en.Entity
	}

	res, err := e.run(ctx, entities, false)
	if err != nil {
		return nil, err
	}

	for i, rec := range res.Records {
		entry := entries[i]
		if rec.Source == model.SourceNotProcessed {
			continue
		}
		if !rec.IsFallback() {
			if err := e.store.RemoveDLQ(ctx, entry.ID); err != nil {
				return out, eris.Wrapf(err, "pipeline: remove dlq %s", entry.ID)
			}
			out.Resolved++
			continue
		}
		out.Failed++
		entry.MarkFailed(nil, e.nowFunc())
		if !entry.CanRetry() {
			out.Exhausted++
		}
		if err := e.store.UpdateDLQ(ctx, entry); err != nil {
			return out, eris.Wrapf(err, "pipeline: update dlq %s", entry.ID)
		}
	}

	zap.L().Info("pipeline: dlq retry complete",
		zap.Int("attempted", out.Attempted),
		zap.Int("resolved", out.Resolved),
		zap.Int("failed", out.Failed),
		zap.Int("exhausted", out.Exhausted),
	)
	return out, nil
}
