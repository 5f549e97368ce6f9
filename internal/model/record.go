package model

import (
	"fmt"
	"time"
)

// Source tags used on records that did not come from a single adapter.
const (
	// SourceFallbackErrorRecovery marks a record rebuilt from the input
	// after reconciliation, every lookup, or a singleton batch retry failed.
	SourceFallbackErrorRecovery = "fallback_error_recovery"
	// SourceNotProcessed marks an entity left unprocessed by a cancelled run.
	SourceNotProcessed = "not_processed"
	// SourceAllStrategiesFailed tags a fallback result after every
	// strategy was exhausted.
	SourceAllStrategiesFailed = "all_strategies_failed"
)

// Confidence ceilings.
const (
	MaxReconciledConfidence = 0.9
	FallbackConfidence      = 0.1
	MinimalConfidence       = 0.05
)

// PriceNotFound is the sentinel written when no price could be agreed on.
const PriceNotFound = "visit to confirm"

// CrossValidatedSource returns the source tag for a record reconciled from n
// raw results.
func CrossValidatedSource(n int) string {
	return fmt.Sprintf("cross_validated_%d_sources", n)
}

// RawSourceResult is one source's extraction for one entity. It is treated as
// immutable once an adapter returns it.
type RawSourceResult struct {
	Facts
	Name       string  `json:"name"`
	Address    string  `json:"address"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// CanonicalRecord is the reconciled view of one entity.
type CanonicalRecord struct {
	Facts
	EntityID   string  `json:"entity_id,omitempty"`
	Name       string  `json:"name"`
	Address    string  `json:"address"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`

	// SourceCount is the number of raw results that fed reconciliation.
	SourceCount int `json:"source_count"`
	// PriceCorroboration is how many sources agreed on the chosen price.
	PriceCorroboration int `json:"price_corroboration"`
	// SingleSourceFields lists fields kept without ≥2-source agreement.
	SingleSourceFields []string `json:"single_source_fields,omitempty"`

	ResolvedAt time.Time `json:"resolved_at"`
}

// IsFallback reports whether the record came from a degradation path rather
// than cross-validation.
func (r CanonicalRecord) IsFallback() bool {
	switch r.Source {
	case SourceFallbackErrorRecovery, SourceNotProcessed, SourceAllStrategiesFailed:
		return true
	}
	return false
}

// FallbackRecord builds a record carrying only the entity's known fields.
func FallbackRecord(e Entity, source string, confidence float64) CanonicalRecord {
	rec := CanonicalRecord{
		EntityID:   e.ID,
		Name:       e.Name,
		Address:    e.Address,
		Confidence: ClampConfidence(confidence),
		Source:     source,
		ResolvedAt: time.Now().UTC(),
	}
	if e.Phone != "" {
		rec.Phone = e.Phone
		rec.SingleSourceFields = []string{"phone"}
	}
	return rec
}

// ClampConfidence limits c to [0,1].
func ClampConfidence(c float64) float64 {
	switch {
	case c != c, c < 0: // NaN or negative
		return 0
	case c > 1:
		return 1
	}
	return c
}
