package source

import (
	"context"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/facility-cli/internal/fallback"
	"github.com/sells-group/facility-cli/internal/model"
	"github.com/sells-group/facility-cli/internal/resilience"
)

// storedDecay scales a stored record's confidence; storedMax caps it.
const (
	storedDecay = 0.5
	storedMax   = 0.5
)

// variantDecay scales the confidence of a result found under a simplified name.
const variantDecay = 0.8

// RecordLookup finds the newest reconciled record for an entity key.
type RecordLookup interface {
	LatestRecord(ctx context.Context, entityKey string) (*model.CanonicalRecord, error)
}

// StoredRecord falls back to the entity's last reconciled record.
type StoredRecord struct {
	records RecordLookup
}

// NewStoredRecord builds the stored_record strategy. records may be nil.
func NewStoredRecord(records RecordLookup) *StoredRecord {
	return &StoredRecord{records: records}
}

// Name returns the strategy name.
func (s *StoredRecord) Name() string { return StrategyStoredRecord }

// Available reports whether a store is configured.
func (s *StoredRecord) Available() bool { return s.records != nil }

// Execute returns the stored record with decayed confidence.
func (s *StoredRecord) Execute(ctx context.Context, fc fallback.Context) (model.RawSourceResult, error) {
	rec, err := s.records.LatestRecord(ctx, fc.Entity.Key())
	if err != nil {
		return model.RawSourceResult{}, eris.Wrap(err, "source: stored record")
	}
	if rec == nil || !rec.HasAny() {
		return model.RawSourceResult{}, resilience.Permanent(eris.New("source: no stored record"))
	}

	conf := rec.Confidence * storedDecay
	if conf > storedMax {
		conf = storedMax
	}
	return model.RawSourceResult{
		Facts:      rec.Facts,
		Name:       fc.Entity.Name,
		Address:    fc.Entity.Address,
		Confidence: conf,
		Source:     StrategyStoredRecord,
	}, nil
}

// NameVariant re-runs a web search under a simplified facility name.
type NameVariant struct {
	web *WebSearch
}

// NewNameVariant builds the name_variant strategy over web, which may be nil.
func NewNameVariant(web *WebSearch) *NameVariant {
	return &NameVariant{web: web}
}

// Name returns the strategy name.
func (n *NameVariant) Name() string { return StrategyNameVariant }

// Available reports whether a web adapter is configured.
func (n *NameVariant) Available() bool { return n.web != nil }

// Execute queries the web adapter with SimplifyName(entity name).
func (n *NameVariant) Execute(ctx context.Context, fc fallback.Context) (model.RawSourceResult, error) {
	variant := SimplifyName(fc.Entity.Name)
	if variant == "" || variant == strings.TrimSpace(fc.Entity.Name) {
		return model.RawSourceResult{}, resilience.Permanent(eris.New("source: name has no simpler variant"))
	}

	res, err := n.web.QueryName(ctx, fc.Entity, variant)
	if err != nil {
		return model.RawSourceResult{}, err
	}
	res.Confidence *= variantDecay
	res.Source = StrategyNameVariant
	return res, nil
}

var (
	parenRe = regexp.MustCompile(`\s*[(\[（【][^)\]）】]*[)\]）】]`)
	// "강남점", "역삼2호점", "본점", "지점", "Gangnam Branch", "Branch 2"
	branchRe = regexp.MustCompile(`(?i)\s+(?:\S*(?:본점|지점|호점|점)|\S+\s+branch|branch\s*\d*)$`)
	spaceRe  = regexp.MustCompile(`\s+`)
)

// SimplifyName strips parentheticals and a trailing branch designation.
func SimplifyName(name string) string {
	s := parenRe.ReplaceAllString(name, "")
	s = spaceRe.ReplaceAllString(strings.TrimSpace(s), " ")
	if t := branchRe.ReplaceAllString(s, ""); t != "" {
		s = t
	}
	return strings.TrimSpace(s)
}
