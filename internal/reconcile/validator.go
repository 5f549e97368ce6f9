// Package reconcile merges per-source results for one entity into a single
// canonical record by majority vote.
package reconcile

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/facility-cli/internal/model"
	"github.com/sells-group/facility-cli/internal/price"
)

// Confidence bonuses for corroborated field families.
const (
	bonusPhone      = 0.3
	bonusHours      = 0.2
	bonusPrice      = 0.3
	bonusFacilities = 0.2
)

// minVotes is the agreement needed before a field is trusted.
const minVotes = 2

// Validator reconciles raw source results.
type Validator struct {
	nowFunc func() time.Time
}

// NewValidator creates a Validator.
func NewValidator() *Validator {
	return &Validator{nowFunc: time.Now}
}

// Reconcile builds one canonical record from results. It never panics: empty
// input, a nil original, or a failure anywhere in the merge yields a fallback
// record built from original.
func (v *Validator) Reconcile(results []model.RawSourceResult, original *model.Entity) (rec model.CanonicalRecord) {
	if len(results) == 0 || original == nil {
		return v.Fallback(original)
	}

	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("reconcile: recovered from panic",
				zap.Any("panic", r),
				zap.String("entity", original.Name),
			)
			rec = v.Fallback(original)
		}
	}()

	return v.merge(results, *original)
}

func (v *Validator) merge(results []model.RawSourceResult, original model.Entity) model.CanonicalRecord {
	rec := model.CanonicalRecord{
		EntityID:    original.ID,
		Name:        strings.TrimSpace(original.Name),
		Address:     strings.TrimSpace(original.Address),
		Source:      model.CrossValidatedSource(len(results)),
		SourceCount: len(results),
		ResolvedAt:  v.nowFunc().UTC(),
	}
	if rec.Name == "" {
		rec.Name = firstNonEmpty(results, func(r model.RawSourceResult) string { return r.Name })
	}
	if rec.Address == "" {
		rec.Address = firstNonEmpty(results, func(r model.RawSourceResult) string { return r.Address })
	}

	bonus := 0.0

	if phone, n := modal(results, func(r model.RawSourceResult) string { return normalizePhone(r.Phone) }); n >= minVotes {
		rec.Phone = phone
		bonus += bonusPhone
	}

	open, openN := modal(results, func(r model.RawSourceResult) string { return r.OpenTime })
	closing, closeN := modal(results, func(r model.RawSourceResult) string { return r.CloseTime })
	if openN >= minVotes {
		rec.OpenTime = open
	}
	if closeN >= minVotes {
		rec.CloseTime = closing
	}
	if openN >= minVotes || closeN >= minVotes {
		bonus += bonusHours
	}

	if discount, n := modal(results, func(r model.RawSourceResult) string { return r.Discount }); n >= minVotes {
		rec.Discount = discount
	}

	if facilities := corroboratedFacilities(results); len(facilities) > 0 {
		rec.Facilities = facilities
		bonus += bonusFacilities
	}

	if v.applyPrice(&rec, results) {
		bonus += bonusPrice
	}

	rec.Confidence = composeConfidence(results[0].Confidence, bonus)
	return rec
}

// applyPrice runs price consensus and copies the winner onto rec. It reports
// whether the price was corroborated.
func (v *Validator) applyPrice(rec *model.CanonicalRecord, results []model.RawSourceResult) bool {
	var candidates []string
	for _, r := range results {
		candidates = append(candidates, r.PriceTexts()...)
	}
	pf := price.Consensus(candidates, results)

	rec.MembershipPrice = pf.MembershipPrice
	rec.PTPrice = pf.PTPrice
	rec.GroupClassPrice = pf.GroupClassPrice
	rec.DayPassPrice = pf.DayPassPrice
	rec.MinimumPrice = pf.MinimumPrice
	rec.PriceDetails = pf.PriceDetails
	rec.PriceCorroboration = pf.Corroboration

	if pf.Tier != price.TierNone && pf.Corroboration < minVotes {
		for _, c := range pf.Matched {
			rec.SingleSourceFields = append(rec.SingleSourceFields, priceField(c))
		}
	}
	return pf.Tier != price.TierNone && pf.Corroboration >= minVotes
}

func priceField(c price.Category) string {
	switch c {
	case price.CategoryMembership:
		return "membership_price"
	case price.CategoryPT:
		return "pt_price"
	case price.CategoryGroupClass:
		return "group_class_price"
	case price.CategoryDayPass:
		return "day_pass_price"
	case price.CategoryMinimum:
		return "minimum_price"
	default:
		return "price_details"
	}
}

func composeConfidence(base, bonus float64) float64 {
	c := model.ClampConfidence(base) + bonus
	if c > model.MaxReconciledConfidence {
		c = model.MaxReconciledConfidence
	}
	return model.ClampConfidence(c)
}

// Fallback builds a low-confidence record from original. Each field is copied
// independently; a field whose copy fails is left empty.
func (v *Validator) Fallback(original *model.Entity) model.CanonicalRecord {
	rec := model.CanonicalRecord{
		Confidence: model.FallbackConfidence,
		Source:     model.SourceFallbackErrorRecovery,
		ResolvedAt: v.nowFunc().UTC(),
	}
	if original == nil {
		return rec
	}
	safeField(&rec.EntityID, func() string { return strings.TrimSpace(original.ID) })
	safeField(&rec.Name, func() string { return strings.TrimSpace(original.Name) })
	safeField(&rec.Address, func() string { return strings.TrimSpace(original.Address) })
	safeField(&rec.Phone, func() string { return normalizePhone(original.Phone) })
	if rec.Phone != "" {
		rec.SingleSourceFields = []string{"phone"}
	}
	return rec
}

func safeField(dst *string, fn func() string) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Warn("reconcile: field dropped", zap.Any("panic", r))
		}
	}()
	*dst = fn()
}

// modal returns the most frequent non-empty value of field and its count.
// Ties go to the value seen first.
func modal(results []model.RawSourceResult, field func(model.RawSourceResult) string) (string, int) {
	counts := make(map[string]int)
	var order []string
	for _, r := range results {
		val := strings.TrimSpace(field(r))
		if val == "" {
			continue
		}
		if counts[val] == 0 {
			order = append(order, val)
		}
		counts[val]++
	}
	best, bestN := "", 0
	for _, val := range order {
		if counts[val] > bestN {
			best, bestN = val, counts[val]
		}
	}
	return best, bestN
}

// corroboratedFacilities keeps amenities named by at least two distinct
// sources. A source listing the same amenity twice counts once.
func corroboratedFacilities(results []model.RawSourceResult) []string {
	counts := make(map[string]int)
	display := make(map[string]string)
	for _, r := range results {
		seen := make(map[string]bool)
		for _, f := range r.Facilities {
			key := strings.ToLower(strings.TrimSpace(f))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			if _, ok := display[key]; !ok {
				display[key] = strings.TrimSpace(f)
			}
			counts[key]++
		}
	}
	var out []string
	for key, n := range counts {
		if n >= minVotes {
			out = append(out, display[key])
		}
	}
	sort.Strings(out)
	return out
}

// normalizePhone collapses spacing and separators so "02 123 4567" and
// "02-123-4567" vote together.
func normalizePhone(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	var digits strings.Builder
	for _, r := range p {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	switch {
	case len(d) < 7:
		return p
	case strings.HasPrefix(d, "02") && (len(d) == 9 || len(d) == 10):
		return fmt.Sprintf("02-%s-%s", d[2:len(d)-4], d[len(d)-4:])
	case strings.HasPrefix(d, "0") && (len(d) == 10 || len(d) == 11):
		return fmt.Sprintf("%s-%s-%s", d[:3], d[3:len(d)-4], d[len(d)-4:])
	default:
		return p
	}
}

func firstNonEmpty(results []model.RawSourceResult, field func(model.RawSourceResult) string) string {
	for _, r := range results {
		if s := strings.TrimSpace(field(r)); s != "" {
			return s
		}
	}
	return ""
}
