package price

import (
	"strings"

	"github.com/sells-group/facility-cli/internal/model"
)

// Tier records which precedence level produced a consensus price.
type Tier string

const (
	TierExact   Tier = "exact"
	TierMinimum Tier = "minimum"
	TierDetails Tier = "details"
	TierNone    Tier = "none"
)

// minCorroboration is the number of agreeing sources needed for a price to
// count as corroborated.
const minCorroboration = 2

// Consensus picks one price outcome across sources with a strict precedence:
// exact category prices, then minimum ("starting from") prices, then free-text
// price details, then the PriceNotFound sentinel.
//
// Exact prices agreed on by ≥2 sources come first, then single-source exact
// prices (Corroboration 1). Minimum and details tiers take their modal value
// whatever its count, so a lone "starting from" price still outranks
// repeated free text.
//
// candidates are free-text price phrases (typically the union of every
// source's price-bearing fields); results supply the structured fields.
func Consensus(candidates []string, results []model.RawSourceResult) Facts {
	exact := exactVotes(results)
	minimum := minimumVotes(results)
	details := newTally()
	for _, c := range candidates {
		details.add(c)
	}

	if f, ok := pickExact(exact, minCorroboration); ok {
		return f
	}
	if f, ok := pickExact(exact, 1); ok {
		return f
	}
	if v, n := minimum.mode(); n > 0 {
		return Facts{
			MinimumPrice:  v,
			Matched:       []Category{CategoryMinimum},
			Confidence:    0.7,
			Tier:          TierMinimum,
			Corroboration: n,
		}
	}
	if v, n := details.mode(); n > 0 {
		return Facts{
			PriceDetails:  v,
			Matched:       []Category{CategoryGeneric},
			Confidence:    0.3,
			Tier:          TierDetails,
			Corroboration: n,
		}
	}

	return Facts{PriceDetails: model.PriceNotFound, Tier: TierNone}
}

var exactCategories = []Category{CategoryMembership, CategoryPT, CategoryGroupClass, CategoryDayPass}

func exactVotes(results []model.RawSourceResult) map[Category]*tally {
	votes := make(map[Category]*tally, len(exactCategories))
	for _, c := range exactCategories {
		votes[c] = newTally()
	}
	for _, r := range results {
		extracted := Extract(r.PriceDetails)
		votes[CategoryMembership].add(firstNonEmpty(r.MembershipPrice, extracted.MembershipPrice))
		votes[CategoryPT].add(firstNonEmpty(r.PTPrice, extracted.PTPrice))
		votes[CategoryGroupClass].add(firstNonEmpty(r.GroupClassPrice, extracted.GroupClassPrice))
		votes[CategoryDayPass].add(firstNonEmpty(r.DayPassPrice, extracted.DayPassPrice))
	}
	return votes
}

func minimumVotes(results []model.RawSourceResult) *tally {
	t := newTally()
	for _, r := range results {
		t.add(firstNonEmpty(r.MinimumPrice, Extract(r.PriceDetails).MinimumPrice))
	}
	return t
}

// pickExact returns every exact category whose modal value has at least need
// votes. Corroboration is the strongest agreement among them.
func pickExact(votes map[Category]*tally, need int) (Facts, bool) {
	var f Facts
	for _, c := range exactCategories {
		v, n := votes[c].mode()
		if n < need {
			continue
		}
		f.set(c, v)
		f.Matched = append(f.Matched, c)
		if n > f.Corroboration {
			f.Corroboration = n
		}
	}
	if len(f.Matched) == 0 {
		return Facts{}, false
	}
	f.Tier = TierExact
	f.Confidence = 0.9
	if f.Corroboration < minCorroboration {
		f.Confidence = 0.8
	}
	return f, true
}

// tally counts values by Key, remembering the first spelling seen and the
// order keys arrived in so ties resolve deterministically.
type tally struct {
	counts  map[string]int
	display map[string]string
	order   []string
}

func newTally() *tally {
	return &tally{counts: make(map[string]int), display: make(map[string]string)}
}

func (t *tally) add(v string) {
	v = strings.TrimSpace(v)
	if v == "" || v == model.PriceNotFound {
		return
	}
	k := Key(v)
	if _, ok := t.counts[k]; !ok {
		t.display[k] = v
		t.order = append(t.order, k)
	}
	t.counts[k]++
}

// mode returns the most frequent value and its count; earliest wins ties.
func (t *tally) mode() (string, int) {
	best, bestN := "", 0
	for _, k := range t.order {
		if n := t.counts[k]; n > bestN {
			best, bestN = k, n
		}
	}
	if bestN == 0 {
		return "", 0
	}
	return t.display[best], bestN
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
