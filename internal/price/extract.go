// Package price turns free-text pricing into structured price facts and
// picks a consensus price across sources.
package price

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Category identifies which kind of price a rule recognises.
type Category string

const (
	CategoryMembership Category = "membership"
	CategoryPT         Category = "pt"
	CategoryGroupClass Category = "group_class"
	CategoryDayPass    Category = "day_pass"
	CategoryMinimum    Category = "minimum"
	CategoryRange      Category = "range"
	CategoryGeneric    Category = "generic"
)

// Facts is the structured result of price extraction or consensus.
type Facts struct {
	MembershipPrice string `json:"membership_price,omitempty"`
	PTPrice         string `json:"pt_price,omitempty"`
	GroupClassPrice string `json:"group_class_price,omitempty"`
	DayPassPrice    string `json:"day_pass_price,omitempty"`
	MinimumPrice    string `json:"minimum_price,omitempty"`
	PriceRange      string `json:"price_range,omitempty"`
	GenericPrice    string `json:"generic_price,omitempty"`
	PriceDetails    string `json:"price_details,omitempty"`
	Discount        string `json:"discount,omitempty"`

	Confidence float64    `json:"confidence"`
	Matched    []Category `json:"matched,omitempty"`

	// Set by Consensus only.
	Tier          Tier `json:"tier,omitempty"`
	Corroboration int  `json:"corroboration"`
}

// Found reports whether any price was recognised.
func (f Facts) Found() bool {
	return len(f.Matched) > 0
}

// amount matches a currency amount in won or dollars, e.g. "50,000원",
// "5만원", "$49.99", "30000 KRW".
const amount = `(?:[$₩]\s?\d[\d,]*(?:\.\d{1,2})?|\d[\d,]*(?:\.\d{1,2})?\s?(?:만\s?원|천\s?원|원|won\b|krw\b|usd\b|dollars?\b))`

// gap allows a short run of text (e.g. "10회") between a keyword and its price.
const gap = `[^$₩\n]{0,24}?`

type rule struct {
	category   Category
	re         *regexp.Regexp
	confidence float64
	// groups are the submatch indices joined to form the value; defaults to 1.
	groups []int
}

// rules are evaluated in order; the first match per category wins.
var rules = []rule{
	{CategoryMembership, regexp.MustCompile(`(?i)(?:membership|monthly fee|monthly|회원권|월\s?회비|월\s?이용료|헬스\s?이용권)` + gap + `(` + amount + `)`), 0.9, nil},
	{CategoryMembership, regexp.MustCompile(`(?i)(` + amount + `)\s*(?:/|per)\s*(?:month|mo\b)`), 0.8, nil},
	{CategoryMembership, regexp.MustCompile(`(?i)(?:1|한)\s?개월` + gap + `(` + amount + `)`), 0.8, nil},

	{CategoryPT, regexp.MustCompile(`(?i)(?:personal training|\bpt\b|퍼스널\s?트레이닝|개인\s?레슨)` + gap + `(` + amount + `)`), 0.9, nil},
	{CategoryPT, regexp.MustCompile(`(?i)(` + amount + `)\s*(?:/|per)\s*session`), 0.8, nil},

	{CategoryGroupClass, regexp.MustCompile(`(?i)(?:group class(?:es)?|\bgx\b|그룹\s?(?:운동|수업|레슨)|yoga|pilates|spin(?:ning)?|요가|필라테스|스피닝)` + gap + `(` + amount + `)`), 0.85, nil},

	{CategoryDayPass, regexp.MustCompile(`(?i)(?:day pass|drop[- ]in|daily pass|일일\s?(?:권|이용권|입장)|1일\s?(?:권|이용권))` + gap + `(` + amount + `)`), 0.85, nil},

	{CategoryMinimum, regexp.MustCompile(`(?i)(?:from|starting (?:at|from)|as low as|최저|최소)\s*(` + amount + `)`), 0.7, nil},
	{CategoryMinimum, regexp.MustCompile(`(?i)(` + amount + `)\s*(?:부터|~\s*(?:$|\n))`), 0.7, nil},

	{CategoryRange, regexp.MustCompile(`(?i)(` + amount + `)\s*(?:-|~|to)\s*(` + amount + `)`), 0.8, []int{1, 2}},

	{CategoryGeneric, regexp.MustCompile(`(?i)(` + amount + `)`), 0.3, nil},
}

var discountRules = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\d{1,2}\s?%\s?(?:off|discount|할인)`),
	regexp.MustCompile(`(?i)` + amount + `\s?(?:off|할인)`),
	regexp.MustCompile(`(?i)special (?:price|offer)|특가|이벤트\s?가(?:격)?|할인\s?(?:행사|이벤트)`),
}

// Extract applies the ordered pattern rules to text. It is a pure function:
// identical input always yields identical output. The generic bare-number rule
// only applies when no other category matched.
func Extract(text string) Facts {
	text = normalize(text)
	var f Facts
	if strings.TrimSpace(text) == "" {
		return f
	}

	seen := make(map[Category]bool)
	for _, r := range rules {
		if seen[r.category] {
			continue
		}
		if r.category == CategoryGeneric && len(f.Matched) > 0 {
			continue
		}
		m := r.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		value := joinGroups(m, r.groups)
		if value == "" {
			continue
		}
		seen[r.category] = true
		f.Matched = append(f.Matched, r.category)
		f.set(r.category, value)
		if r.confidence > f.Confidence {
			f.Confidence = r.confidence
		}
	}

	f.Discount = extractDiscount(text)
	return f
}

func (f *Facts) set(c Category, value string) {
	switch c {
	case CategoryMembership:
		f.MembershipPrice = value
	case CategoryPT:
		f.PTPrice = value
	case CategoryGroupClass:
		f.GroupClassPrice = value
	case CategoryDayPass:
		f.DayPassPrice = value
	case CategoryMinimum:
		f.MinimumPrice = value
	case CategoryRange:
		f.PriceRange = value
	case CategoryGeneric:
		f.GenericPrice = value
	}
}

func joinGroups(m []string, groups []int) string {
	if len(groups) == 0 {
		groups = []int{1}
	}
	parts := make([]string, 0, len(groups))
	for _, g := range groups {
		if g < len(m) {
			if s := strings.TrimSpace(m[g]); s != "" {
				parts = append(parts, s)
			}
		}
	}
	return strings.Join(parts, " - ")
}

func extractDiscount(text string) string {
	var found []string
	dedup := make(map[string]bool)
	for _, re := range discountRules {
		m := re.FindString(text)
		if m == "" {
			continue
		}
		m = strings.TrimSpace(m)
		if !dedup[m] {
			dedup[m] = true
			found = append(found, m)
		}
	}
	return strings.Join(found, ", ")
}

// normalize folds compatibility forms (full-width digits and currency
// symbols) so the rules only need to handle ASCII forms.
func normalize(s string) string {
	return norm.NFKC.String(s)
}

// Key returns a comparison key for a price string: compatibility-folded,
// lower-cased, with spaces and thousands separators removed.
func Key(s string) string {
	s = strings.ToLower(normalize(s))
	return strings.NewReplacer(" ", "", ",", "", "\t", "").Replace(strings.TrimSpace(s))
}
