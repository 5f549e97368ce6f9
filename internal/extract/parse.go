// Package extract turns page or snippet text into structured facility facts.
package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/width"

	"github.com/sells-group/facility-cli/internal/model"
	"github.com/sells-group/facility-cli/internal/price"
)

// Result is the outcome of parsing one text.
type Result struct {
	model.Facts
	// Confidence reflects how many field groups were found, in [0, 0.85].
	Confidence float64
	// Matched lists the field groups found: phone, hours, price, amenities.
	Matched []string
}

// MaxConfidence is the highest confidence Parse assigns.
const MaxConfidence = 0.85

// Field weights toward Result.Confidence.
const (
	weightPhone     = 0.3
	weightHours     = 0.2
	weightPrice     = 0.25
	weightAmenities = 0.1
)

// Parse extracts phone, hours, prices and amenities from text. It never
// fails; fields that are not found stay empty.
func Parse(text string) Result {
	text = width.Fold.String(text)
	var r Result
	if strings.TrimSpace(text) == "" {
		return r
	}

	if p := Phone(text); p != "" {
		r.Phone = p
		r.Matched = append(r.Matched, "phone")
		r.Confidence += weightPhone
	}

	if open, closing, ok := Hours(text); ok {
		r.OpenTime, r.CloseTime = open, closing
		r.Matched = append(r.Matched, "hours")
		r.Confidence += weightHours
	}

	if pf, details := prices(text); pf.Found() {
		r.MembershipPrice = pf.MembershipPrice
		r.PTPrice = pf.PTPrice
		r.GroupClassPrice = pf.GroupClassPrice
		r.DayPassPrice = pf.DayPassPrice
		r.MinimumPrice = pf.MinimumPrice
		r.PriceRange = pf.PriceRange
		r.PriceDetails = details
		r.Discount = pf.Discount
		r.Matched = append(r.Matched, "price")
		r.Confidence += weightPrice * pf.Confidence
	}

	if a := Amenities(text); len(a) > 0 {
		r.Facilities = a
		r.Matched = append(r.Matched, "amenities")
		r.Confidence += weightAmenities
	}

	if r.Confidence > MaxConfidence {
		r.Confidence = MaxConfidence
	}
	return r
}

// prices runs the price extractor over the whole text and collects the lines
// that carried a price as free-text details.
func prices(text string) (price.Facts, string) {
	pf := price.Extract(text)
	if !pf.Found() {
		return pf, ""
	}
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !price.Extract(line).Found() {
			continue
		}
		if len(line) > 160 {
			line = line[:160]
		}
		lines = append(lines, line)
		if len(lines) == 3 {
			break
		}
	}
	return pf, strings.Join(lines, " / ")
}

var phoneRules = []*regexp.Regexp{
	// Korean mobile: 010-1234-5678
	regexp.MustCompile(`\b(01[016789])[-. ]?(\d{3,4})[-. ]?(\d{4})\b`),
	// Korean landline: 02-555-1234, 031-555-1234, 0505-123-4567
	regexp.MustCompile(`\(?\b(02|0[3-6][1-5]|070|050\d)\)?[-. ]?(\d{3,4})[-. ]?(\d{4})\b`),
	// Korean nationwide business numbers: 1588-1234
	regexp.MustCompile(`\b(1[5-9]\d{2})-(\d{4})\b`),
	// North American: (212) 555-1234, 212-555-1234
	regexp.MustCompile(`\(?\b([2-9]\d{2})\)?[-. ]\s?(\d{3})[-. ](\d{4})\b`),
}

// Phone returns the first phone number in text, dash-separated.
func Phone(text string) string {
	text = width.Fold.String(text)
	for _, re := range phoneRules {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		return strings.Join(m[1:], "-")
	}
	return ""
}

var (
	allDayRe   = regexp.MustCompile(`(?i)24\s?(?:시간|hours?|hrs|/7)|연중무휴\s?24`)
	clock24Re  = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\s*(?:~|-|–|to|부터)\s*(\d{1,2}):(\d{2})`)
	clock12Re  = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)\s*(?:~|-|–|to)\s*(\d{1,2})(?::(\d{2}))?\s*(am|pm)`)
	koreanHrRe = regexp.MustCompile(`(오전|오후)\s*(\d{1,2})시(?:\s*(\d{1,2})분)?\s*(?:~|-|부터)\s*(오전|오후)\s*(\d{1,2})시(?:\s*(\d{1,2})분)?`)
)

// Hours returns opening and closing times as HH:MM.
func Hours(text string) (open, closing string, ok bool) {
	text = width.Fold.String(text)

	if m := clock24Re.FindStringSubmatch(text); m != nil {
		o, ok1 := hhmm(atoi(m[1]), atoi(m[2]))
		c, ok2 := hhmm(atoi(m[3]), atoi(m[4]))
		if ok1 && ok2 {
			return o, c, true
		}
	}
	if m := clock12Re.FindStringSubmatch(text); m != nil {
		o, ok1 := hhmm(to24(atoi(m[1]), strings.EqualFold(m[3], "pm")), atoi(m[2]))
		c, ok2 := hhmm(to24(atoi(m[4]), strings.EqualFold(m[6], "pm")), atoi(m[5]))
		if ok1 && ok2 {
			return o, c, true
		}
	}
	if m := koreanHrRe.FindStringSubmatch(text); m != nil {
		o, ok1 := hhmm(to24(atoi(m[2]), m[1] == "오후"), atoi(m[3]))
		c, ok2 := hhmm(to24(atoi(m[5]), m[4] == "오후"), atoi(m[6]))
		if ok1 && ok2 {
			return o, c, true
		}
	}
	if allDayRe.MatchString(text) {
		return "00:00", "24:00", true
	}
	return "", "", false
}

func to24(h int, pm bool) int {
	switch {
	case pm && h < 12:
		return h + 12
	case !pm && h == 12:
		return 0
	}
	return h
}

func hhmm(h, m int) (string, bool) {
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d", h, m), true
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// amenityKeywords maps a canonical amenity to the words that indicate it.
var amenityKeywords = []struct {
	name     string
	keywords []string
}{
	{"shower", []string{"shower", "샤워"}},
	{"locker", []string{"locker", "락커", "라커", "사물함"}},
	{"parking", []string{"parking", "주차"}},
	{"sauna", []string{"sauna", "사우나", "찜질"}},
	{"towel", []string{"towel", "수건"}},
	{"workout_clothes", []string{"workout clothes", "gym clothes", "운동복"}},
	{"wifi", []string{"wifi", "wi-fi", "와이파이"}},
	{"pool", []string{"swimming pool", "수영장"}},
	{"personal_training", []string{"personal training", "퍼스널 트레이닝", "1:1 pt"}},
	{"group_exercise", []string{"group exercise", "group class", "gx룸", "그룹 운동", "요가", "필라테스", "yoga", "pilates"}},
}

// Amenities returns canonical amenity names found in text, in dictionary order.
func Amenities(text string) []string {
	lower := strings.ToLower(width.Fold.String(text))
	var out []string
	for _, a := range amenityKeywords {
		for _, k := range a.keywords {
			if strings.Contains(lower, k) {
				out = append(out, a.name)
				break
			}
		}
	}
	return out
}
