// Package extract pulls amount, cadence, renewal date and plan label out of
// a message's text. Grounded on the teacher's SubjectScoreClassifier
// (core/service/classification/worker_subject_score_classifier.go):
// subjectPattern{pattern, keywords, priority, score, source} — generalized
// here from subject-category scoring to field extraction, each extractor a
// small ordered table of compiled patterns with a source tag.
package extract

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"subscan/core/domain"
)

var amountRe = regexp.MustCompile(`(?i)(?:[$€£¥₩]|usd|eur|gbp|krw)\s?([0-9][0-9,.]*)|([0-9][0-9,.]*)\s?(?:usd|eur|gbp|krw|[$€£¥₩])`)

var billingKeywords = []string{"total", "charged", "you paid", "amount due", "invoice", "receipt", "renewal", "subscription"}

// Amount extracts the plausible monetary figure closest to a billing
// keyword, along with its currency code/symbol.
func Amount(haystack string) (amount *float64, currency string) {
	lower := strings.ToLower(haystack)
	best := -1
	bestVal := 0.0
	bestCur := ""

	matches := amountRe.FindAllStringSubmatchIndex(haystack, -1)
	for _, m := range matches {
		matched := haystack[m[0]:m[1]]
		numStr := ""
		if m[2] >= 0 {
			numStr = haystack[m[2]:m[3]]
		} else if m[4] >= 0 {
			numStr = haystack[m[4]:m[5]]
		}
		val, ok := parseDecimal(numStr)
		if !ok || val <= 0 || val > 1_000_000 {
			continue
		}
		dist := distanceToNearestKeyword(lower, m[0], billingKeywords)
		if best == -1 || dist < best {
			best = dist
			bestVal = val
			bestCur = currencyOf(matched)
		}
	}
	if best == -1 {
		return nil, ""
	}
	return &bestVal, bestCur
}

func currencyOf(matched string) string {
	switch {
	case strings.Contains(matched, "$"):
		return "USD"
	case strings.Contains(matched, "€"):
		return "EUR"
	case strings.Contains(matched, "£"):
		return "GBP"
	case strings.Contains(matched, "₩"):
		return "KRW"
	case strings.Contains(strings.ToUpper(matched), "USD"):
		return "USD"
	case strings.Contains(strings.ToUpper(matched), "EUR"):
		return "EUR"
	case strings.Contains(strings.ToUpper(matched), "GBP"):
		return "GBP"
	case strings.Contains(strings.ToUpper(matched), "KRW"):
		return "KRW"
	default:
		return ""
	}
}

func parseDecimal(s string) (float64, bool) {
	// A figure at the end of a sentence ("$24.99.") carries the sentence's
	// punctuation in the match; it is not part of the number.
	s = strings.TrimRight(strings.TrimSpace(s), ".,")
	if s == "" {
		return 0, false
	}
	// Detect decimal convention by the rightmost separator.
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	cleaned := s
	if lastComma > lastDot {
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.Replace(cleaned, ",", ".", 1)
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	} else {
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func distanceToNearestKeyword(lower string, pos int, keywords []string) int {
	best := math.MaxInt32
	for _, kw := range keywords {
		for i := 0; ; {
			idx := strings.Index(lower[i:], kw)
			if idx < 0 {
				break
			}
			abs := i + idx
			d := pos - abs
			if d < 0 {
				d = -d
			}
			if d < best {
				best = d
			}
			i = abs + len(kw)
		}
	}
	if best == math.MaxInt32 {
		return 9999
	}
	return best
}

type cadencePattern struct {
	re     *regexp.Regexp
	result domain.CadenceGuess
}

// cadence order matters: week < month < quarter < year, checked in that
// priority so "billed quarterly" doesn't first match a looser "month" regex.
var cadencePatterns = []cadencePattern{
	{regexp.MustCompile(`(?i)\b(weekly|every week|per week)\b`), domain.CadenceWeekly},
	{regexp.MustCompile(`(?i)\b(bi-?weekly|every (two|2) weeks)\b`), domain.CadenceBiweekly},
	{regexp.MustCompile(`(?i)\b(monthly|every month|per month)\b`), domain.CadenceMonthly},
	{regexp.MustCompile(`(?i)\b(quarterly|every (three|3) months)\b`), domain.CadenceQuarterly},
	{regexp.MustCompile(`(?i)\b(yearly|annually|every year|per year)\b`), domain.CadenceYearly},
}

// Cadence matches explicit cadence keywords in priority order.
func Cadence(haystack string) (domain.CadenceGuess, bool) {
	for _, p := range cadencePatterns {
		if p.re.MatchString(haystack) {
			return p.result, true
		}
	}
	return "", false
}

// InferCadenceFromDates computes the median gap between ≥2 event dates and
// maps it to a cadence within tolerance.
func InferCadenceFromDates(dates []time.Time) (domain.CadenceGuess, bool) {
	if len(dates) < 2 {
		return "", false
	}
	sorted := append([]time.Time(nil), dates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	var gaps []float64
	for i := 1; i < len(sorted); i++ {
		gaps = append(gaps, sorted[i].Sub(sorted[i-1]).Hours()/24)
	}
	sort.Float64s(gaps)
	median := gaps[len(gaps)/2]
	if len(gaps)%2 == 0 && len(gaps) > 1 {
		median = (gaps[len(gaps)/2-1] + gaps[len(gaps)/2]) / 2
	}

	switch {
	case within(median, 7, 2):
		return domain.CadenceWeekly, true
	case within(median, 14, 3):
		return domain.CadenceBiweekly, true
	case within(median, 30, 6):
		return domain.CadenceMonthly, true
	case within(median, 90, 15):
		return domain.CadenceQuarterly, true
	case within(median, 365, 45):
		return domain.CadenceYearly, true
	default:
		return "", false
	}
}

func within(v, target, tolerance float64) bool {
	return math.Abs(v-target) <= tolerance
}

var renewalContext = regexp.MustCompile(`(?i)(renews|renewal|next billing|billed on|trial ends|valid until|expires)`)
var isoDateRe = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
var prettyDateRe = regexp.MustCompile(`\b([A-Z][a-z]{2,8}\s+\d{1,2},?\s+\d{4})\b`)

// NextRenewalDate finds an ISO or "Mon DD, YYYY" date near a renewal keyword
// and validates it falls within [now-1d, now+400d].
func NextRenewalDate(haystack string, now time.Time) (string, bool) {
	loc := renewalContext.FindStringIndex(haystack)
	if loc == nil {
		return "", false
	}
	window := haystack
	start := loc[0] - 80
	if start < 0 {
		start = 0
	}
	end := loc[1] + 80
	if end > len(haystack) {
		end = len(haystack)
	}
	window = haystack[start:end]

	if m := isoDateRe.FindString(window); m != "" {
		if t, err := time.Parse("2006-01-02", m); err == nil && inRenewalRange(t, now) {
			return m, true
		}
	}
	if m := prettyDateRe.FindString(window); m != "" {
		clean := strings.ReplaceAll(m, ",", "")
		if t, err := time.Parse("Jan 2 2006", clean); err == nil && inRenewalRange(t, now) {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}

func inRenewalRange(t, now time.Time) bool {
	return t.After(now.AddDate(0, 0, -1)) && t.Before(now.AddDate(0, 0, 400))
}

var planLabelRe = regexp.MustCompile(`(?i)(?:plan|membership|subscription)\s*:\s*([A-Za-z0-9 +\-]{2,40})`)
var planTitleRe = regexp.MustCompile(`([A-Z][A-Za-z0-9 ]{1,30})\s*\((Monthly|Yearly|Weekly)\)`)

// PlanLabel extracts a plan name like "Plan: Pro" or "Acme Pro (Monthly)".
func PlanLabel(haystack string) (string, bool) {
	if m := planLabelRe.FindStringSubmatch(haystack); len(m) == 2 {
		return strings.TrimSpace(m[1]), true
	}
	if m := planTitleRe.FindStringSubmatch(haystack); len(m) == 3 {
		return strings.TrimSpace(m[1]) + " (" + m[2] + ")", true
	}
	return "", false
}

var platformLineRe = regexp.MustCompile(`(?i)(?:App|Subscription|Developer)\s*:\s*([A-Za-z0-9 &.'\-]{2,60})|you paid to ([A-Za-z0-9 &.'\-]{2,60})|subscription to ([A-Za-z0-9 &.'\-]{2,60})`)

// PlatformMerchant extracts the real merchant name from a platform receipt's
// structured lines (Apple/PayPal/Google Play receipts name the merchant
// inline rather than in the From header).
func PlatformMerchant(haystack string) (string, bool) {
	m := platformLineRe.FindStringSubmatch(haystack)
	if m == nil {
		return "", false
	}
	for _, g := range m[1:] {
		if strings.TrimSpace(g) != "" {
			return strings.TrimSpace(g), true
		}
	}
	return "", false
}
