// Package classify screens a normalized message for bulk-marketing vs
// transactional billing signal. Grounded on the teacher's staged
// header→subject→domain short-circuit dispatch
// (core/service/classification/worker_classification_pipeline.go) and the
// RFC header shape from core/port/out's EmailProviderPort
// (ProviderClassificationHeaders: List-Unsubscribe/List-Id/Precedence/
// Auto-Submitted) — generalized from "is this dev-tool notification noise"
// to "is this bulk marketing noise".
package classify

import (
	"strings"

	"subscan/core/domain"
)

// Flags is Classifier's output for one message.
type Flags struct {
	BulkHeader          bool
	MarketingHeavy      bool
	LikelyTransactional bool
	AppleReceiptHint    bool
	PosHits             int
	NegHits             int
}

// ScreenReason is the closed set of quick-screen outcomes.
type ScreenReason string

const (
	ScreenOK          ScreenReason = "ok"
	ScreenHardNo      ScreenReason = "hard_no"
	ScreenWeakSignal  ScreenReason = "weak_signal"
	ScreenMarketing   ScreenReason = "marketing"
)

var positivePhrases = []string{
	"payment successful", "we charged", "invoice", "receipt", "order confirmation",
	"subscription renewed", "renews on", "next billing date", "amount due",
	"trial ends", "expires on", "payment received", "charged to your card",
	"billed on", "subscription confirmed", "membership renewed",
}

var negativePhrases = []string{
	"newsletter", "promo", "sale", "discount", "limited time", "recommended",
	"don't miss out", "unsubscribe to stop", "special offer", "deal of the day",
}

// Classify computes the full flag set for a body-fetched message.
func Classify(headers domain.Headers, subject, snippet, text, fromDomain string) Flags {
	haystack := strings.ToLower(subject + " " + snippet + " " + text)

	f := Flags{
		BulkHeader: isBulkHeader(headers),
	}
	f.PosHits = countHits(haystack, positivePhrases)
	f.NegHits = countHits(haystack, negativePhrases)
	f.AppleReceiptHint = isAppleReceiptHint(fromDomain, haystack)

	f.LikelyTransactional = f.AppleReceiptHint || f.PosHits >= 2 ||
		containsAny(haystack, "invoice", "receipt", "charged", "payment", "subscription renewed")

	f.MarketingHeavy = f.BulkHeader && f.NegHits >= 1 && f.PosHits == 0 && !f.AppleReceiptHint

	return f
}

// QuickScreen is the pre-body-fetch variant: from+subject+snippet+headers only.
func QuickScreen(headers domain.Headers, subject, snippet, fromDomain string) ScreenReason {
	f := Classify(headers, subject, snippet, "", fromDomain)
	switch {
	case f.MarketingHeavy:
		return ScreenMarketing
	case f.LikelyTransactional:
		return ScreenOK
	case f.PosHits == 0 && f.NegHits == 0:
		return ScreenWeakSignal
	case f.NegHits > 0:
		return ScreenWeakSignal
	default:
		return ScreenOK
	}
}

func isBulkHeader(h domain.Headers) bool {
	prec := strings.ToLower(h.Precedence)
	auto := strings.ToLower(h.AutoSubmitted)
	if strings.Contains(prec, "bulk") || strings.Contains(prec, "list") || strings.Contains(prec, "junk") {
		return true
	}
	if strings.Contains(auto, "auto-generated") || strings.Contains(auto, "auto-replied") {
		return true
	}
	return h.ListID != ""
}

func isAppleReceiptHint(fromDomain, haystack string) bool {
	if !strings.HasSuffix(fromDomain, "apple.com") {
		return false
	}
	return containsAny(haystack, "subscription", "purchase", "app store", "itunes", "receipt")
}

func countHits(haystack string, phrases []string) int {
	n := 0
	for _, p := range phrases {
		if strings.Contains(haystack, p) {
			n++
		}
	}
	return n
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
