// Package candidate builds a per-message subscription Candidate or a drop
// reason. Grounded on the teacher's scoreResultToPipelineResult converter
// style: a pure function returning a result-or-drop pair rather than an
// error for an ordinary non-match.
package candidate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"subscan/core/domain"
	"subscan/core/service/classify"
	"subscan/core/service/extract"
	"subscan/core/service/merchant"
)

const maxLinkDomains = 200

// Input is one normalized, fully-fetched message ready for candidate building.
type Input struct {
	Message          domain.NormalizedMessage
	CandidateDomains []string
	Overrides        []domain.UserOverride
	Now              time.Time
}

// Build runs the full per-message pipeline (SPEC_FULL §4.D steps 1-10).
func Build(resolver *merchant.Resolver, in Input) (*domain.Candidate, *domain.DropReason) {
	text := normalizeBody(in.Message.Body)
	subject := in.Message.Meta.Subject
	snippet := in.Message.Meta.Snippet
	fromDomain := in.Message.Meta.SenderDomain
	linkDomains := in.Message.LinkDomains
	if len(linkDomains) > maxLinkDomains {
		linkDomains = linkDomains[:maxLinkDomains]
	}

	// original keeps subject/snippet/body case intact for the extractors,
	// which key off capitalization (pretty dates, "App:"/"Plan:" lines,
	// title-cased plan names); haystack is the lowercased copy used for
	// keyword/classify-style Contains checks below.
	original := subject + " " + snippet + " " + text
	haystack := strings.ToLower(original)

	flags := classify.Classify(in.Message.Meta.Headers, subject, snippet, text, fromDomain)
	if flags.MarketingHeavy && !flags.LikelyTransactional {
		r := domain.DropMarketingHeavy
		return nil, &r
	}

	candidateDomains := append([]string{fromDomain}, linkDomains...)
	res := resolver.Resolve("", candidateDomains, in.Message.Meta.SenderEmail, haystack, in.Overrides)

	merchantName := res.Canonical
	if merchantName == "" {
		merchantName = res.PrettyFallback
	}

	isPlatform := strings.HasSuffix(fromDomain, "apple.com") || strings.Contains(fromDomain, "paypal.com") || strings.Contains(fromDomain, "google.com")
	platformExtracted := false
	if isPlatform {
		if pm, ok := extract.PlatformMerchant(original); ok && len(pm) >= 2 {
			merchantName = pm
			platformExtracted = true
		}
	}

	amount, currency := extract.Amount(original)
	nextRenewal, hasRenewal := extract.NextRenewalDate(original, in.Now)
	plan, _ := extract.PlanLabel(original)

	var cadence domain.CadenceGuess
	if flags.LikelyTransactional || hasRenewal {
		if c, ok := extract.Cadence(original); ok {
			cadence = c
		} else if hasRenewal && in.Message.Meta.DateMs > 0 {
			// A lone receipt carries no history to infer a gap from, but its
			// own charge date plus the renewal date it just quoted is a
			// two-point series in its own right.
			if renewalT, err := time.Parse("2006-01-02", nextRenewal); err == nil {
				msgDate := time.UnixMilli(in.Message.Meta.DateMs)
				if c, ok := extract.InferCadenceFromDates([]time.Time{msgDate, renewalT}); ok {
					cadence = c
				}
			}
		}
	}

	isTrial := strings.Contains(haystack, "trial")

	confidence := int(float64(res.Confidence) * 0.6)
	if confidence > 60 {
		confidence = 60
	}
	if flags.LikelyTransactional {
		confidence += 12
	}
	if platformExtracted {
		confidence += 10
	}
	if amount != nil && flags.LikelyTransactional {
		confidence += 10
	}
	if hasRenewal {
		confidence += 8
	}
	if cadence != "" {
		confidence += 4
	}
	if res.Reason == merchant.ReasonFallbackDomain && strongBillingProof(haystack) {
		confidence += 18
	}
	if flags.BulkHeader {
		confidence -= 10
	}
	if isConsumerSender(fromDomain) {
		confidence -= 15
	}

	if amount == nil && !hasRenewal && cadence == "" && !isTrial {
		if confidence > 55 {
			confidence = 55
		}
	}
	confidence = clamp(confidence, 0, 100)

	floor := 45
	if isTrial {
		floor = 35
	}
	if confidence < floor {
		r := domain.DropLowConfidence
		return nil, &r
	}

	eventType := inferEventType(flags, isTrial, haystack)
	evidenceType := domain.EvidenceTransactional
	if isPlatform {
		evidenceType = domain.EvidencePlatformReceipt
	}
	if isTrial {
		evidenceType = domain.EvidenceTrial
	}

	ev := domain.Evidence{
		From:         in.Message.Meta.Headers.From,
		Subject:      subject,
		Snippet:      snippet,
		SenderEmail:  in.Message.Meta.SenderEmail,
		SenderDomain: fromDomain,
		DateMs:       in.Message.Meta.DateMs,
	}

	c := &domain.Candidate{
		Fingerprint:     fingerprint(merchantName, fromDomain, amount, currency),
		Merchant:        merchantName,
		Plan:            plan,
		Amount:          amount,
		Currency:        currency,
		CadenceGuess:    cadence,
		NextDateGuess:   nextRenewal,
		Confidence:      confidence,
		ConfidenceLabel: domain.LabelForConfidence(confidence),
		EvidenceType:    evidenceType,
		Reasons:         []string{string(res.Reason)},
		BestEvidence:    ev,
		EvidenceSamples: []domain.Evidence{ev},
		NeedsConfirm:    confidence < 80,
		EventType:       eventType,
	}
	return c, nil
}

func inferEventType(f classify.Flags, isTrial bool, haystack string) domain.CandidateEventType {
	switch {
	case isTrial:
		return domain.EventTypeTrial
	case strings.Contains(haystack, "payment failed") || strings.Contains(haystack, "declined"):
		return domain.EventTypePaymentFailed
	case strings.Contains(haystack, "paused") || strings.Contains(haystack, "on hold"):
		return domain.EventTypePaused
	case strings.Contains(haystack, "cancel"):
		return domain.EventTypeCancellation
	case strings.Contains(haystack, "receipt") || strings.Contains(haystack, "invoice"):
		return domain.EventTypeReceipt
	case strings.Contains(haystack, "renew"):
		return domain.EventTypeRenewal
	case f.LikelyTransactional:
		return domain.EventTypeBillingSignal
	default:
		return domain.EventTypeUnknown
	}
}

func strongBillingProof(haystack string) bool {
	return strings.Contains(haystack, "amount due") || strings.Contains(haystack, "you were charged") ||
		strings.Contains(haystack, "payment receipt")
}

func isConsumerSender(fromDomain string) bool {
	switch fromDomain {
	case "gmail.com", "yahoo.com", "hotmail.com", "outlook.com", "icloud.com", "naver.com":
		return true
	default:
		return false
	}
}

func normalizeBody(b *domain.MessageBody) string {
	if b == nil {
		return ""
	}
	text := b.Text
	if text == "" {
		text = stripTags(b.HTML)
	}
	text = strings.ReplaceAll(text, "\t", " ")
	text = strings.ReplaceAll(text, "\r", "")
	text = strings.ReplaceAll(text, " ", " ")
	for strings.Contains(text, "  ") {
		text = strings.ReplaceAll(text, "  ", " ")
	}
	return strings.TrimSpace(text)
}

func stripTags(html string) string {
	var b strings.Builder
	inTag := false
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func fingerprint(merchantName, senderDomain string, amount *float64, currency string) string {
	amt := "null"
	if amount != nil {
		amt = fmt.Sprintf("%.2f", *amount)
	}
	raw := strings.Join([]string{"v2", "email", strings.ToLower(merchantName), strings.ToLower(senderDomain), amt, currency}, "|")
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:16])
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
