package candidate

import (
	"testing"
	"time"

	"subscan/core/domain"
	"subscan/core/service/merchant"
)

func newResolver() *merchant.Resolver {
	return merchant.New(nil, nil)
}

func TestBuildTransactionalReceiptProducesCandidate(t *testing.T) {
	msg := domain.NormalizedMessage{
		Meta: domain.MessageMeta{
			SenderEmail:  "billing@netflix.com",
			SenderDomain: "netflix.com",
			Subject:      "Your Netflix payment receipt",
			Snippet:      "Payment successful, we charged your card $15.49",
			Headers:      domain.Headers{From: "Netflix <billing@netflix.com>"},
		},
		Body: &domain.MessageBody{Text: "Your subscription renews on the 5th of each month. Amount due: $15.49."},
	}

	c, drop := Build(newResolver(), Input{Message: msg, Now: time.Now()})
	if drop != nil {
		t.Fatalf("expected a candidate, got drop reason %s", *drop)
	}
	if c.Amount == nil || *c.Amount != 15.49 {
		t.Errorf("amount = %v, want 15.49", c.Amount)
	}
	if c.Confidence < 45 {
		t.Errorf("confidence = %d, want at least the 45 floor", c.Confidence)
	}
	if c.EvidenceType != domain.EvidenceTransactional {
		t.Errorf("evidenceType = %s, want %s", c.EvidenceType, domain.EvidenceTransactional)
	}
}

func TestBuildMarketingHeavyDrops(t *testing.T) {
	msg := domain.NormalizedMessage{
		Meta: domain.MessageMeta{
			SenderEmail:  "promo@deals.example.com",
			SenderDomain: "deals.example.com",
			Subject:      "50% off everything this week",
			Snippet:      "Special offer, don't miss out on our sale",
			Headers:      domain.Headers{Precedence: "bulk", ListID: "<deals.example.com>"},
		},
	}

	c, drop := Build(newResolver(), Input{Message: msg, Now: time.Now()})
	if drop == nil {
		t.Fatalf("expected a drop, got candidate %+v", c)
	}
	if *drop != domain.DropMarketingHeavy {
		t.Errorf("drop reason = %s, want %s", *drop, domain.DropMarketingHeavy)
	}
}

func TestBuildLowConfidenceDrops(t *testing.T) {
	msg := domain.NormalizedMessage{
		Meta: domain.MessageMeta{
			SenderEmail:  "someone@unknown-example.org",
			SenderDomain: "unknown-example.org",
			Subject:      "hey",
			Snippet:      "just checking in",
		},
	}

	c, drop := Build(newResolver(), Input{Message: msg, Now: time.Now()})
	if drop == nil {
		t.Fatalf("expected a low-confidence drop, got candidate %+v", c)
	}
	if *drop != domain.DropLowConfidence {
		t.Errorf("drop reason = %s, want %s", *drop, domain.DropLowConfidence)
	}
}

func TestBuildPreservesCaseForDateAndPlatformExtraction(t *testing.T) {
	msg := domain.NormalizedMessage{
		Meta: domain.MessageMeta{
			SenderEmail:  "billing@netflix.com",
			SenderDomain: "netflix.com",
			Subject:      "Your Netflix payment receipt",
			Snippet:      "Payment successful, we charged your card $15.49",
			Headers:      domain.Headers{From: "Netflix <billing@netflix.com>"},
		},
		Body: &domain.MessageBody{Text: "Your subscription renews on Dec 12, 2025. Amount due: $15.49."},
	}

	c, drop := Build(newResolver(), Input{Message: msg, Now: time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC)})
	if drop != nil {
		t.Fatalf("expected a candidate, got drop reason %s", *drop)
	}
	if c.NextDateGuess != "2025-12-12" {
		t.Errorf("nextDateGuess = %q, want 2025-12-12 (lowercasing the body must not blind the pretty-date regex)", c.NextDateGuess)
	}

	platformMsg := domain.NormalizedMessage{
		Meta: domain.MessageMeta{
			SenderEmail:  "no-reply@apple.com",
			SenderDomain: "apple.com",
			Subject:      "Your receipt from Apple",
			Snippet:      "App: LinkedIn Premium, Subscription renewed",
		},
		Body: &domain.MessageBody{Text: "App: LinkedIn Premium\nYou were charged $29.99."},
	}
	pc, pdrop := Build(newResolver(), Input{Message: platformMsg, Now: time.Now()})
	if pdrop != nil {
		t.Fatalf("expected a candidate, got drop reason %s", *pdrop)
	}
	if pc.Merchant != "LinkedIn Premium" {
		t.Errorf("merchant = %q, want the title-cased platform line preserved, not lowercased", pc.Merchant)
	}
}

func TestFingerprintLowercasesMerchantAndDomainAndTagsVersion(t *testing.T) {
	amount := 9.99
	lower := fingerprint("netflix", "netflix.com", &amount, "USD")
	mixed := fingerprint("Netflix", "NETFLIX.COM", &amount, "USD")
	if lower != mixed {
		t.Fatal("fingerprint should be case-insensitive on merchant and senderDomain")
	}
}

func TestFingerprintIsStableForSameInputs(t *testing.T) {
	amount := 9.99
	a := fingerprint("Netflix", "netflix.com", &amount, "USD")
	b := fingerprint("Netflix", "netflix.com", &amount, "USD")
	c := fingerprint("Netflix", "netflix.com", nil, "USD")

	if a != b {
		t.Fatal("fingerprint should be stable for identical inputs")
	}
	if a == c {
		t.Fatal("fingerprint should change when the amount changes")
	}
}

func TestNormalizeBodyPrefersTextOverHTML(t *testing.T) {
	got := normalizeBody(&domain.MessageBody{Text: "plain   text", HTML: "<p>html</p>"})
	if got != "plain text" {
		t.Errorf("normalizeBody = %q, want collapsed whitespace from the text part", got)
	}

	got = normalizeBody(&domain.MessageBody{HTML: "<p>Hello <b>World</b></p>"})
	if got != "Hello World" {
		t.Errorf("normalizeBody fallback to stripped HTML = %q, want %q", got, "Hello World")
	}
}
