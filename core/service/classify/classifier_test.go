package classify

import (
	"testing"

	"subscan/core/domain"
)

func TestClassifyTransactionalReceipt(t *testing.T) {
	f := Classify(domain.Headers{}, "Your receipt from Netflix", "Payment successful, we charged your card", "", "netflix.com")

	if !f.LikelyTransactional {
		t.Error("expected a receipt-shaped message to classify as transactional")
	}
	if f.MarketingHeavy {
		t.Error("a transactional message must never be flagged marketing-heavy")
	}
}

func TestClassifyMarketingHeavy(t *testing.T) {
	headers := domain.Headers{Precedence: "bulk", ListID: "<newsletter.example.com>"}
	f := Classify(headers, "50% off sale this week", "Limited time discount, don't miss out", "", "shop.example.com")

	if !f.MarketingHeavy {
		t.Error("expected a bulk-header promo message to classify as marketing-heavy")
	}
	if f.LikelyTransactional {
		t.Error("a marketing blast must not also classify as transactional")
	}
}

func TestClassifyAppleReceiptHint(t *testing.T) {
	f := Classify(domain.Headers{}, "Your subscription receipt", "App Store purchase confirmation", "", "email.apple.com")
	if !f.AppleReceiptHint {
		t.Error("expected an apple.com sender with receipt language to set AppleReceiptHint")
	}
	if !f.LikelyTransactional {
		t.Error("AppleReceiptHint alone should be enough to mark transactional")
	}
}

func TestQuickScreenOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		headers domain.Headers
		subject string
		snippet string
		domain  string
		want    ScreenReason
	}{
		{
			name:    "clear receipt passes",
			subject: "Payment successful",
			snippet: "we charged your card for your subscription renewed",
			domain:  "netflix.com",
			want:    ScreenOK,
		},
		{
			name:    "bulk marketing is screened out",
			headers: domain.Headers{Precedence: "bulk"},
			subject: "Big sale today",
			snippet: "Special offer, don't miss out",
			domain:  "deals.example.com",
			want:    ScreenMarketing,
		},
		{
			name:   "no signal at all is weak",
			domain: "unknown.example",
			want:   ScreenWeakSignal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := QuickScreen(tt.headers, tt.subject, tt.snippet, tt.domain)
			if got != tt.want {
				t.Errorf("QuickScreen() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestIsBulkHeaderDetectsListID(t *testing.T) {
	if !isBulkHeader(domain.Headers{ListID: "<list.example.com>"}) {
		t.Error("a non-empty List-ID header should count as bulk")
	}
	if isBulkHeader(domain.Headers{}) {
		t.Error("no headers set should not count as bulk")
	}
}
