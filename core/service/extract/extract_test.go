package extract

import (
	"testing"
	"time"

	"subscan/core/domain"
)

func TestAmountPicksFigureClosestToBillingKeyword(t *testing.T) {
	amount, currency := Amount("Thanks for shopping with us. Total: $24.99. See you soon, reference #58212.")
	if amount == nil {
		t.Fatal("expected an amount to be found")
	}
	if *amount != 24.99 {
		t.Errorf("amount = %v, want 24.99", *amount)
	}
	if currency != "USD" {
		t.Errorf("currency = %q, want USD", currency)
	}
}

func TestAmountHandlesEuropeanDecimalConvention(t *testing.T) {
	amount, currency := Amount("Amount due: 1.234,50€")
	if amount == nil {
		t.Fatal("expected an amount to be found")
	}
	if *amount != 1234.50 {
		t.Errorf("amount = %v, want 1234.50", *amount)
	}
	if currency != "EUR" {
		t.Errorf("currency = %q, want EUR", currency)
	}
}

func TestAmountReturnsNilWithoutAPlausibleFigure(t *testing.T) {
	amount, _ := Amount("no money mentioned here at all")
	if amount != nil {
		t.Errorf("amount = %v, want nil", *amount)
	}
}

func TestCadencePriorityOrder(t *testing.T) {
	tests := []struct {
		haystack string
		want     domain.CadenceGuess
	}{
		{"billed weekly for your plan", domain.CadenceWeekly},
		{"charged every 2 weeks", domain.CadenceBiweekly},
		{"your monthly subscription", domain.CadenceMonthly},
		{"billed quarterly every three months", domain.CadenceQuarterly},
		{"renews yearly", domain.CadenceYearly},
		{"one-time purchase", ""},
	}
	for _, tt := range tests {
		got, ok := Cadence(tt.haystack)
		if tt.want == "" {
			if ok {
				t.Errorf("Cadence(%q) = %s, want no match", tt.haystack, got)
			}
			continue
		}
		if !ok || got != tt.want {
			t.Errorf("Cadence(%q) = %s, want %s", tt.haystack, got, tt.want)
		}
	}
}

func TestInferCadenceFromDatesMonthly(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	dates := []time.Time{base, base.AddDate(0, 1, 0), base.AddDate(0, 2, 0)}

	got, ok := InferCadenceFromDates(dates)
	if !ok || got != domain.CadenceMonthly {
		t.Fatalf("InferCadenceFromDates() = %s, %v, want monthly", got, ok)
	}
}

func TestInferCadenceFromDatesNeedsAtLeastTwo(t *testing.T) {
	if _, ok := InferCadenceFromDates([]time.Time{time.Now()}); ok {
		t.Error("expected no cadence with a single date")
	}
}

func TestNextRenewalDateFindsISODateNearKeyword(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	haystack := "your subscription renews on 2026-07-01, thanks for being a member"

	got, ok := NextRenewalDate(haystack, now)
	if !ok || got != "2026-07-01" {
		t.Fatalf("NextRenewalDate() = %q, %v, want 2026-07-01, true", got, ok)
	}
}

func TestNextRenewalDateRejectsOutOfRangeDate(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	haystack := "this plan renews on 2020-01-01 historically"

	if _, ok := NextRenewalDate(haystack, now); ok {
		t.Error("expected a date far in the past to be rejected")
	}
}

func TestNextRenewalDateRequiresKeywordContext(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	if _, ok := NextRenewalDate("just a date mentioned 2026-07-01 with no billing context", now); ok {
		t.Error("expected no match without a renewal keyword nearby")
	}
}

func TestPlanLabelColonForm(t *testing.T) {
	got, ok := PlanLabel("Plan: Pro Annual")
	if !ok || got != "Pro Annual" {
		t.Fatalf("PlanLabel() = %q, %v, want Pro Annual, true", got, ok)
	}
}

func TestPlanLabelTitleForm(t *testing.T) {
	got, ok := PlanLabel("Acme Pro (Monthly) plan has renewed")
	if !ok || got != "Acme Pro (Monthly)" {
		t.Fatalf("PlanLabel() = %q, %v, want \"Acme Pro (Monthly)\", true", got, ok)
	}
}

func TestPlatformMerchantExtractsAppLine(t *testing.T) {
	got, ok := PlatformMerchant("receipt details\napp: spotify premium\nthank you for your purchase")
	if !ok || got != "spotify premium" {
		t.Fatalf("PlatformMerchant() = %q, %v, want spotify premium, true", got, ok)
	}
}
