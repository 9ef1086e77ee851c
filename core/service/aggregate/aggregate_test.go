package aggregate

import (
	"testing"
	"time"

	"subscan/core/domain"
)

func TestWithinChunkKeepsHighestConfidenceAndMergesSamples(t *testing.T) {
	low := domain.Candidate{
		Fingerprint: "fp1",
		Confidence:  50,
		BestEvidence: domain.Evidence{
			DateMs: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(),
		},
		EvidenceSamples: []domain.Evidence{{DateMs: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()}},
	}
	high := domain.Candidate{
		Fingerprint: "fp1",
		Confidence:  70,
		BestEvidence: domain.Evidence{
			DateMs: time.Date(2026, 1, 29, 0, 0, 0, 0, time.UTC).UnixMilli(),
		},
		EvidenceSamples: []domain.Evidence{{DateMs: time.Date(2026, 1, 29, 0, 0, 0, 0, time.UTC).UnixMilli()}},
	}

	out := WithinChunk([]domain.Candidate{low, high})
	if len(out) != 1 {
		t.Fatalf("expected one grouped candidate, got %d", len(out))
	}
	got := out[0]
	if got.Confidence != 80 {
		t.Errorf("confidence = %d, want 70 base + 10 cadence bonus = 80", got.Confidence)
	}
	if got.ConfidenceLabel != domain.ConfidenceHigh {
		t.Errorf("confidenceLabel = %s, want High", got.ConfidenceLabel)
	}
	if len(got.EvidenceSamples) != 2 {
		t.Errorf("evidenceSamples = %d, want the two merged samples", len(got.EvidenceSamples))
	}
	found := false
	for _, r := range got.Reasons {
		if r == "inferred-cadence-from-history" {
			found = true
		}
	}
	if !found {
		t.Error("expected the inferred-cadence-from-history reason to be recorded")
	}
}

func TestWithinChunkSkipsCadenceBonusWithFewerThanTwoSamples(t *testing.T) {
	c := domain.Candidate{
		Fingerprint:     "fp1",
		Confidence:      60,
		EvidenceSamples: []domain.Evidence{{DateMs: 1}},
	}

	out := WithinChunk([]domain.Candidate{c})
	if len(out) != 1 {
		t.Fatalf("expected one candidate, got %d", len(out))
	}
	if out[0].Confidence != 60 {
		t.Errorf("confidence = %d, want unchanged 60 with a single sample", out[0].Confidence)
	}
}

func TestWithinChunkPreservesInsertionOrderAcrossFingerprints(t *testing.T) {
	a := domain.Candidate{Fingerprint: "fpA", Confidence: 10}
	b := domain.Candidate{Fingerprint: "fpB", Confidence: 20}

	out := WithinChunk([]domain.Candidate{a, b})
	if len(out) != 2 || out[0].Fingerprint != "fpA" || out[1].Fingerprint != "fpB" {
		t.Fatalf("expected fpA then fpB in original order, got %+v", out)
	}
}

func TestAcrossChunkPrefersHigherEventPriorityOverRecency(t *testing.T) {
	older := domain.Candidate{
		Merchant:  "Netflix",
		EventType: domain.EventTypeReceipt,
		Amount:    floatPtr(15.49),
		Confidence: 90,
		BestEvidence: domain.Evidence{
			DateMs: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(),
		},
	}
	newerButWeaker := domain.Candidate{
		Merchant:  "Netflix",
		EventType: domain.EventTypeMarketing,
		Confidence: 90,
		BestEvidence: domain.Evidence{
			DateMs: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC).UnixMilli(),
		},
	}

	out := AcrossChunk([]domain.Candidate{newerButWeaker, older})
	if len(out) != 1 {
		t.Fatalf("expected one candidate per merchant, got %d", len(out))
	}
	if out[0].EventType != domain.EventTypeReceipt {
		t.Errorf("eventType = %s, want the higher-priority receipt to win", out[0].EventType)
	}
}

func TestAcrossChunkTieBreaksOnMostRecentDate(t *testing.T) {
	older := domain.Candidate{
		Merchant:  "Netflix",
		EventType: domain.EventTypeReceipt,
		Confidence: 80,
		BestEvidence: domain.Evidence{
			Snippet: "older",
			DateMs:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(),
		},
	}
	newer := domain.Candidate{
		Merchant:  "Netflix",
		EventType: domain.EventTypeReceipt,
		Confidence: 80,
		BestEvidence: domain.Evidence{
			Snippet: "newer",
			DateMs:  time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC).UnixMilli(),
		},
	}

	out := AcrossChunk([]domain.Candidate{older, newer})
	if len(out) != 1 {
		t.Fatalf("expected one candidate, got %d", len(out))
	}
	if out[0].BestEvidence.Snippet != "newer" {
		t.Errorf("winner snippet = %q, want the more recent evidence to win the tie", out[0].BestEvidence.Snippet)
	}
}

func TestAcrossChunkCapsEvidenceSamplesAtThree(t *testing.T) {
	merchant := "Netflix"
	cands := make([]domain.Candidate, 0, 5)
	for i := 0; i < 5; i++ {
		cands = append(cands, domain.Candidate{
			Merchant:  merchant,
			EventType: domain.EventTypeReceipt,
			Confidence: 70,
			BestEvidence: domain.Evidence{
				DateMs: time.Date(2026, 1, i+1, 0, 0, 0, 0, time.UTC).UnixMilli(),
			},
		})
	}

	out := AcrossChunk(cands)
	if len(out) != 1 {
		t.Fatalf("expected one merged candidate, got %d", len(out))
	}
	if len(out[0].EvidenceSamples) != 3 {
		t.Errorf("evidenceSamples = %d, want capped at 3", len(out[0].EvidenceSamples))
	}
}

func TestAcrossChunkGroupsMerchantCaseInsensitively(t *testing.T) {
	a := domain.Candidate{Merchant: "netflix", EventType: domain.EventTypeReceipt, Confidence: 60}
	b := domain.Candidate{Merchant: "Netflix", EventType: domain.EventTypeReceipt, Confidence: 60}

	out := AcrossChunk([]domain.Candidate{a, b})
	if len(out) != 1 {
		t.Fatalf("expected case-insensitive merchant grouping to yield one candidate, got %d", len(out))
	}
}

func TestStrictGateDropsTopUpAdSpendAndPromo(t *testing.T) {
	cands := []domain.Candidate{
		{Merchant: "A", EventType: domain.EventTypeTopUp},
		{Merchant: "B", EventType: domain.EventTypeAdSpend},
		{Merchant: "C", EventType: domain.EventTypePromo},
		{Merchant: "D", EventType: domain.EventTypeReceipt},
	}

	out := StrictGate(cands)
	if len(out) != 1 || out[0].Merchant != "D" {
		t.Fatalf("expected only the receipt candidate to survive, got %+v", out)
	}
}

func TestStrictGateDropsHardNegativeSnippets(t *testing.T) {
	cands := []domain.Candidate{
		{
			Merchant:  "A",
			EventType: domain.EventTypeBillingSignal,
			BestEvidence: domain.Evidence{
				Snippet: "Your campaign funds added successfully",
			},
		},
		{
			Merchant:  "B",
			EventType: domain.EventTypeReceipt,
			BestEvidence: domain.Evidence{
				Snippet: "Payment successful, thank you",
			},
		},
	}

	out := StrictGate(cands)
	if len(out) != 1 || out[0].Merchant != "B" {
		t.Fatalf("expected only the non-hard-negative candidate to survive, got %+v", out)
	}
}

func TestStrictGateTagsPausedAndPaymentFailedAsExcludedFromSpend(t *testing.T) {
	cands := []domain.Candidate{
		{Merchant: "A", EventType: domain.EventTypePaused},
		{Merchant: "B", EventType: domain.EventTypePaymentFailed},
		{Merchant: "C", EventType: domain.EventTypeReceipt},
	}

	out := StrictGate(cands)
	if len(out) != 3 {
		t.Fatalf("expected all three candidates to survive strict gate, got %d", len(out))
	}
	for _, c := range out {
		switch c.EventType {
		case domain.EventTypePaused, domain.EventTypePaymentFailed:
			if !c.ExcludeFromSpend {
				t.Errorf("%s: expected ExcludeFromSpend to be set", c.Merchant)
			}
		case domain.EventTypeReceipt:
			if c.ExcludeFromSpend {
				t.Errorf("%s: a receipt candidate should not be excluded from spend", c.Merchant)
			}
		}
	}
}

func floatPtr(v float64) *float64 { return &v }
