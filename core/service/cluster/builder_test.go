package cluster

import (
	"strings"
	"testing"
	"time"

	"subscan/core/domain"
)

func monthlyMessages(n int, subject string) []domain.MessageMeta {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	msgs := make([]domain.MessageMeta, 0, n)
	for i := 0; i < n; i++ {
		msgs = append(msgs, domain.MessageMeta{
			ID:           "m" + string(rune('0'+i)),
			SenderDomain: "billing.examplebills.com",
			SenderEmail:  "billing@examplebills.com",
			Subject:      subject,
			Snippet:      "your invoice for this billing period",
			DateMs:       base.AddDate(0, i, 0).UnixMilli(),
		})
	}
	return msgs
}

func highConfidenceDomainOf(m domain.MessageMeta) (string, bool, int) {
	return "examplebills.com", false, 80
}

func TestClusterBuildEmitsCandidateForRecurringBillingSenders(t *testing.T) {
	metas := monthlyMessages(4, "Your invoice is ready")
	cands := Build(metas, highConfidenceDomainOf)

	if len(cands) != 1 {
		t.Fatalf("expected exactly one cluster candidate, got %d", len(cands))
	}
	c := cands[0]
	if c.CadenceGuess != domain.CadenceMonthly {
		t.Errorf("cadenceGuess = %s, want %s", c.CadenceGuess, domain.CadenceMonthly)
	}
	if c.Confidence < minClusterScore {
		t.Errorf("confidence = %d, want at least %d", c.Confidence, minClusterScore)
	}
	if c.EvidenceType != domain.EvidenceCluster {
		t.Errorf("evidenceType = %s, want %s", c.EvidenceType, domain.EvidenceCluster)
	}
}

func TestClusterBuildSkipsUndersizedGroups(t *testing.T) {
	metas := monthlyMessages(2, "Your invoice is ready")
	cands := Build(metas, highConfidenceDomainOf)
	if len(cands) != 0 {
		t.Fatalf("expected no candidate below the minimum cluster size, got %d", len(cands))
	}
}

func TestClusterBuildSkipsWhenResolverDeclines(t *testing.T) {
	metas := monthlyMessages(4, "Your invoice is ready")
	noMatch := func(m domain.MessageMeta) (string, bool, int) { return "", false, 0 }
	cands := Build(metas, noMatch)
	if len(cands) != 0 {
		t.Fatalf("expected no candidate when the resolver never names a domain, got %d", len(cands))
	}
}

func TestClusterBuildRequiresThreeDatedMessagesNotJustThreeMessages(t *testing.T) {
	metas := monthlyMessages(2, "Your invoice is ready")
	metas = append(metas, domain.MessageMeta{
		SenderDomain: "billing.examplebills.com",
		SenderEmail:  "billing@examplebills.com",
		Subject:      "Your invoice is ready",
		Snippet:      "your invoice for this billing period",
		// DateMs left zero: an undated message should not count toward the
		// cluster's minimum size.
	})

	cands := Build(metas, highConfidenceDomainOf)
	if len(cands) != 0 {
		t.Fatalf("expected no candidate when only 2 of 3 messages carry a date, got %d", len(cands))
	}
}

func TestClusterFingerprintKeepsSenderDomainMerchantAndCadenceDistinct(t *testing.T) {
	metas := monthlyMessages(4, "Your invoice is ready")
	cands := Build(metas, highConfidenceDomainOf)
	if len(cands) != 1 {
		t.Fatalf("expected exactly one cluster candidate, got %d", len(cands))
	}
	parts := strings.Split(cands[0].Fingerprint, "|")
	if len(parts) != 4 || parts[0] != "cluster" {
		t.Fatalf("fingerprint = %q, want 4 pipe-separated parts starting with \"cluster\"", cands[0].Fingerprint)
	}
	if parts[1] != "examplebills.com" {
		t.Errorf("fingerprint senderDomain segment = %q, want examplebills.com", parts[1])
	}
	if parts[2] != strings.ToLower(cands[0].Merchant) {
		t.Errorf("fingerprint merchant segment = %q, want %q", parts[2], strings.ToLower(cands[0].Merchant))
	}
	if parts[3] != string(cands[0].CadenceGuess) {
		t.Errorf("fingerprint cadence segment = %q, want %q", parts[3], cands[0].CadenceGuess)
	}
}

func TestClusterBuildSkipsLowScoringBulkGroup(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	msgs := make([]domain.MessageMeta, 0, 5)
	for i := 0; i < 5; i++ {
		msgs = append(msgs, domain.MessageMeta{
			SenderDomain: "news.example.com",
			Subject:      "Weekly roundup",
			Snippet:      "check out this week's top stories, unsubscribe anytime",
			Headers:      domain.Headers{Precedence: "bulk"},
			DateMs:       base.AddDate(0, 0, i*3).UnixMilli(),
		})
	}
	lowConfidenceDomainOf := func(m domain.MessageMeta) (string, bool, int) { return "example.com", false, 10 }

	cands := Build(msgs, lowConfidenceDomainOf)
	if len(cands) != 0 {
		t.Fatalf("expected a bulk newsletter cluster to score below the threshold, got %d candidates", len(cands))
	}
}
