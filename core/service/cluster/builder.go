// Package cluster groups screened-in (metadata-only) messages by sender
// domain into subscription candidates when no full body was fetched for
// them. Grounded on the teacher's log-scaled scoring style used across the
// classification package's score accumulation (GetDomainScore/
// CalculatePriority additive composition), adapted here to a single
// clamp(...) cluster score formula.
package cluster

import (
	"math"
	"sort"
	"strings"
	"time"

	"subscan/core/domain"
	"subscan/core/service/classify"
	"subscan/core/service/extract"
)

const minClusterSize = 3
const minClusterScore = 55

var billingKeywords = []string{"invoice", "receipt", "renew", "subscription", "billing", "charged", "payment"}

// Group is one bucketed sender-domain cluster prior to scoring.
type Group struct {
	Key              string
	BestDomain       string
	Messages         []domain.MessageMeta
	ResolverConfidence int
}

// Build groups metadata by bestDomain (or infra:<bestDomain>:<senderDomain>
// when bestDomain is mail-infra) and emits a Candidate per cluster of ≥3
// dated messages scoring ≥55.
func Build(metas []domain.MessageMeta, bestDomainOf func(domain.MessageMeta) (string, bool, int)) []domain.Candidate {
	groups := map[string]*Group{}

	for _, m := range metas {
		bestDomain, isInfra, resolverConf := bestDomainOf(m)
		if bestDomain == "" {
			continue
		}
		key := bestDomain
		if isInfra {
			key = "infra:" + bestDomain + ":" + m.SenderDomain
		}
		g, ok := groups[key]
		if !ok {
			g = &Group{Key: key, BestDomain: bestDomain, ResolverConfidence: resolverConf}
			groups[key] = g
		}
		g.Messages = append(g.Messages, m)
	}

	var out []domain.Candidate
	for _, g := range groups {
		if datedCount(g.Messages) < minClusterSize {
			continue
		}
		c, ok := score(g)
		if ok {
			out = append(out, c)
		}
	}
	return out
}

func datedCount(msgs []domain.MessageMeta) int {
	n := 0
	for _, m := range msgs {
		if m.DateMs > 0 {
			n++
		}
	}
	return n
}

func score(g *Group) (domain.Candidate, bool) {
	dates := make([]time.Time, 0, len(g.Messages))
	var subjects, snippets []string
	bulkCount, transactionalCount := 0, 0

	for _, m := range g.Messages {
		if m.DateMs > 0 {
			dates = append(dates, time.UnixMilli(m.DateMs))
		}
		subjects = append(subjects, m.Subject)
		snippets = append(snippets, m.Snippet)

		flags := classify.Classify(m.Headers, m.Subject, m.Snippet, "", m.SenderDomain)
		if flags.BulkHeader {
			bulkCount++
		}
		if flags.LikelyTransactional {
			transactionalCount++
		}
	}

	n := len(g.Messages)
	cadence, hasCadence := extract.InferCadenceFromDates(dates)

	joined := strings.ToLower(strings.Join(subjects, " ") + " " + strings.Join(snippets, " "))
	hasBillingKeywords := false
	for _, kw := range billingKeywords {
		if strings.Contains(joined, kw) {
			hasBillingKeywords = true
			break
		}
	}

	transactionalRatio := float64(transactionalCount) / float64(n)
	bulkRatio := float64(bulkCount) / float64(n)

	base := math.Min(35, math.Log2(float64(n+1))*12)
	cadenceBonus := 0.0
	if hasCadence {
		cadenceBonus = 22
	}
	keywordBonus := 0.0
	if hasBillingKeywords {
		keywordBonus = 18
	}
	transactionalBonus := math.Min(15, 20*transactionalRatio)
	resolverBonus := math.Min(20, 0.35*float64(g.ResolverConfidence))

	total := base + cadenceBonus + keywordBonus + transactionalBonus + resolverBonus
	if bulkRatio > 0.8 && !hasBillingKeywords {
		total -= 10
	}
	total = clampF(total, 0, 100)

	if total < minClusterScore {
		return domain.Candidate{}, false
	}

	latest := g.Messages[0]
	for _, m := range g.Messages {
		if m.DateMs > latest.DateMs {
			latest = m
		}
	}

	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	ev := domain.Evidence{
		From:         latest.Headers.From,
		Subject:      latest.Subject,
		Snippet:      latest.Snippet,
		SenderEmail:  latest.SenderEmail,
		SenderDomain: latest.SenderDomain,
		DateMs:       latest.DateMs,
	}

	merchant := prettyDomain(g.BestDomain)
	return domain.Candidate{
		Fingerprint:     strings.Join([]string{"cluster", strings.ToLower(g.BestDomain), strings.ToLower(merchant), string(cadence)}, "|"),
		Merchant:        merchant,
		CadenceGuess:    cadence,
		Confidence:      int(total),
		ConfidenceLabel: domain.LabelForConfidence(int(total)),
		EvidenceType:    domain.EvidenceCluster,
		Reasons:         []string{"cluster"},
		BestEvidence:    ev,
		NeedsConfirm:    true,
		EventType:       domain.EventTypeBillingSignalNoAmount,
	}, true
}

func prettyDomain(d string) string {
	base := strings.SplitN(d, ".", 2)[0]
	if base == "" {
		return d
	}
	return strings.ToUpper(base[:1]) + base[1:]
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
