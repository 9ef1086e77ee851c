// Package aggregate implements the two-pass within-chunk aggregate and
// across-chunk best-per-merchant dedupe (SPEC_FULL §4.F), plus the strict
// gate post-process. Grounded on the teacher's CandidateBuilder-adjacent
// additive scoring style, reused here for dedupe ranking rather than
// confidence composition.
package aggregate

import (
	"sort"
	"strings"
	"time"

	"subscan/core/domain"
	"subscan/core/service/extract"
)

var hardNegativePhrases = []string{"funds added", "ad spend", "campaign", "top up", "topped up"}

// WithinChunk groups raw candidates by fingerprint, keeping the
// max-confidence representative per group; if a fingerprint has ≥2 dated
// evidence samples and an inferred cadence, +10 confidence is applied.
func WithinChunk(cands []domain.Candidate) []domain.Candidate {
	groups := map[string][]domain.Candidate{}
	order := []string{}
	for _, c := range cands {
		if _, ok := groups[c.Fingerprint]; !ok {
			order = append(order, c.Fingerprint)
		}
		groups[c.Fingerprint] = append(groups[c.Fingerprint], c)
	}

	out := make([]domain.Candidate, 0, len(order))
	for _, fp := range order {
		group := groups[fp]
		best := group[0]
		for _, c := range group[1:] {
			if c.Confidence > best.Confidence {
				best = c
			}
		}

		var samples []domain.Evidence
		for _, c := range group {
			samples = append(samples, c.EvidenceSamples...)
		}
		best.EvidenceSamples = samples

		if len(samples) >= 2 {
			dates := make([]time.Time, 0, len(samples))
			for _, s := range samples {
				dates = append(dates, time.UnixMilli(s.DateMs))
			}
			if _, ok := extract.InferCadenceFromDates(dates); ok {
				best.Confidence = clamp(best.Confidence+10, 0, 100)
				best.ConfidenceLabel = domain.LabelForConfidence(best.Confidence)
				best.Reasons = append(best.Reasons, "inferred-cadence-from-history")
			}
		}
		out = append(out, best)
	}
	return out
}

// AcrossChunk ranks candidates sharing a merchant key and keeps the
// highest-ranked representative, tie-broken by most recent dateMs. Ranking
// follows eventPriority·10,000 + hasAmount·2,000 + confidence·100 +
// hasDate·10 + fullBodyBoost.
func AcrossChunk(cands []domain.Candidate) []domain.Candidate {
	byMerchant := map[string][]domain.Candidate{}
	order := []string{}
	for _, c := range cands {
		key := strings.ToLower(c.Merchant)
		if _, ok := byMerchant[key]; !ok {
			order = append(order, key)
		}
		byMerchant[key] = append(byMerchant[key], c)
	}

	out := make([]domain.Candidate, 0, len(order))
	for _, key := range order {
		group := byMerchant[key]
		sort.Slice(group, func(i, j int) bool {
			ri, rj := rank(group[i]), rank(group[j])
			if ri != rj {
				return ri > rj
			}
			return group[i].BestEvidence.DateMs > group[j].BestEvidence.DateMs
		})

		winner := group[0]
		var samples []domain.Evidence
		for _, c := range group {
			samples = append(samples, c.BestEvidence)
		}
		sort.Slice(samples, func(i, j int) bool { return samples[i].DateMs > samples[j].DateMs })
		if len(samples) > 3 {
			samples = samples[:3]
		}
		winner.EvidenceSamples = samples
		out = append(out, winner)
	}
	return out
}

func rank(c domain.Candidate) int {
	r := domain.EventPriority(c.EventType) * 10000
	if c.Amount != nil {
		r += 2000
	}
	r += c.Confidence * 100
	if c.BestEvidence.DateMs > 0 {
		r += 10
	}
	return r
}

// StrictGate drops top_up/ad_spend/promo events and hard-negative text
// matches, and tags paused/payment_failed candidates as excluded from spend.
func StrictGate(cands []domain.Candidate) []domain.Candidate {
	out := make([]domain.Candidate, 0, len(cands))
	for _, c := range cands {
		if c.EventType == domain.EventTypeTopUp || c.EventType == domain.EventTypeAdSpend || c.EventType == domain.EventTypePromo {
			continue
		}
		if matchesHardNegative(c.BestEvidence.Snippet) {
			continue
		}
		if c.EventType == domain.EventTypePaused || c.EventType == domain.EventTypePaymentFailed {
			c.ExcludeFromSpend = true
		}
		out = append(out, c)
	}
	return out
}

func matchesHardNegative(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range hardNegativePhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
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

