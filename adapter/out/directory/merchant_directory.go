// Package directory implements the read-only merchant directory MerchantResolver
// consults. Grounded on the teacher's DomainScoreClassifier static category
// tables (core/service/classification/worker_domain_score_classifier.go) —
// same closed Go map + suffix-match shape, reseeded here with subscription
// merchants (streaming, SaaS, fintech) instead of dev-tool/shopping/travel
// categories, and keyed by canonical merchant name rather than EmailCategory.
package directory

import (
	"context"
	"strings"
	"sync"
	"time"

	"subscan/core/domain"
)

// RefreshInterval is how often a process-wide directory considers itself
// stale; SPEC_FULL §5 calls for a 15-minute cache.
const RefreshInterval = 15 * time.Minute

// Static is an in-memory MerchantDirectory seeded from a closed table and
// optionally refreshed from an external source (a future out-of-pack feed);
// Refresh is a no-op today but keeps the port's contract honest for when one
// is wired in.
type Static struct {
	mu        sync.RWMutex
	byDomain  map[string]domain.MerchantDirectoryEntry
	byName    map[string]domain.MerchantDirectoryEntry
	refreshed time.Time
}

// NewStatic builds a directory seeded with well-known subscription merchants.
func NewStatic() *Static {
	s := &Static{
		byDomain: make(map[string]domain.MerchantDirectoryEntry),
		byName:   make(map[string]domain.MerchantDirectoryEntry),
	}
	for _, e := range seedEntries {
		s.byName[e.CanonicalName] = e
		for _, d := range e.SenderDomains {
			s.byDomain[strings.ToLower(d)] = e
		}
	}
	s.refreshed = time.Now()
	return s
}

func (s *Static) Lookup(senderEmail, senderDomain string) (domain.MerchantDirectoryEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if senderEmail != "" {
		for _, e := range s.byName {
			for _, se := range e.SenderEmails {
				if strings.EqualFold(se, senderEmail) {
					return e, true
				}
			}
		}
	}
	if senderDomain != "" {
		if e, ok := s.byDomain[strings.ToLower(senderDomain)]; ok {
			return e, true
		}
	}
	return domain.MerchantDirectoryEntry{}, false
}

// AllByDomain / AllByName back the suffix-match and keyword-hit tiers in
// core/service/merchant, which need to iterate the whole table rather than
// do a single point lookup.
func (s *Static) AllByDomain() map[string]domain.MerchantDirectoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.MerchantDirectoryEntry, len(s.byDomain))
	for k, v := range s.byDomain {
		out[k] = v
	}
	return out
}

func (s *Static) AllByName() map[string]domain.MerchantDirectoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.MerchantDirectoryEntry, len(s.byName))
	for k, v := range s.byName {
		out[k] = v
	}
	return out
}

func (s *Static) Refresh(ctx context.Context) error {
	s.mu.Lock()
	s.refreshed = time.Now()
	s.mu.Unlock()
	return nil
}

var seedEntries = []domain.MerchantDirectoryEntry{
	{CanonicalName: "Netflix", SenderDomains: []string{"netflix.com"}, Keywords: []string{"netflix"}},
	{CanonicalName: "Spotify", SenderDomains: []string{"spotify.com"}, Keywords: []string{"spotify", "premium"}},
	{CanonicalName: "Disney+", SenderDomains: []string{"disneyplus.com", "disney.com"}, Keywords: []string{"disney+", "disney plus"}},
	{CanonicalName: "Hulu", SenderDomains: []string{"hulu.com"}, Keywords: []string{"hulu"}},
	{CanonicalName: "YouTube Premium", SenderDomains: []string{"youtube.com", "google.com"}, Keywords: []string{"youtube premium", "youtube music"}},
	{CanonicalName: "Apple", SenderDomains: []string{"apple.com"}, Keywords: []string{"apple", "itunes", "app store", "icloud"}},
	{CanonicalName: "Amazon Prime", SenderDomains: []string{"amazon.com"}, Keywords: []string{"prime membership", "amazon prime"}},
	{CanonicalName: "Dropbox", SenderDomains: []string{"dropbox.com"}, Keywords: []string{"dropbox"}},
	{CanonicalName: "GitHub", SenderDomains: []string{"github.com"}, Keywords: []string{"github"}},
	{CanonicalName: "Notion", SenderDomains: []string{"notion.so", "makenotion.com"}, Keywords: []string{"notion"}},
	{CanonicalName: "Slack", SenderDomains: []string{"slack.com"}, Keywords: []string{"slack"}},
	{CanonicalName: "Adobe", SenderDomains: []string{"adobe.com"}, Keywords: []string{"creative cloud", "adobe"}},
	{CanonicalName: "Zoom", SenderDomains: []string{"zoom.us"}, Keywords: []string{"zoom"}},
	{CanonicalName: "LinkedIn", SenderDomains: []string{"linkedin.com"}, Keywords: []string{"linkedin premium"}},
	{CanonicalName: "PlayStation Plus", SenderDomains: []string{"playstation.com", "sony.com"}, Keywords: []string{"playstation plus", "ps plus"}},
	{CanonicalName: "Xbox Game Pass", SenderDomains: []string{"xbox.com", "microsoft.com"}, Keywords: []string{"game pass", "xbox live"}},
	{CanonicalName: "PayPal", SenderDomains: []string{"paypal.com"}, Keywords: []string{"paypal"}},
	{CanonicalName: "Stripe", SenderDomains: []string{"stripe.com"}, Keywords: []string{"stripe"}},
	{CanonicalName: "Google One", SenderDomains: []string{"google.com"}, Keywords: []string{"google one", "google storage"}},
	{CanonicalName: "Audible", SenderDomains: []string{"audible.com"}, Keywords: []string{"audible"}},
	{CanonicalName: "Coupang", SenderDomains: []string{"coupang.com"}, Keywords: []string{"쿠팡", "coupang", "로켓와우"}},
	{CanonicalName: "Naver Plus", SenderDomains: []string{"naver.com"}, Keywords: []string{"네이버플러스", "naver plus"}},
	{CanonicalName: "Toss", SenderDomains: []string{"toss.im"}, Keywords: []string{"toss"}},
	{CanonicalName: "Figma", SenderDomains: []string{"figma.com"}, Keywords: []string{"figma"}},
	{CanonicalName: "Canva", SenderDomains: []string{"canva.com"}, Keywords: []string{"canva pro", "canva"}},
}
