// Package merchant resolves a normalized message to a canonical subscription
// merchant. Grounded on the teacher's DomainScoreClassifier
// (core/service/classification/worker_domain_score_classifier.go): a closed
// Go map keyed by domain, suffix-matched for subdomains with a damping
// factor, generalized here from category/priority scoring to merchant
// identity resolution with confidence and a closed reason enum.
package merchant

import (
	"strings"

	"subscan/core/domain"
	"subscan/core/port/out"
)

// Reason is the closed set of resolution paths, most to least confident.
type Reason string

const (
	ReasonOverrideEmail  Reason = "override-email"
	ReasonOverrideDomain Reason = "override-domain"
	ReasonSenderEmail    Reason = "sender-email"
	ReasonDomain         Reason = "domain"
	ReasonKeywords       Reason = "keywords"
	ReasonFallbackDomain Reason = "fallback-domain"
	ReasonNoMatch        Reason = "no-match"
)

// Result is MerchantResolver's output for one message.
type Result struct {
	Canonical     string
	PrettyFallback string
	Confidence    int
	Reason        Reason
	Signals       []string
	FromDomain    string
}

// consumerDomains never resolve to a merchant directly; matching one still
// applies a confidence penalty rather than a hard reject.
var consumerDomains = map[string]bool{
	"gmail.com": true, "yahoo.com": true, "hotmail.com": true, "outlook.com": true,
	"icloud.com": true, "aol.com": true, "naver.com": true, "daum.net": true,
	"protonmail.com": true, "live.com": true, "msn.com": true,
}

// infraDomains are bulk-mail relays; a bare infra domain is never a good
// fallback label on its own.
var infraDomains = map[string]bool{
	"sendgrid.net": true, "mailgun.org": true, "list-manage.com": true,
	"amazonses.com": true, "mandrillapp.com": true, "sparkpostmail.com": true,
	"postmarkapp.com": true, "mailchimp.com": true, "mailjet.com": true,
}

var mailSubdomainPrefixes = []string{"mail.", "email.", "em.", "m.", "news.", "notify.", "noreply."}

// Resolver holds the directory and per-user overrides it is configured with.
type Resolver struct {
	directory out.MerchantDirectory
	overrides out.OverrideStore
}

// New builds a Resolver against a directory and override store.
func New(directory out.MerchantDirectory, overrides out.OverrideStore) *Resolver {
	return &Resolver{directory: directory, overrides: overrides}
}

// Resolve implements the first-match-wins tier ladder (SPEC_FULL §4.A).
func (r *Resolver) Resolve(userID string, candidateDomains []string, senderEmail string, haystack string, overrides []domain.UserOverride) Result {
	fromDomain := normalizeDomain(firstOrEmpty(candidateDomains))

	if res, ok := r.matchOverrideEmail(senderEmail, overrides); ok {
		res.FromDomain = fromDomain
		return res
	}
	if res, ok := r.matchOverrideDomain(candidateDomains, overrides); ok {
		res.FromDomain = fromDomain
		return res
	}
	if res, ok := r.matchDirectorySenderEmail(senderEmail, candidateDomains); ok {
		res.FromDomain = fromDomain
		return res
	}
	if res, ok := r.matchDirectoryDomain(candidateDomains, fromDomain); ok {
		res.FromDomain = fromDomain
		return res
	}
	if res, ok := r.matchKeywords(haystack, fromDomain); ok {
		res.FromDomain = fromDomain
		return res
	}
	if res, ok := r.fallbackDomain(fromDomain); ok {
		res.FromDomain = fromDomain
		return res
	}

	return Result{Reason: ReasonNoMatch, FromDomain: fromDomain, Confidence: 0}
}

func (r *Resolver) matchOverrideEmail(senderEmail string, overrides []domain.UserOverride) (Result, bool) {
	senderEmail = strings.ToLower(senderEmail)
	for _, o := range overrides {
		if o.SenderEmail != "" && strings.ToLower(o.SenderEmail) == senderEmail {
			return Result{Canonical: o.CanonicalName, Confidence: 95, Reason: ReasonOverrideEmail, Signals: []string{"override:" + o.SenderEmail}}, true
		}
	}
	return Result{}, false
}

func (r *Resolver) matchOverrideDomain(candidateDomains []string, overrides []domain.UserOverride) (Result, bool) {
	for _, d := range candidateDomains {
		d = normalizeDomain(d)
		for _, o := range overrides {
			if o.SenderDomain != "" && normalizeDomain(o.SenderDomain) == d {
				return Result{Canonical: o.CanonicalName, Confidence: 90, Reason: ReasonOverrideDomain, Signals: []string{"override-domain:" + d}}, true
			}
		}
	}
	return Result{}, false
}

func (r *Resolver) matchDirectorySenderEmail(senderEmail string, candidateDomains []string) (Result, bool) {
	if r.directory == nil || senderEmail == "" {
		return Result{}, false
	}
	entry, ok := r.directory.Lookup(strings.ToLower(senderEmail), "")
	if !ok {
		return Result{}, false
	}
	confidence := 50
	for _, d := range candidateDomains {
		for _, ed := range entry.SenderDomains {
			if normalizeDomain(d) == normalizeDomain(ed) {
				confidence += 15
			}
		}
	}
	return Result{Canonical: entry.CanonicalName, Confidence: clamp(confidence, 0, 100), Reason: ReasonSenderEmail, Signals: []string{"sender-email:" + senderEmail}}, true
}

func (r *Resolver) matchDirectoryDomain(candidateDomains []string, fromDomain string) (Result, bool) {
	if r.directory == nil {
		return Result{}, false
	}
	ordered := append([]string{fromDomain}, candidateDomains...)
	for _, d := range ordered {
		d = normalizeDomain(d)
		if d == "" {
			continue
		}
		if entry, ok := r.directory.Lookup("", d); ok {
			confidence := 65
			if consumerDomains[d] {
				confidence -= 30
			}
			return Result{Canonical: entry.CanonicalName, Confidence: clamp(confidence, 0, 100), Reason: ReasonDomain, Signals: []string{"domain:" + d}}, true
		}
		// suffix match against subdomains, damped
		for known, entry := range directorySnapshot(r.directory) {
			if strings.HasSuffix(d, "."+known) {
				confidence := 65 * 95 / 100
				if consumerDomains[d] {
					confidence -= 30
				}
				return Result{Canonical: entry.CanonicalName, Confidence: clamp(confidence, 0, 100), Reason: ReasonDomain, Signals: []string{"domain:" + d, "parent:" + known}}, true
			}
		}
	}
	return Result{}, false
}

func (r *Resolver) matchKeywords(haystack, fromDomain string) (Result, bool) {
	if r.directory == nil || haystack == "" {
		return Result{}, false
	}
	haystack = strings.ToLower(haystack)
	best := ""
	bestHits := 0
	for name, entry := range directoryByKeyword(r.directory) {
		hits := 0
		for _, kw := range entry.Keywords {
			if strings.Contains(haystack, strings.ToLower(kw)) {
				hits++
			}
		}
		if hits > bestHits {
			bestHits = hits
			best = name
		}
	}
	if bestHits == 0 {
		return Result{}, false
	}
	score := clamp(10+7*bestHits, 10, 38)
	if consumerDomains[fromDomain] {
		score -= 10
	}
	return Result{Canonical: best, Confidence: clamp(score, 0, 100), Reason: ReasonKeywords, Signals: []string{"keywords"}}, true
}

func (r *Resolver) fallbackDomain(fromDomain string) (Result, bool) {
	if fromDomain == "" || consumerDomains[fromDomain] || infraDomains[fromDomain] {
		return Result{}, false
	}
	return Result{PrettyFallback: prettyFromDomain(fromDomain), Confidence: 35, Reason: ReasonFallbackDomain}, true
}

func prettyFromDomain(d string) string {
	base := strings.SplitN(d, ".", 2)[0]
	if base == "" {
		return d
	}
	return strings.ToUpper(base[:1]) + base[1:]
}

func normalizeDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	for _, p := range mailSubdomainPrefixes {
		if strings.HasPrefix(d, p) {
			d = strings.TrimPrefix(d, p)
			break
		}
	}
	return d
}

func firstOrEmpty(xs []string) string {
	if len(xs) == 0 {
		return ""
	}
	return xs[0]
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

// directorySnapshot/directoryByKeyword are placeholders the cache-backed
// MerchantDirectory implementation fills via an internal listing method; the
// port only exposes point lookups, so the in-memory adapter additionally
// implements this unexported iteration contract.
func directorySnapshot(d out.MerchantDirectory) map[string]domain.MerchantDirectoryEntry {
	if lister, ok := d.(interface {
		AllByDomain() map[string]domain.MerchantDirectoryEntry
	}); ok {
		return lister.AllByDomain()
	}
	return nil
}

func directoryByKeyword(d out.MerchantDirectory) map[string]domain.MerchantDirectoryEntry {
	if lister, ok := d.(interface {
		AllByName() map[string]domain.MerchantDirectoryEntry
	}); ok {
		return lister.AllByName()
	}
	return nil
}
