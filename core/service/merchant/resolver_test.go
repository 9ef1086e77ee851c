package merchant

import (
	"context"
	"testing"

	"subscan/core/domain"
)

// fakeDirectory is a minimal in-memory out.MerchantDirectory, also
// implementing the unexported AllByDomain/AllByName iteration contract
// Resolver's suffix/keyword matching tiers use.
type fakeDirectory struct {
	byEmail  map[string]domain.MerchantDirectoryEntry
	byDomain map[string]domain.MerchantDirectoryEntry
	byName   map[string]domain.MerchantDirectoryEntry
}

func (d *fakeDirectory) Lookup(senderEmail, senderDomain string) (domain.MerchantDirectoryEntry, bool) {
	if senderEmail != "" {
		e, ok := d.byEmail[senderEmail]
		return e, ok
	}
	e, ok := d.byDomain[senderDomain]
	return e, ok
}

func (d *fakeDirectory) Refresh(ctx context.Context) error { return nil }

func (d *fakeDirectory) AllByDomain() map[string]domain.MerchantDirectoryEntry { return d.byDomain }
func (d *fakeDirectory) AllByName() map[string]domain.MerchantDirectoryEntry   { return d.byName }

type fakeOverrides struct{}

func (fakeOverrides) ListForUser(ctx context.Context, userID string) ([]domain.UserOverride, error) {
	return nil, nil
}
func (fakeOverrides) Save(ctx context.Context, o domain.UserOverride) error { return nil }

func newTestDirectory() *fakeDirectory {
	netflix := domain.MerchantDirectoryEntry{
		CanonicalName: "Netflix",
		SenderDomains: []string{"netflix.com"},
		Keywords:      []string{"netflix"},
	}
	return &fakeDirectory{
		byEmail:  map[string]domain.MerchantDirectoryEntry{"billing@netflix.com": netflix},
		byDomain: map[string]domain.MerchantDirectoryEntry{"netflix.com": netflix},
		byName:   map[string]domain.MerchantDirectoryEntry{"Netflix": netflix},
	}
}

func TestResolverOverrideBeatsDirectory(t *testing.T) {
	r := New(newTestDirectory(), fakeOverrides{})
	overrides := []domain.UserOverride{
		{UserID: "u1", SenderEmail: "billing@netflix.com", CanonicalName: "NotNetflix"},
	}

	res := r.Resolve("u1", []string{"netflix.com"}, "billing@netflix.com", "", overrides)

	if res.Reason != ReasonOverrideEmail {
		t.Fatalf("reason = %s, want %s", res.Reason, ReasonOverrideEmail)
	}
	if res.Canonical != "NotNetflix" {
		t.Fatalf("canonical = %q, want override to win over directory", res.Canonical)
	}
}

func TestResolverTierLadder(t *testing.T) {
	dir := newTestDirectory()
	r := New(dir, fakeOverrides{})

	tests := []struct {
		name          string
		domains       []string
		senderEmail   string
		haystack      string
		wantReason    Reason
		wantCanonical string
	}{
		{
			name:          "sender email directory match",
			domains:       []string{"netflix.com"},
			senderEmail:   "billing@netflix.com",
			wantReason:    ReasonSenderEmail,
			wantCanonical: "Netflix",
		},
		{
			name:          "bare domain directory match",
			domains:       []string{"netflix.com"},
			senderEmail:   "someone-else@netflix.com",
			wantReason:    ReasonDomain,
			wantCanonical: "Netflix",
		},
		{
			name:          "subdomain suffix match",
			domains:       []string{"account.netflix.com"},
			wantReason:    ReasonDomain,
			wantCanonical: "Netflix",
		},
		{
			name:          "keyword match with no domain hit",
			domains:       []string{"unknown-sender.example"},
			haystack:      "Your netflix subscription renews soon",
			wantReason:    ReasonKeywords,
			wantCanonical: "Netflix",
		},
		{
			name:       "infra relay domain never falls back",
			domains:    []string{"mailgun.org"},
			wantReason: ReasonNoMatch,
		},
		{
			name:       "consumer domain never falls back",
			domains:    []string{"gmail.com"},
			wantReason: ReasonNoMatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Resolve("u1", tt.domains, tt.senderEmail, tt.haystack, nil)
			if res.Reason != tt.wantReason {
				t.Fatalf("reason = %s, want %s", res.Reason, tt.wantReason)
			}
			if tt.wantCanonical != "" && res.Canonical != tt.wantCanonical {
				t.Fatalf("canonical = %q, want %q", res.Canonical, tt.wantCanonical)
			}
		})
	}
}

func TestResolverFallbackDomain(t *testing.T) {
	r := New(&fakeDirectory{
		byEmail:  map[string]domain.MerchantDirectoryEntry{},
		byDomain: map[string]domain.MerchantDirectoryEntry{},
		byName:   map[string]domain.MerchantDirectoryEntry{},
	}, fakeOverrides{})

	res := r.Resolve("u1", []string{"some-startup.io"}, "", "", nil)

	if res.Reason != ReasonFallbackDomain {
		t.Fatalf("reason = %s, want %s", res.Reason, ReasonFallbackDomain)
	}
	if res.PrettyFallback != "Some-startup" {
		t.Fatalf("prettyFallback = %q, want %q", res.PrettyFallback, "Some-startup")
	}
}

func TestNormalizeDomainStripsMailSubdomains(t *testing.T) {
	tests := []struct{ in, want string }{
		{"mail.example.com", "example.com"},
		{"news.example.com", "example.com"},
		{"Example.COM", "example.com"},
		{"example.com", "example.com"},
	}
	for _, tt := range tests {
		if got := normalizeDomain(tt.in); got != tt.want {
			t.Errorf("normalizeDomain(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
