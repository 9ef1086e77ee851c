package token

import (
	"context"
	"testing"

	"subscan/core/domain"
	"subscan/core/port/out"
)

// fakeRepo returns a fixed list of connections for any user.
type fakeRepo struct {
	out.OAuthRepository
	entities []*out.OAuthConnectionEntity
}

func (r *fakeRepo) ListByUser(ctx context.Context, userID string) ([]*out.OAuthConnectionEntity, error) {
	return r.entities, nil
}

func TestResolveReturnsConnectedMatchingProvider(t *testing.T) {
	repo := &fakeRepo{entities: []*out.OAuthConnectionEntity{
		{ID: 1, UserID: "u1", Provider: "gmail", IsConnected: false},
		{ID: 2, UserID: "u1", Provider: "gmail", IsConnected: true, Email: "active@gmail.com"},
	}}
	p := NewProvider(repo)

	conn, err := p.Resolve(context.Background(), "u1", domain.ProviderGmail)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if conn == nil {
		t.Fatal("expected a connection, got nil")
	}
	if conn.Email != "active@gmail.com" {
		t.Errorf("email = %q, want the connected row", conn.Email)
	}
}

func TestResolveReturnsNilWhenNoneConnected(t *testing.T) {
	repo := &fakeRepo{entities: []*out.OAuthConnectionEntity{
		{ID: 1, UserID: "u1", Provider: "gmail", IsConnected: false},
	}}
	p := NewProvider(repo)

	conn, err := p.Resolve(context.Background(), "u1", domain.ProviderGmail)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if conn != nil {
		t.Fatalf("expected nil connection when nothing is connected, got %+v", conn)
	}
}

func TestResolveIgnoresOtherProviders(t *testing.T) {
	repo := &fakeRepo{entities: []*out.OAuthConnectionEntity{
		{ID: 1, UserID: "u1", Provider: "imap", IsConnected: true},
	}}
	p := NewProvider(repo)

	conn, err := p.Resolve(context.Background(), "u1", domain.ProviderGmail)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if conn != nil {
		t.Fatal("expected no match for a different provider")
	}
}

func TestResolveFailsWithoutRepo(t *testing.T) {
	p := NewProvider(nil)
	if _, err := p.Resolve(context.Background(), "u1", domain.ProviderGmail); err == nil {
		t.Fatal("expected an error when the repository is not initialized")
	}
}
