package auth

import (
	"context"
	"strings"
	"testing"

	"subscan/core/port/out"
)

// fakeRepo is a narrow in-memory stand-in for out.OAuthRepository; methods
// this package's tests don't exercise are left to the embedded nil
// interface and will panic if called, which would fail the test loudly.
type fakeRepo struct {
	out.OAuthRepository
	entities      []*out.OAuthConnectionEntity
	disconnectedID int64
}

func (r *fakeRepo) ListByUser(ctx context.Context, userID string) ([]*out.OAuthConnectionEntity, error) {
	var conns []*out.OAuthConnectionEntity
	for _, e := range r.entities {
		if e.UserID == userID {
			conns = append(conns, e)
		}
	}
	return conns, nil
}

func (r *fakeRepo) Disconnect(ctx context.Context, id int64) error {
	r.disconnectedID = id
	return nil
}

func TestGetAuthURLFailsWithoutConfiguredClient(t *testing.T) {
	svc := NewOAuthService(nil, "", "", "")
	if _, err := svc.GetAuthURL(context.Background(), "u1", "state-123"); err == nil {
		t.Fatal("expected an error when no client id/secret is configured")
	}
}

func TestGetAuthURLIncludesState(t *testing.T) {
	svc := NewOAuthService(nil, "client-id", "client-secret", "https://example.com/callback")
	url, err := svc.GetAuthURL(context.Background(), "u1", "state-123")
	if err != nil {
		t.Fatalf("GetAuthURL: %v", err)
	}
	if !strings.Contains(url, "state=state-123") {
		t.Errorf("url = %q, want it to carry the state param", url)
	}
}

func TestHandleCallbackFailsWithoutConfiguredClient(t *testing.T) {
	svc := NewOAuthService(nil, "", "", "")
	if _, err := svc.HandleCallback(context.Background(), "some-code", "u1"); err == nil {
		t.Fatal("expected an error when no client id/secret is configured")
	}
}

func TestGetConnectionFailsWithoutRepo(t *testing.T) {
	svc := NewOAuthService(nil, "client-id", "client-secret", "")
	if _, err := svc.GetConnection(context.Background(), "u1"); err == nil {
		t.Fatal("expected an error when the repository is not initialized")
	}
}

func TestGetConnectionReturnsConnectedGmailEntity(t *testing.T) {
	repo := &fakeRepo{entities: []*out.OAuthConnectionEntity{
		{ID: 1, UserID: "u1", Provider: "imap", IsConnected: true},
		{ID: 2, UserID: "u1", Provider: "gmail", IsConnected: false},
		{ID: 3, UserID: "u1", Provider: "gmail", IsConnected: true, Email: "active@gmail.com"},
	}}
	svc := NewOAuthService(repo, "client-id", "client-secret", "")

	conn, err := svc.GetConnection(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	if conn == nil || conn.Email != "active@gmail.com" {
		t.Fatalf("conn = %+v, want the connected gmail row", conn)
	}
}

func TestGetConnectionReturnsNilWhenNoneConnected(t *testing.T) {
	repo := &fakeRepo{entities: []*out.OAuthConnectionEntity{
		{ID: 1, UserID: "u1", Provider: "gmail", IsConnected: false},
	}}
	svc := NewOAuthService(repo, "client-id", "client-secret", "")

	conn, err := svc.GetConnection(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	if conn != nil {
		t.Fatalf("expected nil connection, got %+v", conn)
	}
}

func TestDisconnectFailsWithoutRepo(t *testing.T) {
	svc := NewOAuthService(nil, "client-id", "client-secret", "")
	if err := svc.Disconnect(context.Background(), "u1"); err == nil {
		t.Fatal("expected an error when the repository is not initialized")
	}
}

func TestDisconnectIsNoOpWhenNoConnectionExists(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewOAuthService(repo, "client-id", "client-secret", "")

	if err := svc.Disconnect(context.Background(), "u1"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if repo.disconnectedID != 0 {
		t.Errorf("expected no Disconnect call, got id %d", repo.disconnectedID)
	}
}

func TestDisconnectCallsRepoWithConnectionID(t *testing.T) {
	repo := &fakeRepo{entities: []*out.OAuthConnectionEntity{
		{ID: 42, UserID: "u1", Provider: "gmail", IsConnected: true},
	}}
	svc := NewOAuthService(repo, "client-id", "client-secret", "")

	if err := svc.Disconnect(context.Background(), "u1"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if repo.disconnectedID != 42 {
		t.Errorf("disconnectedID = %d, want 42", repo.disconnectedID)
	}
}
