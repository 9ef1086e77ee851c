package scan

import (
	"context"
	"testing"

	"subscan/core/domain"
	"subscan/core/port/in"
	"subscan/core/port/out"
	"subscan/core/service/merchant"
)

// fakeDriver reports a single already-exhausted page; good enough to drive
// Verify/Scan without a real mailbox.
type fakeDriver struct{}

func (fakeDriver) ListPage(ctx context.Context, conn *domain.OAuthConnection, q out.ListQuery) (out.ListPageResult, error) {
	return out.ListPageResult{IDs: []string{"m1"}, Done: true}, nil
}

func (fakeDriver) FetchMetadata(ctx context.Context, conn *domain.OAuthConnection, ids []string) ([]domain.MessageMeta, error) {
	return nil, nil
}

func (fakeDriver) FetchFull(ctx context.Context, conn *domain.OAuthConnection, id string) (*domain.MessageBody, error) {
	return nil, nil
}

func newTestService() *Service {
	gmail := fakeDriver{}
	imapNewer := func(host string, port int, insecure bool) out.MailboxDriver { return fakeDriver{} }
	resolver := merchant.New(nil, nil)
	return New(gmail, imapNewer, resolver, nil)
}

func TestVerifyGmailSucceeds(t *testing.T) {
	s := newTestService()
	conn := &domain.OAuthConnection{UserID: "u1"}
	if err := s.Verify(context.Background(), domain.ProviderGmail, in.ImapConfig{}, conn); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyIMAPWithoutHostFails(t *testing.T) {
	s := newTestService()
	conn := &domain.OAuthConnection{UserID: "u1"}
	err := s.Verify(context.Background(), domain.ProviderIMAP, in.ImapConfig{}, conn)
	if err == nil {
		t.Fatal("expected an error when no IMAP host is supplied")
	}
}

func TestVerifyIMAPWithHostSucceeds(t *testing.T) {
	s := newTestService()
	conn := &domain.OAuthConnection{UserID: "u1"}
	err := s.Verify(context.Background(), domain.ProviderIMAP, in.ImapConfig{Host: "imap.example.com", Port: 993}, conn)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestScanReturnsResultWithoutPersisting(t *testing.T) {
	s := newTestService()
	conn := &domain.OAuthConnection{UserID: "u1"}
	opts := domain.Options{Mode: domain.ModeQuick, ChunkMs: 9000, MaxListIds: 300, MaxPages: 1, MaxCandidates: 10}

	result, err := s.Scan(context.Background(), domain.ProviderGmail, in.ImapConfig{}, conn, opts)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.Stats == nil {
		t.Fatal("expected non-nil stats map")
	}
	if _, ok := result.Stats["listed"]; !ok {
		t.Fatal("expected a listed stat in the result")
	}
}

func TestScanUnsupportedProviderFails(t *testing.T) {
	s := newTestService()
	conn := &domain.OAuthConnection{UserID: "u1"}
	_, err := s.Scan(context.Background(), domain.Provider("outlook"), in.ImapConfig{}, conn, domain.Options{})
	if err == nil {
		t.Fatal("expected an error for an unsupported provider")
	}
}
