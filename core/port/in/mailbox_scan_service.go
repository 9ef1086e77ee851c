package in

import (
	"context"

	"subscan/core/domain"
)

// ImapConfig names the server a MailboxScanService.Verify/Scan call should
// dial for domain.ProviderIMAP; ignored for domain.ProviderGmail.
type ImapConfig struct {
	Host     string
	Port     int
	Insecure bool
}

// MailboxScanService backs the stateless /v1/email/verify and /v1/email/scan
// routes: given inline credentials (no stored OAuthConnection, no Session
// row), it runs a single bounded chunk and returns the result directly
// instead of going through the queued SessionOrchestrator flow.
type MailboxScanService interface {
	// Verify confirms the mailbox is reachable and the credentials work by
	// listing a single page with a minimal window.
	Verify(ctx context.Context, provider domain.Provider, imap ImapConfig, conn *domain.OAuthConnection) error

	// Scan runs exactly one chunk against the supplied credentials and
	// returns its candidates/cursor/stats without persisting a Session.
	Scan(ctx context.Context, provider domain.Provider, imap ImapConfig, conn *domain.OAuthConnection, opts domain.Options) (*ScanResult, error)
}

// ScanResult is the stateless-scan response shape (SPEC_FULL §6).
type ScanResult struct {
	Candidates []domain.Candidate `json:"candidates"`
	NextCursor string              `json:"nextCursor"`
	Done       bool                `json:"done"`
	Stats      map[string]any      `json:"stats"`
}
