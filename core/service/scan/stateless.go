// Package scan implements the stateless MailboxScanService: a single bounded
// chunk run against inline credentials, with no Session row and no queue.
// Grounded on core/service/session.Orchestrator's driverFor/Engine wiring,
// narrowed to one synchronous call instead of the lease/enqueue/resume
// machinery the durable session flow needs.
package scan

import (
	"context"

	"subscan/core/domain"
	"subscan/core/port/in"
	"subscan/core/port/out"
	"subscan/core/service/chunk"
	"subscan/core/service/merchant"
	"subscan/pkg/apperr"
)

type Service struct {
	gmail     out.MailboxDriver
	imapNewer func(host string, port int, insecure bool) out.MailboxDriver
	resolver  *merchant.Resolver
	overrides out.OverrideStore
}

func New(gmail out.MailboxDriver, imapNewer func(host string, port int, insecure bool) out.MailboxDriver, resolver *merchant.Resolver, overrides out.OverrideStore) *Service {
	return &Service{gmail: gmail, imapNewer: imapNewer, resolver: resolver, overrides: overrides}
}

func (s *Service) driverFor(provider domain.Provider, imapCfg in.ImapConfig) (out.MailboxDriver, error) {
	switch provider {
	case domain.ProviderGmail:
		return s.gmail, nil
	case domain.ProviderIMAP:
		if imapCfg.Host == "" {
			return nil, apperr.UnsupportedProvider("imap (missing host)")
		}
		return s.imapNewer(imapCfg.Host, imapCfg.Port, imapCfg.Insecure), nil
	default:
		return nil, apperr.UnsupportedProvider(string(provider))
	}
}

// Verify lists a single near-empty page to confirm the mailbox and
// credentials work, without running the full chunk pipeline.
func (s *Service) Verify(ctx context.Context, provider domain.Provider, imapCfg in.ImapConfig, conn *domain.OAuthConnection) error {
	driver, err := s.driverFor(provider, imapCfg)
	if err != nil {
		return err
	}
	_, err = driver.ListPage(ctx, conn, out.ListQuery{
		DaysBack:  1,
		QueryMode: domain.QueryTransactions,
		PageSize:  1,
	})
	if err != nil {
		return apperr.AuthFailed(string(provider), err)
	}
	return nil
}

// Scan runs exactly one chunk and hands the result straight back to the
// caller; nothing is persisted.
func (s *Service) Scan(ctx context.Context, provider domain.Provider, imapCfg in.ImapConfig, conn *domain.OAuthConnection, opts domain.Options) (*in.ScanResult, error) {
	driver, err := s.driverFor(provider, imapCfg)
	if err != nil {
		return nil, err
	}

	var overrides []domain.UserOverride
	if s.overrides != nil && conn.UserID != "" {
		overrides, _ = s.overrides.ListForUser(ctx, conn.UserID)
	}

	engine := chunk.New(driver, s.resolver)
	result := engine.Run(ctx, conn, opts, overrides)

	return &in.ScanResult{
		Candidates: result.Candidates,
		NextCursor: result.NextCursor,
		Done:       result.Done,
		Stats: map[string]any{
			"listed":      result.Stats.Listed,
			"scanned":     result.Stats.Scanned,
			"screenedIn":  result.Stats.ScreenedIn,
			"fullFetched": result.Stats.FullFetched,
			"matched":     result.Stats.Matched,
			"tookMs":      result.Stats.TookMs,
			"query":       result.Stats.Query,
		},
	}, nil
}

var _ in.MailboxScanService = (*Service)(nil)
