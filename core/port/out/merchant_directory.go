package out

import (
	"context"

	"subscan/core/domain"
)

// MerchantDirectory is the read-only, cached lookup MerchantResolver (A)
// consults before falling back to domain-heuristic tiers. Grounded on the
// teacher's two-level EmailListCache pattern (pkg/cache) — this directory is
// loaded once at startup and refreshed on a timer rather than per-request.
type MerchantDirectory interface {
	Lookup(senderEmail, senderDomain string) (domain.MerchantDirectoryEntry, bool)
	Refresh(ctx context.Context) error
}

// OverrideStore resolves per-user merchant overrides recorded via the
// merchant/confirm endpoint (§6).
type OverrideStore interface {
	ListForUser(ctx context.Context, userID string) ([]domain.UserOverride, error)
	Save(ctx context.Context, o domain.UserOverride) error
}
