package out

import (
	"context"

	"subscan/core/domain"
)

// TokenProvider resolves the stored, connected OAuth connection for a user's
// mailbox. It does not check expiry or refresh the token; refresh happens in
// the Gmail driver's oauth2 client when a call is made. Grounded on the teacher's OAuthAdapter
// (adapter/out/persistence/worker_oauth_adapter.go) plus its use of
// golang.org/x/oauth2 in the Gmail provider — separated into its own port so
// ChunkEngine and the HTTP layer depend on "give me a usable token" rather
// than the full OAuthRepository CRUD surface.
type TokenProvider interface {
	Resolve(ctx context.Context, userID string, provider domain.Provider) (*domain.OAuthConnection, error)
}
