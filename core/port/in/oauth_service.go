package in

import (
	"context"

	"subscan/core/domain"
)

// OAuthService drives the Gmail connect/callback flow. Narrowed from the
// teacher's in.OAuthService (which also covered default-connection and
// multi-provider send-as selection) down to the single Gmail grant this
// pipeline's TokenProvider resolves against.
type OAuthService interface {
	GetAuthURL(ctx context.Context, userID, state string) (string, error)
	HandleCallback(ctx context.Context, code, userID string) (*domain.OAuthConnection, error)
	GetConnection(ctx context.Context, userID string) (*domain.OAuthConnection, error)
	Disconnect(ctx context.Context, userID string) error
}
