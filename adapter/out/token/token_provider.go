// Package token implements out.TokenProvider over the same OAuthRepository
// the auth service writes through. Grounded on the teacher's OAuthAdapter
// lookup-by-user idiom (adapter/out/persistence/worker_oauth_adapter.go);
// narrowed to a single read (find the connected row for this user+provider)
// since refreshing the access token itself happens inside the Gmail driver's
// oauth2.Config.Client call, not here.
package token

import (
	"context"
	"fmt"

	"subscan/core/domain"
	"subscan/core/port/out"
)

type Provider struct {
	repo out.OAuthRepository
}

func NewProvider(repo out.OAuthRepository) *Provider {
	return &Provider{repo: repo}
}

func (p *Provider) Resolve(ctx context.Context, userID string, provider domain.Provider) (*domain.OAuthConnection, error) {
	if p.repo == nil {
		return nil, fmt.Errorf("oauth repository not initialized")
	}
	entities, err := p.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, e := range entities {
		if e.Provider == string(provider) && e.IsConnected {
			return &domain.OAuthConnection{
				ID:           e.ID,
				UserID:       e.UserID,
				Email:        e.Email,
				AccessToken:  e.AccessToken,
				RefreshToken: e.RefreshToken,
				ExpiresAt:    e.ExpiresAt,
				IsConnected:  e.IsConnected,
				CreatedAt:    e.CreatedAt,
				UpdatedAt:    e.UpdatedAt,
			}, nil
		}
	}
	return nil, nil
}

var _ out.TokenProvider = (*Provider)(nil)
