// Package auth implements the Gmail OAuth connect/callback flow behind
// in.OAuthService. Grounded on the teacher's core/service/auth/worker_oauth.go
// (AuthCodeURL/Exchange/userinfo lookup, GetByEmail-then-Create-or-Update
// persistence), narrowed to one provider (Gmail) and with the webhook/
// message-producer side effects dropped — this pipeline triggers scans
// through SessionOrchestrator.Start, not through an OAuth-callback side
// effect.
package auth

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"subscan/core/domain"
	"subscan/core/port/out"
	"subscan/pkg/logger"
)

func decodeJSON(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}

type OAuthService struct {
	repo         out.OAuthRepository
	googleConfig *oauth2.Config
}

func NewOAuthService(repo out.OAuthRepository, clientID, clientSecret, redirectURL string) *OAuthService {
	var cfg *oauth2.Config
	if clientID != "" && clientSecret != "" {
		cfg = &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes: []string{
				"https://www.googleapis.com/auth/gmail.readonly",
				"https://www.googleapis.com/auth/userinfo.email",
			},
			Endpoint: google.Endpoint,
		}
	}
	return &OAuthService{repo: repo, googleConfig: cfg}
}

func (s *OAuthService) GetAuthURL(ctx context.Context, userID, state string) (string, error) {
	if s.googleConfig == nil {
		return "", fmt.Errorf("google oauth not configured")
	}
	return s.googleConfig.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

func (s *OAuthService) HandleCallback(ctx context.Context, code, userID string) (*domain.OAuthConnection, error) {
	if s.googleConfig == nil {
		return nil, fmt.Errorf("google oauth not configured")
	}
	token, err := s.googleConfig.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}
	email, err := s.googleEmail(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve account email: %w", err)
	}

	conn := &domain.OAuthConnection{
		UserID:       userID,
		Email:        email,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
		IsConnected:  true,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	if s.repo == nil {
		return conn, nil
	}

	existing, _ := s.repo.GetByEmail(ctx, userID, string(domain.ProviderGmail), email)
	if existing != nil {
		conn.ID = existing.ID
		if err := s.repo.Update(ctx, toEntity(conn)); err != nil {
			return nil, fmt.Errorf("failed to update connection: %w", err)
		}
	} else {
		entity := toEntity(conn)
		if err := s.repo.Create(ctx, entity); err != nil {
			return nil, fmt.Errorf("failed to create connection: %w", err)
		}
		conn.ID = entity.ID
	}
	logger.Info("gmail oauth connection %d ready for user %s", conn.ID, userID)
	return conn, nil
}

func (s *OAuthService) googleEmail(ctx context.Context, token *oauth2.Token) (string, error) {
	client := s.googleConfig.Client(ctx, token)
	resp, err := client.Get("https://www.googleapis.com/oauth2/v2/userinfo")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var userInfo struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(resp.Body, &userInfo); err != nil {
		return "", err
	}
	return userInfo.Email, nil
}

func (s *OAuthService) GetConnection(ctx context.Context, userID string) (*domain.OAuthConnection, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("oauth repository not initialized")
	}
	entities, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, e := range entities {
		if e.Provider == string(domain.ProviderGmail) && e.IsConnected {
			return toDomain(e), nil
		}
	}
	return nil, nil
}

func (s *OAuthService) Disconnect(ctx context.Context, userID string) error {
	if s.repo == nil {
		return fmt.Errorf("oauth repository not initialized")
	}
	conn, err := s.GetConnection(ctx, userID)
	if err != nil {
		return err
	}
	if conn == nil {
		return nil
	}
	return s.repo.Disconnect(ctx, conn.ID)
}

func toEntity(c *domain.OAuthConnection) *out.OAuthConnectionEntity {
	return &out.OAuthConnectionEntity{
		ID:           c.ID,
		UserID:       c.UserID,
		Provider:     string(domain.ProviderGmail),
		Email:        c.Email,
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		ExpiresAt:    c.ExpiresAt,
		IsConnected:  c.IsConnected,
	}
}

func toDomain(e *out.OAuthConnectionEntity) *domain.OAuthConnection {
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
	}
}
