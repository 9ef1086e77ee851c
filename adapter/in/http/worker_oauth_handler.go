package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"subscan/core/port/in"
	"subscan/pkg/logger"
	"subscan/pkg/response"
)

// OAuthStateStore stores/validates the CSRF state token for the connect ->
// callback round trip, keyed by the plain string userId this pipeline uses
// everywhere else.
type OAuthStateStore interface {
	StoreState(ctx context.Context, state, userID string, ttl time.Duration) error
	ValidateState(ctx context.Context, state string) (string, error)
}

// OAuthStateTTL is how long a connect link stays valid before it must be
// re-requested.
const OAuthStateTTL = 10 * time.Minute

type OAuthHandler struct {
	oauthService in.OAuthService
	stateStore   OAuthStateStore
}

func NewOAuthHandler(oauthService in.OAuthService, stateStore OAuthStateStore) *OAuthHandler {
	return &OAuthHandler{oauthService: oauthService, stateStore: stateStore}
}

func generateSecureState() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate secure state: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// Register mounts the authenticated connect/connection/disconnect routes.
// Callback is mounted separately (RegisterPublic) since Google redirects
// there without a bearer token.
func (h *OAuthHandler) Register(app fiber.Router) {
	oauth := app.Group("/oauth/gmail")
	oauth.Get("/connect", h.Connect)
	oauth.Get("/connection", h.GetConnection)
	oauth.Delete("/connection", h.Disconnect)
}

// RegisterPublic mounts the unauthenticated OAuth callback.
func (h *OAuthHandler) RegisterPublic(app fiber.Router) {
	app.Get("/oauth/gmail/callback", h.Callback)
}

// Connect issues a Google consent URL and stashes a CSRF state token bound
// to the authenticated caller.
func (h *OAuthHandler) Connect(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return response.Unauthorized(c, "unauthorized")
	}

	state, err := generateSecureState()
	if err != nil {
		logger.WithError(err).Error("[OAuth Connect] failed to generate state")
		return response.InternalError(c, "failed to generate state")
	}

	if err := h.stateStore.StoreState(c.Context(), state, userID, OAuthStateTTL); err != nil {
		logger.WithError(err).Error("[OAuth Connect] failed to store state")
		return response.InternalError(c, "failed to store state")
	}

	authURL, err := h.oauthService.GetAuthURL(c.Context(), userID, state)
	if err != nil {
		return RespondError(c, err)
	}

	return response.OK(c, fiber.Map{"auth_url": authURL, "state": state})
}

// Callback exchanges the authorization code and redirects back to the
// frontend with a success/error query flag — Google redirects here
// directly, so this endpoint cannot return a JSON error body the caller
// could act on.
func (h *OAuthHandler) Callback(c *fiber.Ctx) error {
	code := c.Query("code")
	state := c.Query("state")
	frontendURL := "http://localhost:3000"
	if origin := c.Get("Origin"); origin != "" {
		frontendURL = origin
	}

	if errorParam := c.Query("error"); errorParam != "" {
		logger.Warn("[OAuth Callback] provider error: %s", errorParam)
		return c.Redirect(frontendURL + "/settings?error=" + errorParam)
	}
	if code == "" || state == "" {
		return c.Redirect(frontendURL + "/settings?error=missing_code_or_state")
	}

	userID, err := h.stateStore.ValidateState(c.Context(), state)
	if err != nil {
		logger.WithError(err).Warn("[OAuth Callback] state validation failed")
		return c.Redirect(frontendURL + "/settings?error=invalid_state")
	}

	conn, err := h.oauthService.HandleCallback(c.Context(), code, userID)
	if err != nil {
		logger.WithError(err).Error("[OAuth Callback] handle callback failed")
		return c.Redirect(frontendURL + "/settings?error=oauth_failed")
	}

	logger.Info("[OAuth Callback] gmail connected for user %s, connection %d", userID, conn.ID)
	return c.Redirect(frontendURL + "/settings?oauth=success&provider=gmail")
}

func (h *OAuthHandler) GetConnection(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return response.Unauthorized(c, "unauthorized")
	}

	conn, err := h.oauthService.GetConnection(c.Context(), userID)
	if err != nil {
		return RespondError(c, err)
	}
	if conn == nil {
		return response.NotFound(c, "no gmail connection")
	}
	return response.OK(c, conn)
}

func (h *OAuthHandler) Disconnect(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return response.Unauthorized(c, "unauthorized")
	}

	if err := h.oauthService.Disconnect(c.Context(), userID); err != nil {
		return RespondError(c, err)
	}
	return response.OK(c, fiber.Map{"status": "disconnected"})
}
