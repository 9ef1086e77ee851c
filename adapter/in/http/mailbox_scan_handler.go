package http

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"subscan/core/domain"
	"subscan/core/port/in"
	"subscan/pkg/response"
)

// MailboxScanHandler mounts the stateless, credential-in-request-body scan
// routes (SPEC_FULL §6): /v1/email/verify and /v1/email/scan. Unlike the
// Gmail session routes, these never touch the Store or the queue — the
// caller gets candidates back in the same HTTP response.
type MailboxScanHandler struct {
	svc in.MailboxScanService
}

func NewMailboxScanHandler(svc in.MailboxScanService) *MailboxScanHandler {
	return &MailboxScanHandler{svc: svc}
}

func (h *MailboxScanHandler) Register(app fiber.Router) {
	email := app.Group("/email")
	email.Post("/verify", h.Verify)
	email.Post("/scan", h.Scan)
}

type imapRequest struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Insecure bool   `json:"insecure"`
}

type emailAuthRequest struct {
	Email        string     `json:"email"`
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
	Password     string     `json:"password"`
	ExpiresAt    *time.Time `json:"expiresAt"`
}

func (r emailAuthRequest) toConnection(userID string) *domain.OAuthConnection {
	token := r.AccessToken
	if token == "" {
		token = r.Password
	}
	expiresAt := time.Now().Add(time.Hour)
	if r.ExpiresAt != nil {
		expiresAt = *r.ExpiresAt
	}
	return &domain.OAuthConnection{
		UserID:       userID,
		Email:        r.Email,
		AccessToken:  token,
		RefreshToken: r.RefreshToken,
		ExpiresAt:    expiresAt,
		IsConnected:  true,
	}
}

type verifyRequest struct {
	Provider domain.Provider  `json:"provider"`
	IMAP     imapRequest      `json:"imap"`
	Auth     emailAuthRequest `json:"auth"`
}

func (h *MailboxScanHandler) Verify(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return response.Unauthorized(c, "unauthorized")
	}

	var req verifyRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}
	if req.Provider == "" {
		return response.BadRequest(c, "provider required")
	}

	conn := req.Auth.toConnection(userID)
	imapCfg := in.ImapConfig{Host: req.IMAP.Host, Port: req.IMAP.Port, Insecure: req.IMAP.Insecure}

	if err := h.svc.Verify(c.Context(), req.Provider, imapCfg, conn); err != nil {
		return RespondError(c, err)
	}
	return response.OK(c, fiber.Map{"ok": true, "provider": req.Provider, "email": conn.Email})
}

type scanRequest struct {
	Provider domain.Provider  `json:"provider"`
	IMAP     imapRequest      `json:"imap"`
	Auth     emailAuthRequest `json:"auth"`
	Options  domain.Options   `json:"options"`
}

func (h *MailboxScanHandler) Scan(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return response.Unauthorized(c, "unauthorized")
	}

	var req scanRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}
	if req.Provider == "" {
		return response.BadRequest(c, "provider required")
	}

	conn := req.Auth.toConnection(userID)
	imapCfg := in.ImapConfig{Host: req.IMAP.Host, Port: req.IMAP.Port, Insecure: req.IMAP.Insecure}

	result, err := h.svc.Scan(c.Context(), req.Provider, imapCfg, conn, req.Options)
	if err != nil {
		return RespondError(c, err)
	}
	return response.OK(c, fiber.Map{
		"ok":         true,
		"stats":      result.Stats,
		"candidates": result.Candidates,
		"nextCursor": result.NextCursor,
	})
}
