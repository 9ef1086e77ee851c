package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"subscan/core/domain"
	"subscan/core/port/in"
	"subscan/core/port/out"
	"subscan/pkg/response"
)

// ScanHandler mounts the durable, queue-backed Gmail scan routes (SPEC_FULL
// §6): start/run/cancel/status/diagnostics, plus the merchant override
// confirm endpoint; the stream route is mounted by SSEHandler. Grounded on the teacher's per-feature handler
// shape (Register(router), one struct per inbound port).
type ScanHandler struct {
	scan      in.ScanService
	oauthRepo out.OAuthRepository
	overrides out.OverrideStore
}

func NewScanHandler(scan in.ScanService, oauthRepo out.OAuthRepository, overrides out.OverrideStore) *ScanHandler {
	return &ScanHandler{scan: scan, oauthRepo: oauthRepo, overrides: overrides}
}

func (h *ScanHandler) Register(app fiber.Router) {
	g := app.Group("/gmail/scan")
	g.Post("/start", h.Start)
	g.Post("/run", h.Run)
	g.Post("/cancel", h.Cancel)
	g.Get("/status", h.Status)
	g.Get("/diagnostics/:sessionId", h.Diagnostics)

	app.Post("/merchant/confirm", h.ConfirmMerchant)
}

type inlineAuth struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
	ExpiresAt    *time.Time `json:"expiresAt"`
}

type startRequest struct {
	Auth    *inlineAuth    `json:"auth"`
	Options domain.Options `json:"options"`
}

// Start persists the (optional) inline token against the user's Gmail
// connection, then hands off to ScanService.Start, which clamps Options to
// the session's mode-appropriate SLO budget and enqueues the first chunk.
func (h *ScanHandler) Start(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return response.Unauthorized(c, "unauthorized")
	}

	var req startRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}

	if req.Auth != nil && req.Auth.AccessToken != "" {
		if err := h.upsertInlineToken(c.Context(), userID, req.Auth); err != nil {
			return response.InternalError(c, "failed to store token")
		}
	}

	sess, err := h.scan.Start(c.Context(), userID, domain.ProviderGmail, req.Options)
	if err != nil {
		return RespondError(c, err)
	}
	return response.OK(c, fiber.Map{"sessionId": sess.ID, "status": sess.Status})
}

// upsertInlineToken lets a caller hand over a Gmail token directly instead
// of going through the /oauth/gmail/connect redirect flow, writing it
// through the same OAuthRepository the callback handler uses.
func (h *ScanHandler) upsertInlineToken(ctx context.Context, userID string, auth *inlineAuth) error {
	expiresAt := time.Now().Add(time.Hour)
	if auth.ExpiresAt != nil {
		expiresAt = *auth.ExpiresAt
	}

	entities, err := h.oauthRepo.ListByUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, e := range entities {
		if e.Provider == string(domain.ProviderGmail) {
			e.AccessToken = auth.AccessToken
			if auth.RefreshToken != "" {
				e.RefreshToken = auth.RefreshToken
			}
			e.ExpiresAt = expiresAt
			e.IsConnected = true
			return h.oauthRepo.Update(ctx, e)
		}
	}

	return h.oauthRepo.Create(ctx, &out.OAuthConnectionEntity{
		UserID:       userID,
		Provider:     string(domain.ProviderGmail),
		AccessToken:  auth.AccessToken,
		RefreshToken: auth.RefreshToken,
		ExpiresAt:    expiresAt,
		IsConnected:  true,
	})
}

type sessionIDRequest struct {
	SessionID string `json:"sessionId"`
}

func (h *ScanHandler) Run(c *fiber.Ctx) error {
	var req sessionIDRequest
	if err := c.BodyParser(&req); err != nil || req.SessionID == "" {
		return response.BadRequest(c, "sessionId required")
	}
	if err := h.scan.Run(c.Context(), req.SessionID); err != nil {
		return RespondError(c, err)
	}
	return response.OK(c, fiber.Map{"ok": true})
}

func (h *ScanHandler) Cancel(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return response.Unauthorized(c, "unauthorized")
	}
	var req sessionIDRequest
	if err := c.BodyParser(&req); err != nil || req.SessionID == "" {
		return response.BadRequest(c, "sessionId required")
	}
	if err := h.scan.Cancel(c.Context(), req.SessionID, userID); err != nil {
		return RespondError(c, err)
	}
	return response.OK(c, fiber.Map{"ok": true})
}

func (h *ScanHandler) Status(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return response.Unauthorized(c, "unauthorized")
	}
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		return response.BadRequest(c, "sessionId required")
	}
	sess, err := h.scan.Status(c.Context(), sessionID, userID)
	if err != nil {
		return RespondError(c, err)
	}
	return response.OK(c, sess)
}

// Diagnostics returns the session snapshot plus its full event history —
// the same poll surface the SSE handler uses, replayed from id 0.
func (h *ScanHandler) Diagnostics(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return response.Unauthorized(c, "unauthorized")
	}
	sessionID := c.Params("sessionId")

	sess, err := h.scan.Status(c.Context(), sessionID, userID)
	if err != nil {
		return RespondError(c, err)
	}
	events, err := h.scan.Stream(c.Context(), sessionID, userID, 0)
	if err != nil {
		return RespondError(c, err)
	}
	return response.OK(c, fiber.Map{"session": sess, "events": events})
}

type confirmMerchantRequest struct {
	CanonicalName string `json:"canonicalName"`
	From          string `json:"from"`
	SenderEmail   string `json:"senderEmail"`
	SenderDomain  string `json:"senderDomain"`
}

// ConfirmMerchant upserts a per-user merchant-name override keyed by
// whichever of from/senderEmail/senderDomain the caller supplied.
func (h *ScanHandler) ConfirmMerchant(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return response.Unauthorized(c, "unauthorized")
	}

	var req confirmMerchantRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}
	if req.CanonicalName == "" {
		return response.BadRequest(c, "canonicalName required")
	}

	senderEmail := req.SenderEmail
	if senderEmail == "" {
		senderEmail = req.From
	}
	if senderEmail == "" && req.SenderDomain == "" {
		return response.BadRequest(c, "from, senderEmail, or senderDomain required")
	}

	override := domain.UserOverride{
		UserID:        userID,
		SenderEmail:   senderEmail,
		SenderDomain:  req.SenderDomain,
		CanonicalName: req.CanonicalName,
	}
	if err := h.overrides.Save(c.Context(), override); err != nil {
		return RespondError(c, err)
	}
	return response.OK(c, fiber.Map{"saved": true})
}
