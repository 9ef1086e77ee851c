package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"subscan/pkg/apperr"
	"subscan/pkg/response"
)

// GetUserID reads the authenticated user id stamped into fiber locals by
// middleware.JWTAuth ("sub" claim, parsed as a uuid.UUID there), returned
// here as a plain string since every domain/port type in this pipeline
// keys sessions and connections by string userId.
func GetUserID(c *fiber.Ctx) (string, error) {
	v := c.Locals("user_id")
	if v == nil {
		return "", errors.New("missing user id in request context")
	}
	switch id := v.(type) {
	case uuid.UUID:
		return id.String(), nil
	case string:
		return id, nil
	default:
		return "", errors.New("unexpected user id type in request context")
	}
}

// RespondError maps a service error onto the pkg/response envelope, using
// the AppError's own code/status when present.
func RespondError(c *fiber.Ctx, err error) error {
	var appErr *apperr.AppError
	if errors.As(err, &appErr) {
		return response.Error(c, appErr.Status, appErr.Code, appErr.Message)
	}
	return response.InternalError(c, err.Error())
}
