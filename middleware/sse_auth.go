package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"twinlink/logger"
	"twinlink/services"
)

// TokenValidator checks an end-user access token. *services.AuthServiceClient
// implements it.
type TokenValidator interface {
	ValidateToken(ctx context.Context, accessToken, deviceID string) (*services.ValidateResponse, error)
}

// SSEAuthMiddleware validates the `token` and `device_id` query params.
// EventSource cannot send headers, so the stream authenticates here instead of
// behind the gateway context.
func SSEAuthMiddleware(validator TokenValidator, log *logger.Logger) fiber.Handler {
	log = log.With("middleware", "SSEAuth")
	return func(c *fiber.Ctx) error {
		accessToken := strings.TrimSpace(c.Query("token"))
		deviceID := strings.TrimSpace(c.Query("device_id"))
		if accessToken == "" || deviceID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "missing token or device_id in query",
			})
		}

		resp, err := validator.ValidateToken(c.UserContext(), accessToken, deviceID)
		if err != nil {
			log.Warn("sse token validation failed", "deviceID", deviceID, "error", err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}

		c.Locals(LocalUserID, resp.UserID)
		c.Locals(LocalDeviceID, resp.DeviceID)
		c.Locals(LocalUserRoles, resp.Roles)
		log.Debug("sse client authenticated", "userID", resp.UserID, "deviceID", resp.DeviceID)
		return c.Next()
	}
}
