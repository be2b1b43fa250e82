package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"twinlink/logger"
)

// Locals keys set by the middleware in this package.
const (
	LocalUserID    = "user_id"
	LocalUserRoles = "user_roles"
	LocalDeviceID  = "device_id"
)

// UserContextMiddleware extracts the user identity and roles set by the
// gateway. Secured routes (/s/...) require X-User-ID.
func UserContextMiddleware(log *logger.Logger) fiber.Handler {
	log = log.With("middleware", "UserContext")
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get("X-User-ID"))
		path := c.Path()
		if strings.HasPrefix(path, "/s/") && userID == "" {
			log.Warn("X-User-ID missing on secured route", "path", path)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID, request must come through gateway with auth context",
			})
		}

		c.Locals(LocalUserID, userID)
		c.Locals(LocalUserRoles, splitRoles(c.Get("X-User-Roles")))
		return c.Next()
	}
}

// RequireRole rejects requests whose gateway roles do not include role.
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		roles, _ := c.Locals(LocalUserRoles).([]string)
		for _, r := range roles {
			if r == role {
				return c.Next()
			}
		}
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden"})
	}
}

func splitRoles(v string) []string {
	var roles []string
	for _, r := range strings.Split(v, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}
