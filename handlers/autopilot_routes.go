package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"twinlink/logger"
	"twinlink/models"
	"twinlink/services"
)

// SetupAutopilotRoutes registers the autopilot endpoints. Sessions started
// over HTTP run on base, not on the request context, unless ?wait=true.
func SetupAutopilotRoutes(base context.Context, secured fiber.Router, autopilot *services.AutopilotService, activities *services.ActivityService, log *logger.Logger) {
	log = log.With("routes", "autopilot")

	secured.Get("/autopilot/settings", func(c *fiber.Ctx) error {
		pref, err := autopilot.GetSettings(c.UserContext(), currentUser(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(pref)
	})

	secured.Put("/autopilot/settings", func(c *fiber.Ctx) error {
		req := struct {
			Enabled  bool                     `json:"enabled"`
			Settings models.AutopilotSettings `json:"settings"`
		}{Settings: autopilot.DefaultSettings()}
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid JSON", err)
		}
		pref, err := autopilot.SaveSettings(c.UserContext(), currentUser(c), req.Enabled, req.Settings)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(pref)
	})

	secured.Post("/autopilot/run", func(c *fiber.Ctx) error {
		userID := currentUser(c)
		pref, err := autopilot.GetSettings(c.UserContext(), userID)
		if err != nil {
			return respondError(c, err)
		}
		settings := pref.Settings
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&settings); err != nil {
				return badRequest(c, "invalid JSON", err)
			}
		}

		if c.QueryBool("wait") {
			session, err := autopilot.Run(c.UserContext(), userID, settings)
			if err != nil && !errors.Is(err, services.ErrSessionFailed) {
				return respondError(c, err)
			}
			if err != nil {
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error(), "session": session})
			}
			return c.JSON(session)
		}

		reason, err := autopilot.ShouldRun(c.UserContext(), userID, settings)
		if err != nil {
			return respondError(c, err)
		}
		if reason != "" {
			return respondError(c, fmt.Errorf("%w: %s", services.ErrGateNotMet, reason))
		}
		go func() {
			if _, err := autopilot.Run(base, userID, settings); err != nil {
				log.Warn("background autopilot run ended with error", "userID", userID, "error", err)
			}
		}()
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"started": true})
	})

	secured.Post("/autopilot/abort", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"aborted": autopilot.Abort(currentUser(c))})
	})

	secured.Get("/autopilot/sessions", func(c *fiber.Ctx) error {
		sessions, err := autopilot.ListSessions(c.UserContext(), currentUser(c), c.QueryInt("limit", 20))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(sessions)
	})

	secured.Get("/autopilot/sessions/:id", func(c *fiber.Ctx) error {
		session, err := autopilot.GetSession(c.UserContext(), currentUser(c), c.Params("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(session)
	})

	secured.Get("/autopilot/activities", func(c *fiber.Ctx) error {
		list, err := activities.List(c.UserContext(), currentUser(c), c.Query("session_id"), c.QueryInt("limit", 50))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(list)
	})
}
