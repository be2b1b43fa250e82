package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"twinlink/models"
	"twinlink/services"
)

func SetupFollowUpRoutes(secured fiber.Router, admin fiber.Router, followups *services.FollowUpService) {
	secured.Get("/followups", func(c *fiber.Ctx) error {
		var statuses []models.FollowUpStatus
		if v := c.Query("status"); v != "" {
			for _, s := range strings.Split(v, ",") {
				statuses = append(statuses, models.FollowUpStatus(strings.ToUpper(strings.TrimSpace(s))))
			}
		}
		list, err := followups.ListForUser(c.UserContext(), currentUser(c), statuses...)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(list)
	})

	secured.Post("/followups/:id/sent", func(c *fiber.Ctx) error {
		fu, err := followups.MarkSent(c.UserContext(), currentUser(c), c.Params("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fu)
	})

	secured.Post("/followups/:id/cancel", func(c *fiber.Ctx) error {
		fu, err := followups.Cancel(c.UserContext(), currentUser(c), c.Params("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fu)
	})

	admin.Post("/followups/sweep", func(c *fiber.Ctx) error {
		res, err := followups.Sweep(c.UserContext())
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(res)
	})
}
