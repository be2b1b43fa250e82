package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"twinlink/models"
	"twinlink/services"
)

func SetupProgressionRoutes(secured fiber.Router, progression *services.ProgressionService, achievements *services.AchievementService, rewards *services.RewardService) {
	// actions reported by the product (analysis runs, timeline entries, ...)
	secured.Post("/actions", func(c *fiber.Ctx) error {
		var req struct {
			Action  string `json:"action"`
			Quality string `json:"quality"`
		}
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid JSON", err)
		}
		action := models.ActionType(strings.ToUpper(strings.TrimSpace(req.Action)))
		if !action.Valid() {
			return badRequest(c, "unknown action "+req.Action, nil)
		}
		res, err := progression.HandleAction(c.UserContext(), currentUser(c), action, services.ActionContext{
			Quality: strings.ToLower(strings.TrimSpace(req.Quality)),
		})
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(res)
	})

	secured.Get("/progress", func(c *fiber.Ctx) error {
		state, err := progression.GetState(c.UserContext(), currentUser(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(state)
	})

	secured.Get("/achievements", func(c *fiber.Ctx) error {
		list, err := achievements.List(c.UserContext(), currentUser(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(list)
	})

	secured.Get("/achievements/:code", func(c *fiber.Ctx) error {
		a, err := achievements.Get(c.UserContext(), currentUser(c), c.Params("code"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(a)
	})

	secured.Get("/rewards", func(c *fiber.Ctx) error {
		list, err := rewards.ListRewards(c.UserContext(), currentUser(c), c.QueryBool("all"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(list)
	})

	secured.Post("/rewards/:id/claim", func(c *fiber.Ctx) error {
		r, err := rewards.ClaimReward(c.UserContext(), currentUser(c), c.Params("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(r)
	})
}
