package handlers

import (
	"github.com/gofiber/fiber/v2"

	"twinlink/services"
)

func SetupProfileRoutes(secured fiber.Router, profiles *services.ProfileService) {
	secured.Get("/profiles", func(c *fiber.Ctx) error {
		list, err := profiles.Search(c.UserContext(), c.Query("q"), c.QueryInt("limit", 50))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(list)
	})

	secured.Get("/profiles/:userId", func(c *fiber.Ctx) error {
		p, err := profiles.Get(c.UserContext(), c.Params("userId"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(p)
	})
}
