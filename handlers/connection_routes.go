package handlers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"twinlink/models"
	"twinlink/services"
)

func SetupConnectionRoutes(secured fiber.Router, connections *services.ConnectionService) {
	secured.Post("/connections", func(c *fiber.Ctx) error {
		var req struct {
			TargetID string `json:"target_id"`
			Message  string `json:"message"`
		}
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid JSON", err)
		}
		conn, err := connections.Request(c.UserContext(), currentUser(c), req.TargetID, services.RequestOptions{
			CreatedBy: models.CreatedByUser,
			Message:   req.Message,
		})
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(conn)
	})

	secured.Get("/connections", func(c *fiber.Ctx) error {
		var statuses []models.ConnectionStatus
		if v := c.Query("status"); v != "" {
			for _, s := range strings.Split(v, ",") {
				statuses = append(statuses, models.ConnectionStatus(strings.ToUpper(strings.TrimSpace(s))))
			}
		}
		conns, err := connections.ListForUser(c.UserContext(), currentUser(c), statuses...)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(conns)
	})

	secured.Post("/connections/:id/accept", func(c *fiber.Ctx) error {
		conn, err := connections.Accept(c.UserContext(), c.Params("id"), currentUser(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(conn)
	})

	secured.Post("/connections/:id/reject", func(c *fiber.Ctx) error {
		conn, err := connections.Reject(c.UserContext(), c.Params("id"), currentUser(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(conn)
	})

	secured.Post("/connections/:id/interactions", func(c *fiber.Ctx) error {
		var req struct {
			Kind       models.InteractionKind `json:"kind"`
			Sentiment  float64                `json:"sentiment"`
			ExternalID string                 `json:"external_id"`
			OccurredAt *time.Time             `json:"occurred_at"`
		}
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid JSON", err)
		}
		in := services.InteractionInput{
			ConnectionID: c.Params("id"),
			ActorID:      currentUser(c),
			Kind:         req.Kind,
			Sentiment:    req.Sentiment,
			ExternalID:   req.ExternalID,
		}
		if req.OccurredAt != nil {
			in.OccurredAt = *req.OccurredAt
		}
		interaction, created, err := connections.RecordInteraction(c.UserContext(), in)
		if err != nil {
			return respondError(c, err)
		}
		status := fiber.StatusCreated
		if !created {
			status = fiber.StatusOK
		}
		return c.Status(status).JSON(interaction)
	})

	secured.Get("/compatibility/:userId", func(c *fiber.Ctx) error {
		res, err := connections.Compatibility(c.UserContext(), currentUser(c), c.Params("userId"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(res)
	})
}
