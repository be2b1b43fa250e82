package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"twinlink/services"
)

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrDuplicateConnection),
		errors.Is(err, services.ErrPersistenceConflict),
		errors.Is(err, services.ErrInvalidTransition),
		errors.Is(err, services.ErrRewardUnavailable):
		return fiber.StatusConflict
	case errors.Is(err, services.ErrUnauthorized):
		return fiber.StatusForbidden
	case errors.Is(err, services.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, services.ErrGateNotMet):
		return fiber.StatusAccepted
	case errors.Is(err, services.ErrInvalidInput),
		errors.Is(err, services.ErrSelfConnection):
		return fiber.StatusBadRequest
	}
	return fiber.StatusInternalServerError
}

func respondError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status == fiber.StatusAccepted {
		return c.Status(status).JSON(fiber.Map{"skipped": true, "reason": err.Error()})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func badRequest(c *fiber.Ctx, msg string, cause error) error {
	body := fiber.Map{"error": msg}
	if cause != nil {
		body["cause"] = cause.Error()
	}
	return c.Status(fiber.StatusBadRequest).JSON(body)
}

func currentUser(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}
