package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"twinlink/logger"
	"twinlink/metrics"
	"twinlink/middleware"
	"twinlink/services"
)

// Deps is everything the HTTP surface talks to. Stream and Auth are optional;
// without them the SSE route is not registered.
type Deps struct {
	Base         context.Context
	ServiceToken string
	Log          *logger.Logger
	Metrics      *metrics.Manager

	Profiles     *services.ProfileService
	Connections  *services.ConnectionService
	Autopilot    *services.AutopilotService
	Activities   *services.ActivityService
	FollowUps    *services.FollowUpService
	Progression  *services.ProgressionService
	Achievements *services.AchievementService
	Rewards      *services.RewardService
	Stream       *services.EventStream
	Auth         middleware.TokenValidator
}

// Register mounts every route. Public routes come first so the /s
// middleware never runs for them.
func Register(app *fiber.App, d Deps) {
	base := d.Base
	if base == nil {
		base = context.Background()
	}

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(d.Metrics.Handler()))
	if d.Stream != nil && d.Auth != nil {
		app.Get("/events/stream", middleware.SSEAuthMiddleware(d.Auth, d.Log), d.Stream.Stream)
	}

	secured := app.Group("/s",
		middleware.GatewayAuthMiddleware(d.ServiceToken, d.Log),
		middleware.UserContextMiddleware(d.Log),
	)
	admin := secured.Group("/admin", middleware.RequireRole("admin"))

	SetupProfileRoutes(secured, d.Profiles)
	SetupConnectionRoutes(secured, d.Connections)
	SetupAutopilotRoutes(base, secured, d.Autopilot, d.Activities, d.Log)
	SetupFollowUpRoutes(secured, admin, d.FollowUps)
	SetupProgressionRoutes(secured, d.Progression, d.Achievements, d.Rewards)
}
