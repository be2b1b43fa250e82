package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/jonboulle/clockwork"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"twinlink/config"
	"twinlink/handlers"
	"twinlink/logger"
	"twinlink/metrics"
	"twinlink/models"
	"twinlink/realtime"
	"twinlink/services"
	"twinlink/utils"
	"twinlink/workers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	lg, err := logger.New(cfg.Mode, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer lg.Sync()

	if cfg.DatabaseURL == "" {
		lg.Fatal("database_url is not configured")
	}
	if cfg.ServiceToken == "" {
		lg.Fatal("service_token is not configured, gateway requests cannot be authenticated")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		lg.Fatal("invalid timezone", "timezone", cfg.Timezone, "error", err)
	}
	clock := clockwork.NewRealClock()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		lg.Fatal("failed to connect to database", "error", err)
	}
	if err := db.AutoMigrate(models.All()...); err != nil {
		lg.Fatal("failed to migrate database", "error", err)
	}

	m := metrics.NewManager()

	// events: redis when configured so every node's hub sees them
	hub := realtime.NewHub(lg, m)
	var publisher realtime.Publisher = hub
	if cfg.Redis.Addr != "" {
		bus, err := realtime.NewRedisBus(ctx, lg, cfg.Redis.Addr, cfg.Redis.Channel)
		if err != nil {
			lg.Fatal("redis bus", "error", err)
		}
		defer bus.Close()
		if err := bus.StartForwarder(ctx, hub); err != nil {
			lg.Fatal("redis forwarder", "error", err)
		}
		publisher = bus
	}

	var writer services.InsightWriter
	if cfg.Insights.APIKey != "" {
		w, err := services.NewGenAIInsightWriter(ctx, cfg.Insights.APIKey, cfg.Insights.Model)
		if err != nil {
			lg.Warn("gemini insight writer unavailable, using templates", "error", err)
		} else {
			writer = w
		}
	}

	scorer := services.NewCompatibilityScorer(cfg.Compatibility, writer, cfg.Insights.Timeout, lg, m)
	templates := services.NewTemplateSelector(services.DefaultTemplates)
	achievements := services.NewAchievementService(db, nil, lg)
	progression := services.NewProgressionService(db, cfg.Gamification, loc, achievements, publisher, clock, lg, m)
	rewards := services.NewRewardService(db, clock, lg)
	connections := services.NewConnectionService(db, scorer, progression, clock, lg, m)
	activities := services.NewActivityService(db, publisher, clock, lg)
	autopilot := services.NewAutopilotService(db, cfg.Autopilot, loc, services.AutopilotDeps{
		Scorer:      scorer,
		Connections: connections,
		Templates:   templates,
		Activities:  activities,
		Actions:     progression,
		Publisher:   publisher,
		Clock:       clock,
		Log:         lg,
		Metrics:     m,
	})
	followups := services.NewFollowUpService(db, templates, clock, lg, m)

	if _, err := autopilot.FailStaleSessions(ctx); err != nil {
		lg.Error("stale session recovery failed", "error", err)
	}

	archive, err := newArchive(ctx, cfg.Archive, db, clock, lg)
	if err != nil {
		lg.Fatal("archive store", "error", err)
	}

	runner, err := services.NewJobRunner(cfg, loc, clock, lg, autopilot, followups, rewards, archive)
	if err != nil {
		lg.Fatal("job runner", "error", err)
	}
	runner.Start()

	if cfg.Sync.ProfileServiceURL != "" {
		workers.NewProfileSyncWorker(db, cfg.Sync.ProfileServiceURL, cfg.Sync.Token, utils.HTTPClient,
			cfg.Sync.Interval, clock, lg, m).Start(ctx)
	}
	if cfg.Sync.InteractionServiceURL != "" {
		workers.NewInteractionSyncWorker(connections, cfg.Sync.InteractionServiceURL, cfg.Sync.Token, utils.HTTPClient,
			cfg.Sync.Interval, clock, lg, m).Start(ctx)
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: cfg.Mode == "prod",
	})
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins(cfg.AllowedOrigins),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, Cache-Control, X-Service-Token, X-Device-ID",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	deps := handlers.Deps{
		Base:         ctx,
		ServiceToken: cfg.ServiceToken,
		Log:          lg,
		Metrics:      m,
		Profiles:     services.NewProfileService(db),
		Connections:  connections,
		Autopilot:    autopilot,
		Activities:   activities,
		FollowUps:    followups,
		Progression:  progression,
		Achievements: achievements,
		Rewards:      rewards,
		Stream:       services.NewEventStream(hub, 15*time.Second, lg),
	}
	if cfg.Sync.AuthServiceURL != "" {
		deps.Auth = services.NewAuthServiceClient(cfg.Sync.AuthServiceURL, cfg.Sync.Token, lg)
	}
	handlers.Register(app, deps)

	go func() {
		if err := app.Listen(cfg.Addr); err != nil {
			lg.Error("server error", "error", err)
			stop()
		}
	}()
	lg.Info("server running", "addr", cfg.Addr, "origins", cfg.AllowedOrigins)

	<-ctx.Done()
	lg.Info("shutting down")
	if err := runner.Shutdown(); err != nil {
		lg.Warn("job runner shutdown", "error", err)
	}
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		lg.Warn("server shutdown", "error", err)
	}
}

// newArchive picks R2 when a bucket is set, a local directory when only a
// dir is set, and nothing otherwise.
func newArchive(ctx context.Context, cfg config.ArchiveConfig, db *gorm.DB, clock clockwork.Clock, lg *logger.Logger) (*services.ArchiveService, error) {
	var store services.ObjectStore
	r2, err := utils.NewR2Store(ctx, cfg)
	switch {
	case err == nil:
		store = r2
	case !errors.Is(err, utils.ErrArchiveDisabled):
		return nil, err
	case cfg.Dir != "":
		dir, err := utils.NewDirStore(cfg.Dir)
		if err != nil {
			return nil, err
		}
		store = dir
	default:
		lg.Info("session archiving disabled")
		return nil, nil
	}
	return services.NewArchiveService(db, store, clock, lg), nil
}

func allowedOrigins(v string) string {
	parts := strings.Split(v, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return strings.Join(parts, ",")
}
