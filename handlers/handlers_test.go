package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twinlink/config"
	"twinlink/logger"
	"twinlink/models"
	"twinlink/services"
	"twinlink/testutil"
)

const token = "gateway-secret"

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	cfg := config.New()
	db := testutil.DB(t)
	log := logger.NewNop()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	for _, p := range []*models.Profile{
		{UserID: "alice", DisplayName: "Alice", Interests: []string{"ai"}},
		{UserID: "bob", DisplayName: "Bob", Interests: []string{"ai"}},
	} {
		require.NoError(t, db.Create(p).Error)
	}

	scorer := services.NewCompatibilityScorer(cfg.Compatibility, nil, 0, log, nil)
	templates := services.NewTemplateSelector(nil)
	achievements := services.NewAchievementService(db, nil, log)
	progression := services.NewProgressionService(db, cfg.Gamification, time.UTC, achievements, nil, clock, log, nil)
	connections := services.NewConnectionService(db, scorer, progression, clock, log, nil)
	activities := services.NewActivityService(db, nil, clock, log)
	autopilot := services.NewAutopilotService(db, cfg.Autopilot, time.UTC, services.AutopilotDeps{
		Scorer:      scorer,
		Connections: connections,
		Templates:   templates,
		Activities:  activities,
		Actions:     progression,
		Pacer:       services.NoDelay,
		Clock:       clock,
		Log:         log,
	})

	app := fiber.New()
	Register(app, Deps{
		Base:         context.Background(),
		ServiceToken: token,
		Log:          log,
		Profiles:     services.NewProfileService(db),
		Connections:  connections,
		Autopilot:    autopilot,
		Activities:   activities,
		FollowUps:    services.NewFollowUpService(db, templates, clock, log, nil),
		Progression:  progression,
		Achievements: achievements,
		Rewards:      services.NewRewardService(db, clock, log),
	})
	return app
}

type call struct {
	method string
	path   string
	user   string
	roles  string
	body   string
}

func do(t *testing.T, app *fiber.App, c call) (int, map[string]any) {
	t.Helper()
	var body io.Reader
	if c.body != "" {
		body = strings.NewReader(c.body)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if c.user != "" {
		req.Header.Set("X-User-ID", c.user)
	}
	if c.roles != "" {
		req.Header.Set("X-User-Roles", c.roles)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestPublicAndSecuredRoutes(t *testing.T) {
	app := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/healthz", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/s/progress", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode, "no gateway token")

	status, _ := do(t, app, call{method: "GET", path: "/s/progress"})
	assert.Equal(t, fiber.StatusUnauthorized, status, "no user id")

	status, body := do(t, app, call{method: "GET", path: "/s/profiles/bob", user: "alice"})
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "Bob", body["display_name"])

	status, _ = do(t, app, call{method: "GET", path: "/s/profiles/zed", user: "alice"})
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestConnectionRoutesMapErrors(t *testing.T) {
	app := newTestApp(t)

	status, body := do(t, app, call{method: "POST", path: "/s/connections", user: "alice", body: `{"target_id":"bob"}`})
	require.Equal(t, fiber.StatusCreated, status)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "PENDING", body["status"])

	status, _ = do(t, app, call{method: "POST", path: "/s/connections", user: "bob", body: `{"target_id":"alice"}`})
	assert.Equal(t, fiber.StatusConflict, status)

	status, _ = do(t, app, call{method: "POST", path: "/s/connections", user: "alice", body: `{"target_id":"alice"}`})
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = do(t, app, call{method: "POST", path: fmt.Sprintf("/s/connections/%s/accept", id), user: "alice"})
	assert.Equal(t, fiber.StatusForbidden, status)

	status, body = do(t, app, call{method: "POST", path: fmt.Sprintf("/s/connections/%s/accept", id), user: "bob"})
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "ACCEPTED", body["status"])

	status, _ = do(t, app, call{method: "POST", path: "/s/connections/missing/accept", user: "bob"})
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestAutopilotRunRoutes(t *testing.T) {
	app := newTestApp(t)

	status, body := do(t, app, call{
		method: "POST", path: "/s/autopilot/run?wait=true", user: "alice",
		body: `{"max_connections":1,"min_compatibility":0}`,
	})
	require.Equal(t, fiber.StatusOK, status, "%v", body)
	assert.Equal(t, "COMPLETED", body["status"])
	assert.EqualValues(t, 1, body["connections_created"])

	// second run inside the cooldown
	status, body = do(t, app, call{method: "POST", path: "/s/autopilot/run", user: "alice"})
	assert.Equal(t, fiber.StatusAccepted, status)
	assert.Equal(t, true, body["skipped"])
	assert.Contains(t, body["reason"], "cooldown")

	status, body = do(t, app, call{method: "POST", path: "/s/autopilot/abort", user: "alice"})
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, false, body["aborted"])

	status, body = do(t, app, call{
		method: "PUT", path: "/s/autopilot/settings", user: "alice",
		body: `{"enabled":true,"settings":{"max_connections":3,"min_compatibility":2}}`,
	})
	assert.Equal(t, fiber.StatusBadRequest, status, "%v", body)
}

func TestAdminAndActionRoutes(t *testing.T) {
	app := newTestApp(t)

	status, _ := do(t, app, call{method: "POST", path: "/s/admin/followups/sweep", user: "alice"})
	assert.Equal(t, fiber.StatusForbidden, status)

	status, body := do(t, app, call{method: "POST", path: "/s/admin/followups/sweep", user: "ops", roles: "support, admin"})
	assert.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 0, body["scanned"])

	status, _ = do(t, app, call{method: "POST", path: "/s/actions", user: "alice", body: `{"action":"dance"}`})
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body = do(t, app, call{method: "POST", path: "/s/actions", user: "alice", body: `{"action":"message","quality":"HIGH"}`})
	assert.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 15, body["xp"])
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		services.ErrDuplicateConnection: fiber.StatusConflict,
		services.ErrRewardUnavailable:   fiber.StatusConflict,
		services.ErrUnauthorized:        fiber.StatusForbidden,
		services.ErrNotFound:            fiber.StatusNotFound,
		services.ErrGateNotMet:          fiber.StatusAccepted,
		services.ErrSelfConnection:      fiber.StatusBadRequest,
		services.ErrSessionFailed:       fiber.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, statusFor(fmt.Errorf("wrapped: %w", err)), err.Error())
	}
}
