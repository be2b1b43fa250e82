package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"twinlink/config"
	"twinlink/logger"
	"twinlink/models"
	"twinlink/realtime"
	"twinlink/testutil"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type eventRecorder struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (r *eventRecorder) Publish(_ context.Context, ev realtime.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *eventRecorder) ofType(typ realtime.EventType) []realtime.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []realtime.Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	cfg          *config.Config
	db           *gorm.DB
	clock        *clockwork.FakeClock
	events       *eventRecorder
	scorer       *CompatibilityScorer
	templates    *TemplateSelector
	achievements *AchievementService
	progression  *ProgressionService
	rewards      *RewardService
	connections  *ConnectionService
	activities   *ActivityService
	autopilot    *AutopilotService
	followups    *FollowUpService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.NewNop()
	f := &fixture{
		cfg:    config.New(),
		db:     testutil.DB(t),
		clock:  clockwork.NewFakeClockAt(testNow),
		events: &eventRecorder{},
	}
	f.scorer = NewCompatibilityScorer(f.cfg.Compatibility, nil, 0, log, nil)
	f.templates = NewTemplateSelector(nil)
	f.achievements = NewAchievementService(f.db, nil, log)
	f.progression = NewProgressionService(f.db, f.cfg.Gamification, time.UTC, f.achievements, f.events, f.clock, log, nil)
	f.rewards = NewRewardService(f.db, f.clock, log)
	f.connections = NewConnectionService(f.db, f.scorer, f.progression, f.clock, log, nil)
	f.activities = NewActivityService(f.db, f.events, f.clock, log)
	f.autopilot = f.newAutopilot(NoDelay)
	f.followups = NewFollowUpService(f.db, f.templates, f.clock, log, nil)
	return f
}

func (f *fixture) newAutopilot(pacer Pacer) *AutopilotService {
	return NewAutopilotService(f.db, f.cfg.Autopilot, time.UTC, AutopilotDeps{
		Scorer:      f.scorer,
		Connections: f.connections,
		Templates:   f.templates,
		Activities:  f.activities,
		Actions:     f.progression,
		Publisher:   f.events,
		Pacer:       pacer,
		Clock:       f.clock,
		Log:         logger.NewNop(),
	})
}

func (f *fixture) seed(t *testing.T, profiles ...*models.Profile) {
	t.Helper()
	for _, p := range profiles {
		require.NoError(t, f.db.Create(p).Error)
	}
}

// accepted creates an ACCEPTED connection from initiator to target.
func (f *fixture) accepted(t *testing.T, initiator, target string) *models.Connection {
	t.Helper()
	ctx := context.Background()
	conn, err := f.connections.Request(ctx, initiator, target, RequestOptions{})
	require.NoError(t, err)
	conn, err = f.connections.Accept(ctx, conn.ID, target)
	require.NoError(t, err)
	return conn
}

func profile(userID, name string, openness float64, interests, expertise []string, goals ...models.Goal) *models.Profile {
	return &models.Profile{
		UserID:      userID,
		DisplayName: name,
		Traits:      map[string]float64{"openness": openness},
		Interests:   interests,
		Expertise:   expertise,
		Goals:       goals,
	}
}
