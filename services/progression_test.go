package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twinlink/models"
	"twinlink/realtime"
)

func TestComputeXP(t *testing.T) {
	convey.Convey("Given a MESSAGE action worth 10 XP", t, func() {
		convey.Convey("Then high quality without a streak earns 15", func() {
			convey.So(ComputeXP(10, QualityHigh, 0, false), convey.ShouldEqual, 15)
			convey.So(ComputeXP(10, QualityHigh, 0, true), convey.ShouldEqual, 15)
		})

		convey.Convey("Then other qualities earn the base", func() {
			convey.So(ComputeXP(10, "medium", 0, false), convey.ShouldEqual, 10)
			convey.So(ComputeXP(10, "", 0, false), convey.ShouldEqual, 10)
		})

		convey.Convey("Then a live streak adds ten percent per day", func() {
			convey.So(ComputeXP(10, "", 2, true), convey.ShouldEqual, 12)
			convey.So(ComputeXP(50, "", 1, true), convey.ShouldEqual, 55)
		})

		convey.Convey("Then a broken streak adds nothing", func() {
			convey.So(ComputeXP(10, "", 5, false), convey.ShouldEqual, 10)
		})
	})
}

func TestLevels(t *testing.T) {
	convey.Convey("Given a level base of 100 XP", t, func() {
		convey.Convey("Then thresholds grow by 20 percent per level", func() {
			convey.So(LevelThreshold(1, 100), convey.ShouldEqual, 0)
			convey.So(LevelThreshold(2, 100), convey.ShouldEqual, 100)
			convey.So(LevelThreshold(3, 100), convey.ShouldEqual, 220)
			convey.So(LevelThreshold(4, 100), convey.ShouldEqual, 364)
		})

		convey.Convey("Then experience exactly at a threshold reaches that level", func() {
			convey.So(LevelFor(0, 100), convey.ShouldEqual, 1)
			convey.So(LevelFor(99, 100), convey.ShouldEqual, 1)
			convey.So(LevelFor(100, 100), convey.ShouldEqual, 2)
			convey.So(LevelFor(219, 100), convey.ShouldEqual, 2)
			convey.So(LevelFor(220, 100), convey.ShouldEqual, 3)
		})

		convey.Convey("Then LevelFor agrees with LevelThreshold", func() {
			for level := 1; level <= 30; level++ {
				convey.So(LevelFor(LevelThreshold(level, 100), 100), convey.ShouldEqual, level)
			}
		})
	})
}

func TestNextStreak(t *testing.T) {
	convey.Convey("Given today is 2026-03-10", t, func() {
		today := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

		convey.Convey("Then a first action starts at one", func() {
			convey.So(NextStreak(0, "", today), convey.ShouldResemble, StreakUpdate{Count: 1})
		})

		convey.Convey("Then yesterday's streak increments", func() {
			convey.So(NextStreak(4, "2026-03-09", today), convey.ShouldResemble, StreakUpdate{Count: 5, Alive: true})
		})

		convey.Convey("Then reaching a milestone is flagged", func() {
			convey.So(NextStreak(6, "2026-03-09", today), convey.ShouldResemble, StreakUpdate{Count: 7, Alive: true, Milestone: true})
		})

		convey.Convey("Then a second action today keeps the count", func() {
			convey.So(NextStreak(3, "2026-03-10", today), convey.ShouldResemble, StreakUpdate{Count: 3, Alive: true})
		})

		convey.Convey("Then a gap longer than a day resets to one", func() {
			convey.So(NextStreak(9, "2026-03-08", today), convey.ShouldResemble, StreakUpdate{Count: 1})
		})
	})
}

func TestAchievementProgress(t *testing.T) {
	convey.Convey("Given an achievement targeting 10", t, func() {
		convey.So(AchievementProgress(0, 3, 10), convey.ShouldAlmostEqual, 0.3, 1e-12)
		convey.So(AchievementProgress(0.5, 3, 10), convey.ShouldEqual, 0.5)
		convey.So(AchievementProgress(0.5, 30, 10), convey.ShouldEqual, 1)
		convey.So(AchievementProgress(0.2, 5, 0), convey.ShouldEqual, 0.2)
	})
}

func TestHandleActionLevelsAndAchievements(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.progression.HandleAction(ctx, "alice", models.ActionMessage, ActionContext{Quality: QualityHigh})
	require.NoError(t, err)
	assert.EqualValues(t, 15, res.XP)
	assert.Equal(t, 1, res.Level)
	assert.Equal(t, 1, res.Streak.Count)
	assert.Empty(t, res.Rewards)
	assert.Empty(t, f.events.ofType(realtime.EventRewards))

	res, err = f.progression.HandleAction(ctx, "alice", models.ActionConnection, ActionContext{})
	require.NoError(t, err)
	assert.EqualValues(t, 50, res.XP)
	assert.EqualValues(t, 65, res.Experience)
	require.Len(t, res.Achievements, 1)
	assert.Equal(t, "first-connection", res.Achievements[0].Type)
	require.Len(t, res.Rewards, 1)
	assert.Equal(t, models.RewardAchievement, res.Rewards[0].Type)
	assert.EqualValues(t, 25, res.Rewards[0].Value)
	assert.Len(t, f.events.ofType(realtime.EventAchievement), 1)
	assert.Len(t, f.events.ofType(realtime.EventRewards), 1)

	// second connection today: streak of one still counts
	res, err = f.progression.HandleAction(ctx, "alice", models.ActionConnection, ActionContext{})
	require.NoError(t, err)
	assert.EqualValues(t, 55, res.XP)
	assert.EqualValues(t, 120, res.Experience)
	assert.True(t, res.LeveledUp)
	assert.Equal(t, 2, res.Level)
	require.Len(t, res.Rewards, 1)
	assert.Equal(t, "level-2", res.Rewards[0].Code)
	assert.EqualValues(t, 20, res.Rewards[0].Value)
	require.NotNil(t, res.Rewards[0].ExpiresAt)
	assert.True(t, res.Rewards[0].ExpiresAt.Equal(testNow.Add(30*24*time.Hour)))

	state, err := f.progression.GetState(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 2, state.Progress.TotalConnections)
	assert.EqualValues(t, 1, state.Progress.TotalMessages)
	assert.EqualValues(t, 220, state.NextLevelAt)
	assert.EqualValues(t, 2, state.UnclaimedReward)
	assert.Len(t, state.Streaks, 2)
}

func TestHandleActionStreaks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	expect := []struct {
		advance time.Duration
		xp      int64
		count   int
		reward  string
	}{
		{0, 10, 1, ""},
		{24 * time.Hour, 11, 2, ""},
		{24 * time.Hour, 12, 3, "message-streak-3"},
		{48 * time.Hour, 10, 1, ""},
	}
	for i, e := range expect {
		f.clock.Advance(e.advance)
		res, err := f.progression.HandleAction(ctx, "bob", models.ActionMessage, ActionContext{})
		require.NoError(t, err, "step %d", i)
		assert.Equal(t, e.xp, res.XP, "step %d", i)
		assert.Equal(t, e.count, res.Streak.Count, "step %d", i)
		if e.reward == "" {
			assert.Empty(t, res.Rewards, "step %d", i)
			continue
		}
		require.Len(t, res.Rewards, 1, "step %d", i)
		assert.Equal(t, e.reward, res.Rewards[0].Code)
		assert.Equal(t, models.RewardStreak, res.Rewards[0].Type)
		assert.EqualValues(t, 30, res.Rewards[0].Value)
	}

	state, err := f.progression.GetState(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, state.Streaks, 1)
	assert.Equal(t, 1, state.Streaks[0].Count)
	assert.Equal(t, 3, state.Streaks[0].LongestStreak)
}

func TestHandleActionRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.progression.HandleAction(ctx, "", models.ActionMessage, ActionContext{})
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = f.progression.HandleAction(ctx, "alice", models.ActionType("DANCE"), ActionContext{})
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestAchievementProgressIsMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seen := map[string]float64{}
	actions := []models.ActionType{
		models.ActionMessage, models.ActionConnection, models.ActionAnalysis,
		models.ActionMessage, models.ActionVoiceChat, models.ActionAutopilot,
	}
	for day, action := range actions {
		if day > 0 {
			f.clock.Advance(24 * time.Hour)
		}
		_, err := f.progression.HandleAction(ctx, "carol", action, ActionContext{})
		require.NoError(t, err)

		list, err := f.achievements.List(ctx, "carol")
		require.NoError(t, err)
		require.Len(t, list, len(models.AchievementCatalog))
		for _, a := range list {
			assert.GreaterOrEqual(t, a.Progress, seen[a.Type], "achievement %s went backwards", a.Type)
			seen[a.Type] = a.Progress
		}
	}

	a, err := f.achievements.Get(ctx, "carol", "analyst")
	require.NoError(t, err)
	assert.InDelta(t, 0.2, a.Progress, 1e-9)

	_, err = f.achievements.Get(ctx, "carol", "no-such-thing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestHandleActionRollsBackOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.progression.HandleAction(ctx, "zed", models.ActionMessage, ActionContext{})
	require.NoError(t, err)

	// the achievement step runs last inside the transaction
	require.NoError(t, f.db.Migrator().DropTable(&models.Achievement{}))

	_, err = f.progression.HandleAction(ctx, "zed", models.ActionConnection, ActionContext{})
	require.Error(t, err)

	var prog models.UserProgress
	require.NoError(t, f.db.Where("user_id = ?", "zed").First(&prog).Error)
	assert.EqualValues(t, 10, prog.Experience)
	assert.EqualValues(t, 0, prog.TotalConnections)
	assert.EqualValues(t, 1, prog.TotalMessages)

	var streaks, rewards int64
	require.NoError(t, f.db.Model(&models.Streak{}).
		Where("user_id = ? AND action_type = ?", "zed", models.ActionConnection).Count(&streaks).Error)
	assert.Zero(t, streaks)
	require.NoError(t, f.db.Model(&models.Reward{}).Where("user_id = ?", "zed").Count(&rewards).Error)
	assert.Zero(t, rewards)
	assert.Empty(t, f.events.ofType(realtime.EventRewards))

	// a first action for a new user leaves nothing behind either
	_, err = f.progression.HandleAction(ctx, "yan", models.ActionConnection, ActionContext{})
	require.Error(t, err)
	var rows int64
	require.NoError(t, f.db.Model(&models.UserProgress{}).Where("user_id = ?", "yan").Count(&rows).Error)
	assert.Zero(t, rows)
	require.NoError(t, f.db.Model(&models.Streak{}).Where("user_id = ?", "yan").Count(&rows).Error)
	assert.Zero(t, rows)
}

func TestHandleActionSerializesPerUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.progression.HandleAction(ctx, "dave", models.ActionMessage, ActionContext{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	state, err := f.progression.GetState(ctx, "dave")
	require.NoError(t, err)
	assert.EqualValues(t, 8, state.Progress.TotalMessages)
}
