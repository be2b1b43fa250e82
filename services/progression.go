package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"

	"twinlink/config"
	"twinlink/logger"
	"twinlink/metrics"
	"twinlink/models"
	"twinlink/realtime"
)

// QualityHigh is the ActionContext quality that earns the XP bonus.
const QualityHigh = "high"

const (
	highQualityMultiplier = 1.5
	streakStep            = 0.1
	levelGrowth           = 1.2
	dateLayout            = "2006-01-02"
)

// streak lengths that grant a reward
var streakMilestones = map[int]int64{3: 30, 7: 100, 30: 500}

// ActionContext qualifies a reported action.
type ActionContext struct {
	Quality string `json:"quality,omitempty"`
}

// QualityLabel buckets a 0..1 quality score for ActionContext.
func QualityLabel(q float64) string {
	switch {
	case q >= 0.75:
		return QualityHigh
	case q >= 0.5:
		return "medium"
	}
	return "low"
}

// ActionHandler is the gamification entry point other services report to.
type ActionHandler interface {
	HandleAction(ctx context.Context, userID string, action models.ActionType, ac ActionContext) (*ActionResult, error)
}

// ActionResult describes what one action changed.
type ActionResult struct {
	XP           int64                `json:"xp"`
	Experience   int64                `json:"experience"`
	Level        int                  `json:"level"`
	LeveledUp    bool                 `json:"leveled_up"`
	Streak       models.Streak        `json:"streak"`
	Rewards      []models.Reward      `json:"rewards"`
	Achievements []models.Achievement `json:"achievements"` // unlocked by this action
}

// ComputeXP applies the quality and streak multipliers to base and rounds.
// preStreak is the streak count before this action; alive tells whether it
// still counts.
func ComputeXP(base int64, quality string, preStreak int, alive bool) int64 {
	xp := float64(base)
	if quality == QualityHigh {
		xp *= highQualityMultiplier
	}
	if alive && preStreak >= 1 {
		xp *= 1 + streakStep*float64(preStreak)
	}
	return int64(math.Round(xp))
}

// LevelThreshold is the experience needed to reach level. Level 1 starts at
// 0 and each step costs 20% more than the previous one.
func LevelThreshold(level int, base int64) int64 {
	var total int64
	for l := 1; l < level; l++ {
		total += int64(math.Round(float64(base) * math.Pow(levelGrowth, float64(l-1))))
	}
	return total
}

// LevelFor returns the highest level whose threshold is <= experience.
func LevelFor(experience, base int64) int {
	level := 1
	next := int64(0)
	for {
		next += int64(math.Round(float64(base) * math.Pow(levelGrowth, float64(level-1))))
		if experience < next {
			return level
		}
		level++
	}
}

// StreakUpdate is the result of applying one active day to a streak.
type StreakUpdate struct {
	Count     int
	Alive     bool // the pre-update count still applies as a multiplier
	Milestone bool // Count just reached a milestone
}

// NextStreak advances a streak last active on lastDate (YYYY-MM-DD) by an
// action on today.
func NextStreak(count int, lastDate string, today time.Time) StreakUpdate {
	todayStr := today.Format(dateLayout)
	yesterday := today.AddDate(0, 0, -1).Format(dateLayout)

	switch lastDate {
	case todayStr:
		return StreakUpdate{Count: count, Alive: count >= 1}
	case yesterday:
		n := count + 1
		_, milestone := streakMilestones[n]
		return StreakUpdate{Count: n, Alive: count >= 1, Milestone: milestone}
	}
	return StreakUpdate{Count: 1}
}

type ProgressionService struct {
	DB           *gorm.DB
	baseXP       map[models.ActionType]int64
	levelBase    int64
	rewardTTL    time.Duration
	loc          *time.Location
	clock        clockwork.Clock
	locks        *userLocks
	achievements *AchievementService
	publisher    realtime.Publisher
	log          *logger.Logger
	metrics      *metrics.Manager
}

func NewProgressionService(db *gorm.DB, cfg config.GamificationConfig, loc *time.Location, achievements *AchievementService, publisher realtime.Publisher, clock clockwork.Clock, log *logger.Logger, m *metrics.Manager) *ProgressionService {
	baseXP := make(map[models.ActionType]int64, len(cfg.BaseXP))
	for k, v := range cfg.BaseXP {
		baseXP[models.ActionType(k)] = v
	}
	if cfg.LevelBaseXP <= 0 {
		cfg.LevelBaseXP = 100
	}
	if loc == nil {
		loc = time.UTC
	}
	if publisher == nil {
		publisher = realtime.Discard
	}
	return &ProgressionService{
		DB:           db,
		baseXP:       baseXP,
		levelBase:    cfg.LevelBaseXP,
		rewardTTL:    time.Duration(cfg.RewardExpiryDays) * 24 * time.Hour,
		loc:          loc,
		clock:        clock,
		locks:        newUserLocks(),
		achievements: achievements,
		publisher:    publisher,
		log:          log.With("service", "ProgressionService"),
		metrics:      m,
	}
}

// HandleAction applies XP, level, streak, counters and achievements for one
// action as a single transaction. Actions for the same user are serialized.
func (s *ProgressionService) HandleAction(ctx context.Context, userID string, action models.ActionType, ac ActionContext) (*ActionResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("handle action: %w: user id required", ErrInvalidInput)
	}
	base, ok := s.baseXP[action]
	if !ok || !action.Valid() {
		return nil, fmt.Errorf("handle action: %w: unknown action %q", ErrInvalidInput, action)
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	now := s.clock.Now().UTC()
	result := &ActionResult{}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		prog, err := ensureProgress(tx, userID)
		if err != nil {
			return err
		}
		streak, err := ensureStreak(tx, userID, action)
		if err != nil {
			return err
		}

		upd := NextStreak(streak.Count, streak.LastActiveDate, now.In(s.loc))
		xp := ComputeXP(base, ac.Quality, streak.Count, upd.Alive)

		// experience
		prevLevel := prog.Level
		prog.Experience += xp
		prog.Level = LevelFor(prog.Experience, s.levelBase)
		if prog.Level > prevLevel {
			prog.LastLevelUpAt = &now
			result.LeveledUp = true
			result.Rewards = append(result.Rewards, models.Reward{
				UserID:  userID,
				Type:    models.RewardLevelUp,
				Code:    fmt.Sprintf("level-%d", prog.Level),
				Title:   fmt.Sprintf("Reached level %d", prog.Level),
				Excerpt: fmt.Sprintf("You climbed from level %d to %d", prevLevel, prog.Level),
				Value:   int64(prog.Level) * 10,
			})
		}

		// streak
		streak.Count = upd.Count
		if streak.Count > streak.LongestStreak {
			streak.LongestStreak = streak.Count
		}
		streak.LastActiveDate = now.In(s.loc).Format(dateLayout)
		streak.UpdatedAt = now
		if upd.Milestone {
			result.Rewards = append(result.Rewards, models.Reward{
				UserID:  userID,
				Type:    models.RewardStreak,
				Code:    fmt.Sprintf("%s-streak-%d", slugAction(action), upd.Count),
				Title:   fmt.Sprintf("%d day streak", upd.Count),
				Excerpt: fmt.Sprintf("%d days of %s in a row", upd.Count, slugAction(action)),
				Value:   streakMilestones[upd.Count],
			})
		}

		prog.Increment(action)

		if err := tx.Save(prog).Error; err != nil {
			return err
		}
		if err := tx.Save(streak).Error; err != nil {
			return err
		}

		if s.achievements != nil {
			longest, err := longestStreak(tx, userID)
			if err != nil {
				return err
			}
			unlocked, err := s.achievements.evaluate(tx, prog, longest, now)
			if err != nil {
				return err
			}
			for _, a := range unlocked {
				result.Rewards = append(result.Rewards, s.achievements.reward(a))
			}
			result.Achievements = unlocked
		}

		for i := range result.Rewards {
			if s.rewardTTL > 0 {
				exp := now.Add(s.rewardTTL)
				result.Rewards[i].ExpiresAt = &exp
			}
			result.Rewards[i].CreatedAt = now
			result.Rewards[i].UpdatedAt = now
			if err := tx.Create(&result.Rewards[i]).Error; err != nil {
				return err
			}
		}

		result.XP = xp
		result.Experience = prog.Experience
		result.Level = prog.Level
		result.Streak = *streak
		return nil
	})
	if err != nil {
		return nil, dbErr("handle action "+string(action), err)
	}

	s.metrics.RecordXP(string(action), result.XP)
	if result.LeveledUp {
		s.metrics.RecordLevelUp()
	}
	for _, r := range result.Rewards {
		s.metrics.RecordReward(string(r.Type))
	}

	for _, a := range result.Achievements {
		s.metrics.RecordAchievement()
		s.publish(ctx, realtime.Event{Type: realtime.EventAchievement, UserID: userID, Data: a, At: now})
	}
	if len(result.Rewards) > 0 {
		s.publish(ctx, realtime.Event{Type: realtime.EventRewards, UserID: userID, Data: result.Rewards, At: now})
	}

	s.log.Debug("action handled",
		"userID", userID,
		"action", action,
		"xp", result.XP,
		"experience", result.Experience,
		"level", result.Level,
		"streak", result.Streak.Count,
	)
	return result, nil
}

func (s *ProgressionService) publish(ctx context.Context, ev realtime.Event) {
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.log.Warn("event publish failed", "type", ev.Type, "userID", ev.UserID, "error", err)
	}
}

// GamificationState is the read model returned by GetState.
type GamificationState struct {
	Progress        models.UserProgress `json:"progress"`
	NextLevelAt     int64               `json:"next_level_at"`
	Streaks         []models.Streak     `json:"streaks"`
	UnclaimedReward int64               `json:"unclaimed_rewards"`
}

// GetState returns the user's progression. Unknown users get a fresh level 1
// record.
func (s *ProgressionService) GetState(ctx context.Context, userID string) (*GamificationState, error) {
	var state GamificationState
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		prog, err := ensureProgress(tx, userID)
		if err != nil {
			return err
		}
		state.Progress = *prog
		if err := tx.Where("user_id = ?", userID).Order("action_type").Find(&state.Streaks).Error; err != nil {
			return err
		}
		return tx.Model(&models.Reward{}).
			Where("user_id = ? AND claimed = ? AND expired = ?", userID, false, false).
			Count(&state.UnclaimedReward).Error
	})
	if err != nil {
		return nil, dbErr("get state", err)
	}
	state.NextLevelAt = LevelThreshold(state.Progress.Level+1, s.levelBase)
	return &state, nil
}

func ensureProgress(tx *gorm.DB, userID string) (*models.UserProgress, error) {
	var prog models.UserProgress
	err := tx.Where("user_id = ?", userID).First(&prog).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		prog = models.UserProgress{UserID: userID, Level: 1}
		if err := tx.Create(&prog).Error; err != nil {
			return nil, err
		}
		return &prog, nil
	}
	if err != nil {
		return nil, err
	}
	return &prog, nil
}

func ensureStreak(tx *gorm.DB, userID string, action models.ActionType) (*models.Streak, error) {
	var streak models.Streak
	err := tx.Where("user_id = ? AND action_type = ?", userID, action).First(&streak).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		streak = models.Streak{UserID: userID, ActionType: action}
		if err := tx.Create(&streak).Error; err != nil {
			return nil, err
		}
		return &streak, nil
	}
	if err != nil {
		return nil, err
	}
	return &streak, nil
}

func longestStreak(tx *gorm.DB, userID string) (int64, error) {
	var longest int64
	err := tx.Model(&models.Streak{}).
		Select("COALESCE(MAX(longest_streak), 0)").
		Where("user_id = ?", userID).
		Scan(&longest).Error
	return longest, err
}

func slugAction(a models.ActionType) string {
	return slugify(string(a))
}
