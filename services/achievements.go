package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gosimple/slug"
	"gorm.io/gorm"

	"twinlink/logger"
	"twinlink/models"
)

// AchievementService seeds per-user achievements from the catalog and moves
// their progress forward.
type AchievementService struct {
	DB      *gorm.DB
	catalog []models.AchievementDefinition
	log     *logger.Logger
}

// NewAchievementService uses models.AchievementCatalog when catalog is empty.
// Definitions without a Code get one slugged from their Name.
func NewAchievementService(db *gorm.DB, catalog []models.AchievementDefinition, log *logger.Logger) *AchievementService {
	if len(catalog) == 0 {
		catalog = models.AchievementCatalog
	}
	defs := make([]models.AchievementDefinition, len(catalog))
	for i, d := range catalog {
		if d.Code == "" {
			d.Code = slugify(d.Name)
		}
		defs[i] = d
	}
	return &AchievementService{DB: db, catalog: defs, log: log.With("service", "AchievementService")}
}

func slugify(s string) string {
	return slug.Make(s)
}

// ensure creates any catalog achievement the user does not have yet.
func (s *AchievementService) ensure(tx *gorm.DB, userID string) ([]models.Achievement, error) {
	var have []models.Achievement
	if err := tx.Where("user_id = ?", userID).Find(&have).Error; err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(have))
	for _, a := range have {
		known[a.Type] = true
	}
	for _, d := range s.catalog {
		if known[d.Code] {
			continue
		}
		a := models.Achievement{
			UserID:      userID,
			Type:        d.Code,
			Name:        d.Name,
			Description: d.Description,
			Metric:      d.Metric,
			Target:      d.Target,
		}
		if err := tx.Create(&a).Error; err != nil {
			return nil, err
		}
		have = append(have, a)
	}
	return have, nil
}

// evaluate raises progress of every incomplete achievement and returns the
// ones completed by this call. Progress never decreases.
func (s *AchievementService) evaluate(tx *gorm.DB, prog *models.UserProgress, longestStreak int64, now time.Time) ([]models.Achievement, error) {
	all, err := s.ensure(tx, prog.UserID)
	if err != nil {
		return nil, err
	}
	var unlocked []models.Achievement
	for i := range all {
		a := &all[i]
		if a.Completed || a.Target <= 0 {
			continue
		}
		value := prog.Metric(a.Metric)
		if a.Metric == models.MetricLongestStreak {
			value = longestStreak
		}
		next := AchievementProgress(a.Progress, value, a.Target)
		if next == a.Progress {
			continue
		}
		updates := map[string]any{"progress": next, "updated_at": now}
		if next >= 1 {
			updates["completed"] = true
			updates["completed_at"] = now
		}
		if err := tx.Model(a).Updates(updates).Error; err != nil {
			return nil, err
		}
		a.Progress = next
		if next >= 1 {
			a.Completed = true
			a.CompletedAt = &now
			unlocked = append(unlocked, *a)
			s.log.Info("achievement unlocked", "userID", prog.UserID, "type", a.Type)
		}
	}
	return unlocked, nil
}

// AchievementProgress is max(old, min(1, value/target)).
func AchievementProgress(old float64, value, target int64) float64 {
	if target <= 0 {
		return old
	}
	return math.Max(old, math.Min(1, float64(value)/float64(target)))
}

// reward builds the reward granted for completing a.
func (s *AchievementService) reward(a models.Achievement) models.Reward {
	var value int64
	for _, d := range s.catalog {
		if d.Code == a.Type {
			value = d.RewardValue
			break
		}
	}
	return models.Reward{
		UserID:  a.UserID,
		Type:    models.RewardAchievement,
		Code:    a.Type,
		Title:   a.Name,
		Excerpt: a.Description,
		Value:   value,
	}
}

// List returns the user's achievements, seeding them on first access.
func (s *AchievementService) List(ctx context.Context, userID string) ([]models.Achievement, error) {
	var out []models.Achievement
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.ensure(tx, userID); err != nil {
			return err
		}
		return tx.Where("user_id = ?", userID).
			Order("completed DESC, progress DESC, type ASC").
			Find(&out).Error
	})
	if err != nil {
		return nil, dbErr("list achievements", err)
	}
	return out, nil
}

// Get returns one achievement by type.
func (s *AchievementService) Get(ctx context.Context, userID, code string) (*models.Achievement, error) {
	var a models.Achievement
	err := s.DB.WithContext(ctx).Where("user_id = ? AND type = ?", userID, code).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("achievement %s: %w", code, ErrNotFound)
	}
	if err != nil {
		return nil, dbErr("get achievement", err)
	}
	return &a, nil
}
