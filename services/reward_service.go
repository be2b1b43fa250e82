// services/reward_service.go
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"

	"twinlink/logger"
	"twinlink/models"
)

type RewardService struct {
	DB    *gorm.DB
	clock clockwork.Clock
	log   *logger.Logger
}

func NewRewardService(db *gorm.DB, clock clockwork.Clock, log *logger.Logger) *RewardService {
	return &RewardService{DB: db, clock: clock, log: log.With("service", "RewardService")}
}

// ListRewards returns the user's rewards, newest first. Claimed and expired
// rewards are included only when all is set.
func (s *RewardService) ListRewards(ctx context.Context, userID string, all bool) ([]models.Reward, error) {
	q := s.DB.WithContext(ctx).Where("user_id = ?", userID)
	if !all {
		q = q.Where("claimed = ? AND expired = ?", false, false)
	}
	var rewards []models.Reward
	if err := q.Order("created_at DESC").Find(&rewards).Error; err != nil {
		return nil, dbErr("list rewards", err)
	}
	return rewards, nil
}

// ClaimReward marks a reward claimed. Only the owner may claim, once, before
// it expires.
func (s *RewardService) ClaimReward(ctx context.Context, userID, rewardID string) (*models.Reward, error) {
	now := s.clock.Now().UTC()
	var reward models.Reward
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&reward, "id = ?", rewardID).Error; err != nil {
			return err
		}
		if reward.UserID != userID {
			return ErrUnauthorized
		}
		if !reward.Claimable(now) {
			return ErrRewardUnavailable
		}
		res := tx.Model(&models.Reward{}).
			Where("id = ? AND claimed = ?", rewardID, false).
			Updates(map[string]any{"claimed": true, "claimed_at": now, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRewardUnavailable
		}
		reward.Claimed = true
		reward.ClaimedAt = &now
		return nil
	})
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrRewardUnavailable) {
		return nil, fmt.Errorf("claim reward %s: %w", rewardID, err)
	}
	if err != nil {
		return nil, dbErr("claim reward "+rewardID, err)
	}
	s.log.Info("reward claimed", "rewardID", rewardID, "userID", userID, "type", reward.Type)
	return &reward, nil
}

// ExpireRewards marks unclaimed rewards past their expiry. Rows are kept.
func (s *RewardService) ExpireRewards(ctx context.Context) (int64, error) {
	now := s.clock.Now().UTC()
	res := s.DB.WithContext(ctx).Model(&models.Reward{}).
		Where("claimed = ? AND expired = ? AND expires_at IS NOT NULL AND expires_at <= ?", false, false, now).
		Updates(map[string]any{"expired": true, "updated_at": now})
	if res.Error != nil {
		return 0, dbErr("expire rewards", res.Error)
	}
	if res.RowsAffected > 0 {
		s.log.Info("rewards expired", "count", res.RowsAffected)
	}
	return res.RowsAffected, nil
}
