package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RewardType tells what earned the reward
type RewardType string

const (
	RewardLevelUp     RewardType = "level_up"
	RewardAchievement RewardType = "achievement"
	RewardStreak      RewardType = "streak"
)

// Reward is a one-off grant. Rows are never deleted; unclaimed rewards past
// ExpiresAt are marked Expired by the expiry job.
type Reward struct {
	ID        string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID    string     `gorm:"index;not null" json:"user_id"`
	Type      RewardType `gorm:"type:varchar(16);not null" json:"type"`
	Code      string     `gorm:"type:varchar(64)" json:"code"` // achievement type, "level-5", "message-streak-7"
	Title     string     `gorm:"not null" json:"title"`
	Excerpt   string     `gorm:"type:text" json:"excerpt"`
	Value     int64      `json:"value"`
	Claimed   bool       `gorm:"default:false" json:"claimed"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
	Expired   bool       `gorm:"default:false;index" json:"expired"`
	ExpiresAt *time.Time `gorm:"index" json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (r *Reward) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// Claimable reports whether the reward can still be claimed at now.
func (r *Reward) Claimable(now time.Time) bool {
	if r.Claimed || r.Expired {
		return false
	}
	return r.ExpiresAt == nil || now.Before(*r.ExpiresAt)
}
