package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// FollowUpStage buckets connection maturity.
type FollowUpStage string

const (
	StageNew         FollowUpStage = "NEW"
	StageDeveloping  FollowUpStage = "DEVELOPING"
	StageEstablished FollowUpStage = "ESTABLISHED"
	StageMature      FollowUpStage = "MATURE"
)

type FollowUpStatus string

const (
	FollowUpScheduled FollowUpStatus = "SCHEDULED"
	FollowUpSent      FollowUpStatus = "SENT"
	FollowUpCancelled FollowUpStatus = "CANCELLED"
)

// FollowUp is a drafted message for an accepted connection.
type FollowUp struct {
	ID           string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ConnectionID string         `gorm:"index;not null" json:"connection_id"`
	UserID       string         `gorm:"index;not null" json:"user_id"` // sender
	TargetID     string         `gorm:"index;not null" json:"target_id"`
	Stage        FollowUpStage  `gorm:"type:varchar(16);not null" json:"stage"`
	ScheduledFor time.Time      `gorm:"index;not null" json:"scheduled_for"`
	Message      string         `gorm:"type:text" json:"message"`
	Status       FollowUpStatus `gorm:"type:varchar(16);not null;index" json:"status"`

	// ActiveKey is the connection id while SCHEDULED and NULL otherwise.
	ActiveKey *string `gorm:"uniqueIndex" json:"-"`

	SentAt      *time.Time `json:"sent_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (f *FollowUp) BeforeCreate(*gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return nil
}
