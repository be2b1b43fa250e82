package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type InteractionKind string

const (
	InteractionMessage   InteractionKind = "MESSAGE"
	InteractionVoiceChat InteractionKind = "VOICE_CHAT"
)

// Interaction records one exchange on an accepted connection, as reported by
// the chat service.
type Interaction struct {
	ID           string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ConnectionID string          `gorm:"index;not null" json:"connection_id"`
	ActorID      string          `gorm:"index;not null" json:"actor_id"`
	Kind         InteractionKind `gorm:"type:varchar(16);not null" json:"kind"`
	// Sentiment runs 0 (negative) to 1 (positive).
	Sentiment    float64         `json:"sentiment"`
	// ExternalID is the chat service's id; unique so re-syncs are no-ops.
	ExternalID   *string         `gorm:"uniqueIndex" json:"external_id,omitempty"`
	OccurredAt   time.Time       `gorm:"index;not null" json:"occurred_at"`
	CreatedAt    time.Time       `json:"created_at"`
}

func (i *Interaction) BeforeCreate(*gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return nil
}
