package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Goal is one entry of a profile's goal list. Priority runs 1 (low) to 5 (high).
type Goal struct {
	Category string `json:"category"`
	Priority int    `json:"priority"`
}

// Profile is a local snapshot of the profile service's user record.
// Populated via the profile sync worker; the engine only reads it.
type Profile struct {
	ID             string             `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID         string             `gorm:"uniqueIndex;not null" json:"user_id"` // the profile service's user id
	DisplayName    string             `json:"display_name"`
	Traits         map[string]float64 `gorm:"serializer:json;type:text" json:"traits"`
	Interests      []string           `gorm:"serializer:json;type:text" json:"interests"`
	Expertise      []string           `gorm:"serializer:json;type:text" json:"expertise"`
	Goals          []Goal             `gorm:"serializer:json;type:text" json:"goals"`
	ActivityCounts map[string]int     `gorm:"serializer:json;type:text" json:"activity_counts"`
	LastActiveAt   *time.Time         `json:"last_active_at,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`

	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (p *Profile) BeforeCreate(*gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// Trait returns the named trait, or 0.5 when the profile does not carry it.
func (p *Profile) Trait(name string) float64 {
	if v, ok := p.Traits[name]; ok {
		return v
	}
	return 0.5
}

// HasInterest reports whether the profile lists interest, case-insensitively.
func (p *Profile) HasInterest(interest string) bool {
	interest = strings.ToLower(strings.TrimSpace(interest))
	for _, i := range p.Interests {
		if strings.ToLower(strings.TrimSpace(i)) == interest {
			return true
		}
	}
	return false
}

// ActiveSince reports whether the user was active at or after t.
func (p *Profile) ActiveSince(t time.Time) bool {
	return p.LastActiveAt != nil && !p.LastActiveAt.Before(t)
}
