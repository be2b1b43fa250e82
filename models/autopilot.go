package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ActiveHours is a local-time window in "HH:MM". End before Start wraps past
// midnight; an empty window means always active.
type ActiveHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// AutopilotSettings is the per-run configuration. A copy is stored on every
// session.
type AutopilotSettings struct {
	MaxConnections   int         `json:"max_connections"`
	MinCompatibility float64     `json:"min_compatibility"`
	AutoMessage      bool        `json:"auto_message"`
	ActiveHours      ActiveHours `json:"active_hours"`
	Timezone         string      `json:"timezone,omitempty"`
	FocusAreas       []string    `json:"focus_areas,omitempty"`
	Blacklist        []string    `json:"blacklist,omitempty"`
}

// AutopilotPreference persists a user's settings and whether the job runner
// should trigger autopilot for them.
type AutopilotPreference struct {
	UserID    string            `gorm:"primaryKey;type:varchar(64)" json:"user_id"`
	Enabled   bool              `gorm:"index" json:"enabled"`
	Settings  AutopilotSettings `gorm:"serializer:json;type:text" json:"settings"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

type SessionStatus string

const (
	SessionRunning   SessionStatus = "RUNNING"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionFailed    SessionStatus = "FAILED"
)

// AutopilotSession is one autopilot run. Once COMPLETED or FAILED only the
// archive metadata (ArchivedAt) changes.
type AutopilotSession struct {
	ID                 string            `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID             string            `gorm:"index;not null" json:"user_id"`
	Status             SessionStatus     `gorm:"type:varchar(16);not null;index" json:"status"`
	Progress           float64           `json:"progress"`
	Settings           AutopilotSettings `gorm:"serializer:json;type:text" json:"settings"`
	TotalCandidates    int               `json:"total_candidates"`
	ProcessedCount     int               `json:"processed_count"`
	ConnectionsCreated int               `json:"connections_created"`
	Error              string            `gorm:"type:text" json:"error,omitempty"`

	// RunningKey is the user id while RUNNING and NULL otherwise.
	RunningKey *string `gorm:"uniqueIndex" json:"-"`

	CreatedAt   time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`
}

func (s *AutopilotSession) BeforeCreate(*gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// Finished reports whether the session reached a terminal status.
func (s *AutopilotSession) Finished() bool {
	return s.Status == SessionCompleted || s.Status == SessionFailed
}

type ActivityType string

const (
	ActivityInfo       ActivityType = "info"
	ActivityWarning    ActivityType = "warning"
	ActivitySuccess    ActivityType = "success"
	ActivityError      ActivityType = "error"
	ActivityConnection ActivityType = "connection"
)

// AutopilotActivity is an append-only narration entry.
type AutopilotActivity struct {
	ID        string       `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID    string       `gorm:"index;not null" json:"user_id"`
	SessionID *string      `gorm:"index" json:"session_id,omitempty"`
	Type      ActivityType `gorm:"type:varchar(16);not null" json:"type"`
	Message   string       `gorm:"type:text;not null" json:"message"`
	CreatedAt time.Time    `gorm:"index" json:"timestamp"`
}

func (a *AutopilotActivity) BeforeCreate(*gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
