package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ActionType is a gamified action reported to the progression engine.
type ActionType string

const (
	ActionConnection ActionType = "CONNECTION"
	ActionMessage    ActionType = "MESSAGE"
	ActionVoiceChat  ActionType = "VOICE_CHAT"
	ActionAnalysis   ActionType = "ANALYSIS"
	ActionTimeline   ActionType = "TIMELINE"
	ActionAutopilot  ActionType = "AUTOPILOT"
)

// ActionTypes lists every known action in declaration order.
var ActionTypes = []ActionType{
	ActionConnection, ActionMessage, ActionVoiceChat, ActionAnalysis, ActionTimeline, ActionAutopilot,
}

func (a ActionType) Valid() bool {
	for _, t := range ActionTypes {
		if t == a {
			return true
		}
	}
	return false
}

// Achievement metrics read from UserProgress.
const (
	MetricConnections   = "total_connections"
	MetricMessages      = "total_messages"
	MetricVoiceChats    = "total_voice_chats"
	MetricAnalyses      = "total_analyses"
	MetricTimelines     = "total_timelines"
	MetricAutopilotRuns = "total_autopilot_runs"
	MetricLevel         = "level"
	MetricLongestStreak = "longest_streak"
)

// UserProgress tracks gamified progression for each user (denormalized for performance)
type UserProgress struct {
	ID     string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID string `gorm:"uniqueIndex;not null" json:"user_id"`

	// Core progression. Experience only grows; Level is recomputed from it.
	Experience int64 `json:"experience" gorm:"default:0"`
	Level      int   `json:"level" gorm:"default:1"`

	// Activity counters
	TotalConnections   int64 `json:"total_connections" gorm:"default:0"`
	TotalMessages      int64 `json:"total_messages" gorm:"default:0"`
	TotalVoiceChats    int64 `json:"total_voice_chats" gorm:"default:0"`
	TotalAnalyses      int64 `json:"total_analyses" gorm:"default:0"`
	TotalTimelines     int64 `json:"total_timelines" gorm:"default:0"`
	TotalAutopilotRuns int64 `json:"total_autopilot_runs" gorm:"default:0"`

	// Milestones
	LastLevelUpAt *time.Time `json:"last_level_up_at,omitempty"`

	Timestamps
}

func (p *UserProgress) BeforeCreate(*gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// Increment bumps the counter belonging to action.
func (p *UserProgress) Increment(action ActionType) {
	switch action {
	case ActionConnection:
		p.TotalConnections++
	case ActionMessage:
		p.TotalMessages++
	case ActionVoiceChat:
		p.TotalVoiceChats++
	case ActionAnalysis:
		p.TotalAnalyses++
	case ActionTimeline:
		p.TotalTimelines++
	case ActionAutopilot:
		p.TotalAutopilotRuns++
	}
}

// Metric returns the counter an achievement tracks. Unknown metrics read 0.
func (p *UserProgress) Metric(name string) int64 {
	switch name {
	case MetricConnections:
		return p.TotalConnections
	case MetricMessages:
		return p.TotalMessages
	case MetricVoiceChats:
		return p.TotalVoiceChats
	case MetricAnalyses:
		return p.TotalAnalyses
	case MetricTimelines:
		return p.TotalTimelines
	case MetricAutopilotRuns:
		return p.TotalAutopilotRuns
	case MetricLevel:
		return int64(p.Level)
	}
	return 0
}

// Streak counts consecutive active days for one action type.
type Streak struct {
	ID             string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID         string     `gorm:"uniqueIndex:idx_streak_user_action;not null" json:"user_id"`
	ActionType     ActionType `gorm:"uniqueIndex:idx_streak_user_action;type:varchar(16);not null" json:"action_type"`
	Count          int        `json:"count"`
	LongestStreak  int        `json:"longest_streak"`
	LastActiveDate string     `gorm:"type:varchar(10)" json:"last_active_date"` // YYYY-MM-DD in the engine timezone
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (s *Streak) BeforeCreate(*gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
