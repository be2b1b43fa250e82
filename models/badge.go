package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AchievementDefinition is static config; every user gets one Achievement row
// per definition. Code is derived from Name when empty.
type AchievementDefinition struct {
	Code        string
	Name        string
	Description string
	Metric      string // one of the Metric* constants
	Target      int64
	RewardValue int64
}

// Achievement is a user's progress towards one definition.
type Achievement struct {
	ID          string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID      string     `gorm:"uniqueIndex:idx_achievement_user_type;not null" json:"user_id"`
	Type        string     `gorm:"uniqueIndex:idx_achievement_user_type;type:varchar(64);not null" json:"type"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Metric      string     `gorm:"type:varchar(32);not null" json:"metric"`
	Target      int64      `json:"target"`
	Progress    float64    `json:"progress"` // 0..1, never decreases
	Completed   bool       `gorm:"index" json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (a *Achievement) BeforeCreate(*gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// AchievementCatalog is the built-in achievement set.
var AchievementCatalog = []AchievementDefinition{
	{
		Name:        "First Connection",
		Description: "Made your first connection",
		Metric:      MetricConnections,
		Target:      1,
		RewardValue: 25,
	},
	{
		Name:        "Networker",
		Description: "Made 10 connections",
		Metric:      MetricConnections,
		Target:      10,
		RewardValue: 100,
	},
	{
		Name:        "Super Connector",
		Description: "Made 50 connections",
		Metric:      MetricConnections,
		Target:      50,
		RewardValue: 500,
	},
	{
		Name:        "Conversationalist",
		Description: "Sent 100 messages",
		Metric:      MetricMessages,
		Target:      100,
		RewardValue: 150,
	},
	{
		Name:        "Voice of Reason",
		Description: "Held 5 voice chats",
		Metric:      MetricVoiceChats,
		Target:      5,
		RewardValue: 75,
	},
	{
		Name:        "Analyst",
		Description: "Ran 5 compatibility analyses",
		Metric:      MetricAnalyses,
		Target:      5,
		RewardValue: 50,
	},
	{
		Name:        "Storyteller",
		Description: "Created 3 timelines",
		Metric:      MetricTimelines,
		Target:      3,
		RewardValue: 50,
	},
	{
		Name:        "On Autopilot",
		Description: "Completed 10 autopilot sessions",
		Metric:      MetricAutopilotRuns,
		Target:      10,
		RewardValue: 100,
	},
	{
		Name:        "Level 10",
		Description: "Reached level 10",
		Metric:      MetricLevel,
		Target:      10,
		RewardValue: 200,
	},
	{
		Name:        "Week Streak",
		Description: "Stayed active 7 days in a row",
		Metric:      MetricLongestStreak,
		Target:      7,
		RewardValue: 100,
	},
}
