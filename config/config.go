// Package config defines the service configuration and its layered loader.
package config

import (
	"time"
)

// Config contains process configuration.
type Config struct {
	// Mode selects the log encoder: "dev" or "prod".
	Mode string `koanf:"mode"`
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// Addr configures the HTTP listen address, e.g. ":5200".
	Addr string `koanf:"addr"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `koanf:"database_url"`
	// ServiceToken authenticates requests coming from the gateway.
	ServiceToken string `koanf:"service_token"`
	// AllowedOrigins is a comma separated CORS origin list.
	AllowedOrigins string `koanf:"allowed_origins"`
	// Timezone is used for calendar-day math (streaks) and as the default
	// autopilot timezone.
	Timezone string `koanf:"timezone"`

	Autopilot     AutopilotConfig     `koanf:"autopilot"`
	FollowUp      FollowUpConfig      `koanf:"followup"`
	Compatibility CompatibilityConfig `koanf:"compatibility"`
	Gamification  GamificationConfig  `koanf:"gamification"`
	Insights      InsightsConfig      `koanf:"insights"`
	Redis         RedisConfig         `koanf:"redis"`
	Archive       ArchiveConfig       `koanf:"archive"`
	Sync          SyncConfig          `koanf:"sync"`
}

// AutopilotConfig holds the per-user defaults and engine-level pacing.
type AutopilotConfig struct {
	MaxConnections             int      `koanf:"max_connections"`
	MinCompatibility           float64  `koanf:"min_compatibility"`
	AutoMessage                bool     `koanf:"auto_message"`
	ActiveHoursStart           string   `koanf:"active_hours_start"`
	ActiveHoursEnd             string   `koanf:"active_hours_end"`
	FocusAreas                 []string `koanf:"focus_areas"`
	SessionCooldownHours       float64  `koanf:"session_cooldown_hours"`
	CandidateDelayRangeSeconds []int    `koanf:"candidate_delay_range_seconds"`
	// RunInterval is how often the job runner triggers autopilot for enabled users.
	RunInterval time.Duration `koanf:"run_interval"`
	// Concurrency bounds how many users are processed in parallel per cycle.
	Concurrency int `koanf:"concurrency"`
}

type FollowUpConfig struct {
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// CompatibilityConfig carries factor weights and trait weights. Both maps are
// normalized to sum to 1 by the scorer.
type CompatibilityConfig struct {
	Weights      map[string]float64 `koanf:"weights"`
	TraitWeights map[string]float64 `koanf:"trait_weights"`
}

type GamificationConfig struct {
	BaseXP           map[string]int64 `koanf:"base_xp"`
	LevelBaseXP      int64            `koanf:"level_base_xp"`
	RewardExpiryDays int              `koanf:"reward_expiry_days"`
	ExpiryInterval   time.Duration    `koanf:"expiry_interval"`
}

// InsightsConfig configures the optional Gemini insight writer. An empty
// APIKey keeps the local template writer.
type InsightsConfig struct {
	APIKey  string        `koanf:"api_key"`
	Model   string        `koanf:"model"`
	Timeout time.Duration `koanf:"timeout"`
}

// RedisConfig enables the redis event bus when Addr is set.
type RedisConfig struct {
	Addr    string `koanf:"addr"`
	Channel string `koanf:"channel"`
}

// ArchiveConfig enables session transcript archiving to R2 when Bucket is
// set, or to a local directory when only Dir is set.
type ArchiveConfig struct {
	AccountID       string        `koanf:"account_id"`
	AccessKeyID     string        `koanf:"access_key_id"`
	AccessKeySecret string        `koanf:"access_key_secret"`
	Bucket          string        `koanf:"bucket"`
	Dir             string        `koanf:"dir"`
	Interval        time.Duration `koanf:"interval"`
}

// SyncConfig points the mirror workers at the external services.
type SyncConfig struct {
	ProfileServiceURL     string        `koanf:"profile_service_url"`
	InteractionServiceURL string        `koanf:"interaction_service_url"`
	AuthServiceURL        string        `koanf:"auth_service_url"`
	Token                 string        `koanf:"token"`
	Interval              time.Duration `koanf:"interval"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		Mode:           "dev",
		LogLevel:       "info",
		Addr:           ":5200",
		AllowedOrigins: "http://localhost:3000",
		Timezone:       "UTC",
		Autopilot: AutopilotConfig{
			MaxConnections:             5,
			MinCompatibility:           0.7,
			AutoMessage:                true,
			ActiveHoursStart:           "09:00",
			ActiveHoursEnd:             "21:00",
			SessionCooldownHours:       1,
			CandidateDelayRangeSeconds: []int{5, 10},
			RunInterval:                15 * time.Minute,
			Concurrency:                4,
		},
		FollowUp: FollowUpConfig{
			SweepInterval: time.Hour,
		},
		Compatibility: CompatibilityConfig{
			Weights: map[string]float64{
				"personality": 0.4,
				"interests":   0.3,
				"goals":       0.2,
				"expertise":   0.1,
			},
			TraitWeights: map[string]float64{
				"openness":          0.2,
				"conscientiousness": 0.2,
				"extraversion":      0.2,
				"agreeableness":     0.2,
				"neuroticism":       0.2,
			},
		},
		Gamification: GamificationConfig{
			BaseXP: map[string]int64{
				"CONNECTION": 50,
				"MESSAGE":    10,
				"VOICE_CHAT": 30,
				"ANALYSIS":   20,
				"TIMELINE":   25,
				"AUTOPILOT":  15,
			},
			LevelBaseXP:      100,
			RewardExpiryDays: 30,
			ExpiryInterval:   6 * time.Hour,
		},
		Insights: InsightsConfig{
			Model:   "gemini-2.0-flash",
			Timeout: 5 * time.Second,
		},
		Redis: RedisConfig{
			Channel: "twinlink",
		},
		Archive: ArchiveConfig{
			Interval: time.Hour,
		},
		Sync: SyncConfig{
			Interval: time.Minute,
		},
	}
}

// CooldownDuration converts SessionCooldownHours into a duration.
func (a AutopilotConfig) CooldownDuration() time.Duration {
	return time.Duration(a.SessionCooldownHours * float64(time.Hour))
}

// DelayRange returns the inter-candidate jitter bounds.
func (a AutopilotConfig) DelayRange() (time.Duration, time.Duration) {
	if len(a.CandidateDelayRangeSeconds) < 2 {
		return 5 * time.Second, 10 * time.Second
	}
	return time.Duration(a.CandidateDelayRangeSeconds[0]) * time.Second,
		time.Duration(a.CandidateDelayRangeSeconds[1]) * time.Second
}
