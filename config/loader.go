package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "TWINLINK_"

// list-valued keys that may arrive from the environment as comma separated strings.
var listKeys = []string{
	"autopilot.focus_areas",
	"autopilot.candidate_delay_range_seconds",
}

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if TWINLINK_CONFIG is set
//  3. .env file, when present
//  4. env (prefix TWINLINK_, "__" separates nested keys)
func Load() (*Config, error) {
	// .env is optional; real env vars always win over it.
	_ = godotenv.Load()

	base := New()
	k := koanf.New(".")

	if path := os.Getenv(envPrefix + "CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrLoadConfig, path, err)
		}
	}

	// TWINLINK_AUTOPILOT__MAX_CONNECTIONS -> autopilot.max_connections
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
		if s == "config" {
			return ""
		}
		return strings.ReplaceAll(s, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %v", ErrLoadConfig, err)
	}

	for _, key := range listKeys {
		raw, ok := k.Get(key).(string)
		if !ok {
			continue
		}
		parts := make([]string, 0)
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(key, parts); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrLoadConfig, key, err)
		}
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	// env keys arrive lower-cased; action types are upper-case everywhere else.
	xp := make(map[string]int64, len(cfg.Gamification.BaseXP))
	for action, v := range cfg.Gamification.BaseXP {
		xp[strings.ToUpper(action)] = v
	}
	cfg.Gamification.BaseXP = xp

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and formats that the services rely on.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("%w: timezone %q: %v", ErrInvalidConfig, c.Timezone, err)
	}
	a := c.Autopilot
	if a.MaxConnections < 0 {
		return fmt.Errorf("%w: autopilot.max_connections must be >= 0", ErrInvalidConfig)
	}
	if a.MinCompatibility < 0 || a.MinCompatibility > 1 {
		return fmt.Errorf("%w: autopilot.min_compatibility must be within [0,1]", ErrInvalidConfig)
	}
	if a.SessionCooldownHours < 0 {
		return fmt.Errorf("%w: autopilot.session_cooldown_hours must be >= 0", ErrInvalidConfig)
	}
	if len(a.CandidateDelayRangeSeconds) != 2 ||
		a.CandidateDelayRangeSeconds[0] < 0 ||
		a.CandidateDelayRangeSeconds[1] < a.CandidateDelayRangeSeconds[0] {
		return fmt.Errorf("%w: autopilot.candidate_delay_range_seconds must be [min,max] with 0 <= min <= max", ErrInvalidConfig)
	}
	for _, hm := range []string{a.ActiveHoursStart, a.ActiveHoursEnd} {
		if hm == "" {
			continue
		}
		if _, err := time.Parse("15:04", hm); err != nil {
			return fmt.Errorf("%w: active hour %q must be HH:MM", ErrInvalidConfig, hm)
		}
	}
	if sumPositive(c.Compatibility.Weights) <= 0 {
		return fmt.Errorf("%w: compatibility.weights must contain a positive weight", ErrInvalidConfig)
	}
	if sumPositive(c.Compatibility.TraitWeights) <= 0 {
		return fmt.Errorf("%w: compatibility.trait_weights must contain a positive weight", ErrInvalidConfig)
	}
	for action, xp := range c.Gamification.BaseXP {
		if xp < 0 {
			return fmt.Errorf("%w: gamification.base_xp.%s must be >= 0", ErrInvalidConfig, action)
		}
	}
	if c.Gamification.LevelBaseXP <= 0 {
		return fmt.Errorf("%w: gamification.level_base_xp must be > 0", ErrInvalidConfig)
	}
	return nil
}

func sumPositive(m map[string]float64) float64 {
	var s float64
	for _, v := range m {
		if v < 0 {
			return -1
		}
		s += v
	}
	return s
}
