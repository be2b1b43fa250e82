package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"twinlink/config"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "twinlink.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	convey.Convey("Given no file and no environment overrides", t, func() {
		cfg, err := config.Load()

		convey.Convey("Then the autopilot defaults apply", func() {
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":5200")
			convey.So(cfg.Autopilot.MaxConnections, convey.ShouldEqual, 5)
			convey.So(cfg.Autopilot.MinCompatibility, convey.ShouldEqual, 0.7)
			convey.So(cfg.Autopilot.AutoMessage, convey.ShouldBeTrue)
			convey.So(cfg.Autopilot.CooldownDuration(), convey.ShouldEqual, time.Hour)
			lo, hi := cfg.Autopilot.DelayRange()
			convey.So(lo, convey.ShouldEqual, 5*time.Second)
			convey.So(hi, convey.ShouldEqual, 10*time.Second)
			convey.So(cfg.Gamification.BaseXP["MESSAGE"], convey.ShouldEqual, 10)
			convey.So(cfg.Compatibility.Weights["personality"], convey.ShouldEqual, 0.4)
		})
	})
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TWINLINK_ADDR", ":8080")
	t.Setenv("TWINLINK_AUTOPILOT__MAX_CONNECTIONS", "12")
	t.Setenv("TWINLINK_AUTOPILOT__FOCUS_AREAS", "ai, music")
	t.Setenv("TWINLINK_AUTOPILOT__CANDIDATE_DELAY_RANGE_SECONDS", "1,2")
	t.Setenv("TWINLINK_GAMIFICATION__BASE_XP__MESSAGE", "12")

	convey.Convey("Given nested environment overrides", t, func() {
		cfg, err := config.Load()

		convey.Convey("Then they replace the defaults", func() {
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
			convey.So(cfg.Autopilot.MaxConnections, convey.ShouldEqual, 12)
			convey.So(cfg.Autopilot.FocusAreas, convey.ShouldResemble, []string{"ai", "music"})
			convey.So(cfg.Autopilot.CandidateDelayRangeSeconds, convey.ShouldResemble, []int{1, 2})
			convey.So(cfg.Gamification.BaseXP["MESSAGE"], convey.ShouldEqual, 12)
			convey.So(cfg.Gamification.BaseXP["CONNECTION"], convey.ShouldEqual, 50)
		})
	})
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeConfigFile(t, `
addr: ":9090"
autopilot:
  min_compatibility: 0.5
  active_hours_start: "22:00"
  active_hours_end: "06:00"
compatibility:
  weights:
    personality: 0.5
    interests: 0.5
    goals: 0
    expertise: 0
`)
	t.Setenv("TWINLINK_CONFIG", path)
	t.Setenv("TWINLINK_ADDR", ":7070")

	convey.Convey("Given a YAML file and an env override", t, func() {
		cfg, err := config.Load()

		convey.Convey("Then env wins and file values fill the rest", func() {
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
			convey.So(cfg.Autopilot.MinCompatibility, convey.ShouldEqual, 0.5)
			convey.So(cfg.Autopilot.ActiveHoursStart, convey.ShouldEqual, "22:00")
			convey.So(cfg.Compatibility.Weights["goals"], convey.ShouldEqual, 0)
			convey.So(cfg.Autopilot.MaxConnections, convey.ShouldEqual, 5)
		})
	})
}

func TestLoadInvalid(t *testing.T) {
	convey.Convey("Given invalid inputs", t, func() {
		convey.Convey("When the file does not exist", func() {
			t.Setenv("TWINLINK_CONFIG", "/non/existent/twinlink.yaml")
			cfg, err := config.Load()
			convey.So(cfg, convey.ShouldBeNil)
			convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When min_compatibility is out of range", func() {
			t.Setenv("TWINLINK_CONFIG", "")
			t.Setenv("TWINLINK_AUTOPILOT__MIN_COMPATIBILITY", "1.5")
			cfg, err := config.Load()
			convey.So(cfg, convey.ShouldBeNil)
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When an active hour is malformed", func() {
			t.Setenv("TWINLINK_CONFIG", "")
			t.Setenv("TWINLINK_AUTOPILOT__MIN_COMPATIBILITY", "0.7")
			t.Setenv("TWINLINK_AUTOPILOT__ACTIVE_HOURS_START", "9am")
			cfg, err := config.Load()
			convey.So(cfg, convey.ShouldBeNil)
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
		})
	})
}
