package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"twinlink/config"
	"twinlink/logger"
	"twinlink/metrics"
	"twinlink/models"
	"twinlink/realtime"
)

// recentActivityWindow decides HasRecentActivity for opening messages.
const recentActivityWindow = 7 * 24 * time.Hour

// gate skip reasons, also used as metric labels
const (
	skipRunning     = "running"
	skipActiveHours = "active_hours"
	skipCooldown    = "cooldown"
)

var errAborted = errors.New("aborted")

// AutopilotDeps are the collaborators of AutopilotService.
type AutopilotDeps struct {
	Scorer      *CompatibilityScorer
	Connections *ConnectionService
	Templates   *TemplateSelector
	Activities  *ActivityService
	Actions     ActionHandler
	Publisher   realtime.Publisher
	Pacer       Pacer
	Clock       clockwork.Clock
	Log         *logger.Logger
	Metrics     *metrics.Manager
}

// AutopilotService runs autonomous outreach sessions: IDLE -> RUNNING ->
// COMPLETED or FAILED. At most one session runs per user.
type AutopilotService struct {
	DB          *gorm.DB
	scorer      *CompatibilityScorer
	connections *ConnectionService
	templates   *TemplateSelector
	activities  *ActivityService
	actions     ActionHandler
	publisher   realtime.Publisher
	pacer       Pacer
	clock       clockwork.Clock
	log         *logger.Logger
	metrics     *metrics.Manager

	defaults    models.AutopilotSettings
	loc         *time.Location
	cooldown    time.Duration
	concurrency int

	locks   *userLocks
	mu      sync.Mutex
	running map[string]context.CancelFunc
}

func NewAutopilotService(db *gorm.DB, cfg config.AutopilotConfig, loc *time.Location, deps AutopilotDeps) *AutopilotService {
	if loc == nil {
		loc = time.UTC
	}
	if deps.Publisher == nil {
		deps.Publisher = realtime.Discard
	}
	if deps.Pacer == nil {
		lo, hi := cfg.DelayRange()
		deps.Pacer = NewJitterPacer(deps.Clock, lo, hi)
	}
	if deps.Templates == nil {
		deps.Templates = NewTemplateSelector(nil)
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &AutopilotService{
		DB:          db,
		scorer:      deps.Scorer,
		connections: deps.Connections,
		templates:   deps.Templates,
		activities:  deps.Activities,
		actions:     deps.Actions,
		publisher:   deps.Publisher,
		pacer:       deps.Pacer,
		clock:       deps.Clock,
		log:         deps.Log.With("service", "AutopilotService"),
		metrics:     deps.Metrics,
		defaults: models.AutopilotSettings{
			MaxConnections:   cfg.MaxConnections,
			MinCompatibility: cfg.MinCompatibility,
			AutoMessage:      cfg.AutoMessage,
			ActiveHours:      models.ActiveHours{Start: cfg.ActiveHoursStart, End: cfg.ActiveHoursEnd},
			FocusAreas:       append([]string(nil), cfg.FocusAreas...),
		},
		loc:         loc,
		cooldown:    cfg.CooldownDuration(),
		concurrency: concurrency,
		locks:       newUserLocks(),
		running:     make(map[string]context.CancelFunc),
	}
}

// DefaultSettings returns the configured per-user defaults.
func (s *AutopilotService) DefaultSettings() models.AutopilotSettings {
	d := s.defaults
	d.FocusAreas = append([]string(nil), s.defaults.FocusAreas...)
	return d
}

// GetSettings returns the stored preference, or a disabled one carrying the
// defaults.
func (s *AutopilotService) GetSettings(ctx context.Context, userID string) (*models.AutopilotPreference, error) {
	var pref models.AutopilotPreference
	err := s.DB.WithContext(ctx).First(&pref, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.AutopilotPreference{UserID: userID, Settings: s.DefaultSettings()}, nil
	}
	if err != nil {
		return nil, dbErr("get autopilot settings", err)
	}
	return &pref, nil
}

// SaveSettings validates and upserts the user's preference.
func (s *AutopilotService) SaveSettings(ctx context.Context, userID string, enabled bool, settings models.AutopilotSettings) (*models.AutopilotPreference, error) {
	if userID == "" {
		return nil, fmt.Errorf("save autopilot settings: %w: user id required", ErrInvalidInput)
	}
	if err := validateSettings(settings); err != nil {
		return nil, err
	}
	now := s.clock.Now().UTC()
	pref := models.AutopilotPreference{UserID: userID, Enabled: enabled, Settings: settings, UpdatedAt: now}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.AutopilotPreference
		err := tx.First(&existing, "user_id = ?", userID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			pref.CreatedAt = now
			return tx.Create(&pref).Error
		case err != nil:
			return err
		}
		pref.CreatedAt = existing.CreatedAt
		return tx.Save(&pref).Error
	})
	if err != nil {
		return nil, dbErr("save autopilot settings", err)
	}
	s.log.Info("autopilot settings saved", "userID", userID, "enabled", enabled)
	return &pref, nil
}

// EnabledUsers lists the preferences the job runner should trigger.
func (s *AutopilotService) EnabledUsers(ctx context.Context) ([]models.AutopilotPreference, error) {
	var prefs []models.AutopilotPreference
	if err := s.DB.WithContext(ctx).Where("enabled = ?", true).Order("user_id").Find(&prefs).Error; err != nil {
		return nil, dbErr("list enabled autopilot users", err)
	}
	return prefs, nil
}

func validateSettings(st models.AutopilotSettings) error {
	switch {
	case st.MaxConnections < 0:
		return fmt.Errorf("%w: max_connections must be >= 0", ErrInvalidInput)
	case st.MinCompatibility < 0 || st.MinCompatibility > 1:
		return fmt.Errorf("%w: min_compatibility must be within [0,1]", ErrInvalidInput)
	}
	if (st.ActiveHours.Start == "") != (st.ActiveHours.End == "") {
		return fmt.Errorf("%w: active_hours needs both start and end", ErrInvalidInput)
	}
	if st.ActiveHours.Start != "" {
		if _, err := clockMinutes(st.ActiveHours.Start); err != nil {
			return err
		}
		if _, err := clockMinutes(st.ActiveHours.End); err != nil {
			return err
		}
	}
	if st.Timezone != "" {
		if _, err := time.LoadLocation(st.Timezone); err != nil {
			return fmt.Errorf("%w: unknown timezone %q", ErrInvalidInput, st.Timezone)
		}
	}
	return nil
}

// clockMinutes parses "HH:MM" into minutes after midnight.
func clockMinutes(v string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(v), ":")
	if !ok {
		return 0, fmt.Errorf("%w: time %q is not HH:MM", ErrInvalidInput, v)
	}
	hh, err1 := strconv.Atoi(h)
	mm, err2 := strconv.Atoi(m)
	if err1 != nil || err2 != nil || hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("%w: time %q is not HH:MM", ErrInvalidInput, v)
	}
	return hh*60 + mm, nil
}

// WithinActiveHours reports whether now falls in the window, evaluated in
// loc. End before Start wraps past midnight. An empty or zero-length window
// is always open.
func WithinActiveHours(now time.Time, hours models.ActiveHours, loc *time.Location) (bool, error) {
	if hours.Start == "" && hours.End == "" {
		return true, nil
	}
	start, err := clockMinutes(hours.Start)
	if err != nil {
		return false, err
	}
	end, err := clockMinutes(hours.End)
	if err != nil {
		return false, err
	}
	if start == end {
		return true, nil
	}
	local := now.In(loc)
	m := local.Hour()*60 + local.Minute()
	if start < end {
		return m >= start && m < end, nil
	}
	return m >= start || m < end, nil
}

func (s *AutopilotService) location(st models.AutopilotSettings) *time.Location {
	if st.Timezone == "" {
		return s.loc
	}
	loc, err := time.LoadLocation(st.Timezone)
	if err != nil {
		return s.loc
	}
	return loc
}

// ShouldRun evaluates the gate without taking the run lock. It returns the
// skip reason, or "" when a session may start.
func (s *AutopilotService) ShouldRun(ctx context.Context, userID string, st models.AutopilotSettings) (string, error) {
	now := s.clock.Now()
	open, err := WithinActiveHours(now, st.ActiveHours, s.location(st))
	if err != nil {
		return "", err
	}
	if !open {
		return skipActiveHours, nil
	}

	var last models.AutopilotSession
	err = s.DB.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").First(&last).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return "", nil
	case err != nil:
		return "", dbErr("last autopilot session", err)
	}
	if last.Status == models.SessionRunning {
		return skipRunning, nil
	}
	if s.cooldown > 0 && now.Sub(last.CreatedAt) < s.cooldown {
		return skipCooldown, nil
	}
	return "", nil
}

func skipMessage(reason string) string {
	switch reason {
	case skipRunning:
		return "Autopilot skipped: a session is already running"
	case skipActiveHours:
		return "Autopilot skipped: outside active hours"
	case skipCooldown:
		return "Autopilot skipped: last session is still cooling down"
	}
	return "Autopilot skipped"
}

func (s *AutopilotService) skip(ctx context.Context, userID, reason string) error {
	s.metrics.RecordGateSkip(reason)
	s.narrate(ctx, userID, nil, models.ActivityWarning, skipMessage(reason))
	s.log.Debug("autopilot gate not met", "userID", userID, "reason", reason)
	return fmt.Errorf("autopilot for %s: %w: %s", userID, ErrGateNotMet, reason)
}

func (s *AutopilotService) narrate(ctx context.Context, userID string, sessionID *string, typ models.ActivityType, msg string) {
	if s.activities == nil {
		return
	}
	_, _ = s.activities.Log(ctx, userID, sessionID, typ, msg)
}

// Candidate is a scored autopilot target.
type Candidate struct {
	Profile *models.Profile
	Result  CompatibilityResult
}

// Run executes one autopilot session for userID. A gate failure returns
// ErrGateNotMet and creates no session. Any unrecoverable error, including
// Abort, marks the session FAILED and returns ErrSessionFailed. Connections
// created before the failure are kept.
func (s *AutopilotService) Run(ctx context.Context, userID string, st models.AutopilotSettings) (*models.AutopilotSession, error) {
	if userID == "" {
		return nil, fmt.Errorf("run autopilot: %w: user id required", ErrInvalidInput)
	}
	if err := validateSettings(st); err != nil {
		return nil, err
	}

	unlock, ok := s.locks.TryLock(userID)
	if !ok {
		return nil, s.skip(ctx, userID, skipRunning)
	}
	defer unlock()

	reason, err := s.ShouldRun(ctx, userID, st)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		return nil, s.skip(ctx, userID, reason)
	}

	started := s.clock.Now().UTC()
	key := userID
	session := &models.AutopilotSession{
		UserID:     userID,
		Status:     models.SessionRunning,
		Settings:   st,
		RunningKey: &key,
		CreatedAt:  started,
		UpdatedAt:  started,
	}
	if err := s.DB.WithContext(ctx).Create(session).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, s.skip(ctx, userID, skipRunning)
		}
		return nil, dbErr("start autopilot session", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.running[userID] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.running, userID)
		s.mu.Unlock()
		cancel()
	}()

	s.log.Info("autopilot session started", "userID", userID, "sessionID", session.ID)
	s.narrate(ctx, userID, &session.ID, models.ActivityInfo, "Autopilot session started")

	if err := s.process(runCtx, session); err != nil {
		return s.fail(ctx, session, started, err)
	}
	return s.complete(ctx, session, started)
}

func (s *AutopilotService) process(ctx context.Context, session *models.AutopilotSession) error {
	st := session.Settings
	self, candidates, err := s.Candidates(ctx, session.UserID, st)
	if err != nil {
		return err
	}

	session.TotalCandidates = len(candidates)
	if err := s.saveProgress(ctx, session); err != nil {
		return err
	}
	if len(candidates) == 0 {
		s.narrate(ctx, session.UserID, &session.ID, models.ActivityInfo, "No candidates matched your autopilot settings")
		return nil
	}
	s.narrate(ctx, session.UserID, &session.ID, models.ActivityInfo,
		fmt.Sprintf("Found %d candidate(s) to reach out to", len(candidates)))

	now := s.clock.Now()
	for i, c := range candidates {
		if ctx.Err() != nil {
			return errAborted
		}

		opts := RequestOptions{CreatedBy: models.CreatedByAutopilot}
		if st.AutoMessage {
			opts.Message = s.templates.Compose(TemplateContext{
				Target:            c.Profile,
				Sender:            self,
				Purpose:           PurposeOpening,
				Compatibility:     c.Result.Score,
				HasRecentActivity: c.Profile.ActiveSince(now.Add(-recentActivityWindow)),
			})
		}

		name := c.Profile.DisplayName
		if name == "" {
			name = c.Profile.UserID
		}
		_, err := s.connections.Request(ctx, session.UserID, c.Profile.UserID, opts)
		switch {
		case errors.Is(err, ErrDuplicateConnection):
			s.narrate(ctx, session.UserID, &session.ID, models.ActivityWarning,
				fmt.Sprintf("Skipped %s: a connection already exists", name))
		case err != nil:
			if ctx.Err() != nil {
				return errAborted
			}
			return err
		default:
			session.ConnectionsCreated++
			s.narrate(ctx, session.UserID, &session.ID, models.ActivityConnection,
				fmt.Sprintf("Sent a connection request to %s (%d%% match)", name, percent(c.Result.Score)))
		}

		session.ProcessedCount = i + 1
		session.Progress = float64(session.ProcessedCount) / float64(session.TotalCandidates)
		if err := s.saveProgress(ctx, session); err != nil {
			return err
		}
		s.publish(ctx, realtime.Event{
			Type:   realtime.EventProgress,
			UserID: session.UserID,
			Data: realtime.Progress{
				SessionID: session.ID,
				Percent:   percent(session.Progress),
				Processed: session.ProcessedCount,
				Total:     session.TotalCandidates,
			},
			At: s.clock.Now().UTC(),
		})

		if i < len(candidates)-1 {
			if err := s.pacer.Wait(ctx); err != nil {
				return errAborted
			}
		}
	}
	return nil
}

// Candidates loads the user's profile and returns the filtered, ranked
// candidate list for st.
func (s *AutopilotService) Candidates(ctx context.Context, userID string, st models.AutopilotSettings) (*models.Profile, []Candidate, error) {
	var self models.Profile
	if err := s.DB.WithContext(ctx).Where("user_id = ?", userID).First(&self).Error; err != nil {
		return nil, nil, dbErr("load profile "+userID, err)
	}
	connected, err := s.connections.ConnectedUserIDs(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	var all []models.Profile
	if err := s.DB.WithContext(ctx).Where("user_id <> ?", userID).Order("user_id").Find(&all).Error; err != nil {
		return nil, nil, dbErr("load candidate profiles", err)
	}
	pool := make([]*models.Profile, 0, len(all))
	for i := range all {
		if !connected[all[i].UserID] {
			pool = append(pool, &all[i])
		}
	}

	results := make([]CompatibilityResult, len(pool))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, p := range pool {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = s.scorer.Score(&self, p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	blacklist := tagSet(st.Blacklist)
	focus := tagSet(st.FocusAreas)
	out := make([]Candidate, 0, len(pool))
	for i, p := range pool {
		if results[i].Score < st.MinCompatibility {
			continue
		}
		if blacklist[normalizeTag(p.UserID)] {
			continue
		}
		if len(focus) > 0 && !sharesFocus(p, focus) {
			continue
		}
		out = append(out, Candidate{Profile: p, Result: results[i]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Result.Score != out[j].Result.Score {
			return out[i].Result.Score > out[j].Result.Score
		}
		return out[i].Profile.UserID < out[j].Profile.UserID
	})
	if st.MaxConnections < len(out) {
		out = out[:st.MaxConnections]
	}
	return &self, out, nil
}

func sharesFocus(p *models.Profile, focus map[string]bool) bool {
	for _, t := range p.Interests {
		if focus[normalizeTag(t)] {
			return true
		}
	}
	for _, t := range p.Expertise {
		if focus[normalizeTag(t)] {
			return true
		}
	}
	return false
}

func percent(v float64) int {
	return int(math.Round(clamp01(v) * 100))
}

func (s *AutopilotService) saveProgress(ctx context.Context, session *models.AutopilotSession) error {
	session.UpdatedAt = s.clock.Now().UTC()
	err := s.DB.WithContext(ctx).Model(&models.AutopilotSession{}).
		Where("id = ?", session.ID).
		Updates(map[string]any{
			"progress":            session.Progress,
			"total_candidates":    session.TotalCandidates,
			"processed_count":     session.ProcessedCount,
			"connections_created": session.ConnectionsCreated,
			"updated_at":          session.UpdatedAt,
		}).Error
	if err != nil {
		return dbErr("save session progress", err)
	}
	return nil
}

func (s *AutopilotService) finish(ctx context.Context, session *models.AutopilotSession) error {
	now := s.clock.Now().UTC()
	session.CompletedAt = &now
	session.UpdatedAt = now
	session.RunningKey = nil
	err := s.DB.WithContext(ctx).Model(&models.AutopilotSession{}).
		Where("id = ?", session.ID).
		Updates(map[string]any{
			"status":              session.Status,
			"progress":            session.Progress,
			"processed_count":     session.ProcessedCount,
			"connections_created": session.ConnectionsCreated,
			"error":               session.Error,
			"running_key":         nil,
			"completed_at":        now,
			"updated_at":          now,
		}).Error
	if err != nil {
		return dbErr("finish autopilot session", err)
	}
	return nil
}

func (s *AutopilotService) complete(ctx context.Context, session *models.AutopilotSession, started time.Time) (*models.AutopilotSession, error) {
	ctx = context.WithoutCancel(ctx)
	session.Status = models.SessionCompleted
	if err := s.finish(ctx, session); err != nil {
		return nil, err
	}
	s.metrics.RecordSession(string(session.Status), s.clock.Since(started))
	s.narrate(ctx, session.UserID, &session.ID, models.ActivitySuccess,
		fmt.Sprintf("Autopilot session completed: %d connection(s) created", session.ConnectionsCreated))
	if s.actions != nil {
		if _, err := s.actions.HandleAction(ctx, session.UserID, models.ActionAutopilot, ActionContext{}); err != nil {
			s.log.Error("autopilot gamification failed", "userID", session.UserID, "error", err)
		}
	}
	s.log.Info("autopilot session completed",
		"userID", session.UserID,
		"sessionID", session.ID,
		"candidates", session.TotalCandidates,
		"created", session.ConnectionsCreated,
	)
	return session, nil
}

func (s *AutopilotService) fail(ctx context.Context, session *models.AutopilotSession, started time.Time, cause error) (*models.AutopilotSession, error) {
	ctx = context.WithoutCancel(ctx)
	session.Status = models.SessionFailed
	session.Error = cause.Error()
	if err := s.finish(ctx, session); err != nil {
		s.log.Error("failed to persist failed session", "sessionID", session.ID, "error", err)
	}
	s.metrics.RecordSession(string(session.Status), s.clock.Since(started))
	msg := "Autopilot session failed: " + cause.Error()
	if errors.Is(cause, errAborted) {
		msg = "Autopilot session aborted"
	}
	s.narrate(ctx, session.UserID, &session.ID, models.ActivityError, msg)
	s.log.Warn("autopilot session failed", "userID", session.UserID, "sessionID", session.ID, "error", cause)
	return session, fmt.Errorf("autopilot session %s: %w: %w", session.ID, ErrSessionFailed, cause)
}

func (s *AutopilotService) publish(ctx context.Context, ev realtime.Event) {
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.log.Warn("event publish failed", "type", ev.Type, "userID", ev.UserID, "error", err)
	}
}

// Abort cancels the user's running session. It reports whether one was
// running in this process.
func (s *AutopilotService) Abort(userID string) bool {
	s.mu.Lock()
	cancel, ok := s.running[userID]
	s.mu.Unlock()
	if ok {
		cancel()
		s.log.Info("autopilot abort requested", "userID", userID)
	}
	return ok
}

// ListSessions returns the user's sessions, newest first.
func (s *AutopilotService) ListSessions(ctx context.Context, userID string, limit int) ([]models.AutopilotSession, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	var out []models.AutopilotSession
	if err := s.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, dbErr("list autopilot sessions", err)
	}
	return out, nil
}

// GetSession returns one of the user's sessions.
func (s *AutopilotService) GetSession(ctx context.Context, userID, sessionID string) (*models.AutopilotSession, error) {
	var session models.AutopilotSession
	if err := s.DB.WithContext(ctx).
		Where("id = ? AND user_id = ?", sessionID, userID).
		First(&session).Error; err != nil {
		return nil, dbErr("get autopilot session", err)
	}
	return &session, nil
}

// FailStaleSessions marks RUNNING sessions left behind by a previous process
// as FAILED so their users are not gated forever. Call once at startup.
func (s *AutopilotService) FailStaleSessions(ctx context.Context) (int64, error) {
	now := s.clock.Now().UTC()
	res := s.DB.WithContext(ctx).Model(&models.AutopilotSession{}).
		Where("status = ?", models.SessionRunning).
		Updates(map[string]any{
			"status":       models.SessionFailed,
			"error":        "interrupted by restart",
			"running_key":  nil,
			"completed_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return 0, dbErr("fail stale sessions", res.Error)
	}
	if res.RowsAffected > 0 {
		s.log.Warn("marked stale autopilot sessions failed", "count", res.RowsAffected)
	}
	return res.RowsAffected, nil
}
