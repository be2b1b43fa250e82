package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"

	"twinlink/logger"
	"twinlink/metrics"
	"twinlink/models"
)

// InteractionStats summarizes the interactions of one connection.
type InteractionStats struct {
	Count         int
	MeanSentiment float64
	Last          time.Time
}

// InteractionAnalyzer derives engagement and synergy from interaction stats.
type InteractionAnalyzer interface {
	Analyze(stats InteractionStats) (engagement, synergy float64)
}

// DefaultInteractionAnalyzer saturates engagement with volume and uses mean
// sentiment as synergy.
type DefaultInteractionAnalyzer struct{}

func (DefaultInteractionAnalyzer) Analyze(stats InteractionStats) (float64, float64) {
	if stats.Count == 0 {
		return 0, 0
	}
	return 1 - math.Exp(-float64(stats.Count)/10), clamp01(stats.MeanSentiment)
}

// RequestOptions tunes Request.
type RequestOptions struct {
	CreatedBy models.ConnectionOrigin
	Message   string
}

// InteractionInput is one interaction reported by the chat service.
type InteractionInput struct {
	ConnectionID string
	ActorID      string
	Kind         models.InteractionKind
	Sentiment    float64
	ExternalID   string
	OccurredAt   time.Time
}

type ConnectionService struct {
	DB       *gorm.DB
	scorer   *CompatibilityScorer
	analyzer InteractionAnalyzer
	actions  ActionHandler
	clock    clockwork.Clock
	log      *logger.Logger
	metrics  *metrics.Manager
}

// NewConnectionService wires the lifecycle. actions may be nil to skip the
// gamification mirror.
func NewConnectionService(db *gorm.DB, scorer *CompatibilityScorer, actions ActionHandler, clock clockwork.Clock, log *logger.Logger, m *metrics.Manager) *ConnectionService {
	return &ConnectionService{
		DB:       db,
		scorer:   scorer,
		analyzer: DefaultInteractionAnalyzer{},
		actions:  actions,
		clock:    clock,
		log:      log.With("service", "ConnectionService"),
		metrics:  m,
	}
}

// WithAnalyzer replaces the interaction analyzer.
func (s *ConnectionService) WithAnalyzer(a InteractionAnalyzer) *ConnectionService {
	if a != nil {
		s.analyzer = a
	}
	return s
}

// Request creates a PENDING connection from initiator to target.
func (s *ConnectionService) Request(ctx context.Context, initiatorID, targetID string, opts RequestOptions) (*models.Connection, error) {
	if initiatorID == "" || targetID == "" {
		return nil, fmt.Errorf("request connection: %w: both user ids are required", ErrInvalidInput)
	}
	if initiatorID == targetID {
		return nil, ErrSelfConnection
	}
	if opts.CreatedBy == "" {
		opts.CreatedBy = models.CreatedByUser
	}

	now := s.clock.Now().UTC()
	key := models.PairKey(initiatorID, targetID)
	conn := &models.Connection{
		InitiatorID:   initiatorID,
		TargetID:      targetID,
		Status:        models.ConnectionPending,
		CreatedBy:     opts.CreatedBy,
		Message:       opts.Message,
		ActivePairKey: &key,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if s.scorer != nil {
		profiles, err := loadProfiles(ctx, s.DB, initiatorID, targetID)
		if err != nil {
			return nil, err
		}
		a, b := profiles[initiatorID], profiles[targetID]
		if a != nil && b != nil {
			res := s.scorer.Score(a, b)
			conn.CompatibilityScore = res.Score
			conn.QualityScore = res.Quality
		}
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&models.Connection{}).
			Where("active_pair_key = ?", key).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrDuplicateConnection
		}
		return tx.Create(conn).Error
	})
	switch {
	case errors.Is(err, ErrDuplicateConnection):
		return nil, fmt.Errorf("request connection %s: %w", key, ErrDuplicateConnection)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		// lost a race with a concurrent request for the same pair
		return nil, fmt.Errorf("request connection %s: %w: %w", key, ErrPersistenceConflict, ErrDuplicateConnection)
	case err != nil:
		return nil, dbErr("request connection", err)
	}

	s.metrics.RecordConnectionCreated(string(conn.CreatedBy))
	s.log.Info("connection requested",
		"connectionID", conn.ID,
		"initiator", initiatorID,
		"target", targetID,
		"createdBy", conn.CreatedBy,
		"score", conn.CompatibilityScore,
	)
	s.mirror(ctx, initiatorID, models.ActionConnection, conn.QualityScore)
	return conn, nil
}

// Accept moves a PENDING connection to ACCEPTED. Only the target may accept.
func (s *ConnectionService) Accept(ctx context.Context, connectionID, actorID string) (*models.Connection, error) {
	now := s.clock.Now().UTC()
	conn, err := s.transition(ctx, connectionID, actorID, map[string]any{
		"status":      models.ConnectionAccepted,
		"engagement":  0,
		"synergy":     0,
		"accepted_at": now,
		"updated_at":  now,
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordTransition(string(models.ConnectionAccepted))
	s.log.Info("connection accepted", "connectionID", conn.ID, "by", actorID)
	s.mirror(ctx, actorID, models.ActionConnection, conn.QualityScore)
	return conn, nil
}

// Reject moves a PENDING connection to REJECTED and frees the pair.
func (s *ConnectionService) Reject(ctx context.Context, connectionID, actorID string) (*models.Connection, error) {
	now := s.clock.Now().UTC()
	conn, err := s.transition(ctx, connectionID, actorID, map[string]any{
		"status":          models.ConnectionRejected,
		"rejected_at":     now,
		"updated_at":      now,
		"active_pair_key": nil,
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordTransition(string(models.ConnectionRejected))
	s.log.Info("connection rejected", "connectionID", conn.ID, "by", actorID)
	return conn, nil
}

func (s *ConnectionService) transition(ctx context.Context, connectionID, actorID string, updates map[string]any) (*models.Connection, error) {
	var conn models.Connection
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&conn, "id = ?", connectionID).Error; err != nil {
			return err
		}
		if conn.TargetID != actorID {
			return ErrUnauthorized
		}
		if conn.Status != models.ConnectionPending {
			return ErrInvalidTransition
		}
		res := tx.Model(&models.Connection{}).
			Where("id = ? AND status = ?", connectionID, models.ConnectionPending).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInvalidTransition
		}
		return tx.First(&conn, "id = ?", connectionID).Error
	})
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrInvalidTransition) {
		return nil, fmt.Errorf("connection %s: %w", connectionID, err)
	}
	if err != nil {
		return nil, dbErr("transition connection "+connectionID, err)
	}
	return &conn, nil
}

// UpdateMetrics sets engagement and synergy on an ACCEPTED connection.
// Values are clamped to [0,1].
func (s *ConnectionService) UpdateMetrics(ctx context.Context, connectionID string, engagement, synergy float64) error {
	res := s.DB.WithContext(ctx).Model(&models.Connection{}).
		Where("id = ? AND status = ?", connectionID, models.ConnectionAccepted).
		Updates(map[string]any{
			"engagement": clamp01(engagement),
			"synergy":    clamp01(synergy),
			"updated_at": s.clock.Now().UTC(),
		})
	if res.Error != nil {
		return dbErr("update metrics", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.Get(ctx, connectionID); err != nil {
			return err
		}
		return fmt.Errorf("update metrics on %s: %w", connectionID, ErrInvalidTransition)
	}
	return nil
}

// RecordInteraction stores an interaction on an ACCEPTED connection and
// re-derives engagement and synergy. Re-sending an ExternalID returns the
// stored interaction with created=false.
func (s *ConnectionService) RecordInteraction(ctx context.Context, in InteractionInput) (*models.Interaction, bool, error) {
	if in.Kind != models.InteractionMessage && in.Kind != models.InteractionVoiceChat {
		return nil, false, fmt.Errorf("record interaction: %w: unknown kind %q", ErrInvalidInput, in.Kind)
	}
	if in.ExternalID != "" {
		var existing models.Interaction
		err := s.DB.WithContext(ctx).Where("external_id = ?", in.ExternalID).First(&existing).Error
		if err == nil {
			return &existing, false, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, dbErr("record interaction", err)
		}
	}

	conn, err := s.Get(ctx, in.ConnectionID)
	if err != nil {
		return nil, false, err
	}
	if !conn.Involves(in.ActorID) {
		return nil, false, fmt.Errorf("record interaction on %s: %w", conn.ID, ErrUnauthorized)
	}
	if conn.Status != models.ConnectionAccepted {
		return nil, false, fmt.Errorf("record interaction on %s: %w", conn.ID, ErrInvalidTransition)
	}

	now := s.clock.Now().UTC()
	occurred := in.OccurredAt.UTC()
	if in.OccurredAt.IsZero() {
		occurred = now
	}
	interaction := &models.Interaction{
		ConnectionID: conn.ID,
		ActorID:      in.ActorID,
		Kind:         in.Kind,
		Sentiment:    clamp01(in.Sentiment),
		OccurredAt:   occurred,
		CreatedAt:    now,
	}
	if in.ExternalID != "" {
		ext := in.ExternalID
		interaction.ExternalID = &ext
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(interaction).Error; err != nil {
			return err
		}
		stats, err := interactionStats(tx, conn.ID)
		if err != nil {
			return err
		}
		engagement, synergy := s.analyzer.Analyze(stats)
		return tx.Model(&models.Connection{}).
			Where("id = ?", conn.ID).
			Updates(map[string]any{
				"engagement": clamp01(engagement),
				"synergy":    clamp01(synergy),
				"updated_at": now,
			}).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) && in.ExternalID != "" {
		var existing models.Interaction
		if e := s.DB.WithContext(ctx).Where("external_id = ?", in.ExternalID).First(&existing).Error; e == nil {
			return &existing, false, nil
		}
	}
	if err != nil {
		return nil, false, dbErr("record interaction", err)
	}

	action := models.ActionMessage
	if in.Kind == models.InteractionVoiceChat {
		action = models.ActionVoiceChat
	}
	s.mirror(ctx, in.ActorID, action, conn.QualityScore)
	return interaction, true, nil
}

func interactionStats(tx *gorm.DB, connectionID string) (InteractionStats, error) {
	var row struct {
		Count int
		Mean  float64
	}
	if err := tx.Model(&models.Interaction{}).
		Select("COUNT(*) AS count, COALESCE(AVG(sentiment), 0) AS mean").
		Where("connection_id = ?", connectionID).
		Scan(&row).Error; err != nil {
		return InteractionStats{}, err
	}
	stats := InteractionStats{Count: row.Count, MeanSentiment: row.Mean}
	if row.Count > 0 {
		var last models.Interaction
		if err := tx.Where("connection_id = ?", connectionID).
			Order("occurred_at DESC").
			First(&last).Error; err != nil {
			return InteractionStats{}, err
		}
		stats.Last = last.OccurredAt
	}
	return stats, nil
}

// Get loads one connection.
func (s *ConnectionService) Get(ctx context.Context, connectionID string) (*models.Connection, error) {
	var conn models.Connection
	if err := s.DB.WithContext(ctx).First(&conn, "id = ?", connectionID).Error; err != nil {
		return nil, dbErr("get connection "+connectionID, err)
	}
	return &conn, nil
}

// ListForUser returns the user's connections, newest first, optionally
// filtered by status.
func (s *ConnectionService) ListForUser(ctx context.Context, userID string, statuses ...models.ConnectionStatus) ([]models.Connection, error) {
	q := s.DB.WithContext(ctx).
		Where("initiator_id = ? OR target_id = ?", userID, userID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	var conns []models.Connection
	if err := q.Order("created_at DESC").Find(&conns).Error; err != nil {
		return nil, dbErr("list connections", err)
	}
	return conns, nil
}

// ConnectedUserIDs returns everyone the user has a connection with, in any
// status.
func (s *ConnectionService) ConnectedUserIDs(ctx context.Context, userID string) (map[string]bool, error) {
	conns, err := s.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(conns))
	for _, c := range conns {
		out[c.Counterpart(userID)] = true
	}
	return out, nil
}

func (s *ConnectionService) mirror(ctx context.Context, userID string, action models.ActionType, quality float64) {
	if s.actions == nil {
		return
	}
	if _, err := s.actions.HandleAction(ctx, userID, action, ActionContext{Quality: QualityLabel(quality)}); err != nil {
		s.log.Error("gamification mirror failed", "userID", userID, "action", action, "error", err)
	}
}

func loadProfiles(ctx context.Context, db *gorm.DB, userIDs ...string) (map[string]*models.Profile, error) {
	var profiles []models.Profile
	if err := db.WithContext(ctx).Where("user_id IN ?", userIDs).Find(&profiles).Error; err != nil {
		return nil, dbErr("load profiles", err)
	}
	out := make(map[string]*models.Profile, len(profiles))
	for i := range profiles {
		out[profiles[i].UserID] = &profiles[i]
	}
	return out, nil
}

// Compatibility analyzes userID against otherID with insights. When the pair
// is connected, its latest interactions feed the scoring context. The
// analysis counts as an ANALYSIS action for userID.
func (s *ConnectionService) Compatibility(ctx context.Context, userID, otherID string) (*CompatibilityResult, error) {
	if userID == otherID {
		return nil, ErrSelfConnection
	}
	profiles, err := loadProfiles(ctx, s.DB, userID, otherID)
	if err != nil {
		return nil, err
	}
	a, b := profiles[userID], profiles[otherID]
	if a == nil || b == nil {
		return nil, fmt.Errorf("compatibility %s/%s: profile %w", userID, otherID, ErrNotFound)
	}

	sc := &ScoringContext{}
	var conn models.Connection
	err = s.DB.WithContext(ctx).
		Where("active_pair_key = ?", models.PairKey(userID, otherID)).
		First(&conn).Error
	switch {
	case err == nil:
		if err := s.DB.WithContext(ctx).
			Where("connection_id = ?", conn.ID).
			Order("occurred_at DESC").
			Limit(20).
			Find(&sc.RecentInteractions).Error; err != nil {
			return nil, dbErr("load recent interactions", err)
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, dbErr("load connection", err)
	}

	res := s.scorer.Analyze(ctx, a, b, sc)
	s.mirror(ctx, userID, models.ActionAnalysis, res.Quality)
	return &res, nil
}
