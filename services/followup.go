package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"

	"twinlink/logger"
	"twinlink/metrics"
	"twinlink/models"
)

const day = 24 * time.Hour

var stageIntervals = map[models.FollowUpStage]time.Duration{
	models.StageNew:         3 * day,
	models.StageDeveloping:  7 * day,
	models.StageEstablished: 14 * day,
	models.StageMature:      30 * day,
}

// StageFor buckets a connection by interaction count and age.
func StageFor(interactions int, age time.Duration) models.FollowUpStage {
	switch {
	case interactions == 0:
		return models.StageNew
	case interactions < 3 || age < 30*day:
		return models.StageDeveloping
	case interactions < 10 || age < 90*day:
		return models.StageEstablished
	}
	return models.StageMature
}

// StageInterval is the follow-up cadence of a stage.
func StageInterval(stage models.FollowUpStage) time.Duration {
	return stageIntervals[stage]
}

// SweepResult summarizes one Sweep call.
type SweepResult struct {
	Scanned   int  `json:"scanned"`
	Scheduled int  `json:"scheduled"`
	Failed    int  `json:"failed"`
	Overlap   bool `json:"overlap"` // another sweep was in progress
}

type FollowUpService struct {
	DB        *gorm.DB
	templates *TemplateSelector
	clock     clockwork.Clock
	sweeping  atomic.Bool
	log       *logger.Logger
	metrics   *metrics.Manager
}

func NewFollowUpService(db *gorm.DB, templates *TemplateSelector, clock clockwork.Clock, log *logger.Logger, m *metrics.Manager) *FollowUpService {
	if templates == nil {
		templates = NewTemplateSelector(nil)
	}
	return &FollowUpService{
		DB:        db,
		templates: templates,
		clock:     clock,
		log:       log.With("service", "FollowUpService"),
		metrics:   m,
	}
}

// Sweep drafts a follow-up for every ACCEPTED connection that is due and has
// none scheduled. A sweep started while another runs returns immediately.
func (s *FollowUpService) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	if !s.sweeping.CompareAndSwap(false, true) {
		s.log.Debug("follow-up sweep already running, skipping")
		res.Overlap = true
		return res, nil
	}
	defer s.sweeping.Store(false)

	var conns []models.Connection
	if err := s.DB.WithContext(ctx).
		Where("status = ?", models.ConnectionAccepted).
		Order("created_at").
		Find(&conns).Error; err != nil {
		return res, dbErr("load accepted connections", err)
	}

	now := s.clock.Now().UTC()
	for i := range conns {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Scanned++
		created, err := s.consider(ctx, &conns[i], now)
		if err != nil {
			res.Failed++
			s.log.Error("follow-up scheduling failed", "connectionID", conns[i].ID, "error", err)
			continue
		}
		if created {
			res.Scheduled++
		}
	}
	s.log.Info("follow-up sweep finished", "scanned", res.Scanned, "scheduled", res.Scheduled, "failed", res.Failed)
	return res, nil
}

func (s *FollowUpService) consider(ctx context.Context, conn *models.Connection, now time.Time) (bool, error) {
	db := s.DB.WithContext(ctx)

	stats, err := interactionStats(db, conn.ID)
	if err != nil {
		return false, err
	}
	stage := StageFor(stats.Count, now.Sub(conn.Since()))
	interval := StageInterval(stage)
	if stats.Count > 0 && now.Sub(stats.Last) <= interval {
		return false, nil
	}

	var last models.FollowUp
	err = db.Where("connection_id = ?", conn.ID).Order("created_at DESC").First(&last).Error
	switch {
	case err == nil:
		if last.Status == models.FollowUpScheduled || now.Sub(last.CreatedAt) < interval {
			return false, nil
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return false, err
	}

	profiles, err := loadProfiles(ctx, s.DB, conn.InitiatorID, conn.TargetID)
	if err != nil {
		return false, err
	}
	target := profiles[conn.TargetID]
	if target == nil {
		target = &models.Profile{UserID: conn.TargetID}
	}
	message := s.templates.Compose(TemplateContext{
		Target:            target,
		Sender:            profiles[conn.InitiatorID],
		Purpose:           PurposeFollowUp,
		Compatibility:     conn.CompatibilityScore,
		HasRecentActivity: stats.Count > 0 && now.Sub(stats.Last) < recentActivityWindow,
		Stage:             stage,
	})

	key := conn.ID
	fu := &models.FollowUp{
		ConnectionID: conn.ID,
		UserID:       conn.InitiatorID,
		TargetID:     conn.TargetID,
		Stage:        stage,
		ScheduledFor: now.Add(interval),
		Message:      message,
		Status:       models.FollowUpScheduled,
		ActiveKey:    &key,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := db.Create(fu).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, err
	}
	s.metrics.RecordFollowUp(string(stage))
	s.log.Debug("follow-up scheduled", "connectionID", conn.ID, "stage", stage, "scheduledFor", fu.ScheduledFor)
	return true, nil
}

// MarkSent records that the sender delivered a SCHEDULED follow-up.
func (s *FollowUpService) MarkSent(ctx context.Context, userID, followUpID string) (*models.FollowUp, error) {
	now := s.clock.Now().UTC()
	return s.close(ctx, userID, followUpID, map[string]any{
		"status":     models.FollowUpSent,
		"sent_at":    now,
		"active_key": nil,
		"updated_at": now,
	})
}

// Cancel drops a SCHEDULED follow-up.
func (s *FollowUpService) Cancel(ctx context.Context, userID, followUpID string) (*models.FollowUp, error) {
	now := s.clock.Now().UTC()
	return s.close(ctx, userID, followUpID, map[string]any{
		"status":       models.FollowUpCancelled,
		"cancelled_at": now,
		"active_key":   nil,
		"updated_at":   now,
	})
}

func (s *FollowUpService) close(ctx context.Context, userID, followUpID string, updates map[string]any) (*models.FollowUp, error) {
	var fu models.FollowUp
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&fu, "id = ?", followUpID).Error; err != nil {
			return err
		}
		if fu.UserID != userID {
			return ErrUnauthorized
		}
		res := tx.Model(&models.FollowUp{}).
			Where("id = ? AND status = ?", followUpID, models.FollowUpScheduled).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInvalidTransition
		}
		return tx.First(&fu, "id = ?", followUpID).Error
	})
	switch {
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrInvalidTransition):
		return nil, fmt.Errorf("follow-up %s: %w", followUpID, err)
	case err != nil:
		return nil, dbErr("update follow-up "+followUpID, err)
	}
	return &fu, nil
}

// ListForUser returns follow-ups the user sends, soonest first.
func (s *FollowUpService) ListForUser(ctx context.Context, userID string, statuses ...models.FollowUpStatus) ([]models.FollowUp, error) {
	q := s.DB.WithContext(ctx).Where("user_id = ?", userID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	var out []models.FollowUp
	if err := q.Order("scheduled_for").Find(&out).Error; err != nil {
		return nil, dbErr("list follow-ups", err)
	}
	return out, nil
}
