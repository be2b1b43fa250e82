package services

import (
	"context"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"

	"twinlink/logger"
	"twinlink/models"
	"twinlink/realtime"
)

// ActivityService appends autopilot narration and publishes it.
type ActivityService struct {
	DB        *gorm.DB
	publisher realtime.Publisher
	clock     clockwork.Clock
	log       *logger.Logger
}

func NewActivityService(db *gorm.DB, publisher realtime.Publisher, clock clockwork.Clock, log *logger.Logger) *ActivityService {
	if publisher == nil {
		publisher = realtime.Discard
	}
	return &ActivityService{DB: db, publisher: publisher, clock: clock, log: log.With("service", "ActivityService")}
}

// Log stores an activity entry and emits it on the user's topic. Failures are
// logged and returned; callers treat narration as best effort.
func (s *ActivityService) Log(ctx context.Context, userID string, sessionID *string, typ models.ActivityType, message string) (*models.AutopilotActivity, error) {
	a := &models.AutopilotActivity{
		UserID:    userID,
		SessionID: sessionID,
		Type:      typ,
		Message:   message,
		CreatedAt: s.clock.Now().UTC(),
	}
	if err := s.DB.WithContext(ctx).Create(a).Error; err != nil {
		s.log.Error("activity insert failed", "userID", userID, "type", typ, "error", err)
		return nil, dbErr("log activity", err)
	}
	if err := s.publisher.Publish(ctx, realtime.Event{Type: realtime.EventActivity, UserID: userID, Data: a, At: a.CreatedAt}); err != nil {
		s.log.Warn("activity publish failed", "userID", userID, "error", err)
	}
	return a, nil
}

// List returns the newest activities first. limit <= 0 means 50.
func (s *ActivityService) List(ctx context.Context, userID string, sessionID string, limit int) ([]models.AutopilotActivity, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q := s.DB.WithContext(ctx).Where("user_id = ?", userID)
	if sessionID != "" {
		q = q.Where("session_id = ?", sessionID)
	}
	var out []models.AutopilotActivity
	if err := q.Order("created_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, dbErr("list activities", err)
	}
	return out, nil
}
