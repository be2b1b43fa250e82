package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gosimple/slug"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"

	"twinlink/logger"
	"twinlink/models"
)

// ObjectStore is where session transcripts end up. utils.R2Store and
// utils.DirStore implement it.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// SessionTranscript is the archived form of a finished session.
type SessionTranscript struct {
	Session    models.AutopilotSession    `json:"session"`
	Activities []models.AutopilotActivity `json:"activities"`
	ArchivedAt time.Time                  `json:"archived_at"`
}

// ArchiveService copies finished autopilot sessions to object storage and
// stamps archived_at. Rows are never deleted.
type ArchiveService struct {
	DB    *gorm.DB
	store ObjectStore
	clock clockwork.Clock
	log   *logger.Logger
}

func NewArchiveService(db *gorm.DB, store ObjectStore, clock clockwork.Clock, log *logger.Logger) *ArchiveService {
	return &ArchiveService{DB: db, store: store, clock: clock, log: log.With("service", "ArchiveService")}
}

// TranscriptKey names the object for a session.
func TranscriptKey(session *models.AutopilotSession) string {
	return fmt.Sprintf("autopilot/%s/%s-%s.json",
		slug.Make(session.UserID),
		session.CreatedAt.UTC().Format(dateLayout),
		session.ID,
	)
}

// ArchiveFinished archives up to limit finished, unarchived sessions and
// returns how many were written.
func (s *ArchiveService) ArchiveFinished(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	var sessions []models.AutopilotSession
	if err := s.DB.WithContext(ctx).
		Where("status IN ? AND archived_at IS NULL", []models.SessionStatus{models.SessionCompleted, models.SessionFailed}).
		Order("created_at").
		Limit(limit).
		Find(&sessions).Error; err != nil {
		return 0, dbErr("load sessions to archive", err)
	}

	archived := 0
	for i := range sessions {
		if err := ctx.Err(); err != nil {
			return archived, err
		}
		if err := s.archive(ctx, &sessions[i]); err != nil {
			s.log.Error("session archive failed", "sessionID", sessions[i].ID, "error", err)
			continue
		}
		archived++
	}
	if archived > 0 {
		s.log.Info("sessions archived", "count", archived)
	}
	return archived, nil
}

func (s *ArchiveService) archive(ctx context.Context, session *models.AutopilotSession) error {
	now := s.clock.Now().UTC()
	t := SessionTranscript{Session: *session, ArchivedAt: now}
	if err := s.DB.WithContext(ctx).
		Where("session_id = ?", session.ID).
		Order("created_at").
		Find(&t.Activities).Error; err != nil {
		return dbErr("load session activities", err)
	}
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	if err := s.store.Put(ctx, TranscriptKey(session), body, "application/json"); err != nil {
		return err
	}
	return dbErr("mark session archived", s.DB.WithContext(ctx).
		Model(&models.AutopilotSession{}).
		Where("id = ?", session.ID).
		Update("archived_at", now).Error)
}
