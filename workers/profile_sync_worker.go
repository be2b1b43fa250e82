package workers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"twinlink/logger"
	"twinlink/metrics"
	"twinlink/models"
)

const profileWorker = "profiles"

// ErrPartialSync reports a batch in which some profiles could not be stored.
// The cursor stays put so the next poll retries them.
var ErrPartialSync = errors.New("profile sync incomplete")

// RemoteProfile is one entry of the profile service change feed.
type RemoteProfile struct {
	UserID         string             `json:"user_id"`
	DisplayName    string             `json:"display_name"`
	Traits         map[string]float64 `json:"traits"`
	Interests      []string           `json:"interests"`
	Expertise      []string           `json:"expertise"`
	Goals          []models.Goal      `json:"goals"`
	ActivityCounts map[string]int     `json:"activity_counts"`
	LastActiveAt   *time.Time         `json:"last_active_at,omitempty"`
	Deleted        bool               `json:"deleted"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

type profileChanges struct {
	Profiles []RemoteProfile `json:"profiles"`
}

// ProfileSyncWorker mirrors the profile service into the local profiles table.
type ProfileSyncWorker struct {
	db       *gorm.DB
	client   *syncClient
	path     string
	interval time.Duration
	clock    clockwork.Clock
	log      *logger.Logger
	metrics  *metrics.Manager
	cursor   time.Time
}

func NewProfileSyncWorker(db *gorm.DB, baseURL, token string, httpClient *http.Client, interval time.Duration,
	clock clockwork.Clock, log *logger.Logger, m *metrics.Manager,
) *ProfileSyncWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ProfileSyncWorker{
		db:       db,
		client:   &syncClient{baseURL: baseURL, token: token, httpClient: httpClient},
		path:     "/api/v1/public/profiles",
		interval: interval,
		clock:    clock,
		log:      log.With("worker", "ProfileSync"),
		metrics:  m,
	}
}

func (w *ProfileSyncWorker) Start(ctx context.Context) {
	w.log.Info("starting profile sync worker", "interval", w.interval)
	go w.run(ctx)
}

func (w *ProfileSyncWorker) run(ctx context.Context) {
	if _, err := w.SyncOnce(ctx); err != nil {
		w.log.Warn("initial profile sync failed", "error", err)
	}

	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.Chan():
			if _, err := w.SyncOnce(ctx); err != nil {
				w.log.Error("profile sync failed", "error", err)
			}
		case <-ctx.Done():
			w.log.Info("profile sync worker stopped")
			return
		}
	}
}

// Cursor is the position of the last clean batch. Before the first one it is
// the newest updated_at stored locally, soft-deleted rows included.
func (w *ProfileSyncWorker) Cursor(ctx context.Context) (time.Time, error) {
	if !w.cursor.IsZero() {
		return w.cursor, nil
	}
	var latest models.Profile
	err := w.db.WithContext(ctx).Unscoped().Order("updated_at DESC").First(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Unix(0, 0).UTC(), nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return latest.UpdatedAt, nil
}

// SyncOnce pulls changes since the cursor and upserts them. It returns the
// number of profiles written. The cursor only moves when every profile in the
// batch was stored; otherwise ErrPartialSync is returned.
func (w *ProfileSyncWorker) SyncOnce(ctx context.Context) (int, error) {
	since, err := w.Cursor(ctx)
	if err != nil {
		w.metrics.RecordSyncError(profileWorker)
		return 0, err
	}
	w.cursor = since

	var changes profileChanges
	if err := w.client.fetchSince(ctx, w.path, since, &changes); err != nil {
		w.metrics.RecordSyncError(profileWorker)
		return 0, err
	}
	if len(changes.Profiles) == 0 {
		w.log.Debug("no profile changes", "since", since)
		return 0, nil
	}

	written, failed := 0, 0
	next := since
	for _, remote := range changes.Profiles {
		if remote.UpdatedAt.After(next) {
			next = remote.UpdatedAt.UTC()
		}
		if remote.UserID == "" {
			w.log.Warn("profile without user id skipped", "updatedAt", remote.UpdatedAt)
			continue
		}
		if err := w.upsert(ctx, remote); err != nil {
			failed++
			w.log.Warn("profile upsert failed", "userID", remote.UserID, "error", err)
			continue
		}
		written++
	}
	w.metrics.RecordSync(profileWorker, written)
	w.log.Info("profiles synced", "received", len(changes.Profiles), "written", written, "failed", failed)
	if failed > 0 {
		w.metrics.RecordSyncError(profileWorker)
		return written, fmt.Errorf("%w: %d of %d profiles failed", ErrPartialSync, failed, len(changes.Profiles))
	}
	w.cursor = next
	return written, nil
}

func (w *ProfileSyncWorker) upsert(ctx context.Context, remote RemoteProfile) error {
	local := models.Profile{
		UserID:         remote.UserID,
		DisplayName:    remote.DisplayName,
		Traits:         remote.Traits,
		Interests:      remote.Interests,
		Expertise:      remote.Expertise,
		Goals:          remote.Goals,
		ActivityCounts: remote.ActivityCounts,
		LastActiveAt:   remote.LastActiveAt,
		CreatedAt:      remote.CreatedAt.UTC(),
		UpdatedAt:      remote.UpdatedAt.UTC(),
	}
	if local.CreatedAt.IsZero() {
		local.CreatedAt = w.clock.Now().UTC()
	}
	if local.UpdatedAt.IsZero() {
		local.UpdatedAt = w.clock.Now().UTC()
	}
	if remote.Deleted {
		local.DeletedAt = gorm.DeletedAt{Time: local.UpdatedAt, Valid: true}
	}

	return w.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"display_name", "traits", "interests", "expertise", "goals",
			"activity_counts", "last_active_at", "updated_at", "deleted_at",
		}),
	}).Create(&local).Error
}
