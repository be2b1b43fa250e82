package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"twinlink/logger"
	"twinlink/models"
	"twinlink/services"
	"twinlink/testutil"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// feed serves body on path and remembers every since parameter it saw.
type feed struct {
	mu     sync.Mutex
	path   string
	body   any
	status int
	since  []string
}

func (f *feed) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != f.path || r.Header.Get("X-Service-Token") != "svc-token" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		f.mu.Lock()
		f.since = append(f.since, r.URL.Query().Get("since"))
		status, body := f.status, f.body
		f.mu.Unlock()
		if status != 0 {
			http.Error(w, "boom", status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (f *feed) lastSince() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.since[len(f.since)-1]
}

func TestProfileSyncUpsertsAndSoftDeletes(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	updated := now.Add(-time.Hour)

	f := &feed{path: "/api/v1/public/profiles", body: profileChanges{Profiles: []RemoteProfile{
		{UserID: "bob", DisplayName: "Bob", Interests: []string{"ai"}, UpdatedAt: updated.Add(-time.Minute)},
		{UserID: "carol", DisplayName: "Carol", Deleted: true, UpdatedAt: updated},
		{DisplayName: "no id"},
	}}}
	srv := f.server(t)

	w := NewProfileSyncWorker(db, srv.URL, "svc-token", srv.Client(), time.Minute, clockwork.NewFakeClockAt(now), logger.NewNop(), nil)

	cursor, err := w.Cursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), cursor.Unix())

	n, err := w.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "1970-01-01T00:00:00Z", f.lastSince())

	var visible []models.Profile
	require.NoError(t, db.Find(&visible).Error)
	require.Len(t, visible, 1)
	assert.Equal(t, "bob", visible[0].UserID)
	assert.Equal(t, []string{"ai"}, visible[0].Interests)

	var total int64
	require.NoError(t, db.Unscoped().Model(&models.Profile{}).Count(&total).Error)
	assert.EqualValues(t, 2, total)

	cursor, err = w.Cursor(ctx)
	require.NoError(t, err)
	assert.True(t, cursor.Equal(updated), "cursor %v", cursor)

	// a rename replaces the stored row
	f.mu.Lock()
	f.body = profileChanges{Profiles: []RemoteProfile{
		{UserID: "bob", DisplayName: "Robert", UpdatedAt: updated.Add(time.Minute)},
	}}
	f.mu.Unlock()
	_, err = w.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, updated.Format(time.RFC3339), f.lastSince())

	var bob models.Profile
	require.NoError(t, db.Where("user_id = ?", "bob").First(&bob).Error)
	assert.Equal(t, "Robert", bob.DisplayName)
}

func TestProfileSyncHoldsCursorOnFailedRows(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	first := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	second := first.Add(5 * time.Minute)

	// carol's row fails to store until failing is cleared
	failing := true
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:fail_carol", func(tx *gorm.DB) {
		if p, ok := tx.Statement.Dest.(*models.Profile); ok && failing && p.UserID == "carol" {
			_ = tx.AddError(errors.New("disk I/O error"))
		}
	}))

	f := &feed{path: "/api/v1/public/profiles", body: profileChanges{Profiles: []RemoteProfile{
		{UserID: "carol", DisplayName: "Carol", UpdatedAt: first},
		{UserID: "bob", DisplayName: "Bob", UpdatedAt: second},
	}}}
	srv := f.server(t)
	w := NewProfileSyncWorker(db, srv.URL, "svc-token", srv.Client(), time.Minute, clockwork.NewFakeClockAt(now), logger.NewNop(), nil)

	n, err := w.SyncOnce(ctx)
	require.ErrorIs(t, err, ErrPartialSync)
	assert.Equal(t, 1, n)
	assert.Equal(t, "1970-01-01T00:00:00Z", f.lastSince())

	cursor, err := w.Cursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), cursor.Unix(), "bob's newer row must not move the cursor past carol")

	failing = false
	n, err = w.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "1970-01-01T00:00:00Z", f.lastSince())

	var carol models.Profile
	require.NoError(t, db.Where("user_id = ?", "carol").First(&carol).Error)
	assert.Equal(t, "Carol", carol.DisplayName)

	_, err = w.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.Format(time.RFC3339), f.lastSince())
}

func TestProfileSyncServiceError(t *testing.T) {
	f := &feed{path: "/api/v1/public/profiles", status: http.StatusBadGateway}
	srv := f.server(t)
	w := NewProfileSyncWorker(testutil.DB(t), srv.URL, "svc-token", srv.Client(), 0, clockwork.NewFakeClockAt(now), logger.NewNop(), nil)

	_, err := w.SyncOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

type stubRecorder struct {
	results map[string]error
	seen    map[string]bool
}

func (s *stubRecorder) RecordInteraction(_ context.Context, in services.InteractionInput) (*models.Interaction, bool, error) {
	if err := s.results[in.ExternalID]; err != nil {
		return nil, false, err
	}
	if s.seen[in.ExternalID] {
		return &models.Interaction{}, false, nil
	}
	s.seen[in.ExternalID] = true
	return &models.Interaction{}, true, nil
}

func TestInteractionSyncCursor(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(now)
	f := &feed{path: "/api/v1/public/interactions", body: interactionChanges{Interactions: []RemoteInteraction{
		{ID: "m1", ConnectionID: "c1", ActorID: "alice", Kind: models.InteractionMessage},
		{ID: "m2", ConnectionID: "gone", ActorID: "alice", Kind: models.InteractionMessage},
		{ID: "m3", ConnectionID: "c1", ActorID: "alice", Kind: models.InteractionMessage},
	}}}
	srv := f.server(t)

	rec := &stubRecorder{
		results: map[string]error{
			"m2": fmt.Errorf("get connection gone: %w", services.ErrNotFound),
			"m3": errors.New("database is locked"),
		},
		seen: map[string]bool{},
	}
	w := NewInteractionSyncWorker(rec, srv.URL, "svc-token", srv.Client(), time.Minute, clock, logger.NewNop(), nil)
	initial := now.Add(-24 * time.Hour).Format(time.RFC3339)

	res, err := w.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, InteractionSyncResult{Received: 3, Recorded: 1, Rejected: 1, Failed: 1}, res)
	assert.Equal(t, initial, f.lastSince())

	// a transient failure keeps the window open
	clock.Advance(time.Minute)
	delete(rec.results, "m3")
	res, err = w.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, InteractionSyncResult{Received: 3, Recorded: 1, Duplicate: 1, Rejected: 1}, res)
	assert.Equal(t, initial, f.lastSince())

	clock.Advance(time.Minute)
	_, err = w.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Minute).Format(time.RFC3339), f.lastSince())
}

func TestPermanentErrors(t *testing.T) {
	assert.True(t, permanent(fmt.Errorf("x: %w", services.ErrUnauthorized)))
	assert.True(t, permanent(services.ErrInvalidInput))
	assert.False(t, permanent(errors.New("connection reset")))
}
